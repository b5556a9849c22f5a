package gatt

import (
	"errors"
	"fmt"
)

// TransportError reports a failed transport-level operation: the operation
// completed with a non-success status, or could not be issued at all.
type TransportError struct {
	Op     string // "enumerate", "read", "discover-descriptors", "write-descriptor"
	Handle uint16 // attribute handle the operation targeted, 0 for enumeration
	Status Status // protocol status, 0 when the operation never left the engine
	Err    error  // issue-time error, nil for completion failures
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed for handle 0x%04x: %v", e.Op, e.Handle, e.Err)
	}
	return fmt.Sprintf("%s failed for handle 0x%04x: status 0x%02x", e.Op, e.Handle, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is allows errors.Is comparison against another TransportError by Op.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

var (
	// ErrNoConfigDescriptor marks a characteristic that advertises notify or
	// indicate but exposes no client configuration descriptor. Subscription
	// is skipped; draining continues.
	ErrNoConfigDescriptor = errors.New("no client characteristic configuration descriptor")

	// ErrStaleCallback marks an event that arrived for a superseded or
	// stopped session. Such events are silently dropped.
	ErrStaleCallback = errors.New("stale callback for closed session")
)
