package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/gattwatch/internal/gatt"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost
	// during operation, as opposed to a connection that never came up.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotConnectable indicates the target advertises as non-connectable.
	ErrNotConnectable = errors.New("device is not connectable")
)

// FormatUserError rewrites low-level failures into messages suitable for the
// terminal. Errors that carry no extra context pass through unchanged.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out (is the device in range and advertising?)"
	case errors.Is(err, ErrConnectionLost):
		return "connection lost (the device disconnected or went out of range)"
	case errors.Is(err, ErrNotConnectable):
		return "device is not connectable (it only broadcasts advertisements)"
	}

	var te *gatt.TransportError
	if errors.As(err, &te) {
		return fmt.Sprintf("GATT %s failed on handle 0x%04x (status 0x%02x)", te.Op, te.Handle, uint8(te.Status))
	}

	return err.Error()
}
