package gatt

// ConnHandle identifies one connection to a remote GATT server.
type ConnHandle uint16

// Status is the transport-level result code of an asynchronous operation.
// Zero means success; any other value is an attribute protocol error code as
// reported by the transport.
type Status uint8

// Common attribute protocol result codes.
const (
	StatusSuccess           Status = 0x00
	StatusAttributeNotFound Status = 0x0a
	StatusUnlikelyError     Status = 0x0e
)

// OK reports whether the status represents success.
func (s Status) OK() bool { return s == StatusSuccess }

// Transport is the connectivity collaborator. Every method issues one
// asynchronous operation and returns immediately; the result arrives later
// through the matching EventSink callback on the serialized callback context.
//
// A returned error means the operation could not even be issued (connection
// torn down, transport shut down). The engine treats that the same as a
// failed completion: it is contained and processing continues.
type Transport interface {
	// Enumerate issues one combined service-and-characteristic enumeration.
	// Results stream in via ServiceDiscovered / CharacteristicDiscovered,
	// terminated by EnumerationDone.
	Enumerate(conn ConnHandle) error

	// ReadValue reads the characteristic value attribute at handle.
	// Completion arrives via ReadComplete.
	ReadValue(conn ConnHandle, handle uint16) error

	// DiscoverDescriptors enumerates descriptors in [start, end]. Each match
	// arrives via DescriptorDiscovered, terminated by DescriptorDiscoveryDone.
	DiscoverDescriptors(conn ConnHandle, start, end uint16) error

	// WriteDescriptor writes value to the descriptor at handle. Completion
	// arrives via WriteComplete.
	WriteDescriptor(conn ConnHandle, handle uint16, value []byte) error
}

// EventSink is the callback surface a Transport delivers events to. All
// callbacks for one transport MUST be invoked from a single serialized
// context, one at a time, never concurrently with each other. The Engine
// implements this interface.
type EventSink interface {
	ServiceDiscovered(conn ConnHandle, svc ServiceInfo)
	CharacteristicDiscovered(conn ConnHandle, ch CharacteristicInfo)
	EnumerationDone(conn ConnHandle, status Status)

	ReadComplete(conn ConnHandle, handle uint16, status Status, value []byte)

	DescriptorDiscovered(conn ConnHandle, desc DescriptorInfo)
	DescriptorDiscoveryDone(conn ConnHandle, status Status)
	WriteComplete(conn ConnHandle, handle uint16, status Status)

	// ValueChanged is unsolicited and may fire at any time after a
	// successful configuration descriptor write for handle.
	ValueChanged(conn ConnHandle, handle uint16, value []byte)

	// MTUChanged is unsolicited and informational only.
	MTUChanged(conn ConnHandle, mtu int)
}

// Formatter renders values for the display channel. The engine owns no
// output formatting itself; it hands every read result and notification to
// this collaborator and publishes whatever comes back.
type Formatter interface {
	// ReadResult renders a completed characteristic read.
	ReadResult(rec *CharacteristicRecord, value []byte) string
	// Notification renders a server-initiated value change.
	Notification(rec *CharacteristicRecord, value []byte) string
}

// Publisher is the cross-thread display channel as seen by the engine.
type Publisher interface {
	// Publish blocks until the consumer side has taken ownership of the
	// previous message. Returns an error once the channel is closed.
	Publish(text string, mode byte) error
	// Close marks the channel inactive and wakes a blocked consumer (and
	// any blocked publisher). Idempotent.
	Close()
}
