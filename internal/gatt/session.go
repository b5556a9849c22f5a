package gatt

import (
	"encoding/json"
	"sync/atomic"
)

// SessionState is the explicit engine state for one session's cursor.
// Transitions happen only on the serialized callback context, driven by the
// named transport events.
type SessionState int

const (
	StateIdle SessionState = iota
	StateEnumerating
	StateReading
	StateDiscoveringDescriptors
	StateWritingDescriptor
	StateDrained
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateReading:
		return "reading"
	case StateDiscoveringDescriptors:
		return "discovering-descriptors"
	case StateWritingDescriptor:
		return "writing-descriptor"
	case StateDrained:
		return "drained"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// SubscribeMode records which server-initiated delivery was enabled for a
// characteristic.
type SubscribeMode byte

const (
	SubscribeNone SubscribeMode = iota
	SubscribeNotify
	SubscribeIndicate
)

func (m SubscribeMode) String() string {
	switch m {
	case SubscribeNotify:
		return "notify"
	case SubscribeIndicate:
		return "indicate"
	}
	return "none"
}

// cccdValue returns the two-byte little-endian configuration value enabling
// the given delivery mode.
func (m SubscribeMode) cccdValue() []byte {
	switch m {
	case SubscribeNotify:
		return []byte{0x01, 0x00}
	case SubscribeIndicate:
		return []byte{0x02, 0x00}
	}
	return []byte{0x00, 0x00}
}

// subscribeModeFor selects the delivery mode for a property bitmask.
// Indication is preferred when both bits are set: it is acknowledged, so the
// stronger guarantee wins.
func subscribeModeFor(p Properties) SubscribeMode {
	switch {
	case p.Indicatable():
		return SubscribeIndicate
	case p.Notifiable():
		return SubscribeNotify
	}
	return SubscribeNone
}

// Outcome is the per-characteristic result of the read-then-subscribe pass.
type Outcome struct {
	Read       bool
	ReadErr    error
	Mode       SubscribeMode
	CCCDHandle uint16
	SubErr     error
}

// Session holds all engine state for one connection. Owned exclusively by
// the serialized callback context; the active flag is the only field other
// goroutines touch (Stop flips it, stale-callback checks read it).
type Session struct {
	conn     ConnHandle
	mtu      int
	registry *Registry
	cursor   int
	// pendingCCCD is non-zero only between capturing a configuration
	// descriptor and its write completing for the record at the cursor.
	pendingCCCD uint16
	state       SessionState
	active      atomic.Bool
	outcomes    map[uint16]*Outcome
}

func newSession(conn ConnHandle) *Session {
	s := &Session{
		conn:     conn,
		registry: NewRegistry(),
		outcomes: make(map[uint16]*Outcome),
	}
	s.active.Store(true)
	return s
}

// Conn returns the connection handle this session belongs to.
func (s *Session) Conn() ConnHandle { return s.conn }

// MTU returns the last negotiated MTU reported by the transport, 0 if none
// was ever reported.
func (s *Session) MTU() int { return s.mtu }

// State returns the current cursor state.
func (s *Session) State() SessionState { return s.state }

// Active reports whether the session is still live. Safe from any goroutine.
func (s *Session) Active() bool { return s.active.Load() }

// Registry exposes the session's characteristic registry.
func (s *Session) Registry() *Registry { return s.registry }

// current returns the record at the cursor, nil once the drain has passed
// the last record.
func (s *Session) current() *CharacteristicRecord {
	if s.cursor >= s.registry.Len() {
		return nil
	}
	return s.registry.At(s.cursor)
}

func (s *Session) outcomeFor(rec *CharacteristicRecord) *Outcome {
	o, ok := s.outcomes[rec.ValueHandle]
	if !ok {
		o = &Outcome{}
		s.outcomes[rec.ValueHandle] = o
	}
	return o
}

// SummaryEntry is one characteristic in the session summary.
type SummaryEntry struct {
	UUID        string `json:"uuid"`
	ValueHandle uint16 `json:"value_handle"`
	Properties  string `json:"properties"`
	Read        bool   `json:"read"`
	ReadError   string `json:"read_error,omitempty"`
	Subscribed  string `json:"subscribed"`
	CCCDHandle  uint16 `json:"cccd_handle,omitempty"`
	SubError    string `json:"sub_error,omitempty"`
}

// Summary is a JSON-marshalable snapshot of a session after draining.
type Summary struct {
	Conn            ConnHandle     `json:"conn"`
	MTU             int            `json:"mtu,omitempty"`
	State           string         `json:"state"`
	Characteristics []SummaryEntry `json:"characteristics"`
}

// Summary snapshots the session. Call from the callback context or after the
// session is stopped.
func (s *Session) Summary() *Summary {
	sum := &Summary{
		Conn:  s.conn,
		MTU:   s.mtu,
		State: s.state.String(),
	}
	for i := 0; i < s.registry.Len(); i++ {
		rec := s.registry.At(i)
		entry := SummaryEntry{
			UUID:        rec.UUID,
			ValueHandle: rec.ValueHandle,
			Properties:  rec.Props.String(),
			Subscribed:  SubscribeNone.String(),
		}
		if o, ok := s.outcomes[rec.ValueHandle]; ok {
			entry.Read = o.Read
			if o.ReadErr != nil {
				entry.ReadError = o.ReadErr.Error()
			}
			entry.CCCDHandle = o.CCCDHandle
			if o.SubErr == nil && o.Mode != SubscribeNone {
				entry.Subscribed = o.Mode.String()
			}
			if o.SubErr != nil {
				entry.SubError = o.SubErr.Error()
			}
		}
		sum.Characteristics = append(sum.Characteristics, entry)
	}
	return sum
}

// JSON renders the summary with indentation for human consumption.
func (s *Summary) JSON() (string, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
