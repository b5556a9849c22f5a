package gatt

import (
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattwatch/internal/display"
)

// Engine drives client-side discovery and subscription against a remote GATT
// server: it enumerates every characteristic, reads each readable one,
// enables notify/indicate through the configuration descriptor where
// supported, and relays value changes to the display channel.
//
// All EventSink callbacks must arrive on a single serialized context; session
// internals are mutated only there. Start and Stop may be called from other
// goroutines: the session table is guarded by a mutex and the per-session
// active flag is atomic, everything else stays callback-owned.
type Engine struct {
	transport Transport
	formatter Formatter
	display   Publisher
	logger    *logrus.Logger

	mu       sync.RWMutex
	sessions *orderedmap.OrderedMap[ConnHandle, *Session]

	// onDrained, when set, is invoked on the callback context after a
	// session finishes its read-then-subscribe pass.
	onDrained func(*Session)
}

func NewEngine(transport Transport, formatter Formatter, publisher Publisher, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		transport: transport,
		formatter: formatter,
		display:   publisher,
		logger:    logger,
		sessions:  orderedmap.New[ConnHandle, *Session](),
	}
}

// SetDrainHook registers fn to run when a session reaches drain-complete.
// Must be called before Start.
func (e *Engine) SetDrainHook(fn func(*Session)) { e.onDrained = fn }

// Session returns the session for conn, if one exists.
func (e *Engine) Session(conn ConnHandle) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions.Get(conn)
}

// Start creates a session for conn and issues the combined
// service-and-characteristic enumeration. An existing session for the same
// handle is superseded: its active flag drops so its late callbacks become
// no-ops. Enumeration failure is not fatal; the session simply drains empty.
func (e *Engine) Start(conn ConnHandle) *Session {
	e.mu.Lock()
	if old, ok := e.sessions.Get(conn); ok && old.Active() {
		old.active.Store(false)
		e.logger.WithField("conn", old.conn).Warn("Superseding active session")
	}
	s := newSession(conn)
	s.state = StateEnumerating
	e.sessions.Set(conn, s)
	e.mu.Unlock()

	e.logger.WithField("conn", conn).Info("Starting GATT discovery")
	if err := e.transport.Enumerate(conn); err != nil {
		e.logger.WithFields(logrus.Fields{
			"conn":  conn,
			"error": err,
		}).Error("Failed to issue enumeration; draining empty registry")
		e.processNext(s)
	}
	return s
}

// Stop deactivates the session for conn. Safe to call from any goroutine and
// idempotent. Callbacks that arrive afterwards for this session are dropped;
// once no active session remains, the display channel is closed so the
// consumer wakes up and can observe the inactive state instead of blocking.
func (e *Engine) Stop(conn ConnHandle) {
	e.mu.RLock()
	s, ok := e.sessions.Get(conn)
	e.mu.RUnlock()
	if !ok || !s.active.CompareAndSwap(true, false) {
		return
	}
	e.logger.WithField("conn", conn).Info("Session stopped")
	if !e.anyActive() {
		e.display.Close()
	}
}

// Shutdown deactivates every session and closes the display channel.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	for pair := e.sessions.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.active.Store(false)
	}
	e.mu.RUnlock()
	e.logger.Info("Engine shut down")
	e.display.Close()
}

func (e *Engine) anyActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for pair := e.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Active() {
			return true
		}
	}
	return false
}

// lookup resolves the live session for conn. A nil result means the event
// belongs to a superseded or stopped session and must be dropped.
func (e *Engine) lookup(conn ConnHandle) *Session {
	e.mu.RLock()
	s, ok := e.sessions.Get(conn)
	e.mu.RUnlock()
	if !ok || !s.Active() {
		return nil
	}
	return s
}

func (e *Engine) dropStale(conn ConnHandle, event string) {
	e.logger.WithFields(logrus.Fields{
		"conn":  conn,
		"event": event,
	}).Debug("Dropping stale callback")
}

// ----------------------------
// Enumeration callbacks
// ----------------------------

// ServiceDiscovered is informational: services are not retained, only their
// characteristics matter to this engine.
func (e *Engine) ServiceDiscovered(conn ConnHandle, svc ServiceInfo) {
	s := e.lookup(conn)
	if s == nil || s.state != StateEnumerating {
		e.dropStale(conn, "service-discovered")
		return
	}
	e.logger.WithFields(logrus.Fields{
		"conn":         conn,
		"service_uuid": svc.UUID,
	}).Debug("Service discovered")
}

func (e *Engine) CharacteristicDiscovered(conn ConnHandle, ch CharacteristicInfo) {
	s := e.lookup(conn)
	if s == nil || s.state != StateEnumerating {
		e.dropStale(conn, "characteristic-discovered")
		return
	}
	rec := &CharacteristicRecord{
		UUID:        NormalizeUUID(ch.UUID),
		Props:       ch.Props,
		DeclHandle:  ch.DeclHandle,
		ValueHandle: ch.ValueHandle,
		EndHandle:   ch.EndHandle,
	}
	if !s.registry.Add(rec) {
		e.logger.WithFields(logrus.Fields{
			"conn":         conn,
			"value_handle": ch.ValueHandle,
		}).Warn("Duplicate characteristic value handle, ignoring")
		return
	}
	e.logger.WithFields(logrus.Fields{
		"conn":         conn,
		"char_uuid":    rec.UUID,
		"value_handle": rec.ValueHandle,
		"properties":   rec.Props.String(),
	}).Debug("Characteristic discovered")
}

// EnumerationDone hands control to the per-characteristic processor. A
// failed enumeration still counts as "enumeration ended": whatever was
// discovered before the failure gets processed.
func (e *Engine) EnumerationDone(conn ConnHandle, status Status) {
	s := e.lookup(conn)
	if s == nil || s.state != StateEnumerating {
		e.dropStale(conn, "enumeration-done")
		return
	}
	if !status.OK() {
		e.logger.WithFields(logrus.Fields{
			"conn":   conn,
			"status": status,
		}).Warn("Enumeration terminated with error; processing partial registry")
	}
	e.logger.WithFields(logrus.Fields{
		"conn":            conn,
		"characteristics": s.registry.Len(),
	}).Info("Enumeration complete")
	s.cursor = 0
	e.processNext(s)
}

// ----------------------------
// Characteristic processor
// ----------------------------

// processNext drives the cursor until the next asynchronous operation is in
// flight or the registry is drained. A plain loop, deliberately: skipping a
// long run of non-readable, non-subscribable characteristics must not grow
// the callback stack.
func (e *Engine) processNext(s *Session) {
	for {
		rec := s.current()
		if rec == nil {
			s.state = StateDrained
			s.pendingCCCD = 0
			e.logger.WithFields(logrus.Fields{
				"conn":            s.conn,
				"characteristics": s.registry.Len(),
			}).Info("All characteristics processed")
			if e.onDrained != nil {
				e.onDrained(s)
			}
			return
		}
		if rec.Props.Readable() {
			s.state = StateReading
			err := e.transport.ReadValue(s.conn, rec.ValueHandle)
			if err == nil {
				return
			}
			s.outcomeFor(rec).ReadErr = &TransportError{Op: "read", Handle: rec.ValueHandle, Err: err}
			e.logger.WithFields(logrus.Fields{
				"conn":      s.conn,
				"char_uuid": rec.UUID,
				"error":     err,
			}).Warn("Failed to issue read, skipping value")
		}
		if e.beginSubscribe(s, rec) {
			return
		}
		s.cursor++
	}
}

// advance moves the cursor past the record at it and resumes processing.
func (e *Engine) advance(s *Session) {
	s.cursor++
	e.processNext(s)
}

// beginSubscribe starts descriptor discovery for a subscribable record.
// Returns true when an asynchronous operation is now in flight; false means
// the record is finished and the caller advances the cursor.
func (e *Engine) beginSubscribe(s *Session, rec *CharacteristicRecord) bool {
	mode := subscribeModeFor(rec.Props)
	if mode == SubscribeNone {
		return false
	}
	o := s.outcomeFor(rec)
	o.Mode = mode
	if !rec.HasDescriptorRange() {
		o.SubErr = ErrNoConfigDescriptor
		e.logger.WithFields(logrus.Fields{
			"conn":      s.conn,
			"char_uuid": rec.UUID,
		}).Warn("Characteristic has no descriptor range, cannot subscribe")
		return false
	}
	s.state = StateDiscoveringDescriptors
	s.pendingCCCD = 0
	start, end := rec.DescriptorRange()
	if err := e.transport.DiscoverDescriptors(s.conn, start, end); err != nil {
		o.SubErr = &TransportError{Op: "discover-descriptors", Handle: rec.ValueHandle, Err: err}
		e.logger.WithFields(logrus.Fields{
			"conn":      s.conn,
			"char_uuid": rec.UUID,
			"error":     err,
		}).Warn("Failed to issue descriptor discovery, skipping subscription")
		return false
	}
	return true
}

// ----------------------------
// Read callbacks
// ----------------------------

func (e *Engine) ReadComplete(conn ConnHandle, handle uint16, status Status, value []byte) {
	s := e.lookup(conn)
	if s == nil {
		e.dropStale(conn, "read-complete")
		return
	}
	rec := s.current()
	if s.state != StateReading || rec == nil || rec.ValueHandle != handle {
		e.dropStale(conn, "read-complete")
		return
	}
	o := s.outcomeFor(rec)
	if status.OK() {
		o.Read = true
		e.publish(e.formatter.ReadResult(rec, value), display.ModeRead)
	} else {
		o.ReadErr = &TransportError{Op: "read", Handle: handle, Status: status}
		e.logger.WithFields(logrus.Fields{
			"conn":      conn,
			"char_uuid": rec.UUID,
			"status":    status,
		}).Warn("Characteristic read failed")
	}
	// Read outcome never blocks the subscription decision.
	if e.beginSubscribe(s, rec) {
		return
	}
	e.advance(s)
}

// ----------------------------
// Descriptor callbacks
// ----------------------------

// DescriptorDiscovered captures the first configuration descriptor seen.
// Discovery is allowed to run to natural termination; the transport owns the
// enumeration, the engine only records the handle.
func (e *Engine) DescriptorDiscovered(conn ConnHandle, desc DescriptorInfo) {
	s := e.lookup(conn)
	if s == nil || s.state != StateDiscoveringDescriptors {
		e.dropStale(conn, "descriptor-discovered")
		return
	}
	if NormalizeUUID(desc.UUID) == CCCDUUID && s.pendingCCCD == 0 {
		s.pendingCCCD = desc.Handle
		e.logger.WithFields(logrus.Fields{
			"conn":        conn,
			"cccd_handle": desc.Handle,
		}).Debug("Configuration descriptor found")
	}
}

func (e *Engine) DescriptorDiscoveryDone(conn ConnHandle, status Status) {
	s := e.lookup(conn)
	if s == nil || s.state != StateDiscoveringDescriptors {
		e.dropStale(conn, "descriptor-discovery-done")
		return
	}
	rec := s.current()
	if rec == nil {
		e.dropStale(conn, "descriptor-discovery-done")
		return
	}
	o := s.outcomeFor(rec)
	if s.pendingCCCD == 0 {
		if !status.OK() {
			o.SubErr = &TransportError{Op: "discover-descriptors", Handle: rec.ValueHandle, Status: status}
		} else {
			o.SubErr = ErrNoConfigDescriptor
		}
		e.logger.WithFields(logrus.Fields{
			"conn":      conn,
			"char_uuid": rec.UUID,
			"error":     o.SubErr,
		}).Warn("Characteristic will not deliver server-initiated updates")
		e.advance(s)
		return
	}
	s.state = StateWritingDescriptor
	o.CCCDHandle = s.pendingCCCD
	if err := e.transport.WriteDescriptor(s.conn, s.pendingCCCD, o.Mode.cccdValue()); err != nil {
		o.SubErr = &TransportError{Op: "write-descriptor", Handle: s.pendingCCCD, Err: err}
		e.logger.WithFields(logrus.Fields{
			"conn":      conn,
			"char_uuid": rec.UUID,
			"error":     err,
		}).Warn("Failed to issue configuration descriptor write")
		s.pendingCCCD = 0
		e.advance(s)
	}
}

// WriteComplete finishes the subscription attempt for the record at the
// cursor. Success or failure, the drain moves on: a failed write only means
// this one characteristic stays silent.
func (e *Engine) WriteComplete(conn ConnHandle, handle uint16, status Status) {
	s := e.lookup(conn)
	if s == nil || s.state != StateWritingDescriptor || handle != s.pendingCCCD {
		e.dropStale(conn, "write-complete")
		return
	}
	rec := s.current()
	o := s.outcomeFor(rec)
	if status.OK() {
		e.logger.WithFields(logrus.Fields{
			"conn":      conn,
			"char_uuid": rec.UUID,
			"mode":      o.Mode.String(),
		}).Info("Subscribed to characteristic")
	} else {
		o.SubErr = &TransportError{Op: "write-descriptor", Handle: handle, Status: status}
		e.logger.WithFields(logrus.Fields{
			"conn":      conn,
			"char_uuid": rec.UUID,
			"status":    status,
		}).Warn("Configuration descriptor write failed")
	}
	s.pendingCCCD = 0
	e.advance(s)
}

// ----------------------------
// Unsolicited callbacks
// ----------------------------

// ValueChanged relays one server-initiated update. Delivery is synchronous:
// the publish blocks until the consumer has taken the previous message, so a
// slow consumer backpressures the callback context by design of the channel.
func (e *Engine) ValueChanged(conn ConnHandle, handle uint16, value []byte) {
	s := e.lookup(conn)
	if s == nil {
		e.dropStale(conn, "value-changed")
		return
	}
	rec, ok := s.registry.Lookup(handle)
	if !ok {
		e.logger.WithFields(logrus.Fields{
			"conn":   conn,
			"handle": handle,
		}).Debug("Value change for unknown handle, ignoring")
		return
	}
	mode := display.ModeNotify
	if o, found := s.outcomes[handle]; found && o.Mode == SubscribeIndicate {
		mode = display.ModeIndicate
	}
	e.publish(e.formatter.Notification(rec, value), mode)
}

// MTUChanged records the negotiated MTU; informational only.
func (e *Engine) MTUChanged(conn ConnHandle, mtu int) {
	s := e.lookup(conn)
	if s == nil {
		e.dropStale(conn, "mtu-changed")
		return
	}
	s.mtu = mtu
	e.logger.WithFields(logrus.Fields{
		"conn": conn,
		"mtu":  mtu,
	}).Info("MTU updated")
}

func (e *Engine) publish(text string, mode byte) {
	if err := e.display.Publish(text, mode); err != nil {
		e.logger.WithField("error", err).Debug("Display channel closed, message dropped")
	}
}
