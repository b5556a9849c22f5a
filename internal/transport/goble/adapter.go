// Package goble adapts a connected go-ble client to the watcher's transport
// contract. Every operation runs on a single dispatch goroutine; completion
// callbacks and notification relays are posted to the same goroutine, which
// gives the engine its serialized callback context. Operations issued from
// within a callback (already on the dispatch goroutine) execute inline, so
// the loop never sends to its own queue.
package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattwatch/internal/gatt"
	"github.com/srg/gattwatch/internal/groutine"
)

// jobQueueDepth bounds pending dispatch jobs. The engine keeps one transport
// operation outstanding, so the queue only ever holds that operation plus a
// handful of notification relays.
const jobQueueDepth = 64

// Adapter bridges one connected ble.Client to the gatt.Transport interface.
// A single Adapter serves a single connection; Conn() returns its handle.
type Adapter struct {
	client ble.Client
	logger *logrus.Logger
	conn   gatt.ConnHandle

	mu    sync.Mutex
	sink  gatt.EventSink
	chars map[uint16]*ble.Characteristic // by value handle
	descs map[uint16]*ble.Descriptor
	owner map[uint16]*ble.Characteristic // CCCD handle to owning characteristic

	jobs        chan func()
	quit        chan struct{}
	done        chan struct{}
	closed      atomic.Bool
	dispatchGID atomic.Uint64
}

// NewAdapter wraps an already-dialed client. The dispatch goroutine starts
// immediately; events flow once SetSink is called and Enumerate is issued.
func NewAdapter(client ble.Client, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	a := &Adapter{
		client: client,
		logger: logger,
		conn:   1,
		chars:  make(map[uint16]*ble.Characteristic),
		descs:  make(map[uint16]*ble.Descriptor),
		owner:  make(map[uint16]*ble.Characteristic),
		jobs:   make(chan func(), jobQueueDepth),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	groutine.Go(nil, "gatt-dispatch", func(_ context.Context) {
		a.dispatchLoop()
	})
	return a
}

// SetSink attaches the event consumer. Must be called before Enumerate.
func (a *Adapter) SetSink(sink gatt.EventSink) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

// Conn returns the synthetic connection handle for this adapter.
func (a *Adapter) Conn() gatt.ConnHandle {
	return a.conn
}

// Close stops the dispatch goroutine and waits for an in-flight job to
// finish, so no callback can fire after Close returns. It does not tear down
// the underlying BLE connection; that stays with whoever dialed it. Must not
// be called from inside a callback.
func (a *Adapter) Close() {
	if a.closed.CompareAndSwap(false, true) {
		close(a.quit)
	}
	if groutine.GetGID() != a.dispatchGID.Load() {
		<-a.done
	}
}

func (a *Adapter) dispatchLoop() {
	defer close(a.done)
	a.dispatchGID.Store(groutine.GetGID())
	for {
		select {
		case <-a.quit:
			return
		case job := <-a.jobs:
			job()
		}
	}
}

// post hands job to the dispatch goroutine. When the caller already is the
// dispatch goroutine (the engine issuing its next operation from inside a
// callback) the job runs inline; sending to the bounded queue from its only
// reader would wedge the loop once notification relays fill it.
func (a *Adapter) post(job func()) error {
	if a.closed.Load() {
		return fmt.Errorf("goble: adapter closed")
	}
	if groutine.GetGID() == a.dispatchGID.Load() {
		job()
		return nil
	}
	select {
	case a.jobs <- job:
		return nil
	case <-a.quit:
		return fmt.Errorf("goble: adapter closed")
	}
}

func (a *Adapter) eventSink() gatt.EventSink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

// Enumerate discovers the full profile and streams it to the sink as
// discovery events. go-ble resolves services, characteristics, and
// descriptors in one pass, so descriptor replay later is purely local.
func (a *Adapter) Enumerate(conn gatt.ConnHandle) error {
	if conn != a.conn {
		return fmt.Errorf("goble: unknown connection %d", conn)
	}
	return a.post(func() {
		sink := a.eventSink()
		if sink == nil {
			return
		}

		profile, err := a.client.DiscoverProfile(true)
		if err != nil {
			a.logger.WithField("error", err).Error("Profile discovery failed")
			sink.EnumerationDone(conn, gatt.StatusUnlikelyError)
			return
		}

		if bleConn := a.client.Conn(); bleConn != nil {
			sink.MTUChanged(conn, bleConn.RxMTU())
		}

		a.mu.Lock()
		for _, svc := range profile.Services {
			for _, c := range svc.Characteristics {
				a.chars[c.ValueHandle] = c
				for _, d := range c.Descriptors {
					if d.Handle == 0 {
						continue // platform did not populate descriptor handles
					}
					a.descs[d.Handle] = d
					a.owner[d.Handle] = c
				}
			}
		}
		a.mu.Unlock()

		for _, svc := range profile.Services {
			sink.ServiceDiscovered(conn, gatt.ServiceInfo{
				UUID:        svc.UUID.String(),
				StartHandle: svc.Handle,
				EndHandle:   svc.EndHandle,
			})
			for _, c := range svc.Characteristics {
				sink.CharacteristicDiscovered(conn, gatt.CharacteristicInfo{
					UUID:        c.UUID.String(),
					Props:       convertProperties(c.Property),
					DeclHandle:  c.Handle,
					ValueHandle: c.ValueHandle,
					EndHandle:   c.EndHandle,
				})
			}
		}
		sink.EnumerationDone(conn, gatt.StatusSuccess)
	})
}

// ReadValue reads the characteristic value attribute at handle.
func (a *Adapter) ReadValue(conn gatt.ConnHandle, handle uint16) error {
	if conn != a.conn {
		return fmt.Errorf("goble: unknown connection %d", conn)
	}
	a.mu.Lock()
	c, ok := a.chars[handle]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("goble: no characteristic at handle 0x%04x", handle)
	}
	return a.post(func() {
		sink := a.eventSink()
		if sink == nil {
			return
		}
		value, err := a.client.ReadCharacteristic(c)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"handle": fmt.Sprintf("0x%04x", handle),
				"error":  err,
			}).Debug("Characteristic read failed")
			sink.ReadComplete(conn, handle, gatt.StatusUnlikelyError, nil)
			return
		}
		sink.ReadComplete(conn, handle, gatt.StatusSuccess, value)
	})
}

// DiscoverDescriptors replays the descriptors captured during profile
// discovery that fall inside [start, end].
func (a *Adapter) DiscoverDescriptors(conn gatt.ConnHandle, start, end uint16) error {
	if conn != a.conn {
		return fmt.Errorf("goble: unknown connection %d", conn)
	}
	return a.post(func() {
		sink := a.eventSink()
		if sink == nil {
			return
		}
		a.mu.Lock()
		var found []*ble.Descriptor
		for h, d := range a.descs {
			if h >= start && h <= end {
				found = append(found, d)
			}
		}
		a.mu.Unlock()
		for _, d := range found {
			sink.DescriptorDiscovered(conn, gatt.DescriptorInfo{
				UUID:   d.UUID.String(),
				Handle: d.Handle,
			})
		}
		sink.DescriptorDiscoveryDone(conn, gatt.StatusSuccess)
	})
}

// WriteDescriptor writes value to the descriptor at handle. Configuration
// descriptor writes are translated to Subscribe/Unsubscribe because go-ble
// owns the CCCD when managing notification callbacks.
func (a *Adapter) WriteDescriptor(conn gatt.ConnHandle, handle uint16, value []byte) error {
	if conn != a.conn {
		return fmt.Errorf("goble: unknown connection %d", conn)
	}
	a.mu.Lock()
	d, ok := a.descs[handle]
	owner := a.owner[handle]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("goble: no descriptor at handle 0x%04x", handle)
	}

	isCCCD := gatt.NormalizeUUID(d.UUID.String()) == gatt.CCCDUUID && owner != nil
	return a.post(func() {
		sink := a.eventSink()
		if sink == nil {
			return
		}
		var err error
		if isCCCD {
			err = a.applyCCCD(conn, owner, value)
		} else {
			err = a.client.WriteDescriptor(d, value)
		}
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"handle": fmt.Sprintf("0x%04x", handle),
				"error":  err,
			}).Warn("Descriptor write failed")
			sink.WriteComplete(conn, handle, gatt.StatusUnlikelyError)
			return
		}
		sink.WriteComplete(conn, handle, gatt.StatusSuccess)
	})
}

// applyCCCD maps a configuration value onto go-ble subscription calls. The
// notification handler re-posts onto the dispatch goroutine so value changes
// stay serialized with every other callback.
func (a *Adapter) applyCCCD(conn gatt.ConnHandle, c *ble.Characteristic, value []byte) error {
	var bits byte
	if len(value) > 0 {
		bits = value[0]
	}
	valueHandle := c.ValueHandle

	relay := func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		if err := a.post(func() {
			if sink := a.eventSink(); sink != nil {
				sink.ValueChanged(conn, valueHandle, buf)
			}
		}); err != nil {
			a.logger.Debug("Dropped notification after adapter close")
		}
	}

	switch {
	case bits&0x02 != 0:
		return a.client.Subscribe(c, true, relay)
	case bits&0x01 != 0:
		return a.client.Subscribe(c, false, relay)
	default:
		errN := a.client.Unsubscribe(c, false)
		errI := a.client.Unsubscribe(c, true)
		if errN != nil && errI != nil {
			return fmt.Errorf("goble: unsubscribe failed: notify=%v, indicate=%v", errN, errI)
		}
		return nil
	}
}

// convertProperties maps go-ble property bits onto the watcher's bitmask.
func convertProperties(p ble.Property) gatt.Properties {
	var out gatt.Properties
	if p&ble.CharBroadcast != 0 {
		out |= gatt.PropBroadcast
	}
	if p&ble.CharRead != 0 {
		out |= gatt.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		out |= gatt.PropWriteNR
	}
	if p&ble.CharWrite != 0 {
		out |= gatt.PropWrite
	}
	if p&ble.CharNotify != 0 {
		out |= gatt.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= gatt.PropIndicate
	}
	if p&ble.CharSignedWrite != 0 {
		out |= gatt.PropSignedWrite
	}
	if p&ble.CharExtended != 0 {
		out |= gatt.PropExtended
	}
	return out
}
