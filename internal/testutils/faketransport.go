package testutils

import (
	"fmt"
	"sync"

	"github.com/srg/gattwatch/internal/gatt"
)

// FakeDescriptor is one descriptor of a fake peripheral.
type FakeDescriptor struct {
	UUID   string
	Handle uint16
}

// FakeCharacteristic is one characteristic of a fake peripheral. The Status
// fields inject completion failures for the matching operation; zero means
// success.
type FakeCharacteristic struct {
	UUID        string
	Props       gatt.Properties
	Value       []byte
	DeclHandle  uint16
	ValueHandle uint16
	EndHandle   uint16
	Descriptors []FakeDescriptor

	ReadStatus     gatt.Status
	DiscoverStatus gatt.Status
	WriteStatus    gatt.Status
}

// FakeService groups characteristics under a service UUID.
type FakeService struct {
	UUID            string
	StartHandle     uint16
	EndHandle       uint16
	Characteristics []*FakeCharacteristic
}

// PeripheralBuilder assembles a fake GATT server. Handles are assigned
// sequentially at Build time the way a real attribute table lays them out.
type PeripheralBuilder struct {
	services []*FakeService
}

// NewPeripheral creates an empty peripheral builder.
func NewPeripheral() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// WithService starts a new service; subsequent characteristics attach to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.services = append(b.services, &FakeService{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralBuilder) WithCharacteristic(uuid string, props gatt.Properties, value []byte) *PeripheralBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := b.services[len(b.services)-1]
	svc.Characteristics = append(svc.Characteristics, &FakeCharacteristic{
		UUID:  uuid,
		Props: props,
		Value: value,
	})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic.
func (b *PeripheralBuilder) WithDescriptor(uuid string) *PeripheralBuilder {
	ch := b.lastCharacteristic()
	ch.Descriptors = append(ch.Descriptors, FakeDescriptor{UUID: uuid})
	return b
}

// WithCCCD adds a client characteristic configuration descriptor to the last
// added characteristic.
func (b *PeripheralBuilder) WithCCCD() *PeripheralBuilder {
	return b.WithDescriptor(gatt.CCCDUUID)
}

// WithReadStatus injects a read completion failure on the last characteristic.
func (b *PeripheralBuilder) WithReadStatus(status gatt.Status) *PeripheralBuilder {
	b.lastCharacteristic().ReadStatus = status
	return b
}

// WithDiscoverStatus injects a descriptor discovery completion failure on the
// last characteristic.
func (b *PeripheralBuilder) WithDiscoverStatus(status gatt.Status) *PeripheralBuilder {
	b.lastCharacteristic().DiscoverStatus = status
	return b
}

// WithWriteStatus injects a descriptor write completion failure on the last
// characteristic.
func (b *PeripheralBuilder) WithWriteStatus(status gatt.Status) *PeripheralBuilder {
	b.lastCharacteristic().WriteStatus = status
	return b
}

func (b *PeripheralBuilder) lastCharacteristic() *FakeCharacteristic {
	if len(b.services) == 0 || len(b.services[len(b.services)-1].Characteristics) == 0 {
		panic("no characteristic added yet, call WithCharacteristic first")
	}
	svc := b.services[len(b.services)-1]
	return svc.Characteristics[len(svc.Characteristics)-1]
}

// Build lays out the attribute table and returns the fake transport.
func (b *PeripheralBuilder) Build() *FakeTransport {
	f := &FakeTransport{
		services: b.services,
		chars:    make(map[uint16]*FakeCharacteristic),
		descs:    make(map[uint16]*FakeDescriptor),
		owner:    make(map[uint16]*FakeCharacteristic),
		written:  make(map[uint16][]byte),
	}

	var next uint16 = 1
	for _, svc := range b.services {
		svc.StartHandle = next
		for _, ch := range svc.Characteristics {
			ch.DeclHandle = next
			ch.ValueHandle = next + 1
			next += 2
			for i := range ch.Descriptors {
				ch.Descriptors[i].Handle = next
				next++
			}
			ch.EndHandle = next - 1
			f.chars[ch.ValueHandle] = ch
			for i := range ch.Descriptors {
				d := &ch.Descriptors[i]
				f.descs[d.Handle] = d
				f.owner[d.Handle] = ch
			}
		}
		svc.EndHandle = next - 1
	}
	return f
}

// FakeTransport is an in-memory gatt.Transport over a built peripheral.
// Completions are delivered synchronously from the issuing call, which
// satisfies the serialized callback contract as long as the test drives the
// engine from a single goroutine.
type FakeTransport struct {
	mu       sync.Mutex
	services []*FakeService
	chars    map[uint16]*FakeCharacteristic
	descs    map[uint16]*FakeDescriptor
	owner    map[uint16]*FakeCharacteristic
	sink     gatt.EventSink

	// Trace records every issued operation in order.
	Trace []string

	// EnumStatus is the completion status of Enumerate.
	EnumStatus gatt.Status
	// TruncateAfter limits how many characteristics enumeration delivers
	// before EnumerationDone fires; zero delivers all. Use together with a
	// non-zero EnumStatus to model an aborted enumeration.
	TruncateAfter int

	// Issue-time failures: the matching operation returns the error instead
	// of dispatching.
	FailEnumerateIssue error
	FailReadIssue      map[uint16]error
	FailDiscoverIssue  error
	FailWriteIssue     map[uint16]error

	written map[uint16][]byte
}

var _ gatt.Transport = (*FakeTransport)(nil)

// SetSink attaches the event consumer.
func (f *FakeTransport) SetSink(sink gatt.EventSink) {
	f.sink = sink
}

// CharByUUID finds a built characteristic for handle assertions.
func (f *FakeTransport) CharByUUID(uuid string) *FakeCharacteristic {
	want := gatt.NormalizeUUID(uuid)
	for _, svc := range f.services {
		for _, ch := range svc.Characteristics {
			if gatt.NormalizeUUID(ch.UUID) == want {
				return ch
			}
		}
	}
	return nil
}

// WrittenValue returns the last value written to the descriptor at handle.
func (f *FakeTransport) WrittenValue(handle uint16) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[handle]
}

// Notify injects a server-initiated value change for the characteristic with
// the given value handle.
func (f *FakeTransport) Notify(conn gatt.ConnHandle, valueHandle uint16, data []byte) {
	f.sink.ValueChanged(conn, valueHandle, data)
}

func (f *FakeTransport) trace(format string, args ...interface{}) {
	f.mu.Lock()
	f.Trace = append(f.Trace, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *FakeTransport) Enumerate(conn gatt.ConnHandle) error {
	f.trace("enumerate")
	if f.FailEnumerateIssue != nil {
		return f.FailEnumerateIssue
	}

	delivered := 0
	for _, svc := range f.services {
		f.sink.ServiceDiscovered(conn, gatt.ServiceInfo{
			UUID:        svc.UUID,
			StartHandle: svc.StartHandle,
			EndHandle:   svc.EndHandle,
		})
		for _, ch := range svc.Characteristics {
			if f.TruncateAfter > 0 && delivered >= f.TruncateAfter {
				f.sink.EnumerationDone(conn, f.EnumStatus)
				return nil
			}
			f.sink.CharacteristicDiscovered(conn, gatt.CharacteristicInfo{
				UUID:        ch.UUID,
				Props:       ch.Props,
				DeclHandle:  ch.DeclHandle,
				ValueHandle: ch.ValueHandle,
				EndHandle:   ch.EndHandle,
			})
			delivered++
		}
	}
	f.sink.EnumerationDone(conn, f.EnumStatus)
	return nil
}

func (f *FakeTransport) ReadValue(conn gatt.ConnHandle, handle uint16) error {
	f.trace("read 0x%04x", handle)
	if err := f.FailReadIssue[handle]; err != nil {
		return err
	}
	ch, ok := f.chars[handle]
	if !ok {
		f.sink.ReadComplete(conn, handle, gatt.StatusAttributeNotFound, nil)
		return nil
	}
	if !ch.ReadStatus.OK() {
		f.sink.ReadComplete(conn, handle, ch.ReadStatus, nil)
		return nil
	}
	f.sink.ReadComplete(conn, handle, gatt.StatusSuccess, ch.Value)
	return nil
}

func (f *FakeTransport) DiscoverDescriptors(conn gatt.ConnHandle, start, end uint16) error {
	f.trace("discover 0x%04x-0x%04x", start, end)
	if f.FailDiscoverIssue != nil {
		return f.FailDiscoverIssue
	}

	var status gatt.Status
	for h := start; h <= end && h != 0; h++ {
		d, ok := f.descs[h]
		if !ok {
			continue
		}
		owner := f.owner[h]
		if owner != nil && !owner.DiscoverStatus.OK() {
			status = owner.DiscoverStatus
			break
		}
		f.sink.DescriptorDiscovered(conn, gatt.DescriptorInfo{
			UUID:   d.UUID,
			Handle: d.Handle,
		})
	}
	f.sink.DescriptorDiscoveryDone(conn, status)
	return nil
}

func (f *FakeTransport) WriteDescriptor(conn gatt.ConnHandle, handle uint16, value []byte) error {
	f.trace("write 0x%04x %x", handle, value)
	if err := f.FailWriteIssue[handle]; err != nil {
		return err
	}
	owner, ok := f.owner[handle]
	if !ok {
		f.sink.WriteComplete(conn, handle, gatt.StatusAttributeNotFound)
		return nil
	}
	if !owner.WriteStatus.OK() {
		f.sink.WriteComplete(conn, handle, owner.WriteStatus)
		return nil
	}
	f.mu.Lock()
	f.written[handle] = append([]byte(nil), value...)
	f.mu.Unlock()
	f.sink.WriteComplete(conn, handle, gatt.StatusSuccess)
	return nil
}

// CapturePublisher is a non-blocking gatt.Publisher that records published
// messages for assertions.
type CapturePublisher struct {
	mu       sync.Mutex
	Messages []CapturedMessage
	closed   bool
}

// CapturedMessage is one recorded publication.
type CapturedMessage struct {
	Text string
	Mode byte
}

var _ gatt.Publisher = (*CapturePublisher)(nil)

func (p *CapturePublisher) Publish(text string, mode byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("publisher closed")
	}
	p.Messages = append(p.Messages, CapturedMessage{Text: text, Mode: mode})
	return nil
}

func (p *CapturePublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Texts returns the published texts in order.
func (p *CapturePublisher) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Messages))
	for i, m := range p.Messages {
		out[i] = m.Text
	}
	return out
}

// PlainFormatter renders "uuid=hex" lines, keeping engine test expectations
// independent of display formatting.
type PlainFormatter struct{}

var _ gatt.Formatter = (*PlainFormatter)(nil)

func (PlainFormatter) ReadResult(rec *gatt.CharacteristicRecord, value []byte) string {
	return fmt.Sprintf("%s=%x", rec.UUID, value)
}

func (PlainFormatter) Notification(rec *gatt.CharacteristicRecord, value []byte) string {
	return fmt.Sprintf("%s<-%x", rec.UUID, value)
}
