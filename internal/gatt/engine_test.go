package gatt_test

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattwatch/internal/display"
	"github.com/srg/gattwatch/internal/gatt"
	"github.com/srg/gattwatch/internal/testutils"
)

// EngineSuite exercises the discovery-and-subscription engine against a fake
// transport that completes every operation synchronously on the test
// goroutine, which stands in for the serialized callback context.
type EngineSuite struct {
	suite.Suite
	transport *testutils.FakeTransport
	publisher *testutils.CapturePublisher
	engine    *gatt.Engine
	drained   []*gatt.Session
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) build(p *testutils.PeripheralBuilder) {
	s.transport = p.Build()
	s.publisher = &testutils.CapturePublisher{}
	s.drained = nil

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s.engine = gatt.NewEngine(s.transport, testutils.PlainFormatter{}, s.publisher, logger)
	s.engine.SetDrainHook(func(sess *gatt.Session) {
		s.drained = append(s.drained, sess)
	})
	s.transport.SetSink(s.engine)
}

func (s *EngineSuite) TestReadThenSubscribeOrder() {
	// GOAL: Verify the per-characteristic order: read first, then descriptor
	// discovery, then the configuration descriptor write
	//
	// TEST SCENARIO: One readable characteristic and one notify-only
	// characteristic with a CCCD → engine drains → operations appear in
	// protocol order and the CCCD receives the notify value

	s.build(testutils.NewPeripheral().
		WithService("1800").
		WithCharacteristic("2a00", gatt.PropRead, []byte("boiler")).
		WithService("180d").
		WithCharacteristic("2a37", gatt.PropNotify, nil).
		WithCCCD())

	sess := s.engine.Start(1)

	nameVH := s.transport.CharByUUID("2a00").ValueHandle
	hrm := s.transport.CharByUUID("2a37")
	cccd := hrm.Descriptors[0].Handle

	s.Require().Equal([]string{
		"enumerate",
		fmt.Sprintf("read 0x%04x", nameVH),
		fmt.Sprintf("discover 0x%04x-0x%04x", hrm.ValueHandle+1, hrm.EndHandle),
		fmt.Sprintf("write 0x%04x 0100", cccd),
	}, s.transport.Trace, "operations MUST follow read, discover, write order")

	s.Equal([]byte{0x01, 0x00}, s.transport.WrittenValue(cccd), "CCCD MUST receive the notify value")
	s.Equal(gatt.StateDrained, sess.State(), "session MUST reach drained state")
	s.Len(s.drained, 1, "drain hook MUST fire exactly once")

	s.Require().Len(s.publisher.Messages, 1, "only the readable characteristic publishes")
	s.Equal("2a00=626f696c6572", s.publisher.Messages[0].Text)
	s.Equal(display.ModeRead, s.publisher.Messages[0].Mode)
}

func (s *EngineSuite) TestIndicatePreferredOverNotify() {
	// GOAL: Verify indication wins when a characteristic supports both
	// delivery modes
	//
	// TEST SCENARIO: Characteristic with notify and indicate bits → subscribe
	// → CCCD receives the indicate value and relayed updates carry the
	// indicate tag

	s.build(testutils.NewPeripheral().
		WithService("180d").
		WithCharacteristic("2a37", gatt.PropNotify|gatt.PropIndicate, nil).
		WithCCCD())

	s.engine.Start(1)

	hrm := s.transport.CharByUUID("2a37")
	cccd := hrm.Descriptors[0].Handle
	s.Equal([]byte{0x02, 0x00}, s.transport.WrittenValue(cccd), "CCCD MUST receive the indicate value")

	s.transport.Notify(1, hrm.ValueHandle, []byte{0x00, 0x4b})
	s.Require().Len(s.publisher.Messages, 1)
	s.Equal(display.ModeIndicate, s.publisher.Messages[0].Mode, "relayed update MUST carry the indicate tag")
	s.Equal("2a37<-004b", s.publisher.Messages[0].Text)
}

func (s *EngineSuite) TestZeroOpCharacteristicsSkipped() {
	// GOAL: Verify characteristics that are neither readable nor subscribable
	// cost no transport operations
	//
	// TEST SCENARIO: Write-only characteristics → drain → only the
	// enumeration itself hits the transport

	s.build(testutils.NewPeripheral().
		WithService("1815").
		WithCharacteristic("2a56", gatt.PropWrite, nil).
		WithCharacteristic("2a57", gatt.PropWriteNR, nil))

	sess := s.engine.Start(1)

	s.Equal([]string{"enumerate"}, s.transport.Trace, "no read or descriptor traffic for zero-op characteristics")
	s.Equal(gatt.StateDrained, sess.State())
	s.Empty(s.publisher.Messages, "nothing to display")
	s.Len(s.drained, 1, "drain hook MUST still fire")
}

func (s *EngineSuite) TestMissingCCCDSkipsSubscription() {
	// GOAL: Verify a notify characteristic without a configuration descriptor
	// is skipped without stalling the drain
	//
	// TEST SCENARIO: Notify characteristic with no descriptors followed by a
	// readable one → drain completes → subscription error recorded, next
	// characteristic still processed

	s.build(testutils.NewPeripheral().
		WithService("180d").
		WithCharacteristic("2a37", gatt.PropNotify, nil).
		WithCharacteristic("2a38", gatt.PropRead, []byte{0x01}))

	sess := s.engine.Start(1)

	s.Equal(gatt.StateDrained, sess.State(), "drain MUST complete")
	sum := sess.Summary()
	s.Require().Len(sum.Characteristics, 2)
	s.Equal("none", sum.Characteristics[0].Subscribed)
	s.NotEmpty(sum.Characteristics[0].SubError, "missing CCCD MUST be recorded as a subscription error")
	s.True(sum.Characteristics[1].Read, "following characteristic MUST still be read")
}

func (s *EngineSuite) TestReadFailureDoesNotBlockSubscription() {
	// GOAL: Verify a failed read never blocks the subscription attempt on the
	// same characteristic
	//
	// TEST SCENARIO: Readable notify characteristic whose read completes with
	// an error → descriptor discovery and CCCD write still run

	s.build(testutils.NewPeripheral().
		WithService("180d").
		WithCharacteristic("2a37", gatt.PropRead|gatt.PropNotify, nil).
		WithReadStatus(gatt.StatusUnlikelyError).
		WithCCCD())

	sess := s.engine.Start(1)

	hrm := s.transport.CharByUUID("2a37")
	cccd := hrm.Descriptors[0].Handle
	s.Equal([]byte{0x01, 0x00}, s.transport.WrittenValue(cccd), "subscription MUST proceed despite the failed read")

	sum := sess.Summary()
	s.Require().Len(sum.Characteristics, 1)
	s.False(sum.Characteristics[0].Read)
	s.NotEmpty(sum.Characteristics[0].ReadError)
	s.Equal("notify", sum.Characteristics[0].Subscribed)
	s.Empty(s.publisher.Messages, "failed reads publish nothing")
}

func (s *EngineSuite) TestFailedCCCDWriteLeavesCharacteristicSilent() {
	// GOAL: Verify a failed configuration descriptor write is contained to
	// its characteristic
	//
	// TEST SCENARIO: Two notify characteristics, first CCCD write fails →
	// second still subscribes → first records the error

	s.build(testutils.NewPeripheral().
		WithService("180d").
		WithCharacteristic("2a37", gatt.PropNotify, nil).
		WithCCCD().
		WithWriteStatus(gatt.StatusUnlikelyError).
		WithCharacteristic("2a05", gatt.PropIndicate, nil).
		WithCCCD())

	sess := s.engine.Start(1)

	sum := sess.Summary()
	s.Require().Len(sum.Characteristics, 2)
	s.Equal("none", sum.Characteristics[0].Subscribed)
	s.NotEmpty(sum.Characteristics[0].SubError)
	s.Equal("indicate", sum.Characteristics[1].Subscribed, "failure MUST not leak into the next characteristic")
	s.Equal(gatt.StateDrained, sess.State())
}

func (s *EngineSuite) TestEnumerationErrorProcessesPartialRegistry() {
	// GOAL: Verify an aborted enumeration still processes whatever was
	// discovered before the failure
	//
	// TEST SCENARIO: Two readable characteristics, enumeration truncated
	// after one with an error status → the one discovered characteristic is
	// read, drain completes

	s.build(testutils.NewPeripheral().
		WithService("180a").
		WithCharacteristic("2a29", gatt.PropRead, []byte("acme")).
		WithCharacteristic("2a24", gatt.PropRead, []byte("model-1")))
	s.transport.EnumStatus = gatt.StatusUnlikelyError
	s.transport.TruncateAfter = 1

	sess := s.engine.Start(1)

	s.Equal(1, sess.Registry().Len(), "registry MUST hold only what enumeration delivered")
	s.Equal(gatt.StateDrained, sess.State())
	s.Require().Len(s.publisher.Messages, 1)
	s.Equal("2a29=61636d65", s.publisher.Messages[0].Text)
}

func (s *EngineSuite) TestEnumerateIssueFailureDrainsEmpty() {
	// GOAL: Verify a transport that cannot even issue enumeration yields an
	// empty drained session instead of a wedged one
	//
	// TEST SCENARIO: Enumerate returns an error at issue time → session
	// drains with an empty registry, drain hook fires

	s.build(testutils.NewPeripheral().
		WithService("1800").
		WithCharacteristic("2a00", gatt.PropRead, []byte("x")))
	s.transport.FailEnumerateIssue = fmt.Errorf("link down")

	sess := s.engine.Start(1)

	s.Equal(gatt.StateDrained, sess.State())
	s.Equal(0, sess.Registry().Len())
	s.Len(s.drained, 1)
}

func (s *EngineSuite) TestStopDropsLateCallbacks() {
	// GOAL: Verify events arriving after Stop are discarded
	//
	// TEST SCENARIO: Subscribe, deliver one update, stop the session, deliver
	// another → only the first update reaches the display

	s.build(testutils.NewPeripheral().
		WithService("180d").
		WithCharacteristic("2a37", gatt.PropNotify, nil).
		WithCCCD())

	s.engine.Start(1)
	vh := s.transport.CharByUUID("2a37").ValueHandle

	s.transport.Notify(1, vh, []byte{0x01})
	s.engine.Stop(1)
	s.transport.Notify(1, vh, []byte{0x02})

	s.Require().Len(s.publisher.Messages, 1, "update after Stop MUST be dropped")
	s.Equal("2a37<-01", s.publisher.Messages[0].Text)
}

func (s *EngineSuite) TestNotificationForUnknownHandleIgnored() {
	// GOAL: Verify updates for handles outside the registry are ignored
	//
	// TEST SCENARIO: Value change for a handle never discovered → nothing
	// published

	s.build(testutils.NewPeripheral().
		WithService("180d").
		WithCharacteristic("2a37", gatt.PropNotify, nil).
		WithCCCD())

	s.engine.Start(1)
	s.transport.Notify(1, 0x7777, []byte{0x01})

	s.Empty(s.publisher.Messages)
}

func (s *EngineSuite) TestSupersedingSessionDeactivatesOld() {
	// GOAL: Verify a second Start on the same connection supersedes the first
	// session
	//
	// TEST SCENARIO: Start twice → first session inactive, second drains
	// normally

	s.build(testutils.NewPeripheral().
		WithService("1800").
		WithCharacteristic("2a00", gatt.PropRead, []byte("a")))

	first := s.engine.Start(1)
	second := s.engine.Start(1)

	s.False(first.Active(), "superseded session MUST be inactive")
	s.True(second.Active())
	s.Equal(gatt.StateDrained, second.State())
}

func (s *EngineSuite) TestMTUReported() {
	// GOAL: Verify the session records the transport-reported MTU
	//
	// TEST SCENARIO: MTU event during an active session → Session.MTU
	// reflects it

	s.build(testutils.NewPeripheral().
		WithService("1800").
		WithCharacteristic("2a00", gatt.PropRead, []byte("a")))

	sess := s.engine.Start(1)
	s.engine.MTUChanged(1, 185)

	s.Equal(185, sess.MTU())
}

func (s *EngineSuite) TestSummaryJSON() {
	// GOAL: Verify the drained session summary renders complete, stable JSON
	//
	// TEST SCENARIO: Mixed peripheral → drain → summary JSON matches the
	// expected document

	s.build(testutils.NewPeripheral().
		WithService("180d").
		WithCharacteristic("2a38", gatt.PropRead, []byte{0x01}).
		WithCharacteristic("2a37", gatt.PropNotify, nil).
		WithCCCD())

	sess := s.engine.Start(1)
	out, err := sess.Summary().JSON()
	s.Require().NoError(err)

	hrm := s.transport.CharByUUID("2a37")
	ja := testutils.NewJSONAsserter(s.T())
	ja.Assert(out, fmt.Sprintf(`{
		"conn": 1,
		"state": "drained",
		"characteristics": [
			{"uuid": "2a38", "properties": "read", "read": true, "subscribed": "none"},
			{"uuid": "2a37", "properties": "notify", "read": false, "subscribed": "notify", "cccd_handle": %d}
		]
	}`, hrm.Descriptors[0].Handle))
}
