package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPreservesDiscoveryOrder(t *testing.T) {
	// GOAL: Verify records come back in insertion order with handle lookup
	//
	// TEST SCENARIO: Add three records → iterate and look up by handle →
	// order and identity preserved

	r := NewRegistry()
	recs := []*CharacteristicRecord{
		{UUID: "2a00", ValueHandle: 3},
		{UUID: "2a37", ValueHandle: 7},
		{UUID: "2a19", ValueHandle: 11},
	}
	for _, rec := range recs {
		require.True(t, r.Add(rec))
	}

	assert.Equal(t, 3, r.Len())
	for i, rec := range recs {
		assert.Same(t, rec, r.At(i), "iteration MUST preserve discovery order")
		got, ok := r.Lookup(rec.ValueHandle)
		require.True(t, ok)
		assert.Same(t, rec, got)
	}

	_, ok := r.Lookup(0x1234)
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicateValueHandle(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Add(&CharacteristicRecord{UUID: "2a00", ValueHandle: 3}))
	assert.False(t, r.Add(&CharacteristicRecord{UUID: "2a01", ValueHandle: 3}), "duplicate value handle MUST be rejected")
	assert.Equal(t, 1, r.Len())
}

func TestDescriptorRange(t *testing.T) {
	// GOAL: Verify the descriptor search range excludes the value attribute

	withDescs := &CharacteristicRecord{DeclHandle: 4, ValueHandle: 5, EndHandle: 7}
	require.True(t, withDescs.HasDescriptorRange())
	start, end := withDescs.DescriptorRange()
	assert.Equal(t, uint16(6), start)
	assert.Equal(t, uint16(7), end)

	bare := &CharacteristicRecord{DeclHandle: 8, ValueHandle: 9, EndHandle: 9}
	assert.False(t, bare.HasDescriptorRange(), "no room after the value attribute means no descriptors")
}

func TestPropertiesString(t *testing.T) {
	assert.Equal(t, "none", Properties(0).String())
	assert.Equal(t, "read", PropRead.String())
	assert.Equal(t, "read|notify", (PropRead | PropNotify).String())
	assert.Equal(t, "write|indicate", (PropWrite | PropIndicate).String())
}

func TestSubscribeModeSelection(t *testing.T) {
	// GOAL: Verify delivery mode selection prefers indication

	assert.Equal(t, SubscribeNone, subscribeModeFor(PropRead))
	assert.Equal(t, SubscribeNotify, subscribeModeFor(PropNotify))
	assert.Equal(t, SubscribeIndicate, subscribeModeFor(PropIndicate))
	assert.Equal(t, SubscribeIndicate, subscribeModeFor(PropNotify|PropIndicate), "indication MUST win when both are supported")
}

func TestCCCDValues(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x00}, SubscribeNotify.cccdValue())
	assert.Equal(t, []byte{0x02, 0x00}, SubscribeIndicate.cccdValue())
	assert.Equal(t, []byte{0x00, 0x00}, SubscribeNone.cccdValue())
}

func TestNormalizeUUID(t *testing.T) {
	assert.Equal(t, "2a37", NormalizeUUID("2A37"))
	assert.Equal(t, "2902", NormalizeUUID("00002902-0000-1000-8000-00805F9B34FB"), "base-UUID form MUST collapse to the short form")
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", NormalizeUUID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E"))
}
