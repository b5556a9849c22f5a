package gattfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/gattwatch/internal/gatt"
)

func TestReadResultWithKnownName(t *testing.T) {
	f := New()
	rec := &gatt.CharacteristicRecord{UUID: "2a00", Props: gatt.PropRead}

	out := f.ReadResult(rec, []byte("Thermostat"))
	assert.Equal(t, `2a00 (Device Name) = "Thermostat"`, out)
}

func TestNotificationBinaryValue(t *testing.T) {
	f := New()
	rec := &gatt.CharacteristicRecord{UUID: "2a37", Props: gatt.PropNotify}

	out := f.Notification(rec, []byte{0x00, 0x4b})
	assert.Equal(t, "2a37 (Heart Rate Measurement) <- 00 4b", out)
}

func TestUnknownUUIDRendersBare(t *testing.T) {
	f := New()
	rec := &gatt.CharacteristicRecord{UUID: "6e400003b5a3f393e0a9e50e24dcca9e"}

	out := f.ReadResult(rec, []byte{0xff})
	// Nordic UART TX is in the table, so this vendor UUID resolves too.
	assert.Equal(t, "6e400003b5a3f393e0a9e50e24dcca9e (UART TX) = ff", out)
}

func TestValueRendering(t *testing.T) {
	assert.Equal(t, "<empty>", Value(nil))
	assert.Equal(t, "<empty>", Value([]byte{}))
	assert.Equal(t, `"abc"`, Value([]byte("abc")))
	assert.Equal(t, "01 02 ff", Value([]byte{0x01, 0x02, 0xff}))
	assert.Equal(t, "0a", Value([]byte{'\n'}), "control characters MUST render as hex")
}
