// Package gattfmt renders characteristic values for the display channel.
// It is the printing collaborator of the engine: the engine hands over raw
// bytes and a registry record, this package decides how they read on screen.
package gattfmt

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/srg/gattwatch/internal/bledb"
	"github.com/srg/gattwatch/internal/gatt"
)

// Formatter implements gatt.Formatter with assigned-number name resolution.
type Formatter struct{}

func New() *Formatter { return &Formatter{} }

// ReadResult renders a completed characteristic read.
func (f *Formatter) ReadResult(rec *gatt.CharacteristicRecord, value []byte) string {
	return fmt.Sprintf("%s = %s", label(rec), Value(value))
}

// Notification renders a server-initiated value change.
func (f *Formatter) Notification(rec *gatt.CharacteristicRecord, value []byte) string {
	return fmt.Sprintf("%s <- %s", label(rec), Value(value))
}

// label combines the short UUID with the assigned name when one is known.
func label(rec *gatt.CharacteristicRecord) string {
	uuid := bledb.ShortenUUID(rec.UUID)
	if name := bledb.LookupCharacteristic(rec.UUID); name != "" {
		return fmt.Sprintf("%s (%s)", uuid, name)
	}
	return uuid
}

// Value renders raw bytes: printable payloads as a quoted string, anything
// else as spaced hex.
func Value(value []byte) string {
	if len(value) == 0 {
		return "<empty>"
	}
	if printable(value) {
		return fmt.Sprintf("%q", string(value))
	}
	return HexDump(value)
}

// HexDump renders bytes as lowercase hex pairs separated by spaces.
func HexDump(value []byte) string {
	pairs := make([]string, len(value))
	for i, b := range value {
		pairs[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(pairs, " ")
}

func printable(value []byte) bool {
	for _, b := range value {
		if b > unicode.MaxASCII || !unicode.IsPrint(rune(b)) {
			return false
		}
	}
	return true
}

// Properties renders a property bitmask the way the inspect output does.
func Properties(p gatt.Properties) string {
	return p.String()
}
