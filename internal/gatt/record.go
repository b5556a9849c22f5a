package gatt

import "strings"

// CCCDUUID is the normalized UUID of the Client Characteristic Configuration
// Descriptor, the descriptor written to enable notifications or indications.
const CCCDUUID = "2902"

// bluetoothBaseSuffix is the tail of the 128-bit Bluetooth base UUID;
// 16-bit assigned numbers expand to 0000xxxx-0000-1000-8000-00805f9b34fb.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format: lowercase, no
// dashes, and base-UUID expansions collapsed to their 16-bit short form so a
// CCCD reads "2902" no matter how the transport spelled it.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(u) == 32 && strings.HasSuffix(u, bluetoothBaseSuffix) && strings.HasPrefix(u, "0000") {
		return u[4:8]
	}
	return u
}

// Properties is the characteristic property bitmask as declared by the remote
// server. Bit layout follows the attribute protocol characteristic
// declaration.
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteNR
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

// Readable reports whether the characteristic value can be read.
func (p Properties) Readable() bool { return p&PropRead != 0 }

// Notifiable reports whether the server can push unacknowledged updates.
func (p Properties) Notifiable() bool { return p&PropNotify != 0 }

// Indicatable reports whether the server can push acknowledged updates.
func (p Properties) Indicatable() bool { return p&PropIndicate != 0 }

// Subscribable reports whether any server-initiated delivery bit is set.
func (p Properties) Subscribable() bool { return p.Notifiable() || p.Indicatable() }

func (p Properties) String() string {
	names := []struct {
		bit  Properties
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteNR, "writeWithoutResponse"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropSignedWrite, "authenticatedSignedWrites"},
		{PropExtended, "extendedProperties"},
	}

	var set []string
	for _, n := range names {
		if p&n.bit != 0 {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}

// ServiceInfo describes one discovered service. The engine does not retain
// services; the type exists only as the enumeration callback payload.
type ServiceInfo struct {
	UUID        string
	StartHandle uint16
	EndHandle   uint16
}

// CharacteristicInfo is the enumeration callback payload for one discovered
// characteristic.
type CharacteristicInfo struct {
	UUID        string
	Props       Properties
	DeclHandle  uint16 // characteristic declaration attribute
	ValueHandle uint16
	EndHandle   uint16 // last attribute belonging to this characteristic
}

// DescriptorInfo is the descriptor discovery callback payload.
type DescriptorInfo struct {
	UUID   string
	Handle uint16
}

// CharacteristicRecord is one registry entry. Immutable once discovered;
// subscription outcomes live on the session, not here.
type CharacteristicRecord struct {
	UUID        string
	Props       Properties
	DeclHandle  uint16
	ValueHandle uint16
	EndHandle   uint16
}

// DescriptorRange returns the attribute handle range that may contain this
// characteristic's descriptors: everything after the value attribute up to
// the characteristic's last handle.
func (r *CharacteristicRecord) DescriptorRange() (start, end uint16) {
	return r.ValueHandle + 1, r.EndHandle
}

// HasDescriptorRange reports whether any attribute handles exist after the
// value attribute. A characteristic whose value is its last attribute cannot
// own a CCCD.
func (r *CharacteristicRecord) HasDescriptorRange() bool {
	return r.EndHandle > r.ValueHandle
}
