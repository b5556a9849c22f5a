// Package bledb resolves Bluetooth SIG assigned numbers to human-readable
// names. The table covers the services, characteristics, and descriptors
// commonly seen on consumer peripherals; unknown UUIDs resolve to "".
package bledb

import "strings"

// bluetoothBaseSuffix is the tail of the 128-bit Bluetooth base UUID;
// 16-bit assigned numbers expand to 0000xxxx-0000-1000-8000-00805f9b34fb.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// normalize lowercases, strips dashes, and collapses base-UUID forms to
// their 16-bit short form.
func normalize(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(u) == 32 && strings.HasSuffix(u, bluetoothBaseSuffix) && strings.HasPrefix(u, "0000") {
		return u[4:8]
	}
	return u
}

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1811": "Alert Notification Service",
	"1812": "Human Interface Device",
	"1816": "Cycling Speed and Cadence",
	"1819": "Location and Navigation",
	"181a": "Environmental Sensing",
	"181c": "User Data",
	"1826": "Fitness Machine",
	"fe59": "Nordic Secure DFU",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a35": "Blood Pressure Measurement",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a4d": "Report",
	"2a63": "Cycling Power Measurement",
	"2a6d": "Pressure",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "UART TX",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2905": "Characteristic Aggregate Format",
	"2906": "Valid Range",
}

// LookupService returns the assigned name for a service UUID, "" if unknown.
func LookupService(uuid string) string {
	return services[normalize(uuid)]
}

// LookupCharacteristic returns the assigned name for a characteristic UUID,
// "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[normalize(uuid)]
}

// LookupDescriptor returns the assigned name for a descriptor UUID, "" if
// unknown.
func LookupDescriptor(uuid string) string {
	return descriptors[normalize(uuid)]
}

// ShortenUUID renders a UUID in its shortest unambiguous form: 16-bit
// assigned numbers stay four hex digits, everything else is returned as
// normalized 128-bit.
func ShortenUUID(uuid string) string {
	return normalize(uuid)
}
