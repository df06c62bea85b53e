package types

// ------------------------
// Capability addressing & kinds
// ------------------------

type Kind string

const (
	KindLED         Kind = "led"
	KindSwitch      Kind = "switch"
	KindServo       Kind = "servo"
	KindRGBLED      Kind = "rgbled"
	KindTemperature Kind = "temperature"
	KindPressure    Kind = "pressure"
	KindSerial      Kind = "serial"
)

// CapabilityAddress identifies a public capability on the bus.
type CapabilityAddress struct {
	Domain string `json:"domain"` // e.g. "io","env","actuator"
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
}
