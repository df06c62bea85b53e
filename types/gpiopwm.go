package types

// ------------------------
// LED (boolean LED)
// ------------------------

type LEDInfo struct {
	Pin int `json:"pin"`
}

type LEDValue struct {
	On bool `json:"on"`
}

type LEDSet struct {
	On bool `json:"on"`
}

// ------------------------
// Switch
// ------------------------

type SwitchInfo struct {
	Pin int `json:"pin"`
}

type SwitchValue struct {
	On bool `json:"on"`
}

type SwitchSet struct {
	On bool `json:"on"`
}

// ------------------------
// Servo (50 Hz PWM, pulse width in microseconds)
// ------------------------

type ServoInfo struct {
	Pin     int    `json:"pin"`
	Slice   int    `json:"slice,omitempty"`   // provider may fill
	Channel string `json:"channel,omitempty"` // "A" or "B"
	FreqHz  uint32 `json:"freq_hz"`           // typically 50
	MinUs   uint16 `json:"min_us"`            // lower pulse bound
	MaxUs   uint16 `json:"max_us"`            // upper pulse bound
	Initial uint16 `json:"initial"`           // startup pulse (us)
}

type ServoValue struct {
	PulseUs uint16 `json:"pulse_us"`
}

type ServoSet struct {
	PulseUs uint16 `json:"pulse_us"`
}

// ServoSlewMode mirrors the HAL/provider modes.
type ServoSlewMode uint8

const (
	ServoSlewLinear ServoSlewMode = iota // evenly spaced absolute steps
	// future: s-curve...
)

type ServoSlew struct {
	ToUs       uint16        `json:"to_us"`       // target pulse (us)
	DurationMs uint32        `json:"duration_ms"` // total duration
	Steps      uint16        `json:"steps"`       // >0
	Mode       ServoSlewMode `json:"mode"`        // 0=linear
}
