//go:build !rp2040

package setups

import (
	barodev "flightcode-go/services/hal/devices/baro"
	"flightcode-go/services/hal/devices/gpio_dout"
	"flightcode-go/services/hal/devices/rgbled_strip"
	"flightcode-go/services/hal/devices/servo_out"
	telemetrydev "flightcode-go/services/hal/devices/telemetry"
	"flightcode-go/services/hal/internal/platform"

	"flightcode-go/types"
)

// Host development setup: same address layout as the flight board, backed by
// the in-memory registry so the HAL can be exercised without hardware.
var SelectedPlan = platform.ResourcePlan{
	I2C: []platform.I2CPlan{
		{ID: "i2c0", SDA: 12, SCL: 13, Hz: 400_000},
	},
	UART: []platform.UARTPlan{
		{ID: "uart0", TX: 0, RX: 1, Baud: 115200},
	},
}

var SelectedSetup = types.HALConfig{
	Devices: []types.HALDevice{
		{ID: "baro0", Type: "baro_ms5611", Params: barodev.Params{
			Bus:    "i2c0",
			Domain: "env",
			Name:   "baro0",
		}},
		{ID: "gcs", Type: "telemetry", Params: telemetrydev.Params{
			Bus:       "uart0",
			Baud:      115200,
			Mode:      "lines",
			IdleFlush: 20,
			Domain:    "link",
			Name:      "gcs",
		}},
		{ID: "servo0", Type: "servo_out", Params: servo_out.Params{
			Pin: 2, FreqHz: 50, Domain: "actuator", Name: "servo0",
		}},
		{ID: "nav", Type: "rgbled_strip", Params: rgbled_strip.Params{
			Pin:    16,
			LEDs:   4,
			Domain: "io",
			Name:   "nav",
		}},
		{ID: "onboard_led", Type: "gpio_led", Params: gpio_dout.Params{
			Pin: 25, Initial: false,
			Domain: "io", Name: "onboard",
		}},
	},

	Pollers: []types.PollSpec{
		{Domain: "env", Kind: types.KindPressure, Name: "baro0", Verb: "read", IntervalMs: 50, JitterMs: 5},
	},
}
