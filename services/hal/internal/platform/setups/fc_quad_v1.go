//go:build rp2040 && fc_quad_v1

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

// SelectedPlan wires controllers to pins and sets operating parameters for this setup.
var SelectedPlan = platform.ResourcePlan{
	I2C: []platform.I2CPlan{
		{ID: "i2c0", SDA: 12, SCL: 13, Hz: 400_000},
	},
	UART: []platform.UARTPlan{
		// RP2040 default pins for Pico
		{ID: "uart0", TX: 0, RX: 1, Baud: 115200},
	},
}

// SelectedSetup lists logical devices for HAL to instantiate on boot.
// Names are chosen for meaningful public addresses under hal/cap/…
var SelectedSetup = types.HALConfig{
	Devices: []types.HALDevice{

		// Barometer on i2c0 (public addresses hal/cap/env/pressure/baro0 and env/temperature/baro0)
		{ID: "baro0", Type: "baro_ms5611", Params: barodev.Params{
			Bus:    "i2c0",
			Domain: "env",
			Name:   "baro0",
		}},

		// Ground-link UART, line framed (public address hal/cap/link/serial/gcs)
		{ID: "gcs", Type: "telemetry", Params: telemetrydev.Params{
			Bus:       "uart0",
			Baud:      115200,
			Mode:      "lines",
			IdleFlush: 20,
			Domain:    "link",
			Name:      "gcs",
		}},

		// Four ESC/servo outputs (motor order matches frame silkscreen)
		{ID: "servo0", Type: "servo_out", Params: servo_out.Params{
			Pin: 2, FreqHz: 50, Domain: "actuator", Name: "servo0",
		}},
		{ID: "servo1", Type: "servo_out", Params: servo_out.Params{
			Pin: 3, FreqHz: 50, Domain: "actuator", Name: "servo1",
		}},
		{ID: "servo2", Type: "servo_out", Params: servo_out.Params{
			Pin: 4, FreqHz: 50, Domain: "actuator", Name: "servo2",
		}},
		{ID: "servo3", Type: "servo_out", Params: servo_out.Params{
			Pin: 5, FreqHz: 50, Domain: "actuator", Name: "servo3",
		}},

		// Navigation/status strip on GP16 (public address hal/cap/io/rgbled/nav)
		{ID: "nav", Type: "rgbled_strip", Params: rgbled_strip.Params{
			Pin:    16,
			LEDs:   4,
			Domain: "io",
			Name:   "nav",
		}},

		// On-board LED (public address hal/cap/io/led/onboard)
		{ID: "onboard_led", Type: "gpio_led", Params: gpio_dout.Params{
			Pin: 25, Initial: false,
			Domain: "io", Name: "onboard",
		}},
	},

	Pollers: []types.PollSpec{
		// Baro at 20 Hz for the altitude hold loop.
		{Domain: "env", Kind: types.KindPressure, Name: "baro0", Verb: "read", IntervalMs: 50, JitterMs: 5},
	},
}
