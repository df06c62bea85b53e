// cmd/boardtest/main.go
//
// Bench smoke test for the flight board: cycles the nav strip through a
// colour sequence, sweeps each servo output, opens a telemetry session and
// mirrors progress down it, and checks that baro values keep arriving.
package main

import (
	"context"
	"fmt"
	"time"

	"flightcode-go/bus"
	"flightcode-go/services/hal"
	"flightcode-go/types"
	"flightcode-go/x/shmring"
)

// ---------- Configuration ----------

const (
	halReadyTimeout = 5 * time.Second

	// Freshness window for polled baro values.
	freshMaxAge = 2 * time.Second

	// Cycles: 0 = loop forever
	cyclesToRun = 0
)

var servoNames = []string{"servo0", "servo1", "servo2", "servo3"}

var stripColours = []types.StripSetAll{
	{R: 64, G: 0, B: 0},
	{R: 0, G: 64, B: 0},
	{R: 0, G: 0, B: 64},
	{R: 0, G: 0, B: 0},
}

// ---------- Topics ----------

func tLEDSet() bus.Topic {
	return bus.T("hal", "cap", "io", string(types.KindLED), "onboard", "control", "set")
}
func tServo(name, verb string) bus.Topic {
	return bus.T("hal", "cap", "actuator", string(types.KindServo), name, "control", verb)
}
func tStrip(verb string) bus.Topic {
	return bus.T("hal", "cap", "io", string(types.KindRGBLED), "nav", "control", verb)
}
func tLink(verb string) bus.Topic {
	return bus.T("hal", "cap", "link", string(types.KindSerial), "gcs", "control", verb)
}
func tHalState() bus.Topic { return bus.T("hal", "state") }

var (
	tPressVal = bus.T("hal", "cap", "env", string(types.KindPressure), "baro0", "value")
	tTempVal  = bus.T("hal", "cap", "env", string(types.KindTemperature), "baro0", "value")
)

// ---------- Minimal output to console + telemetry ----------

type out struct {
	tx *shmring.Ring
}

func (o *out) println(a ...any) {
	line := fmt.Sprintln(a...)
	print(line)
	if o.tx != nil {
		_ = o.tx.WriteFrom([]byte(line))
	}
}

// ---------- Helpers ----------

func waitHALReady(c *bus.Connection, d time.Duration) bool {
	sub := c.Subscribe(tHalState())
	defer c.Unsubscribe(sub)

	dead := time.Now().Add(d)
	for time.Now().Before(dead) {
		select {
		case m := <-sub.Channel():
			if st, ok := m.Payload.(types.HALState); ok && st.Level == "ready" {
				return true
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	return false
}

func openLinkSession(ctx context.Context, ui *bus.Connection, o *out) {
	reply, err := ui.RequestWait(ctx,
		ui.NewMessage(tLink("open_session"), types.SerialSessionOpen{}, false))
	if err != nil {
		println("[boardtest] open_session failed:", err.Error())
		return
	}
	if ev, ok := reply.Payload.(types.SerialSessionOpened); ok {
		o.tx = shmring.Get(shmring.Handle(ev.TXHandle))
		o.println("[gcs] session opened")
	}
}

func ledFlashPassFail(ui *bus.Connection, pass bool) {
	if pass {
		// Double short
		for i := 0; i < 2; i++ {
			ui.Publish(ui.NewMessage(tLEDSet(), types.LEDSet{On: true}, false))
			time.Sleep(120 * time.Millisecond)
			ui.Publish(ui.NewMessage(tLEDSet(), types.LEDSet{On: false}, false))
			time.Sleep(200 * time.Millisecond)
		}
	} else {
		// Single long
		ui.Publish(ui.NewMessage(tLEDSet(), types.LEDSet{On: true}, false))
		time.Sleep(400 * time.Millisecond)
		ui.Publish(ui.NewMessage(tLEDSet(), types.LEDSet{On: false}, false))
		time.Sleep(200 * time.Millisecond)
	}
}

func stripCycle(ctx context.Context, ui *bus.Connection, o *out) bool {
	for _, c := range stripColours {
		if _, err := ui.RequestWait(ctx, ui.NewMessage(tStrip("set_all"), c, false)); err != nil {
			o.println("strip set_all failed: ", err.Error())
			return false
		}
		if _, err := ui.RequestWait(ctx, ui.NewMessage(tStrip("show"), types.StripShow{}, false)); err != nil {
			o.println("strip show failed: ", err.Error())
			return false
		}
		// Let the transfer drain before the next frame.
		time.Sleep(50 * time.Millisecond)
	}
	return true
}

func servoSweep(ctx context.Context, ui *bus.Connection, o *out) bool {
	ok := true
	for _, name := range servoNames {
		ui.Publish(ui.NewMessage(tServo(name, "slew"),
			types.ServoSlew{ToUs: 2000, DurationMs: 500, Steps: 20}, false))
	}
	time.Sleep(700 * time.Millisecond)
	for _, name := range servoNames {
		reply, err := ui.RequestWait(ctx,
			ui.NewMessage(tServo(name, "read"), nil, false))
		if err != nil {
			o.println("servo read failed: ", name)
			ok = false
			continue
		}
		if v, is := reply.Payload.(types.ServoValue); !is || v.PulseUs != 2000 {
			o.println("servo did not reach target: ", name)
			ok = false
		}
		// Back to the safe low endpoint.
		ui.Publish(ui.NewMessage(tServo(name, "set"), types.ServoSet{PulseUs: 1000}, false))
	}
	return ok
}

// ---------- Main ----------

func main() {
	ctx := context.Background()

	// Local bus and connections
	b := bus.NewBus(4)
	halConn := b.NewConnection("hal")
	ui := b.NewConnection("ui")

	// Start HAL
	go hal.Run(ctx, halConn)

	// Wait for HAL ready (non-fatal if slow)
	if !waitHALReady(ui, halReadyTimeout) {
		println("[boardtest] HAL not ready within timeout; continuing")
	}

	var o out
	openLinkSession(ctx, ui, &o)

	// Subscriptions for polled baro values
	subPress := ui.Subscribe(tPressVal)
	subTemp := ui.Subscribe(tTempVal)
	defer ui.Unsubscribe(subPress)
	defer ui.Unsubscribe(subTemp)

	// Last-seen timestamps
	var tsPress, tsTemp time.Time

	go func() {
		for {
			select {
			case m := <-subPress.Channel():
				if _, ok := m.Payload.(types.PressureValue); ok {
					tsPress = time.Now()
				}
			case m := <-subTemp.Channel():
				if _, ok := m.Payload.(types.TemperatureValue); ok {
					tsTemp = time.Now()
				}
			}
		}
	}()

	// Test cycles
	cycle := 0
	for {
		cycle++
		o.println("=== boardtest: cycle ", cycle, " ===")

		stripOK := stripCycle(ctx, ui, &o)
		servoOK := servoSweep(ctx, ui, &o)

		// Assess freshness
		now := time.Now()
		miss := make([]string, 0, 2)
		if tsPress.IsZero() || now.Sub(tsPress) > freshMaxAge {
			miss = append(miss, "pressure")
		}
		if tsTemp.IsZero() || now.Sub(tsTemp) > freshMaxAge {
			miss = append(miss, "temperature")
		}

		pass := stripOK && servoOK && len(miss) == 0
		if pass {
			o.println("[PASS] strip + servos exercised; baro values fresh")
		} else {
			o.println("[FAIL] strip:", stripOK, " servos:", servoOK,
				" stale:", fmt.Sprintf("%v", miss))
		}
		ledFlashPassFail(ui, pass)

		if cyclesToRun > 0 && cycle >= cyclesToRun {
			o.println("completed ", cycle, " cycles; halting")
			return
		}
	}
}
