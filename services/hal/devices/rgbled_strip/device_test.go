package rgbled_strip

import (
	"context"
	"testing"

	"flightcode-go/drivers/ws2811"
	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
)

type fakeEngine struct {
	plan    ws2811.TransferPlan
	armed   int
	running bool
}

func (e *fakeEngine) Arm(p ws2811.TransferPlan) error {
	e.plan = p
	e.armed++
	e.running = true
	return nil
}

func (e *fakeEngine) Stop() { e.running = false }

// drain clocks out halves until the transfer stops.
func (e *fakeEngine) drain(t *testing.T) {
	t.Helper()
	for i := 0; e.running; i++ {
		if i > 1024 {
			t.Fatal("transfer never stopped")
		}
		e.plan.OnHalfOut(i % 2)
	}
}

type fakeReg struct {
	core.ResourceRegistry
	eng      *fakeEngine
	released bool
}

func (r *fakeReg) ClaimStrip(devID string, pin int) (ws2811.Engine, error) { return r.eng, nil }
func (r *fakeReg) ReleaseStrip(devID string, pin int)                      { r.released = true }

type fakePub struct {
	events []core.Event
}

func (p *fakePub) Emit(ev core.Event) bool {
	p.events = append(p.events, ev)
	return true
}

func newTestDevice(t *testing.T, leds int) (*Device, *fakeEngine, *fakePub) {
	t.Helper()
	eng := &fakeEngine{}
	reg := &fakeReg{eng: eng}
	pub := &fakePub{}
	res := core.Resources{Reg: reg, Pub: pub}
	dev, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID:     "strip0",
		Type:   "rgbled_strip",
		Params: Params{Pin: 6, LEDs: leds},
		Res:    res,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return dev.(*Device), eng, pub
}

func TestBuild_BadParams(t *testing.T) {
	eng := &fakeEngine{}
	res := core.Resources{Reg: &fakeReg{eng: eng}, Pub: &fakePub{}}
	if _, err := (builder{}).Build(context.Background(), core.BuilderInput{
		ID: "s", Params: Params{Pin: 6, LEDs: 0}, Res: res,
	}); err != errcode.InvalidParams {
		t.Fatalf("LEDs=0: got %v, want invalid_params", err)
	}
	if _, err := (builder{}).Build(context.Background(), core.BuilderInput{
		ID: "s", Params: "nope", Res: res,
	}); err != errcode.InvalidParams {
		t.Fatalf("bad params type: got %v, want invalid_params", err)
	}
}

func TestCapabilities(t *testing.T) {
	d, _, _ := newTestDevice(t, 8)
	caps := d.Capabilities()
	if len(caps) != 1 {
		t.Fatalf("caps = %d, want 1", len(caps))
	}
	c := caps[0]
	if c.Kind != types.KindRGBLED || c.Domain != "io" || c.Name != "strip0" {
		t.Fatalf("unexpected cap %+v", c)
	}
	info, ok := c.Info.Detail.(types.StripInfo)
	if !ok {
		t.Fatalf("detail type %T", c.Info.Detail)
	}
	if info.LEDs != 8 || info.Pin != 6 || info.BitCellNs != 1250 || info.ColorOrder != "rgb" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestInit_PushesDarkFrame(t *testing.T) {
	d, eng, pub := newTestDevice(t, 4)
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if eng.armed != 1 {
		t.Fatalf("armed = %d, want 1", eng.armed)
	}
	if len(pub.events) == 0 {
		t.Fatal("no value event after Init")
	}
	v, ok := pub.events[len(pub.events)-1].Payload.(types.StripValue)
	if !ok {
		t.Fatalf("payload type %T", pub.events[len(pub.events)-1].Payload)
	}
	if !v.Busy {
		t.Fatal("transfer should be in flight right after Init")
	}
}

func TestControl_SetShowRead(t *testing.T) {
	d, eng, pub := newTestDevice(t, 4)

	res, err := d.Control(d.addr, "set", types.StripSet{Index: 2, R: 10, G: 20, B: 30})
	if err != nil || !res.OK {
		t.Fatalf("set: %+v %v", res, err)
	}
	res, err = d.Control(d.addr, "show", types.StripShow{})
	if err != nil || !res.OK {
		t.Fatalf("show: %+v %v", res, err)
	}
	// A second show while the first is in flight is refused.
	res, _ = d.Control(d.addr, "show", types.StripShow{})
	if res.OK || res.Error != errcode.Busy {
		t.Fatalf("show while busy: %+v", res)
	}
	eng.drain(t)

	pub.events = nil
	res, err = d.Control(d.addr, "read", nil)
	if err != nil || !res.OK {
		t.Fatalf("read: %+v %v", res, err)
	}
	v, ok := res.Data.(types.StripValue)
	if !ok {
		t.Fatalf("data type %T", res.Data)
	}
	if v.Frames != 1 || v.Busy {
		t.Fatalf("value = %+v, want 1 completed frame, idle", v)
	}
	if len(pub.events) != 1 {
		t.Fatalf("read emitted %d events, want 1", len(pub.events))
	}
}

func TestControl_SetValidation(t *testing.T) {
	d, _, _ := newTestDevice(t, 4)
	for _, idx := range []int{-1, 4, 100} {
		res, err := d.Control(d.addr, "set", types.StripSet{Index: idx})
		if err != nil {
			t.Fatalf("index %d: %v", idx, err)
		}
		if res.OK || res.Error != errcode.InvalidParams {
			t.Fatalf("index %d: %+v, want invalid_params", idx, res)
		}
	}
	res, _ := d.Control(d.addr, "set", types.StripSetAll{})
	if res.OK || res.Error != errcode.InvalidPayload {
		t.Fatalf("wrong payload type: %+v", res)
	}
	res, _ = d.Control(d.addr, "blink", nil)
	if res.OK || res.Error != errcode.Unsupported {
		t.Fatalf("unknown verb: %+v", res)
	}
}

func TestUnderrun_EmitsDegraded(t *testing.T) {
	d, _, pub := newTestDevice(t, 4)

	d.publish(3, 1, false)
	if len(pub.events) != 2 {
		t.Fatalf("events = %d, want degraded + value", len(pub.events))
	}
	if pub.events[0].Err != "underrun" {
		t.Fatalf("first event err = %q, want underrun", pub.events[0].Err)
	}
	v := pub.events[1].Payload.(types.StripValue)
	if v.Frames != 3 || v.Underruns != 1 {
		t.Fatalf("value = %+v", v)
	}

	// Already reported underruns do not re-raise.
	pub.events = nil
	d.publish(4, 1, false)
	if len(pub.events) != 1 || pub.events[0].Err != "" {
		t.Fatalf("stale underrun re-raised: %+v", pub.events)
	}
}

func TestClose_ReleasesEngine(t *testing.T) {
	eng := &fakeEngine{}
	reg := &fakeReg{eng: eng}
	pub := &fakePub{}
	dev, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID: "strip0", Params: Params{Pin: 6, LEDs: 4},
		Res: core.Resources{Reg: reg, Pub: pub},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.released {
		t.Fatal("strip engine not released")
	}
}
