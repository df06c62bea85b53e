package gpio_dout

import (
	"context"
	"testing"

	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
)

type fakePin struct {
	n          int
	level      bool
	configured bool
	initial    bool
}

func (f *fakePin) Number() int                        { return f.n }
func (f *fakePin) ConfigureInput(pull core.Pull) error { return nil }
func (f *fakePin) ConfigureOutput(initial bool) error {
	f.configured = true
	f.initial = initial
	f.level = initial
	return nil
}
func (f *fakePin) Set(v bool) { f.level = v }
func (f *fakePin) Get() bool  { return f.level }
func (f *fakePin) Toggle()    { f.level = !f.level }

type fakeReg struct {
	core.ResourceRegistry
	pin      *fakePin
	released bool
}

func (r *fakeReg) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) { return r.pin, nil }
func (r *fakeReg) ReleaseGPIO(devID string, pin int)                        { r.released = true }

type fakePub struct{ events []core.Event }

func (p *fakePub) Emit(ev core.Event) bool {
	p.events = append(p.events, ev)
	return true
}

func newTestDevice(t *testing.T, typ string, params Params) (*Device, *fakePin, *fakeReg, *fakePub) {
	t.Helper()
	pin := &fakePin{n: params.Pin}
	reg := &fakeReg{pin: pin}
	pub := &fakePub{}
	var b core.Builder
	if typ == "gpio_switch" {
		b = builderSwitch{}
	} else {
		b = builderLED{}
	}
	dev, err := b.Build(context.Background(), core.BuilderInput{
		ID: "d0", Type: typ, Params: params,
		Res: core.Resources{Reg: reg, Pub: pub},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return dev.(*Device), pin, reg, pub
}

func TestLED_DefaultsAndInit(t *testing.T) {
	d, pin, _, pub := newTestDevice(t, "gpio_led", Params{Pin: 25})
	caps := d.Capabilities()
	if caps[0].Kind != types.KindLED || caps[0].Domain != "io" || caps[0].Name != "d0" {
		t.Fatalf("cap = %+v", caps[0])
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !pin.configured || pin.initial {
		t.Fatalf("configured=%v initial=%v", pin.configured, pin.initial)
	}
	v := pub.events[0].Payload.(types.LEDValue)
	if v.On {
		t.Fatal("LED should start off")
	}
}

func TestSwitch_DomainDefaultsToPower(t *testing.T) {
	d, _, _, _ := newTestDevice(t, "gpio_switch", Params{Pin: 3})
	c := d.Capabilities()[0]
	if c.Kind != types.KindSwitch || c.Domain != "power" {
		t.Fatalf("cap = %+v", c)
	}
}

func TestControl_SetToggleRead(t *testing.T) {
	d, pin, _, _ := newTestDevice(t, "gpio_led", Params{Pin: 25})

	res, err := d.Control(d.addr, "set", types.LEDSet{On: true})
	if err != nil || !res.OK {
		t.Fatalf("set: %+v %v", res, err)
	}
	if !pin.level {
		t.Fatal("pin not driven high")
	}
	res, _ = d.Control(d.addr, "toggle", nil)
	if !res.OK || pin.level {
		t.Fatalf("toggle: %+v level=%v", res, pin.level)
	}
	res, _ = d.Control(d.addr, "read", nil)
	if !res.OK || res.Data.(types.LEDValue).On {
		t.Fatalf("read: %+v", res)
	}
	res, _ = d.Control(d.addr, "set", types.SwitchSet{On: true})
	if res.OK || res.Error != errcode.InvalidPayload {
		t.Fatalf("wrong payload kind: %+v", res)
	}
	res, _ = d.Control(d.addr, "pulse", nil)
	if res.OK || res.Error != errcode.Unsupported {
		t.Fatalf("unknown verb: %+v", res)
	}
}

func TestActiveLow_InvertsPhysicalLevel(t *testing.T) {
	d, pin, _, _ := newTestDevice(t, "gpio_led", Params{Pin: 25, ActiveLow: true, Initial: false})
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !pin.initial {
		t.Fatal("active-low off should drive the pin high")
	}
	d.Control(d.addr, "set", types.LEDSet{On: true})
	if pin.level {
		t.Fatal("active-low on should drive the pin low")
	}
	res, _ := d.Control(d.addr, "read", nil)
	if !res.Data.(types.LEDValue).On {
		t.Fatal("logical value should read on")
	}
}

func TestSwitch_SetPublishesValue(t *testing.T) {
	d, _, _, pub := newTestDevice(t, "gpio_switch", Params{Pin: 3})
	res, _ := d.Control(d.addr, "set", types.SwitchSet{On: true})
	if !res.OK {
		t.Fatalf("set: %+v", res)
	}
	v := pub.events[len(pub.events)-1].Payload.(types.SwitchValue)
	if !v.On {
		t.Fatalf("published %+v", v)
	}
}

func TestClose_ReleasesPin(t *testing.T) {
	d, _, reg, _ := newTestDevice(t, "gpio_led", Params{Pin: 25})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.released {
		t.Fatal("pin not released")
	}
}
