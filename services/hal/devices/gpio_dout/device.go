// Package gpio_dout drives a single output pin as either an LED or a power
// switch capability. The two roles share the device; only the published
// kind and payload types differ.
package gpio_dout

import (
	"context"

	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
	"flightcode-go/x/timex"
)

type Params struct {
	Pin       int
	ActiveLow bool
	Initial   bool
	Domain    string
	Name      string
}

type Role int

const (
	RoleLED Role = iota
	RoleSwitch
)

type Device struct {
	id        string
	pin       core.GPIOHandle
	pinN      int
	activeLow bool
	res       core.Resources
	role      Role
	domain    string
	name      string
	initial   bool
	addr      core.CapAddr
}

func New(role Role, id string, p Params, h core.GPIOHandle, res core.Resources) *Device {
	d := &Device{
		id:        id,
		pin:       h,
		pinN:      p.Pin,
		activeLow: p.ActiveLow,
		res:       res,
		role:      role,
		domain:    p.Domain,
		name:      p.Name,
		initial:   p.Initial,
	}
	if d.name == "" {
		d.name = id
	}
	if d.domain == "" {
		switch role {
		case RoleSwitch:
			d.domain = "power"
		default:
			d.domain = "io"
		}
	}
	kind := string(types.KindLED)
	if role == RoleSwitch {
		kind = string(types.KindSwitch)
	}
	d.addr = core.CapAddr{Domain: d.domain, Kind: kind, Name: d.name}
	return d
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	switch d.role {
	case RoleSwitch:
		return []core.CapabilitySpec{{
			Domain: d.domain,
			Kind:   types.KindSwitch,
			Name:   d.name,
			Info: types.Info{
				SchemaVersion: 1,
				Driver:        "gpio_dout",
				Detail:        types.SwitchInfo{Pin: d.pinN},
			},
		}}
	default:
		return []core.CapabilitySpec{{
			Domain: d.domain,
			Kind:   types.KindLED,
			Name:   d.name,
			Info: types.Info{
				SchemaVersion: 1,
				Driver:        "gpio_dout",
				Detail:        types.LEDInfo{Pin: d.pinN},
			},
		}}
	}
}

func (d *Device) Init(ctx context.Context) error {
	level := d.initial
	if d.activeLow {
		level = !level
	}
	if err := d.pin.ConfigureOutput(level); err != nil {
		return err
	}
	d.emitValueNow()
	return nil
}

func (d *Device) Close() error {
	d.res.Reg.ReleaseGPIO(d.id, d.pinN)
	return nil
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.ControlResult, error) {
	switch verb {
	case "set":
		switch d.role {
		case RoleSwitch:
			p, ec := core.As[types.SwitchSet](payload)
			if ec != "" {
				return core.Fail(ec), nil
			}
			d.setLogical(p.On)
		default:
			p, ec := core.As[types.LEDSet](payload)
			if ec != "" {
				return core.Fail(ec), nil
			}
			d.setLogical(p.On)
		}
		d.emitValueNow()
		return core.OK(), nil
	case "toggle":
		d.setLogical(!d.getLogical())
		d.emitValueNow()
		return core.OK(), nil
	case "read":
		d.emitValueNow()
		if d.role == RoleSwitch {
			return core.OKData(types.SwitchValue{On: d.getLogical()}), nil
		}
		return core.OKData(types.LEDValue{On: d.getLogical()}), nil
	default:
		return core.Fail(errcode.Unsupported), nil
	}
}

func (d *Device) setLogical(on bool) {
	level := on
	if d.activeLow {
		level = !level
	}
	d.pin.Set(level)
}

func (d *Device) getLogical() bool {
	level := d.pin.Get()
	if d.activeLow {
		level = !level
	}
	return level
}

func (d *Device) emitValueNow() {
	ts := timex.NowMs()
	switch d.role {
	case RoleSwitch:
		_ = d.res.Pub.Emit(core.Event{
			Addr:    d.addr,
			Payload: types.SwitchValue{On: d.getLogical()},
			TSms:    ts,
		})
	default:
		_ = d.res.Pub.Emit(core.Event{
			Addr:    d.addr,
			Payload: types.LEDValue{On: d.getLogical()},
			TSms:    ts,
		})
	}
}
