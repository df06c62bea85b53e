// Package servo_out drives a hobby servo on a PWM pin. The carrier is
// configured so one counter tick is one microsecond, which makes pulse
// widths direct compare levels.
package servo_out

import (
	"context"

	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
	"flightcode-go/x/timex"
)

type Device struct {
	id   string
	p    Params
	pwm  core.PWMHandle
	res  core.Resources
	top  uint16
	addr core.CapAddr
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindServo,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "servo_out",
			Detail: types.ServoInfo{
				Pin:     d.p.Pin,
				FreqHz:  d.p.FreqHz,
				MinUs:   d.p.MinUs,
				MaxUs:   d.p.MaxUs,
				Initial: d.p.Initial,
			},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	if err := d.pwm.Configure(uint64(d.p.FreqHz), d.top); err != nil {
		_ = d.res.Pub.Emit(core.Event{
			Addr: d.addr,
			Err:  string(errcode.MapDriverErr(err)),
			TSms: timex.NowMs(),
		})
		return nil
	}
	d.pwm.Set(d.p.Initial)
	d.pwm.Enable(true)
	d.emitValue(d.p.Initial)
	return nil
}

func (d *Device) clamp(us uint16) uint16 {
	if us < d.p.MinUs {
		return d.p.MinUs
	}
	if us > d.p.MaxUs {
		return d.p.MaxUs
	}
	return us
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.ControlResult, error) {
	switch verb {
	case "set":
		p, ec := core.As[types.ServoSet](payload)
		if ec != "" {
			return core.Fail(ec), nil
		}
		us := d.clamp(p.PulseUs)
		d.pwm.StopRamp()
		d.pwm.Set(us)
		d.emitValue(us)
		return core.OK(), nil

	case "slew":
		p, ec := core.As[types.ServoSlew](payload)
		if ec != "" {
			return core.Fail(ec), nil
		}
		if p.Steps == 0 || p.DurationMs == 0 {
			return core.Fail(errcode.InvalidParams), nil
		}
		to := d.clamp(p.ToUs)
		if !d.pwm.Ramp(to, p.DurationMs, p.Steps, p.Mode) {
			return core.Fail(errcode.Busy), nil
		}
		return core.OK(), nil

	case "stop_slew":
		d.pwm.StopRamp()
		d.emitValue(d.pwm.Get())
		return core.OK(), nil

	case "read":
		v := types.ServoValue{PulseUs: d.pwm.Get()}
		d.emitValue(v.PulseUs)
		return core.OKData(v), nil

	default:
		return core.Fail(errcode.Unsupported), nil
	}
}

func (d *Device) Close() error {
	d.pwm.StopRamp()
	d.pwm.Enable(false)
	d.res.Reg.ReleasePWM(d.id, d.p.Pin)
	return nil
}

func (d *Device) emitValue(us uint16) {
	_ = d.res.Pub.Emit(core.Event{
		Addr:    d.addr,
		Payload: types.ServoValue{PulseUs: us},
		TSms:    timex.NowMs(),
	})
}
