// Package baro exposes an MS5611 barometer as pressure and temperature
// capabilities. Reads run split-phase on the shared measure worker so the
// HAL loop never waits on a conversion.
package baro

import (
	"context"
	"errors"
	"time"

	"flightcode-go/drivers/ms5611"
	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/services/hal/internal/worker"
	"flightcode-go/types"
	"flightcode-go/x/timex"
)

type Device struct {
	id  string
	p   Params
	res core.Resources
	drv ms5611.Device
	osr ms5611.OSR

	configured bool

	addrPress core.CapAddr
	addrTemp  core.CapAddr
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	press := types.PressureInfo{Sensor: "ms5611", Addr: d.p.Addr, Bus: d.p.Bus}
	temp := types.TemperatureInfo{Sensor: "ms5611", Addr: d.p.Addr, Bus: d.p.Bus}
	return []core.CapabilitySpec{
		{
			Domain: d.addrPress.Domain,
			Kind:   types.KindPressure,
			Name:   d.addrPress.Name,
			Info:   types.Info{SchemaVersion: 1, Driver: "baro_ms5611", Detail: press},
		},
		{
			Domain: d.addrTemp.Domain,
			Kind:   types.KindTemperature,
			Name:   d.addrTemp.Name,
			Info:   types.Info{SchemaVersion: 1, Driver: "baro_ms5611", Detail: temp},
		},
	}
}

func (d *Device) Init(ctx context.Context) error {
	// Reset and PROM readout happen lazily on the worker goroutine; the bus
	// is not touched here.
	return nil
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.ControlResult, error) {
	switch verb {
	case "read", "read_now":
		req := worker.Request{
			ID:   d.id,
			S:    sampler{d},
			Prio: verb == "read_now",
			Done: d.done,
		}
		if !d.res.Meas.Submit(req) {
			return core.Fail(errcode.Busy), nil
		}
		return core.OK(), nil
	default:
		return core.Fail(errcode.Unsupported), nil
	}
}

func (d *Device) Close() error {
	d.res.Reg.ReleaseI2C(d.id, core.ResourceID(d.p.Bus))
	return nil
}

func (d *Device) done(sample any, err error) {
	ts := timex.NowMs()
	if err != nil {
		code := string(errcode.MapDriverErr(err))
		_ = d.res.Pub.Emit(core.Event{Addr: d.addrPress, Err: code, TSms: ts})
		_ = d.res.Pub.Emit(core.Event{Addr: d.addrTemp, Err: code, TSms: ts})
		return
	}
	s, ok := sample.(ms5611.Sample)
	if !ok {
		return
	}
	_ = d.res.Pub.Emit(core.Event{
		Addr:    d.addrPress,
		Payload: types.PressureValue{Pa: s.Pa},
		TSms:    ts,
	})
	_ = d.res.Pub.Emit(core.Event{
		Addr:    d.addrTemp,
		Payload: types.TemperatureValue{CentiC: s.CentiC},
		TSms:    ts,
	})
}

// sampler adapts the driver's two-conversion state machine to the worker.
type sampler struct{ d *Device }

func (s sampler) Trigger(ctx context.Context) (time.Duration, error) {
	d := s.d
	if !d.configured {
		if err := d.drv.Configure(ms5611.Config{
			Address:      d.p.Addr,
			Oversampling: d.osr,
		}); err != nil {
			return 0, err
		}
		d.configured = true
	}
	if err := d.drv.Trigger(); err != nil {
		return 0, err
	}
	return d.drv.TriggerHint(), nil
}

func (s sampler) Collect(ctx context.Context) (any, error) {
	var smp ms5611.Sample
	err := s.d.drv.Collect(&smp)
	if errors.Is(err, ms5611.ErrNotReady) {
		return nil, worker.ErrNotReady
	}
	if err != nil {
		return nil, err
	}
	return smp, nil
}
