// Package rgbled_strip exposes a WS2811 addressable LED strip as an rgbled
// capability. Pixel edits are cheap local writes; "show" arms the hardware
// transfer and completes asynchronously.
package rgbled_strip

import (
	"context"

	"flightcode-go/drivers/ws2811"
	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
	"flightcode-go/x/strx"
	"flightcode-go/x/timex"
)

type Device struct {
	id   string
	addr core.CapAddr
	p    Params
	drv  *ws2811.Device
	res  core.Resources

	// last underrun count published as degraded status
	lastUnderruns uint32
}

func newDevice(id string, p Params, drv *ws2811.Device, res core.Resources) *Device {
	return &Device{
		id: id,
		addr: core.CapAddr{
			Domain: strx.Coalesce(p.Domain, "io"),
			Kind:   string(types.KindRGBLED),
			Name:   strx.Coalesce(p.Name, id),
		},
		p:   p,
		drv: drv,
		res: res,
	}
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	cell := d.p.BitCellNs
	if cell == 0 {
		cell = uint32(ws2811.DefaultBitCellPeriod.Nanoseconds())
	}
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindRGBLED,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "rgbled_strip",
			Detail: types.StripInfo{
				Pin:        d.p.Pin,
				LEDs:       d.drv.Len(),
				BitCellNs:  cell,
				ColorOrder: "rgb",
			},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	// Push an all-off frame so the strip starts dark.
	d.drv.SetAll(0, 0, 0)
	d.drv.Update()
	d.emitValue()
	return nil
}

func (d *Device) Control(addr core.CapAddr, verb string, payload any) (core.ControlResult, error) {
	switch verb {
	case "set":
		p, ec := core.As[types.StripSet](payload)
		if ec != "" {
			return core.Fail(ec), nil
		}
		if p.Index < 0 || p.Index >= d.drv.Len() {
			return core.Fail(errcode.InvalidParams), nil
		}
		d.drv.SetPixel(p.Index, p.R, p.G, p.B)
		return core.OK(), nil
	case "set_all":
		p, ec := core.As[types.StripSetAll](payload)
		if ec != "" {
			return core.Fail(ec), nil
		}
		d.drv.SetAll(p.R, p.G, p.B)
		return core.OK(), nil
	case "show":
		if _, ec := core.As[types.StripShow](payload); ec != "" {
			return core.Fail(ec), nil
		}
		if !d.drv.Update() {
			return core.Fail(errcode.Busy), nil
		}
		return core.OK(), nil
	case "read":
		v := d.emitValue()
		return core.OKData(v), nil
	default:
		return core.Fail(errcode.Unsupported), nil
	}
}

func (d *Device) Close() error {
	d.drv.Close()
	d.res.Reg.ReleaseStrip(d.id, d.p.Pin)
	return nil
}

func (d *Device) emitValue() types.StripValue {
	frames, underruns := d.drv.Stats()
	return d.publish(frames, underruns, d.drv.Busy())
}

// publish emits the counter snapshot, flagging newly seen underruns as a
// degraded status first.
func (d *Device) publish(frames, underruns uint32, busy bool) types.StripValue {
	v := types.StripValue{Frames: frames, Underruns: underruns, Busy: busy}
	ts := timex.NowMs()
	if underruns > d.lastUnderruns {
		d.lastUnderruns = underruns
		_ = d.res.Pub.Emit(core.Event{Addr: d.addr, Err: "underrun", TSms: ts})
	}
	_ = d.res.Pub.Emit(core.Event{Addr: d.addr, Payload: v, TSms: ts})
	return v
}
