package servo_out

import (
	"context"

	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
	"flightcode-go/x/strx"
)

func init() { core.RegisterBuilder("servo_out", builder{}) }

type builder struct{}

type Params struct {
	Pin     int
	FreqHz  uint32 // default 50
	MinUs   uint16 // default 1000
	MaxUs   uint16 // default 2000
	Initial uint16 // default midpoint
	Domain  string // default "actuator"
	Name    string // default device ID
}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	if p.Pin < 0 {
		return nil, errcode.InvalidParams
	}
	if p.FreqHz == 0 {
		p.FreqHz = 50
	}
	// The counter resolution is one microsecond, so the period must fit a
	// 16-bit top.
	if p.FreqHz < 16 || p.FreqHz > 400 {
		return nil, errcode.InvalidParams
	}
	if p.MinUs == 0 {
		p.MinUs = 1000
	}
	if p.MaxUs == 0 {
		p.MaxUs = 2000
	}
	if p.MinUs >= p.MaxUs {
		return nil, errcode.InvalidParams
	}
	if p.Initial == 0 {
		p.Initial = p.MinUs + (p.MaxUs-p.MinUs)/2
	}
	if p.Initial < p.MinUs || p.Initial > p.MaxUs {
		return nil, errcode.InvalidParams
	}

	pwm, err := in.Res.Reg.ClaimPWM(in.ID, p.Pin)
	if err != nil {
		return nil, err
	}
	d := &Device{
		id:  in.ID,
		p:   p,
		pwm: pwm,
		res: in.Res,
		top: uint16(1_000_000 / p.FreqHz),
	}
	d.addr = core.CapAddr{
		Domain: strx.Coalesce(p.Domain, "actuator"),
		Kind:   string(types.KindServo),
		Name:   strx.Coalesce(p.Name, in.ID),
	}
	return d, nil
}

func parseParams(v any) (Params, error) {
	switch p := v.(type) {
	case Params:
		return p, nil
	case *Params:
		return *p, nil
	default:
		return Params{}, errcode.InvalidParams
	}
}
