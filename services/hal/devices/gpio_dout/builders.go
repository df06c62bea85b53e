package gpio_dout

import (
	"context"

	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
)

func init() {
	core.RegisterBuilder("gpio_led", builderLED{})
	core.RegisterBuilder("gpio_switch", builderSwitch{})
}

type builderLED struct{}
type builderSwitch struct{}

func (builderLED) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	return build(RoleLED, in)
}

func (builderSwitch) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	return build(RoleSwitch, in)
}

func build(role Role, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	if p.Pin < 0 {
		return nil, errcode.InvalidParams
	}
	h, err := in.Res.Reg.ClaimGPIO(in.ID, p.Pin)
	if err != nil {
		return nil, err
	}
	return New(role, in.ID, p, h, in.Res), nil
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
