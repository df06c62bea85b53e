package rgbled_strip

import (
	"context"
	"time"

	"flightcode-go/drivers/ws2811"
	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
)

func init() { core.RegisterBuilder("rgbled_strip", builder{}) }

type builder struct{}

type Params struct {
	Pin       int
	LEDs      int
	BitCellNs uint32 // 0 => 1250
	Domain    string // default "io"
	Name      string // default device ID
}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	eng, err := in.Res.Reg.ClaimStrip(in.ID, p.Pin)
	if err != nil {
		return nil, err
	}
	drv, err := ws2811.New(eng, ws2811.Config{
		Pin:           p.Pin,
		LEDs:          p.LEDs,
		BitCellPeriod: time.Duration(p.BitCellNs) * time.Nanosecond,
	})
	if err != nil {
		in.Res.Reg.ReleaseStrip(in.ID, p.Pin)
		return nil, errcode.InvalidParams
	}
	return newDevice(in.ID, p, drv, in.Res), nil
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
