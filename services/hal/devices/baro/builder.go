package baro

import (
	"context"

	"flightcode-go/drivers/ms5611"
	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
	"flightcode-go/x/strx"
)

func init() { core.RegisterBuilder("baro_ms5611", builder{}) }

type builder struct{}

type Params struct {
	Bus    string // e.g. "i2c0"
	Addr   uint16 // defaults to ms5611.Address (0x77)
	OSR    uint8  // oversampling exponent 0..4; 0 => OSR4096
	Domain string // default "env"
	Name   string // default device ID
}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	if p.Bus == "" {
		return nil, errcode.InvalidParams
	}
	if p.Addr == 0 {
		p.Addr = ms5611.Address
	}
	bus, err := in.Res.Reg.ClaimI2C(in.ID, core.ResourceID(p.Bus))
	if err != nil {
		return nil, err
	}

	osr := ms5611.OSR4096
	if p.OSR > 0 {
		if p.OSR > uint8(ms5611.OSR4096) {
			in.Res.Reg.ReleaseI2C(in.ID, core.ResourceID(p.Bus))
			return nil, errcode.InvalidParams
		}
		osr = ms5611.OSR(p.OSR)
	}

	d := &Device{
		id:  in.ID,
		p:   p,
		res: in.Res,
		drv: ms5611.New(bus),
		osr: osr,
	}
	name := strx.Coalesce(p.Name, in.ID)
	domain := strx.Coalesce(p.Domain, "env")
	d.addrPress = core.CapAddr{Domain: domain, Kind: string(types.KindPressure), Name: name}
	d.addrTemp = core.CapAddr{Domain: domain, Kind: string(types.KindTemperature), Name: name}
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
