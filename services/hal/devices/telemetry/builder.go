package telemetry

import (
	"context"

	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/services/hal/internal/streamio"
	"flightcode-go/types"
	"flightcode-go/x/strx"
)

func init() { core.RegisterBuilder("telemetry", builder{}) }

type builder struct{}

type Params struct {
	Bus       string // e.g. "uart0"
	Baud      uint32 // 0 => leave the port's current rate
	Mode      string // "bytes" (default) | "lines"
	MaxFrame  int
	IdleFlush uint32 // ms, lines mode
	TXEcho    bool
	Domain    string // default "link"
	Name      string // default device ID
}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	if p.Bus == "" {
		return nil, errcode.InvalidParams
	}
	switch p.Mode {
	case "":
		p.Mode = "bytes"
	case "bytes", "lines":
	default:
		return nil, errcode.InvalidParams
	}
	port, err := in.Res.Reg.ClaimSerial(in.ID, core.ResourceID(p.Bus))
	if err != nil {
		return nil, err
	}
	d := &Device{
		id:   in.ID,
		p:    p,
		port: port,
		res:  in.Res,
		rx:   streamio.New(0),
	}
	d.addr = core.CapAddr{
		Domain: strx.Coalesce(p.Domain, "link"),
		Kind:   string(types.KindSerial),
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
