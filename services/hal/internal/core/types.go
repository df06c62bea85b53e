package core

import (
	"context"

	"flightcode-go/errcode"
	"flightcode-go/types"
)

// ---- Capability & device model ----

// CapAddr identifies one public capability: hal/cap/<domain>/<kind>/<name>.
type CapAddr struct {
	Domain string
	Kind   string
	Name   string
}

type CapabilitySpec struct {
	Domain string // "" => inferred from Kind
	Kind   types.Kind
	Name   string // "" => device ID
	Info   types.Info
}

// ControlResult is a device's answer to a control verb. Data, when non-nil,
// is sent back to a requester that asked for a reply.
type ControlResult struct {
	OK    bool
	Error errcode.Code
	Data  any
}

func OK() ControlResult                 { return ControlResult{OK: true} }
func OKData(d any) ControlResult        { return ControlResult{OK: true, Data: d} }
func Fail(c errcode.Code) ControlResult { return ControlResult{Error: c} }

type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	Init(ctx context.Context) error
	// Control must not block; long work is handed to the measure worker or a
	// device goroutine.
	Control(addr CapAddr, verb string, payload any) (ControlResult, error)
	Close() error
}

// Builder input
type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}
