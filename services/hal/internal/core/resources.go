package core

import (
	"context"

	"flightcode-go/drivers/ws2811"
	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/worker"
	"flightcode-go/types"

	"tinygo.org/x/drivers"
)

// ---- Bus taxonomy ----

type BusClass uint8

const (
	BusTransactional BusClass = iota // I²C, SPI, 1-Wire
	BusStream                        // UART, CAN, USB CDC
)

type ResourceID string // e.g. "i2c0", "uart0", "gpio25"

// ---- Stream buses (independent RX/TX) ----

// StreamPort is a claimed serial port. Writes may block briefly in the
// platform driver; reads are bounded by the context.
type StreamPort interface {
	Write(p []byte) (int, error)
	Buffered() int
	Readable() <-chan struct{}
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
	SetBaudRate(baud uint32) error
	SetFormat(databits, stopbits uint8, parity types.Parity) error
}

// ---- GPIO handles ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

type GPIOHandle interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(bool)
	Get() bool
	Toggle()
}

// ---- PWM handles (per channel) ----

type PWMHandle interface {
	// Configure sets the carrier frequency and the logical resolution; Set
	// and Ramp levels are in [0..top].
	Configure(freqHz uint64, top uint16) error
	Set(level uint16)
	Get() uint16
	Top() uint16
	Enable(on bool)
	// Ramp moves the level in evenly spaced steps; false when a ramp is
	// already running or the handle is unconfigured.
	Ramp(to uint16, durationMs uint32, steps uint16, mode types.ServoSlewMode) bool
	StopRamp()
}

// ---- Device → HAL telemetry (single shape) ----
// By default an Event is a value-like update HAL publishes retained to
// .../value. IsEvent publishes non-retained to .../event instead. A non-empty
// Err publishes only .../status=degraded (retained).

type Event struct {
	Addr     CapAddr
	Payload  any
	TSms     int64
	Err      string // "timeout","io_error","underrun",...
	IsEvent  bool
	EventTag string // optional subtopic for events (e.g. "rx","tx")
}

// ---- Event emission (devices → HAL) ----

type EventEmitter interface {
	// Emit tries to enqueue an Event for HAL publication.
	// It must be non-blocking; false indicates a drop under pressure.
	Emit(ev Event) bool
}

// ---- Split-phase measurement ----

type MeasureSubmitter interface {
	Submit(req worker.Request) bool
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg  ResourceRegistry
	Pub  EventEmitter     // provided by HAL; devices emit values/events
	Meas MeasureSubmitter // shared split-phase measure worker
}

// ---- Unified registry interface ----

type ResourceRegistry interface {
	// Optional classification/introspection.
	ClassOf(id ResourceID) (BusClass, bool)

	// Transactional buses. The returned bus serialises access behind a
	// single owner per hardware bus; Tx may be called from any goroutine.
	ClaimI2C(devID string, id ResourceID) (drivers.I2C, error)
	ReleaseI2C(devID string, id ResourceID)

	// Stream buses
	ClaimSerial(devID string, id ResourceID) (StreamPort, error)
	ReleaseSerial(devID string, id ResourceID)

	// GPIO
	ClaimGPIO(devID string, pin int) (GPIOHandle, error)
	ReleaseGPIO(devID string, pin int)

	// PWM
	ClaimPWM(devID string, pin int) (PWMHandle, error)
	ReleasePWM(devID string, pin int)

	// Strip transfer engines (one timer + two DMA channels per pin).
	ClaimStrip(devID string, pin int) (ws2811.Engine, error)
	ReleaseStrip(devID string, pin int)
}

// Short claim errors, mapped to bus codes at the reply boundary.
var (
	ErrUnknownPin = errcode.UnknownPin
	ErrPinInUse   = errcode.PinInUse

	ErrUnknownBus = errcode.UnknownBus
	ErrBusInUse   = errcode.BusInUse
	ErrTimeout    = errcode.Timeout
)
