// Package ws2811 drives WS2811/WS2812 addressable LED strips.
//
// The protocol clocks each bit out as a fixed-width pulse cell: the line
// rises at the start of every cell and falls either early (a 0 bit) or late
// (a 1 bit). The driver pre-encodes pixel bytes into "slot" bytes that a
// transfer engine applies to the pin's pulse-end register at the two
// candidate fall times: even slots carry the pin mask for a 0 bit (force the
// early fall) or zero for a 1 bit (let the line ride), odd slots always
// carry the pin mask so a 1 bit terminates at the late fall.
//
// Slots are produced into two ping-pong half buffers of 6 LEDs each. The
// engine consumes one half while the driver refills the other from the
// half-complete callback, so a transfer of any length needs only 576 bytes
// of slot storage.
package ws2811

import (
	"errors"
	"sync/atomic"
	"time"
)

// Buffer geometry. A half buffer holds 6 LEDs of 24 bits with 2 slots per
// bit, which is 300us of line time per half at the nominal cell period.
const (
	LEDsPerHalf  = 6
	BitsPerLED   = 24
	SlotsPerBit  = 2
	SlotsPerHalf = LEDsPerHalf * BitsPerLED * SlotsPerBit // 288

	// MaxLEDs bounds the pixel store.
	MaxLEDs = 1024
)

// Nominal WS2811 timing.
const (
	DefaultBitCellPeriod = 1250 * time.Nanosecond
	DefaultShortPulse    = 400 * time.Nanosecond // 0-bit high time
	DefaultLongPulse     = 850 * time.Nanosecond // 1-bit high time
)

// Errors returned by New.
var (
	ErrLEDCount = errors.New("ws2811: led count out of range")
	ErrPin      = errors.New("ws2811: invalid pin")
	ErrNoEngine = errors.New("ws2811: nil engine")
	ErrTiming   = errors.New("ws2811: pulse times must fit the cell period")
)

// Line is the raw pin interface an engine drives. ForcePulseStart raises the
// line at the start of a bit cell; ForcePulseEnd applies a slot byte to the
// pulse-end register, which is a no-op when the byte is zero.
type Line interface {
	ForcePulseStart()
	ForcePulseEnd(v byte)
}

// TransferPlan describes one armed transfer to an engine.
type TransferPlan struct {
	// Mask is the pin bit image written to the pulse-end register.
	Mask byte
	// Half holds the two ping-pong slot buffers, SlotsPerHalf bytes each.
	Half [2][]byte
	// Cell timing.
	CellPeriod  time.Duration
	ShortPulse  time.Duration
	LongPulse   time.Duration
	// OnHalfOut is called from the engine after half h has been fully
	// clocked out, alternating 0,1,0,1... It must return before the same
	// half is needed again (one half buffer of lead time).
	OnHalfOut func(half int)
}

// Engine clocks slot bytes out to the line hardware.
type Engine interface {
	// Arm programs the transfer and starts the bit clock. The pulse engines
	// are programmed before the clock starts so no cell is emitted with
	// stale slot state.
	Arm(plan TransferPlan) error
	// Stop halts the bit clock and leaves the line low.
	Stop()
}

// Config for New. Pin is required; the rest defaults.
type Config struct {
	// Pin is the GPIO pin number driving the strip.
	Pin int
	// LEDs is the strip length, 1..MaxLEDs.
	LEDs int
	// BitCellPeriod defaults to 1250ns; ShortPulse/LongPulse to 400/850ns.
	BitCellPeriod time.Duration
	ShortPulse    time.Duration
	LongPulse     time.Duration
}

// Device owns the pixel store and the ping-pong encode state for one strip.
type Device struct {
	engine Engine
	mask   byte

	cfg Config

	// pixels is the frame source: 3 bytes per LED in wire order (R,G,B).
	pixels []byte

	buf [2][SlotsPerHalf]byte

	// Transfer cursor state, touched only while a transfer is in flight.
	cursor      int
	endReached  bool
	drainHalves int

	inProgress uint32 // atomic: 1 while a transfer is in flight
	refillBusy uint32 // atomic: re-entrancy guard for halfOut
	underruns  uint32 // atomic
	frames     uint32 // atomic
}

// New allocates a device for cfg.LEDs pixels. The engine must be armed with
// slot buffers belonging to this device only.
func New(engine Engine, cfg Config) (*Device, error) {
	if engine == nil {
		return nil, ErrNoEngine
	}
	if cfg.LEDs < 1 || cfg.LEDs > MaxLEDs {
		return nil, ErrLEDCount
	}
	if cfg.Pin < 0 {
		return nil, ErrPin
	}
	if cfg.BitCellPeriod <= 0 {
		cfg.BitCellPeriod = DefaultBitCellPeriod
	}
	if cfg.ShortPulse <= 0 {
		cfg.ShortPulse = DefaultShortPulse
	}
	if cfg.LongPulse <= 0 {
		cfg.LongPulse = DefaultLongPulse
	}
	if cfg.ShortPulse >= cfg.LongPulse || cfg.LongPulse >= cfg.BitCellPeriod {
		return nil, ErrTiming
	}

	d := &Device{
		engine: engine,
		mask:   1 << (uint(cfg.Pin) & 7),
		cfg:    cfg,
		pixels: make([]byte, 3*cfg.LEDs),
	}

	// Odd slots carry the unconditional late fall. They are written once
	// here and never touched again.
	for h := 0; h < 2; h++ {
		for i := 1; i < SlotsPerHalf; i += 2 {
			d.buf[h][i] = d.mask
		}
	}

	return d, nil
}

// Len returns the strip length in LEDs.
func (d *Device) Len() int { return d.cfg.LEDs }

// Mask returns the pin bit image used in slot bytes.
func (d *Device) Mask() byte { return d.mask }

// SetPixel stores one pixel. Safe to call while a transfer is in flight;
// slots already encoded keep the old value, the rest pick up the new one.
// Panics when i is out of range.
func (d *Device) SetPixel(i int, r, g, b uint8) {
	if i < 0 || i >= d.cfg.LEDs {
		panic("ws2811: pixel index out of range")
	}
	o := 3 * i
	d.pixels[o] = r
	d.pixels[o+1] = g
	d.pixels[o+2] = b
}

// SetAll stores the same colour in every pixel.
func (d *Device) SetAll(r, g, b uint8) {
	for i := 0; i < len(d.pixels); i += 3 {
		d.pixels[i] = r
		d.pixels[i+1] = g
		d.pixels[i+2] = b
	}
}

// Update starts clocking the current pixel contents out to the strip. It
// returns false, without touching the hardware, when a transfer is already
// in flight.
func (d *Device) Update() bool {
	if !atomic.CompareAndSwapUint32(&d.inProgress, 0, 1) {
		return false
	}

	d.cursor = 0
	d.endReached = false
	d.drainHalves = 0

	// Both halves are primed before the clock starts so the engine always
	// has a full half of lead time.
	d.cursor, d.endReached = encodeHalf(d.buf[0][:], d.pixels, d.cursor, d.mask)
	d.cursor, d.endReached = encodeHalf(d.buf[1][:], d.pixels, d.cursor, d.mask)

	err := d.engine.Arm(TransferPlan{
		Mask:       d.mask,
		Half:       [2][]byte{d.buf[0][:], d.buf[1][:]},
		CellPeriod: d.cfg.BitCellPeriod,
		ShortPulse: d.cfg.ShortPulse,
		LongPulse:  d.cfg.LongPulse,
		OnHalfOut:  d.halfOut,
	})
	if err != nil {
		atomic.StoreUint32(&d.inProgress, 0)
		return false
	}
	return true
}

// halfOut runs when the engine has finished clocking out half h. While
// source bytes remain it re-encodes h for its next pass; once the stream end
// has been reached it idle-fills h so circular hardware can never replay
// stale pixel data, and stops after both halves have drained.
func (d *Device) halfOut(h int) {
	if !atomic.CompareAndSwapUint32(&d.refillBusy, 0, 1) {
		// Previous refill still running: the deadline is missed and this
		// half will replay whatever it holds.
		atomic.AddUint32(&d.underruns, 1)
		return
	}
	defer atomic.StoreUint32(&d.refillBusy, 0)

	if !d.endReached {
		d.cursor, d.endReached = encodeHalf(d.buf[h][:], d.pixels, d.cursor, d.mask)
		return
	}

	idleFill(d.buf[h][:], d.mask)
	d.drainHalves++
	if d.drainHalves >= 2 {
		d.engine.Stop()
		atomic.AddUint32(&d.frames, 1)
		atomic.StoreUint32(&d.inProgress, 0)
	}
}

// Busy reports whether a transfer is in flight.
func (d *Device) Busy() bool {
	return atomic.LoadUint32(&d.inProgress) != 0
}

// Stats returns completed transfer and underrun counters.
func (d *Device) Stats() (frames, underruns uint32) {
	return atomic.LoadUint32(&d.frames), atomic.LoadUint32(&d.underruns)
}

// Close stops the engine. A transfer in flight is abandoned.
func (d *Device) Close() {
	d.engine.Stop()
	atomic.StoreUint32(&d.inProgress, 0)
}
