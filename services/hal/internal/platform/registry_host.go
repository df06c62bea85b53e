//go:build !rp2040

package platform

import (
	"context"
	"sync"
	"time"

	"flightcode-go/drivers/ws2811"
	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/types"
	"flightcode-go/x/mathx"
	"flightcode-go/x/ramp"

	"tinygo.org/x/drivers"
)

// Host builds get fake resources: pins and PWM channels record their state,
// I2C buses can be scripted, UARTs loop through in-memory buffers, and strip
// engines play transfers back on a wall-clock timer. Tests and host demos
// reach the fakes through the registry's accessors.

// ----------------------------- I2C (host) ------------------------------

// HostI2C implements tinygo drivers.I2C. With no Handler installed it
// accepts every transaction and records the last one.
type HostI2C struct {
	mu      sync.Mutex
	Handler func(addr uint16, w, r []byte) error
	LastTx  struct {
		Addr uint16
		W    []byte
		Rn   int
	}
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastTx.Addr = addr
	h.LastTx.W = append([]byte(nil), w...)
	h.LastTx.Rn = len(r)
	if h.Handler != nil {
		return h.Handler(addr, w, r)
	}
	return nil
}

// ----------------------------- GPIO (host) -----------------------------

// FakePin implements core.GPIOHandle with recorded state.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
}

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) ConfigureInput(_ core.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *FakePin) Toggle() { p.Set(!p.Get()) }

// IsOutput reports the configured direction.
func (p *FakePin) IsOutput() bool {
	p.mu.RLock()
	v := p.modeOut
	p.mu.RUnlock()
	return v
}

// ----------------------------- PWM (host) ------------------------------

type hostPWM struct {
	mu      sync.Mutex
	pin     int
	freqHz  uint64
	top     uint16
	level   uint16
	enabled bool

	rampCancel chan struct{}
	rampAlive  bool
}

func (p *hostPWM) Configure(freqHz uint64, top uint16) error {
	p.mu.Lock()
	p.freqHz = mathx.Max(freqHz, 1)
	p.top = mathx.Max(top, 1)
	p.mu.Unlock()
	return nil
}

func (p *hostPWM) Set(level uint16) {
	p.mu.Lock()
	if p.rampAlive {
		close(p.rampCancel)
		p.rampAlive = false
	}
	p.level = mathx.Min(level, p.top)
	p.mu.Unlock()
}

func (p *hostPWM) Get() uint16 {
	p.mu.Lock()
	v := p.level
	p.mu.Unlock()
	return v
}

func (p *hostPWM) Top() uint16 {
	p.mu.Lock()
	v := p.top
	p.mu.Unlock()
	return v
}

func (p *hostPWM) Enable(on bool) {
	p.mu.Lock()
	p.enabled = on
	p.mu.Unlock()
}

func (p *hostPWM) StopRamp() {
	p.mu.Lock()
	if p.rampAlive {
		close(p.rampCancel)
		p.rampAlive = false
	}
	p.mu.Unlock()
}

func (p *hostPWM) Ramp(to uint16, durationMs uint32, steps uint16, _ types.ServoSlewMode) bool {
	if steps == 0 || durationMs == 0 {
		p.Set(to)
		return true
	}
	p.mu.Lock()
	if p.rampAlive || p.top == 0 {
		p.mu.Unlock()
		return false
	}
	start := p.level
	tgt := mathx.Min(to, p.top)
	top := p.top
	cancel := make(chan struct{})
	p.rampCancel, p.rampAlive = cancel, true
	p.mu.Unlock()

	go func() {
		defer func() { p.mu.Lock(); p.rampAlive = false; p.mu.Unlock() }()
		tick := func(d time.Duration) bool {
			select {
			case <-cancel:
				return false
			case <-time.After(d):
				return true
			}
		}
		ramp.StartLinear(start, tgt, top, durationMs, steps, tick, func(lvl uint16) {
			p.mu.Lock()
			p.level = lvl
			p.mu.Unlock()
		})
	}()
	return true
}

// ----------------------------- UART (host) -----------------------------

// HostStreamPort is an in-memory stream port. Inject feeds the RX side;
// writes accumulate and can be read back with TX.
type HostStreamPort struct {
	mu     sync.Mutex
	rx     []byte
	rd     chan struct{}
	tx     []byte
	baud   uint32
	format [3]uint8
}

func newHostStreamPort(baud uint32) *HostStreamPort {
	return &HostStreamPort{rd: make(chan struct{}, 1), baud: baud}
}

func (p *HostStreamPort) Inject(b []byte) {
	p.mu.Lock()
	p.rx = append(p.rx, b...)
	if len(p.rd) == 0 {
		p.rd <- struct{}{}
	}
	p.mu.Unlock()
}

func (p *HostStreamPort) TX() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.tx...)
}

func (p *HostStreamPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.tx = append(p.tx, b...)
	p.mu.Unlock()
	return len(b), nil
}

func (p *HostStreamPort) Buffered() int {
	p.mu.Lock()
	n := len(p.rx)
	p.mu.Unlock()
	return n
}

func (p *HostStreamPort) Readable() <-chan struct{} { return p.rd }

func (p *HostStreamPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.rx) > 0 {
			n := copy(buf, p.rx)
			p.rx = p.rx[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		select {
		case <-p.rd:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (p *HostStreamPort) SetBaudRate(baud uint32) error {
	p.mu.Lock()
	p.baud = baud
	p.mu.Unlock()
	return nil
}

func (p *HostStreamPort) SetFormat(databits, stopbits uint8, parity types.Parity) error {
	p.mu.Lock()
	p.format = [3]uint8{databits, stopbits, uint8(parity)}
	p.mu.Unlock()
	return nil
}

// ----------------------------- Strip engine (host) ---------------------

// playbackEngine clocks armed transfers on a wall-clock timer, invoking the
// half-complete callback the way the hardware engine would.
type playbackEngine struct {
	mu      sync.Mutex
	cancel  chan struct{}
	running bool
}

func (e *playbackEngine) Arm(plan ws2811.TransferPlan) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errcode.Busy
	}
	cancel := make(chan struct{})
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	cells := ws2811.SlotsPerHalf / ws2811.SlotsPerBit
	halfPeriod := plan.CellPeriod * time.Duration(cells)

	go func() {
		tick := time.NewTicker(halfPeriod)
		defer tick.Stop()
		half := 0
		for {
			select {
			case <-cancel:
				return
			case <-tick.C:
				plan.OnHalfOut(half)
				half ^= 1
			}
		}
	}()
	return nil
}

func (e *playbackEngine) Stop() {
	e.mu.Lock()
	if e.running {
		close(e.cancel)
		e.running = false
	}
	e.mu.Unlock()
}

// ----------------------------- Registry --------------------------------

var _ core.ResourceRegistry = (*HostRegistry)(nil)

type HostRegistry struct {
	mu sync.Mutex

	i2c        map[core.ResourceID]*HostI2C
	uarts      map[core.ResourceID]*HostStreamPort
	uartOwners map[core.ResourceID]string

	pins      map[int]*FakePin
	pinOwners map[int]string
	pwms      map[int]*hostPWM
	strips    map[int]*playbackEngine
}

// NewResourceRegistry builds a host registry from a wiring plan. Unknown
// bus IDs in claims return unknown_bus, as on hardware.
func NewResourceRegistry(plan ResourcePlan) *HostRegistry {
	r := &HostRegistry{
		i2c:        make(map[core.ResourceID]*HostI2C),
		uarts:      make(map[core.ResourceID]*HostStreamPort),
		uartOwners: make(map[core.ResourceID]string),
		pins:       make(map[int]*FakePin),
		pinOwners:  make(map[int]string),
		pwms:       make(map[int]*hostPWM),
		strips:     make(map[int]*playbackEngine),
	}
	for _, p := range plan.I2C {
		r.i2c[core.ResourceID(p.ID)] = &HostI2C{}
	}
	for _, u := range plan.UART {
		r.uarts[core.ResourceID(u.ID)] = newHostStreamPort(u.Baud)
	}
	return r
}

// I2C exposes the fake bus for scripting in tests.
func (r *HostRegistry) I2C(id string) (*HostI2C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.i2c[core.ResourceID(id)]
	return b, ok
}

// UART exposes the fake port for injection in tests.
func (r *HostRegistry) UART(id string) (*HostStreamPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.uarts[core.ResourceID(id)]
	return p, ok
}

// Pin exposes the fake pin, creating it on first use.
func (r *HostRegistry) Pin(n int) *FakePin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinLocked(n)
}

func (r *HostRegistry) pinLocked(n int) *FakePin {
	p, ok := r.pins[n]
	if !ok {
		p = &FakePin{number: n}
		r.pins[n] = p
	}
	return p
}

func (r *HostRegistry) ClassOf(id core.ResourceID) (core.BusClass, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.i2c[id]; ok {
		return core.BusTransactional, true
	}
	if _, ok := r.uarts[id]; ok {
		return core.BusStream, true
	}
	return 0, false
}

func (r *HostRegistry) ClaimI2C(devID string, id core.ResourceID) (drivers.I2C, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.i2c[id]
	if !ok {
		return nil, errcode.UnknownBus
	}
	return b, nil
}

func (r *HostRegistry) ReleaseI2C(devID string, id core.ResourceID) {}

func (r *HostRegistry) ClaimSerial(devID string, id core.ResourceID) (core.StreamPort, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.uarts[id]
	if !ok {
		return nil, errcode.UnknownBus
	}
	if owner, taken := r.uartOwners[id]; taken && owner != devID {
		return nil, errcode.BusInUse
	}
	r.uartOwners[id] = devID
	return p, nil
}

func (r *HostRegistry) ReleaseSerial(devID string, id core.ResourceID) {
	r.mu.Lock()
	if owner, ok := r.uartOwners[id]; ok && owner == devID {
		delete(r.uartOwners, id)
	}
	r.mu.Unlock()
}

func (r *HostRegistry) claimPin(devID string, n int) error {
	if n < 0 || n > 28 {
		return core.ErrUnknownPin
	}
	if owner, inUse := r.pinOwners[n]; inUse && owner != "" {
		return core.ErrPinInUse
	}
	r.pinOwners[n] = devID
	return nil
}

func (r *HostRegistry) releasePin(devID string, n int) {
	if owner, ok := r.pinOwners[n]; ok && owner == devID {
		delete(r.pinOwners, n)
	}
}

func (r *HostRegistry) ClaimGPIO(devID string, n int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimPin(devID, n); err != nil {
		return nil, err
	}
	return r.pinLocked(n), nil
}

func (r *HostRegistry) ReleaseGPIO(devID string, n int) {
	r.mu.Lock()
	r.releasePin(devID, n)
	r.mu.Unlock()
}

func (r *HostRegistry) ClaimPWM(devID string, n int) (core.PWMHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimPin(devID, n); err != nil {
		return nil, err
	}
	p, ok := r.pwms[n]
	if !ok {
		p = &hostPWM{pin: n}
		r.pwms[n] = p
	}
	return p, nil
}

func (r *HostRegistry) ReleasePWM(devID string, n int) {
	r.mu.Lock()
	if p, ok := r.pwms[n]; ok {
		p.StopRamp()
	}
	r.releasePin(devID, n)
	r.mu.Unlock()
}

func (r *HostRegistry) ClaimStrip(devID string, n int) (ws2811.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimPin(devID, n); err != nil {
		return nil, err
	}
	e, ok := r.strips[n]
	if !ok {
		e = &playbackEngine{}
		r.strips[n] = e
	}
	return e, nil
}

func (r *HostRegistry) ReleaseStrip(devID string, n int) {
	r.mu.Lock()
	if e, ok := r.strips[n]; ok {
		e.Stop()
	}
	r.releasePin(devID, n)
	r.mu.Unlock()
}
