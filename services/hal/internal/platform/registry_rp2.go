//go:build rp2040

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
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"
)

var _ core.ResourceRegistry = (*rp2Registry)(nil)

// ----------------------------- GPIO ------------------------------------

type rp2GPIO struct {
	p machine.Pin
	n int
}

func (r *rp2GPIO) Number() int { return r.n }

func (r *rp2GPIO) ConfigureInput(pull core.Pull) error {
	var mode machine.PinMode
	switch pull {
	case core.PullUp:
		mode = machine.PinInputPullup
	case core.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2GPIO) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2GPIO) Set(b bool) { r.p.Set(b) }
func (r *rp2GPIO) Get() bool  { return r.p.Get() }
func (r *rp2GPIO) Toggle() {
	if r.p.Get() {
		r.p.Low()
	} else {
		r.p.High()
	}
}

// ----------------------------- PWM -------------------------------------

// Local interface to avoid depending on an unexported concrete type in machine.
type pwmCtrl interface {
	Configure(cfg machine.PWMConfig) error
	Top() uint32
	Set(channel uint8, value uint32)
}

func pwmGroupBySlice(slice uint8) pwmCtrl {
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}

type sliceCfg struct {
	freqHz uint64
	users  int
}

// Per-slice frequency policy: channels share a slice counter, so a second
// claim on the same slice must request the same frequency.
var globalPWM struct {
	mu    sync.Mutex
	slice map[int]*sliceCfg
}

func init() {
	globalPWM.slice = make(map[int]*sliceCfg)
}

type rp2PWM struct {
	mu sync.Mutex

	pin   int
	ctrl  pwmCtrl
	chIdx uint8 // 0 => A, 1 => B
	slice int

	reqTop uint16 // logical resolution
	freqHz uint64
	hwTop  uint32 // controller top after Configure
	level  uint16 // current logical level
	enable bool

	rampCancel chan struct{}
	rampAlive  bool

	registered bool // counted against slice users
}

// caller holds lock
func (p *rp2PWM) setHW(logical uint16) {
	if p.hwTop == 0 || p.reqTop == 0 {
		return
	}
	logical = mathx.Min(logical, p.reqTop)
	hw := (uint32(logical) * p.hwTop) / uint32(p.reqTop)
	p.ctrl.Set(p.chIdx, hw)
	p.level = logical
}

func (p *rp2PWM) Configure(freqHz uint64, top uint16) error {
	top = mathx.Max(top, 1)
	freqHz = mathx.Max(freqHz, 1)

	globalPWM.mu.Lock()
	defer globalPWM.mu.Unlock()

	sc := globalPWM.slice[p.slice]
	if sc == nil {
		sc = &sliceCfg{}
		globalPWM.slice[p.slice] = sc
	}

	switch {
	case sc.users == 0:
		if err := p.ctrl.Configure(machine.PWMConfig{Period: periodFromHz(freqHz)}); err != nil {
			return err
		}
		sc.freqHz = freqHz
		sc.users = 1
		p.registered = true
	case !p.registered:
		if sc.freqHz != freqHz {
			return errcode.InvalidConfig
		}
		sc.users++
		p.registered = true
	case sc.users == 1 && sc.freqHz != freqHz:
		// Sole user may reconfigure the slice frequency.
		if err := p.ctrl.Configure(machine.PWMConfig{Period: periodFromHz(freqHz)}); err != nil {
			return err
		}
		sc.freqHz = freqHz
	case sc.freqHz != freqHz:
		return errcode.InvalidConfig
	}

	machine.Pin(p.pin).Configure(machine.PinConfig{Mode: machine.PinPWM})

	p.mu.Lock()
	p.freqHz = freqHz
	p.reqTop = top
	p.hwTop = p.ctrl.Top()
	p.mu.Unlock()
	return nil
}

func (p *rp2PWM) Set(level uint16) {
	p.mu.Lock()
	if p.rampAlive {
		close(p.rampCancel)
		p.rampAlive = false
	}
	p.setHW(level)
	p.mu.Unlock()
}

func (p *rp2PWM) Get() uint16 {
	p.mu.Lock()
	v := p.level
	p.mu.Unlock()
	return v
}

func (p *rp2PWM) Top() uint16 {
	p.mu.Lock()
	v := p.reqTop
	p.mu.Unlock()
	return v
}

func (p *rp2PWM) Enable(on bool) {
	p.mu.Lock()
	if on {
		p.setHW(p.level)
	} else if p.hwTop != 0 {
		p.ctrl.Set(p.chIdx, 0)
	}
	p.enable = on
	p.mu.Unlock()
}

func (p *rp2PWM) StopRamp() {
	p.mu.Lock()
	if p.rampAlive {
		close(p.rampCancel)
		p.rampAlive = false
	}
	p.mu.Unlock()
}

func (p *rp2PWM) Ramp(to uint16, durationMs uint32, steps uint16, _ types.ServoSlewMode) bool {
	if steps == 0 || durationMs == 0 {
		p.Set(to)
		return true
	}
	p.mu.Lock()
	if p.rampAlive || p.reqTop == 0 {
		p.mu.Unlock()
		return false
	}
	start := p.level
	tgt := mathx.Min(to, p.reqTop)
	top := p.reqTop
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
			p.setHW(lvl)
			p.mu.Unlock()
		})
	}()
	return true
}

func periodFromHz(hz uint64) uint64 {
	if hz == 0 {
		return 0
	}
	return uint64(time.Second) / hz
}

// ----------------------------- I2C -------------------------------------

// Each bus gets a single worker goroutine; claims share the bus through it.

type i2cReq struct {
	addr uint16
	w, r []byte
	done chan error
}

type i2cOwner struct {
	id   core.ResourceID
	hw   *machine.I2C
	reqs chan i2cReq
	quit chan struct{}
}

func newI2COwner(id core.ResourceID, hw *machine.I2C) *i2cOwner {
	o := &i2cOwner{
		id:   id,
		hw:   hw,
		reqs: make(chan i2cReq, 16),
		quit: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *i2cOwner) loop() {
	for {
		select {
		case req := <-o.reqs:
			err := o.hw.Tx(req.addr, req.w, req.r)
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

func (o *i2cOwner) stop() { close(o.quit) }

// driversI2C posts transactions to the bus worker with a per-call deadline.
type driversI2C struct {
	o       *i2cOwner
	timeout time.Duration
}

var _ drivers.I2C = (*driversI2C)(nil)

func (d *driversI2C) Tx(addr uint16, w, r []byte) error {
	req := i2cReq{addr: addr, w: w, r: r, done: make(chan error, 1)}

	if d.timeout <= 0 {
		d.o.reqs <- req
		return <-req.done
	}

	t := time.NewTimer(d.timeout)
	select {
	case d.o.reqs <- req:
		if !t.Stop() {
			<-t.C
		}
	case <-t.C:
		return errcode.Busy
	}

	t = time.NewTimer(d.timeout)
	defer t.Stop()
	select {
	case err := <-req.done:
		return err
	case <-t.C:
		return errcode.Timeout
	}
}

// ----------------------------- UART ------------------------------------

type rp2StreamPort struct{ u *uartx.UART }

func (p *rp2StreamPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *rp2StreamPort) Buffered() int               { return p.u.Buffered() }
func (p *rp2StreamPort) Readable() <-chan struct{}   { return p.u.Readable() }
func (p *rp2StreamPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, buf)
}
func (p *rp2StreamPort) SetBaudRate(br uint32) error { p.u.SetBaudRate(br); return nil }
func (p *rp2StreamPort) SetFormat(databits, stopbits uint8, parity types.Parity) error {
	var par uartx.UARTParity
	switch parity {
	case types.ParityEven:
		par = uartx.ParityEven
	case types.ParityOdd:
		par = uartx.ParityOdd
	default:
		par = uartx.ParityNone
	}
	return p.u.SetFormat(databits, stopbits, par)
}

// ----------------------------- Registry --------------------------------

type pinOwner struct {
	devID string
	use   string // "gpio" | "pwm" | "strip"
}

type rp2Registry struct {
	mu sync.Mutex

	pinOwners map[int]pinOwner
	gpioMap   map[int]*rp2GPIO
	pwmMap    map[int]*rp2PWM
	stripMap  map[int]*dmaStripEngine

	i2cOwners  map[core.ResourceID]*i2cOwner
	uartPorts  map[core.ResourceID]*rp2StreamPort
	uartOwners map[core.ResourceID]string
}

// NewResourceRegistry configures the buses named in the plan and returns the
// registry devices claim from.
func NewResourceRegistry(plan ResourcePlan) *rp2Registry {
	r := &rp2Registry{
		pinOwners:  make(map[int]pinOwner),
		gpioMap:    make(map[int]*rp2GPIO),
		pwmMap:     make(map[int]*rp2PWM),
		stripMap:   make(map[int]*dmaStripEngine),
		i2cOwners:  make(map[core.ResourceID]*i2cOwner),
		uartPorts:  make(map[core.ResourceID]*rp2StreamPort),
		uartOwners: make(map[core.ResourceID]string),
	}

	for _, p := range plan.I2C {
		var hw *machine.I2C
		switch p.ID {
		case "i2c0":
			hw = machine.I2C0
		case "i2c1":
			hw = machine.I2C1
		default:
			continue
		}
		sda := machine.Pin(p.SDA)
		scl := machine.Pin(p.SCL)
		sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
		scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
		hw.Configure(machine.I2CConfig{SCL: scl, SDA: sda, Frequency: p.Hz})
		r.i2cOwners[core.ResourceID(p.ID)] = newI2COwner(core.ResourceID(p.ID), hw)
	}

	for _, u := range plan.UART {
		var hw *uartx.UART
		switch u.ID {
		case "uart0":
			hw = uartx.UART0
		case "uart1":
			hw = uartx.UART1
		default:
			continue
		}
		_ = hw.Configure(uartx.UARTConfig{
			BaudRate: u.Baud,
			TX:       machine.Pin(u.TX),
			RX:       machine.Pin(u.RX),
		})
		r.uartPorts[core.ResourceID(u.ID)] = &rp2StreamPort{u: hw}
	}

	return r
}

func (r *rp2Registry) ClassOf(id core.ResourceID) (core.BusClass, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.i2cOwners[id]; ok {
		return core.BusTransactional, true
	}
	if _, ok := r.uartPorts[id]; ok {
		return core.BusStream, true
	}
	return 0, false
}

func (r *rp2Registry) ClaimI2C(devID string, id core.ResourceID) (drivers.I2C, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.i2cOwners[id]
	if o == nil {
		return nil, errcode.UnknownBus
	}
	return &driversI2C{o: o, timeout: 250 * time.Millisecond}, nil
}

func (r *rp2Registry) ReleaseI2C(devID string, id core.ResourceID) {
	// Bus owners are long-lived; nothing to do.
}

func (r *rp2Registry) ClaimSerial(devID string, id core.ResourceID) (core.StreamPort, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.uartPorts[id]
	if p == nil {
		return nil, errcode.UnknownBus
	}
	if owner, taken := r.uartOwners[id]; taken && owner != "" && owner != devID {
		return nil, errcode.BusInUse
	}
	r.uartOwners[id] = devID
	return p, nil
}

func (r *rp2Registry) ReleaseSerial(devID string, id core.ResourceID) {
	r.mu.Lock()
	if owner, ok := r.uartOwners[id]; ok && owner == devID {
		delete(r.uartOwners, id)
	}
	r.mu.Unlock()
}

func (r *rp2Registry) claimPin(devID string, n int, use string) error {
	if n < 0 || n > 28 {
		return core.ErrUnknownPin
	}
	if owner, inUse := r.pinOwners[n]; inUse && owner.devID != "" {
		return core.ErrPinInUse
	}
	r.pinOwners[n] = pinOwner{devID: devID, use: use}
	return nil
}

func (r *rp2Registry) ClaimGPIO(devID string, n int) (core.GPIOHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimPin(devID, n, "gpio"); err != nil {
		return nil, err
	}
	g, ok := r.gpioMap[n]
	if !ok {
		g = &rp2GPIO{p: machine.Pin(n), n: n}
		r.gpioMap[n] = g
	}
	return g, nil
}

func (r *rp2Registry) ReleaseGPIO(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.pinOwners[n]; ok && owner.devID == devID {
		machine.Pin(n).Configure(machine.PinConfig{Mode: machine.PinInput})
		delete(r.pinOwners, n)
	}
}

func (r *rp2Registry) ClaimPWM(devID string, n int) (core.PWMHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimPin(devID, n, "pwm"); err != nil {
		return nil, err
	}
	sliceNum, err := machine.PWMPeripheral(machine.Pin(n))
	if err != nil {
		delete(r.pinOwners, n)
		return nil, errcode.Unsupported
	}
	p := &rp2PWM{
		pin:   n,
		ctrl:  pwmGroupBySlice(sliceNum),
		chIdx: uint8(n & 1),
		slice: int(sliceNum),
	}
	r.pwmMap[n] = p
	return p, nil
}

func (r *rp2Registry) ReleasePWM(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.pinOwners[n]
	if !ok || owner.devID != devID {
		return
	}
	if p := r.pwmMap[n]; p != nil {
		p.StopRamp()
		p.mu.Lock()
		if p.hwTop != 0 && p.reqTop != 0 {
			p.setHW(0)
		} else {
			p.ctrl.Set(p.chIdx, 0)
		}
		p.enable = false
		p.mu.Unlock()

		globalPWM.mu.Lock()
		if sc := globalPWM.slice[p.slice]; sc != nil && p.registered && sc.users > 0 {
			sc.users--
			if sc.users == 0 {
				sc.freqHz = 0
			}
			p.registered = false
		}
		globalPWM.mu.Unlock()
	}
	machine.Pin(n).Configure(machine.PinConfig{Mode: machine.PinInput})
	delete(r.pwmMap, n)
	delete(r.pinOwners, n)
}

func (r *rp2Registry) ClaimStrip(devID string, n int) (ws2811.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimPin(devID, n, "strip"); err != nil {
		return nil, err
	}
	e, err := newDMAStripEngine(n)
	if err != nil {
		delete(r.pinOwners, n)
		return nil, err
	}
	r.stripMap[n] = e
	return e, nil
}

func (r *rp2Registry) ReleaseStrip(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.pinOwners[n]
	if !ok || owner.devID != devID {
		return
	}
	if e := r.stripMap[n]; e != nil {
		e.Stop()
		e.release()
	}
	machine.Pin(n).Configure(machine.PinConfig{Mode: machine.PinInput})
	delete(r.stripMap, n)
	delete(r.pinOwners, n)
}

// Close stops the per-bus I2C workers.
func (r *rp2Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.i2cOwners {
		if o != nil {
			o.stop()
		}
	}
}
