//go:build rp2040

package platform

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"sync"
	"unsafe"

	"flightcode-go/drivers/ws2811"
	"flightcode-go/errcode"
	"machine"
)

// The strip waveform comes from a PWM slice: the counter wraps once per bit
// cell and the channel compare level sets the pulse width. A pair of DMA
// channels, paced by the slice's wrap DREQ, streams one compare value per
// cell out of two staging buffers. Completion interrupts alternate between
// the halves; each one hands the drained half back for refill and converts
// the new slot bytes to compare ticks.

type dmaChannelHW struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32
	_           [12]volatile.Register32 // register aliases
}

var dmaChannels = (*[12]dmaChannelHW)(unsafe.Pointer(rp.DMA))

// RP2040 PWM register block, per slice.
type pwmSliceHW struct {
	CSR volatile.Register32
	DIV volatile.Register32
	CTR volatile.Register32
	CC  volatile.Register32
	TOP volatile.Register32
}

var pwmSlices = (*[8]pwmSliceHW)(unsafe.Pointer(rp.PWM))

const (
	dreqPWMWrap0 = 0x18

	// Static DMA channel assignment for the strip engine; channels 0..9
	// stay free for other peripherals.
	stripDMAChanA = 10
	stripDMAChanB = 11
)

const cellsPerHalf = ws2811.SlotsPerHalf / ws2811.SlotsPerBit

type dmaStripEngine struct {
	pin   int
	slice uint8
	chIdx uint8

	plan ws2811.TransferPlan
	// Compare staging, one value per bit cell, regenerated after each refill.
	cc [2][cellsPerHalf]uint16

	shortTicks uint16
	longTicks  uint16

	running bool
}

var stripIntr = interrupt.New(rp.IRQ_DMA_IRQ_0, stripDMAHandler)

// One engine owns the DMA pair; the IRQ handler needs a static target.
var (
	stripMu     sync.Mutex
	stripActive *dmaStripEngine
)

func newDMAStripEngine(pin int) (*dmaStripEngine, error) {
	stripMu.Lock()
	defer stripMu.Unlock()
	if stripActive != nil {
		return nil, errcode.PinInUse
	}
	sliceNum, err := machine.PWMPeripheral(machine.Pin(pin))
	if err != nil {
		return nil, errcode.Unsupported
	}
	e := &dmaStripEngine{
		pin:   pin,
		slice: sliceNum,
		chIdx: uint8(pin & 1),
	}
	stripActive = e
	return e, nil
}

func (e *dmaStripEngine) release() {
	stripMu.Lock()
	if stripActive == e {
		stripActive = nil
	}
	stripMu.Unlock()
}

func ticksFor(ns int64) uint32 {
	freq := uint64(machine.CPUFrequency())
	return uint32(uint64(ns) * freq / 1_000_000_000)
}

func (e *dmaStripEngine) Arm(plan ws2811.TransferPlan) error {
	stripMu.Lock()
	defer stripMu.Unlock()
	if e.running {
		return errcode.Busy
	}
	e.plan = plan

	top := ticksFor(plan.CellPeriod.Nanoseconds())
	if top == 0 || top > 0xFFFF {
		return errcode.InvalidConfig
	}
	e.shortTicks = uint16(ticksFor(plan.ShortPulse.Nanoseconds()))
	e.longTicks = uint16(ticksFor(plan.LongPulse.Nanoseconds()))

	e.encodeCC(0)
	e.encodeCC(1)

	// Slice counts sysclk ticks, wrapping once per bit cell.
	hw := &pwmSlices[e.slice]
	hw.CSR.Set(0)
	hw.DIV.Set(1 << rp.PWM_CH0_DIV_INT_Pos)
	hw.CTR.Set(0)
	hw.TOP.Set(top - 1)
	e.setCC(0)
	machine.Pin(e.pin).Configure(machine.PinConfig{Mode: machine.PinPWM})

	e.armChannel(stripDMAChanA, 0, stripDMAChanB)
	e.armChannel(stripDMAChanB, 1, stripDMAChanA)

	// Completion interrupts for both channels on DMA_IRQ_0.
	rp.DMA.INTS0.Set((1 << stripDMAChanA) | (1 << stripDMAChanB))
	rp.DMA.INTE0.Set((1 << stripDMAChanA) | (1 << stripDMAChanB))
	stripIntr.Enable()

	e.running = true

	// Start the pacing counter; channel A fires on the first wrap.
	dmaChannels[stripDMAChanA].CTRL_TRIG.SetBits(rp.DMA_CH0_CTRL_TRIG_EN)
	hw.CSR.SetBits(rp.PWM_CH0_CSR_EN)
	return nil
}

// caller holds stripMu or runs in the IRQ
func (e *dmaStripEngine) setCC(v uint16) {
	hw := &pwmSlices[e.slice]
	if e.chIdx == 0 {
		hw.CC.ReplaceBits(uint32(v), rp.PWM_CH0_CC_A_Msk>>rp.PWM_CH0_CC_A_Pos, rp.PWM_CH0_CC_A_Pos)
	} else {
		hw.CC.ReplaceBits(uint32(v), rp.PWM_CH0_CC_B_Msk>>rp.PWM_CH0_CC_B_Pos, rp.PWM_CH0_CC_B_Pos)
	}
}

// encodeCC converts one half's slot bytes into compare ticks. The even slot
// of each cell distinguishes the bit: mask means a short pulse, zero a long
// one.
func (e *dmaStripEngine) encodeCC(half int) {
	src := e.plan.Half[half]
	mask := e.plan.Mask
	for cell := 0; cell < cellsPerHalf; cell++ {
		if src[cell*ws2811.SlotsPerBit]&mask != 0 {
			e.cc[half][cell] = e.shortTicks
		} else {
			e.cc[half][cell] = e.longTicks
		}
	}
}

// ccAddr is the DMA write target: the 16-bit lane of the slice's compare
// register belonging to our channel.
func (e *dmaStripEngine) ccAddr() uint32 {
	addr := uint32(uintptr(unsafe.Pointer(&pwmSlices[e.slice].CC)))
	return addr + uint32(e.chIdx)*2
}

func (e *dmaStripEngine) armChannel(ch, half, chainTo int) {
	hw := &dmaChannels[ch]
	hw.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&e.cc[half][0]))))
	hw.WRITE_ADDR.Set(e.ccAddr())
	hw.TRANS_COUNT.Set(cellsPerHalf)

	ctrl := uint32(0)
	ctrl |= uint32(dreqPWMWrap0+e.slice) << rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos
	ctrl |= uint32(chainTo) << rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos
	ctrl |= 1 << rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Pos // 16-bit transfers
	ctrl |= rp.DMA_CH0_CTRL_TRIG_INCR_READ
	// Channel A starts armed but waits for EN; B starts when A chains to it.
	if ch != stripDMAChanA {
		ctrl |= rp.DMA_CH0_CTRL_TRIG_EN
	}
	hw.CTRL_TRIG.Set(ctrl)
}

// reloadChannel points a drained channel at its freshly encoded half. The
// channel is idle here; its partner restarts it through CHAIN_TO.
func (e *dmaStripEngine) reloadChannel(ch, half int) {
	hw := &dmaChannels[ch]
	hw.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(&e.cc[half][0]))))
	hw.TRANS_COUNT.Set(cellsPerHalf)
}

func stripDMAHandler(interrupt.Interrupt) {
	e := stripActive
	if e == nil {
		rp.DMA.INTS0.Set(rp.DMA.INTS0.Get())
		return
	}
	status := rp.DMA.INTS0.Get()
	rp.DMA.INTS0.Set(status)

	if status&(1<<stripDMAChanA) != 0 {
		e.halfDone(stripDMAChanA, 0)
	}
	if status&(1<<stripDMAChanB) != 0 {
		e.halfDone(stripDMAChanB, 1)
	}
}

func (e *dmaStripEngine) halfDone(ch, half int) {
	if !e.running {
		return
	}
	if e.plan.OnHalfOut != nil {
		e.plan.OnHalfOut(half)
	}
	if !e.running {
		// The callback finished the frame and stopped the engine.
		return
	}
	e.encodeCC(half)
	e.reloadChannel(ch, half)
}

func (e *dmaStripEngine) Stop() {
	// Runs from the DMA interrupt on frame completion; no locking here.
	e.running = false

	abortMask := uint32((1 << stripDMAChanA) | (1 << stripDMAChanB))
	rp.DMA.CHAN_ABORT.Set(abortMask)
	for rp.DMA.CHAN_ABORT.Get()&abortMask != 0 {
	}
	rp.DMA.INTE0.Set(0)

	hw := &pwmSlices[e.slice]
	hw.CSR.ClearBits(rp.PWM_CH0_CSR_EN)
	e.setCC(0)
	machine.Pin(e.pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	machine.Pin(e.pin).Low()
}
