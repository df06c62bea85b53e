package ws2811

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
)

// fakeEngine records the armed plan and lets tests step the hardware one
// half buffer at a time.
type fakeEngine struct {
	plan     TransferPlan
	armed    int
	stopped  int
	running  bool
	armErr   error
	nextHalf int
}

func (e *fakeEngine) Arm(p TransferPlan) error {
	if e.armErr != nil {
		return e.armErr
	}
	e.plan = p
	e.armed++
	e.running = true
	e.nextHalf = 0
	return nil
}

func (e *fakeEngine) Stop() {
	e.stopped++
	e.running = false
}

// clockHalf snapshots half h as the hardware would have transmitted it,
// then fires the half-complete callback.
func (e *fakeEngine) clockHalf(t *testing.T, h int) []byte {
	t.Helper()
	if !e.running {
		t.Fatal("clockHalf on stopped engine")
	}
	out := append([]byte(nil), e.plan.Half[h]...)
	e.plan.OnHalfOut(h)
	return out
}

// decodeHalf reconstructs the source bytes a half's slots encode, and
// checks odd slots still hold the mask.
func decodeHalf(t *testing.T, slots []byte, mask byte) []byte {
	t.Helper()
	if len(slots)%16 != 0 {
		t.Fatalf("slot count %d not a multiple of 16", len(slots))
	}
	out := make([]byte, 0, len(slots)/16)
	for i := 0; i < len(slots); i += 16 {
		var b byte
		for j := 0; j < 8; j++ {
			even := slots[i+j*2]
			odd := slots[i+j*2+1]
			if odd != mask {
				t.Fatalf("odd slot %d = %#x, want mask %#x", i+j*2+1, odd, mask)
			}
			b <<= 1
			switch even {
			case 0:
				b |= 1
			case mask:
			default:
				t.Fatalf("even slot %d = %#x, want 0 or %#x", i+j*2, even, mask)
			}
		}
		out = append(out, b)
	}
	return out
}

func newTestDevice(t *testing.T, leds int) (*Device, *fakeEngine) {
	t.Helper()
	e := &fakeEngine{}
	d, err := New(e, Config{Pin: 5, LEDs: leds})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, e
}

// -----------------------------------------------------------------------------
// Construction and validation
// -----------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	e := &fakeEngine{}

	if _, err := New(nil, Config{Pin: 5, LEDs: 4}); !errors.Is(err, ErrNoEngine) {
		t.Errorf("nil engine: got %v", err)
	}
	if _, err := New(e, Config{Pin: 5, LEDs: 0}); !errors.Is(err, ErrLEDCount) {
		t.Errorf("0 leds: got %v", err)
	}
	if _, err := New(e, Config{Pin: 5, LEDs: MaxLEDs + 1}); !errors.Is(err, ErrLEDCount) {
		t.Errorf("%d leds: got %v", MaxLEDs+1, err)
	}
	if _, err := New(e, Config{Pin: -1, LEDs: 4}); !errors.Is(err, ErrPin) {
		t.Errorf("negative pin: got %v", err)
	}
	if _, err := New(e, Config{Pin: 5, LEDs: 4, ShortPulse: 900, LongPulse: 800, BitCellPeriod: 1250}); !errors.Is(err, ErrTiming) {
		t.Errorf("inverted pulses: got %v", err)
	}

	d, err := New(e, Config{Pin: 5, LEDs: MaxLEDs})
	if err != nil {
		t.Fatalf("max leds: %v", err)
	}
	if d.Len() != MaxLEDs {
		t.Errorf("Len = %d, want %d", d.Len(), MaxLEDs)
	}
}

func TestNew_MaskFromPin(t *testing.T) {
	e := &fakeEngine{}
	for _, tc := range []struct {
		pin  int
		mask byte
	}{
		{0, 0x01}, {5, 0x20}, {7, 0x80}, {8, 0x01}, {13, 0x20}, {25, 0x02},
	} {
		d, err := New(e, Config{Pin: tc.pin, LEDs: 1})
		if err != nil {
			t.Fatalf("pin %d: %v", tc.pin, err)
		}
		if d.Mask() != tc.mask {
			t.Errorf("pin %d: mask %#x, want %#x", tc.pin, d.Mask(), tc.mask)
		}
	}
}

func TestNew_OddSlotsPrefilled(t *testing.T) {
	d, _ := newTestDevice(t, 4)
	for h := 0; h < 2; h++ {
		for i := 0; i < SlotsPerHalf; i++ {
			want := byte(0)
			if i%2 == 1 {
				want = d.Mask()
			}
			if d.buf[h][i] != want {
				t.Fatalf("half %d slot %d = %#x, want %#x", h, i, d.buf[h][i], want)
			}
		}
	}
}

func TestSetPixel_OutOfRangePanics(t *testing.T) {
	d, _ := newTestDevice(t, 4)
	for _, idx := range []int{-1, 4, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("SetPixel(%d) did not panic", idx)
				}
			}()
			d.SetPixel(idx, 1, 2, 3)
		}()
	}
}

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

func TestEncodeHalf_KnownPatterns(t *testing.T) {
	const mask = 0x20
	dst := make([]byte, SlotsPerHalf)

	src := []byte{0x00, 0xFF, 0xA5}
	cursor, done := encodeHalf(dst, src, 0, mask)
	if cursor != 3 || !done {
		t.Fatalf("cursor=%d done=%v, want 3 true", cursor, done)
	}

	// 0x00: all even slots mask (early fall).
	for j := 0; j < 8; j++ {
		if dst[j*2] != mask {
			t.Errorf("0x00 bit %d: even slot %#x, want mask", j, dst[j*2])
		}
	}
	// 0xFF: all even slots zero (late fall).
	for j := 0; j < 8; j++ {
		if dst[16+j*2] != 0 {
			t.Errorf("0xFF bit %d: even slot %#x, want 0", j, dst[16+j*2])
		}
	}
	// 0xA5 = 1010_0101, most significant bit first.
	want := []byte{0, mask, 0, mask, mask, 0, mask, 0}
	for j := 0; j < 8; j++ {
		if dst[32+j*2] != want[j] {
			t.Errorf("0xA5 bit %d: even slot %#x, want %#x", j, dst[32+j*2], want[j])
		}
	}
	// Tail beyond the stream is padded as 0 bits.
	for i := 48; i < SlotsPerHalf; i += 2 {
		if dst[i] != mask {
			t.Fatalf("pad slot %d = %#x, want mask", i, dst[i])
		}
	}
}

func TestEncodeHalf_CursorAdvance(t *testing.T) {
	const mask = 0x01
	dst := make([]byte, SlotsPerHalf)
	src := make([]byte, 40)

	cursor, done := encodeHalf(dst, src, 0, mask)
	if cursor != 18 || done {
		t.Fatalf("first half: cursor=%d done=%v, want 18 false", cursor, done)
	}
	cursor, done = encodeHalf(dst, src, cursor, mask)
	if cursor != 36 || done {
		t.Fatalf("second half: cursor=%d done=%v, want 36 false", cursor, done)
	}
	cursor, done = encodeHalf(dst, src, cursor, mask)
	if cursor != 40 || !done {
		t.Fatalf("third half: cursor=%d done=%v, want 40 true", cursor, done)
	}
}

func TestSetPixel_WireOrder(t *testing.T) {
	d, e := newTestDevice(t, 4)
	d.SetPixel(0, 0x11, 0x22, 0x33)
	d.SetPixel(3, 0xAA, 0xBB, 0xCC)

	if !d.Update() {
		t.Fatal("Update returned false")
	}
	got := decodeHalf(t, e.plan.Half[0], d.Mask())
	want := []byte{
		0x11, 0x22, 0x33, // led 0: R,G,B
		0, 0, 0, 0, 0, 0, // leds 1..2
		0xAA, 0xBB, 0xCC, // led 3
	}
	if !bytes.Equal(got[:12], want) {
		t.Fatalf("wire bytes %x, want %x", got[:12], want)
	}
}

func TestSetAll(t *testing.T) {
	d, e := newTestDevice(t, 6)
	d.SetAll(7, 8, 9)
	if !d.Update() {
		t.Fatal("Update returned false")
	}
	got := decodeHalf(t, e.plan.Half[0], d.Mask())
	for i := 0; i < 6; i++ {
		r, g, b := got[3*i], got[3*i+1], got[3*i+2]
		if r != 7 || g != 8 || b != 9 {
			t.Fatalf("led %d = %d,%d,%d want 7,8,9", i, r, g, b)
		}
	}
}

// -----------------------------------------------------------------------------
// Transfer lifecycle
// -----------------------------------------------------------------------------

func TestUpdate_ShortFrameCompletes(t *testing.T) {
	d, e := newTestDevice(t, 4) // 12 source bytes, fits in the first half

	d.SetAll(0x80, 0x40, 0x20)
	if !d.Update() {
		t.Fatal("Update returned false")
	}
	if !d.Busy() {
		t.Fatal("not busy after Update")
	}
	if e.armed != 1 {
		t.Fatalf("armed %d times, want 1", e.armed)
	}

	half0 := e.clockHalf(t, 0)
	got := decodeHalf(t, half0, d.Mask())
	want := bytes.Repeat([]byte{0x80, 0x40, 0x20}, 4)
	if !bytes.Equal(got[:12], want) {
		t.Fatalf("frame bytes %x, want %x", got[:12], want)
	}
	// The tail of the half pads as 0 bits.
	for _, b := range got[12:] {
		if b != 0 {
			t.Fatalf("pad byte %#x, want 0", b)
		}
	}

	if !d.Busy() {
		t.Fatal("stopped before both halves drained")
	}
	e.clockHalf(t, 1)

	if d.Busy() {
		t.Fatal("still busy after drain")
	}
	if e.stopped != 1 {
		t.Fatalf("stopped %d times, want 1", e.stopped)
	}
	frames, underruns := d.Stats()
	if frames != 1 || underruns != 0 {
		t.Fatalf("frames=%d underruns=%d, want 1 0", frames, underruns)
	}
}

func TestUpdate_LongFrameStreams(t *testing.T) {
	const leds = 20 // 60 source bytes: 18+18 primed, refills of 18 and 6
	d, e := newTestDevice(t, leds)
	for i := 0; i < leds; i++ {
		d.SetPixel(i, byte(i), byte(i+100), byte(i+200))
	}
	if !d.Update() {
		t.Fatal("Update returned false")
	}

	var stream []byte
	seq := []int{0, 1, 0, 1} // data halves in transmit order
	for _, h := range seq {
		stream = append(stream, decodeHalf(t, e.clockHalf(t, h), d.Mask())...)
	}

	want := make([]byte, 0, 3*leds)
	for i := 0; i < leds; i++ {
		want = append(want, byte(i), byte(i+100), byte(i+200))
	}
	if !bytes.Equal(stream[:len(want)], want) {
		t.Fatalf("streamed bytes differ\n got %x\nwant %x", stream[:len(want)], want)
	}
	for _, b := range stream[len(want):] {
		if b != 0 {
			t.Fatalf("pad byte %#x, want 0", b)
		}
	}

	// The final data half's completion is the second drain event, so the
	// engine stops the moment the last pixel is on the wire.
	if d.Busy() || e.stopped != 1 {
		t.Fatalf("busy=%v stopped=%d after drain, want false 1", d.Busy(), e.stopped)
	}
	frames, underruns := d.Stats()
	if frames != 1 || underruns != 0 {
		t.Fatalf("frames=%d underruns=%d, want 1 0", frames, underruns)
	}
}

func TestUpdate_BusyIsNoop(t *testing.T) {
	d, e := newTestDevice(t, 4)
	if !d.Update() {
		t.Fatal("first Update returned false")
	}
	if d.Update() {
		t.Fatal("second Update returned true while in flight")
	}
	if e.armed != 1 {
		t.Fatalf("armed %d times, want 1", e.armed)
	}
}

func TestUpdate_ArmFailure(t *testing.T) {
	e := &fakeEngine{armErr: errors.New("no dma channel")}
	d, err := New(e, Config{Pin: 5, LEDs: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Update() {
		t.Fatal("Update returned true on arm failure")
	}
	if d.Busy() {
		t.Fatal("busy latched after arm failure")
	}
}

func TestUpdate_SecondFrame(t *testing.T) {
	d, e := newTestDevice(t, 4)
	d.SetAll(1, 2, 3)
	if !d.Update() {
		t.Fatal("first Update")
	}
	e.clockHalf(t, 0)
	e.clockHalf(t, 1)

	d.SetAll(9, 8, 7)
	if !d.Update() {
		t.Fatal("second Update after completion")
	}
	got := decodeHalf(t, e.plan.Half[0], d.Mask())
	want := bytes.Repeat([]byte{9, 8, 7}, 4)
	if !bytes.Equal(got[:12], want) {
		t.Fatalf("second frame bytes %x, want %x", got[:12], want)
	}
	e.clockHalf(t, 0)
	e.clockHalf(t, 1)
	frames, _ := d.Stats()
	if frames != 2 {
		t.Fatalf("frames=%d, want 2", frames)
	}
}

func TestHalfOut_ReentryCountsUnderrun(t *testing.T) {
	d, e := newTestDevice(t, 20)
	if !d.Update() {
		t.Fatal("Update returned false")
	}

	// Simulate the previous refill still being on the CPU when the next
	// half-complete fires.
	atomic.StoreUint32(&d.refillBusy, 1)
	e.plan.OnHalfOut(0)
	atomic.StoreUint32(&d.refillBusy, 0)

	_, underruns := d.Stats()
	if underruns != 1 {
		t.Fatalf("underruns=%d, want 1", underruns)
	}

	// The transfer still finishes once refills resume.
	e.clockHalf(t, 0)
	e.clockHalf(t, 1)
	e.clockHalf(t, 0)
	e.clockHalf(t, 1)
	if d.Busy() {
		t.Fatal("transfer never drained after underrun")
	}
}

func TestOddSlots_SurviveRefills(t *testing.T) {
	d, e := newTestDevice(t, 40)
	if !d.Update() {
		t.Fatal("Update returned false")
	}
	for !dDone(d, e) {
	}
	for h := 0; h < 2; h++ {
		for i := 1; i < SlotsPerHalf; i += 2 {
			if d.buf[h][i] != d.Mask() {
				t.Fatalf("half %d odd slot %d = %#x, want mask", h, i, d.buf[h][i])
			}
		}
	}
}

// dDone advances one half and reports completion.
func dDone(d *Device, e *fakeEngine) bool {
	if !e.running {
		return true
	}
	h := e.nextHalf
	e.nextHalf ^= 1
	e.plan.OnHalfOut(h)
	return !e.running
}
