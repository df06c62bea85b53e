// Package ms5611 provides a driver for the MS5611 barometric pressure
// sensor. It exposes a two-phase measurement API:
//
//	d.Trigger()              // start a conversion (fast)
//	err := d.Collect(&s)     // fetch when ready; returns ErrNotReady while busy
//
// A full sample needs two conversions (temperature then pressure), so
// Collect returns ErrNotReady until both have completed; the measure loop
// just keeps calling it. For convenience, d.Read() performs trigger +
// bounded polling until ready.
//
// All compensation arithmetic is integer-only, per the datasheet's first and
// second order algorithm. Results are hundredths of °C and Pascals.
package ms5611

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// I2C address (CSB low; 0x76 when CSB is held high).
const Address = 0x77

// Commands.
const (
	cmdReset     = 0x1E
	cmdConvertD1 = 0x40 // pressure, OR with osr offset
	cmdConvertD2 = 0x50 // temperature, OR with osr offset
	cmdADCRead   = 0x00
	cmdPROMRead  = 0xA0 // OR with coefficient index << 1
)

// Oversampling ratios with their nominal conversion times.
type OSR uint8

const (
	OSR256 OSR = iota
	OSR512
	OSR1024
	OSR2048
	OSR4096
)

func (o OSR) cmdOffset() byte { return byte(o) << 1 }

// ConversionTime returns the worst-case ADC time for the ratio.
func (o OSR) ConversionTime() time.Duration {
	switch o {
	case OSR256:
		return 600 * time.Microsecond
	case OSR512:
		return 1170 * time.Microsecond
	case OSR1024:
		return 2280 * time.Microsecond
	case OSR2048:
		return 4540 * time.Microsecond
	default:
		return 9040 * time.Microsecond
	}
}

// Errors returned by the driver.
var (
	ErrTimeout  = errors.New("ms5611: timeout")
	ErrNotReady = errors.New("ms5611: not ready")
	ErrPROM     = errors.New("ms5611: prom crc mismatch")
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x77 if zero.
	Address uint16
	// Oversampling defaults to OSR4096.
	Oversampling OSR
	// PollInterval is used by Read() between Collect() attempts. Default 3 ms.
	PollInterval time.Duration
	// CollectTimeout bounds the total wait in Read(). Default 100 ms.
	CollectTimeout time.Duration
}

// conversion phases
const (
	phaseIdle = iota
	phaseTemp
	phasePressure
)

// Device wraps an I2C connection to an MS5611 device.
type Device struct {
	bus     drivers.I2C
	Address uint16

	cfg  Config
	prom [8]uint16 // factory data + C1..C6 + CRC word

	phase     uint8
	started   time.Time
	d1        uint32 // raw pressure
	d2        uint32 // raw temperature
	buf       [3]byte
}

// New creates a new MS5611 connection. The I2C bus must already be
// configured. This function only creates the Device object; it does not
// touch the device.
func New(bus drivers.I2C) Device {
	return Device{
		bus:     bus,
		Address: Address,
	}
}

// Configure resets the device, reads the calibration PROM and verifies its
// CRC. It must be called before the first measurement.
func (d *Device) Configure(cfgs ...Config) error {
	c := Config{}
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.Address != 0 {
		d.Address = c.Address
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Millisecond
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = 100 * time.Millisecond
	}
	d.cfg = c

	if err := d.bus.Tx(d.Address, []byte{cmdReset}, nil); err != nil {
		return err
	}
	// Datasheet: reload of the calibration PROM takes ~2.8 ms.
	time.Sleep(3 * time.Millisecond)

	for i := 0; i < 8; i++ {
		if err := d.bus.Tx(d.Address, []byte{cmdPROMRead | byte(i<<1)}, d.buf[:2]); err != nil {
			return err
		}
		d.prom[i] = uint16(d.buf[0])<<8 | uint16(d.buf[1])
	}
	if crc4(d.prom) != byte(d.prom[7]&0x0F) {
		return ErrPROM
	}

	d.phase = phaseIdle
	return nil
}

// Trigger starts the temperature conversion of a new sample. It is a quick
// command write with no blocking.
func (d *Device) Trigger() error {
	if err := d.bus.Tx(d.Address, []byte{cmdConvertD2 | d.cfg.Oversampling.cmdOffset()}, nil); err != nil {
		return err
	}
	d.phase = phaseTemp
	d.started = time.Now()
	return nil
}

// TriggerHint returns the nominal time to wait before attempting Collect.
// Two conversions are needed, so a full sample takes twice this.
func (d *Device) TriggerHint() time.Duration {
	return d.cfg.Oversampling.ConversionTime()
}

// Collect advances the conversion state machine. It returns ErrNotReady
// while either conversion is still in flight, and fills out once both raw
// values have been read and compensated.
func (d *Device) Collect(out *Sample) error {
	switch d.phase {
	case phaseTemp:
		if time.Since(d.started) < d.cfg.Oversampling.ConversionTime() {
			return ErrNotReady
		}
		raw, err := d.readADC()
		if err != nil {
			return err
		}
		d.d2 = raw
		// Chain straight into the pressure conversion.
		if err := d.bus.Tx(d.Address, []byte{cmdConvertD1 | d.cfg.Oversampling.cmdOffset()}, nil); err != nil {
			return err
		}
		d.phase = phasePressure
		d.started = time.Now()
		return ErrNotReady

	case phasePressure:
		if time.Since(d.started) < d.cfg.Oversampling.ConversionTime() {
			return ErrNotReady
		}
		raw, err := d.readADC()
		if err != nil {
			return err
		}
		d.d1 = raw
		d.phase = phaseIdle
		if out != nil {
			out.Pa, out.CentiC = compensate(d.prom, d.d1, d.d2)
		}
		return nil

	default:
		// No conversion in flight; treat as a retryable state so pollers
		// recover by triggering again.
		return ErrNotReady
	}
}

// Read performs a full measurement cycle: Trigger followed by bounded
// polling until Collect succeeds or the timeout elapses.
func (d *Device) Read(out *Sample) error {
	if err := d.Trigger(); err != nil {
		return err
	}
	deadline := time.Now().Add(d.cfg.CollectTimeout)
	for {
		err := d.Collect(out)
		switch err {
		case nil:
			return nil
		case ErrNotReady:
			if time.Now().After(deadline) {
				return ErrTimeout
			}
			time.Sleep(d.cfg.PollInterval)
			continue
		default:
			return err
		}
	}
}

func (d *Device) readADC() (uint32, error) {
	if err := d.bus.Tx(d.Address, []byte{cmdADCRead}, d.buf[:3]); err != nil {
		return 0, err
	}
	return uint32(d.buf[0])<<16 | uint32(d.buf[1])<<8 | uint32(d.buf[2]), nil
}

// Sample holds one compensated reading.
type Sample struct {
	Pa     int32 // pressure in Pascals
	CentiC int32 // temperature in hundredths of °C
}

// compensate applies the datasheet's first and second order algorithm.
func compensate(prom [8]uint16, d1, d2 uint32) (pa, centiC int32) {
	c1 := int64(prom[1])
	c2 := int64(prom[2])
	c3 := int64(prom[3])
	c4 := int64(prom[4])
	c5 := int64(prom[5])
	c6 := int64(prom[6])

	dT := int64(d2) - c5<<8
	temp := 2000 + (dT*c6)>>23

	off := c2<<16 + (c4*dT)>>7
	sens := c1<<15 + (c3*dT)>>8

	// Second order compensation below 20°C, and again below -15°C.
	if temp < 2000 {
		t2 := (dT * dT) >> 31
		d := temp - 2000
		off2 := 5 * d * d / 2
		sens2 := 5 * d * d / 4
		if temp < -1500 {
			e := temp + 1500
			off2 += 7 * e * e
			sens2 += 11 * e * e / 2
		}
		temp -= t2
		off -= off2
		sens -= sens2
	}

	p := ((int64(d1)*sens)>>21 - off) >> 15

	return int32(p), int32(temp)
}

// crc4 computes the PROM checksum per the datasheet's reference routine.
func crc4(prom [8]uint16) byte {
	var rem uint16
	prom[7] &= 0xFF00 // strip the stored CRC
	for i := 0; i < 16; i++ {
		if i%2 == 1 {
			rem ^= prom[i>>1] & 0x00FF
		} else {
			rem ^= prom[i>>1] >> 8
		}
		for b := 8; b > 0; b-- {
			if rem&0x8000 != 0 {
				rem = rem<<1 ^ 0x3000
			} else {
				rem <<= 1
			}
		}
	}
	return byte(rem >> 12)
}
