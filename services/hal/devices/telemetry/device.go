// Package telemetry exposes a UART link as a serial capability. Received
// data is published as non-retained rx events; a client that wants bulk
// transfer opens a session and moves bytes through shared rings instead.
package telemetry

import (
	"context"
	"sync"
	"time"

	"flightcode-go/errcode"
	"flightcode-go/services/hal/internal/core"
	"flightcode-go/services/hal/internal/streamio"
	"flightcode-go/types"
	"flightcode-go/x/shmring"
	"flightcode-go/x/timex"
)

type Device struct {
	id   string
	p    Params
	port core.StreamPort
	res  core.Resources
	rx   *streamio.Worker
	addr core.CapAddr

	cancelReader func()
	pumpDone     chan struct{}

	mu    sync.Mutex
	sess  *session
	snCtr uint32
}

type session struct {
	id       uint32
	rxHandle shmring.Handle
	rxRing   *shmring.Ring
	txHandle shmring.Handle
	txRing   *shmring.Ring
	cancel   context.CancelFunc
	done     chan struct{}
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   types.KindSerial,
		Name:   d.addr.Name,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "telemetry",
			Detail:        types.SerialInfo{Bus: d.p.Bus, Baud: d.p.Baud},
		},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	if d.p.Baud > 0 {
		if err := d.port.SetBaudRate(d.p.Baud); err != nil {
			_ = d.res.Pub.Emit(core.Event{
				Addr: d.addr,
				Err:  string(errcode.MapDriverErr(err)),
				TSms: timex.NowMs(),
			})
			return nil
		}
	}
	cancel, err := d.rx.Register(ctx, streamio.ReaderCfg{
		DevID:         d.id,
		Port:          d.port,
		Mode:          d.p.Mode,
		MaxFrame:      d.p.MaxFrame,
		IdleFlush:     msToDur(d.p.IdleFlush),
		PublishTXEcho: d.p.TXEcho,
	})
	if err != nil {
		return err
	}
	d.cancelReader = cancel
	d.pumpDone = make(chan struct{})
	go d.pump(ctx)
	return nil
}

// pump routes reader frames either to the open session's rx ring or to the
// bus as non-retained events.
func (d *Device) pump(ctx context.Context) {
	defer close(d.pumpDone)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.rx.Events():
			d.mu.Lock()
			s := d.sess
			d.mu.Unlock()
			if s != nil && ev.Dir == "rx" {
				// Partial writes drop the remainder; the ring size bounds
				// how far a stalled client can fall behind.
				s.rxRing.WriteFrom(ev.Data)
				continue
			}
			_ = d.res.Pub.Emit(core.Event{
				Addr:     d.addr,
				Payload:  ev.Data,
				TSms:     ev.TS.UnixMilli(),
				IsEvent:  true,
				EventTag: ev.Dir,
			})
		}
	}
}

func (d *Device) Control(_ core.CapAddr, verb string, payload any) (core.ControlResult, error) {
	switch verb {
	case "send":
		data, ok := payload.([]byte)
		if !ok {
			if s, sok := payload.(string); sok {
				data = []byte(s)
			} else {
				return core.Fail(errcode.InvalidPayload), nil
			}
		}
		if _, err := d.port.Write(data); err != nil {
			return core.Fail(errcode.MapDriverErr(err)), nil
		}
		if d.p.TXEcho {
			d.rx.EmitTX(d.id, data)
		}
		return core.OK(), nil

	case "set_baud":
		p, ec := core.As[types.SerialSetBaud](payload)
		if ec != "" {
			return core.Fail(ec), nil
		}
		if p.Baud == 0 {
			return core.Fail(errcode.InvalidParams), nil
		}
		if err := d.port.SetBaudRate(p.Baud); err != nil {
			return core.Fail(errcode.MapDriverErr(err)), nil
		}
		d.p.Baud = p.Baud
		return core.OK(), nil

	case "set_format":
		p, ec := core.As[types.SerialSetFormat](payload)
		if ec != "" {
			return core.Fail(ec), nil
		}
		if err := d.port.SetFormat(p.DataBits, p.StopBits, p.Parity); err != nil {
			return core.Fail(errcode.MapDriverErr(err)), nil
		}
		return core.OK(), nil

	case "open_session":
		p, ec := core.As[types.SerialSessionOpen](payload)
		if ec != "" {
			return core.Fail(ec), nil
		}
		opened, code := d.openSession(p)
		if code != "" {
			return core.Fail(code), nil
		}
		return core.OKData(opened), nil

	case "close_session":
		d.closeSession()
		return core.OK(), nil

	default:
		return core.Fail(errcode.Unsupported), nil
	}
}

func (d *Device) openSession(p types.SerialSessionOpen) (types.SerialSessionOpened, errcode.Code) {
	rxSize, ok := ringSize(p.RXSize)
	if !ok {
		return types.SerialSessionOpened{}, errcode.InvalidParams
	}
	txSize, ok := ringSize(p.TXSize)
	if !ok {
		return types.SerialSessionOpened{}, errcode.InvalidParams
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		return types.SerialSessionOpened{}, errcode.Busy
	}

	rxH, rxR := shmring.New(rxSize)
	txH, txR := shmring.New(txSize)
	ctx, cancel := context.WithCancel(context.Background())
	d.snCtr++
	s := &session{
		id:       d.snCtr,
		rxHandle: rxH, rxRing: rxR,
		txHandle: txH, txRing: txR,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.sess = s
	go d.txPump(ctx, s)

	return types.SerialSessionOpened{
		SessionID: s.id,
		RXHandle:  uint32(rxH),
		TXHandle:  uint32(txH),
	}, ""
}

func (d *Device) closeSession() {
	d.mu.Lock()
	s := d.sess
	d.sess = nil
	d.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
	shmring.Close(s.rxHandle)
	shmring.Close(s.txHandle)
}

// txPump drains the session's tx ring into the port.
func (d *Device) txPump(ctx context.Context, s *session) {
	defer close(s.done)
	buf := make([]byte, 64)
	for {
		if n := s.txRing.ReadInto(buf); n > 0 {
			if _, err := d.port.Write(buf[:n]); err != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.txRing.Readable():
		}
	}
}

func (d *Device) Close() error {
	d.closeSession()
	if d.cancelReader != nil {
		d.cancelReader()
	}
	d.res.Reg.ReleaseSerial(d.id, core.ResourceID(d.p.Bus))
	return nil
}

func ringSize(n int) (int, bool) {
	if n == 0 {
		return 512, true
	}
	if n < 2 || n&(n-1) != 0 || n > 1<<16 {
		return 0, false
	}
	return n, true
}

func msToDur(ms uint32) time.Duration { return time.Duration(ms) * time.Millisecond }
