// services/annunciator/annunciator.go
package annunciator

import (
	"context"
	"time"

	"flightcode-go/bus"
	"flightcode-go/types"
)

// The annunciator watches HAL health and mirrors the worst level onto the
// RGB strip: blue while booting, green when ready, amber when any capability
// is degraded, red when the HAL stops or a capability that was up goes down.

type level uint8

const (
	levelBoot level = iota
	levelOK
	levelWarn
	levelFail
)

var colours = map[level]types.StripSetAll{
	levelBoot: {R: 0, G: 0, B: 32},
	levelOK:   {R: 0, G: 32, B: 0},
	levelWarn: {R: 48, G: 24, B: 0},
	levelFail: {R: 64, G: 0, B: 0},
}

const applyPeriod = 250 * time.Millisecond

type capState struct {
	link    types.Link
	wasUp   bool
	errCode string
}

type Service struct {
	conn  *bus.Connection
	strip string // strip capability name, default "nav"

	halLevel string
	caps     map[string]*capState // "domain/kind/name"
	shown    level
	dirty    bool
}

func New(conn *bus.Connection) *Service {
	return &Service{
		conn:  conn,
		strip: "nav",
		caps:  map[string]*capState{},
		shown: 255, // force first apply
		dirty: true,
	}
}

func (s *Service) Run(ctx context.Context) {
	stateSub := s.conn.Subscribe(bus.T("hal", "state"))
	statusSub := s.conn.Subscribe(bus.T("hal", "cap", "+", "+", "+", "status"))
	cfgSub := s.conn.Subscribe(bus.T("config", "annunciator"))
	defer s.conn.Unsubscribe(stateSub)
	defer s.conn.Unsubscribe(statusSub)
	defer s.conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(applyPeriod)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-stateSub.Channel():
			if st, ok := m.Payload.(types.HALState); ok && st.Level != s.halLevel {
				s.halLevel = st.Level
				s.dirty = true
			}
		case m := <-statusSub.Channel():
			s.onStatus(m)
		case m := <-cfgSub.Channel():
			if cfg, ok := m.Payload.(map[string]any); ok {
				if name, ok := cfg["strip"].(string); ok && name != "" {
					s.strip = name
					s.dirty = true
				}
			}
		case <-tick.C:
			if s.dirty {
				s.apply()
			}
		}
	}
}

func (s *Service) onStatus(m *bus.Message) {
	st, ok := m.Payload.(types.CapabilityStatus)
	if ok && m.Topic.Len() == 6 {
		domain, _ := m.Topic.At(2).(string)
		kind, _ := m.Topic.At(3).(string)
		name, _ := m.Topic.At(4).(string)
		if domain == "" || kind == "" || name == "" {
			return
		}
		// The strip's own health must not feed back into its colour.
		if kind == string(types.KindRGBLED) && name == s.strip {
			return
		}
		key := domain + "/" + kind + "/" + name
		cs := s.caps[key]
		if cs == nil {
			cs = &capState{}
			s.caps[key] = cs
		}
		if cs.link != st.Link || cs.errCode != st.Error {
			cs.link = st.Link
			cs.errCode = st.Error
			s.dirty = true
		}
		if st.Link == types.LinkUp {
			cs.wasUp = true
		}
	}
}

// current folds the tracked state into one level. Down-at-boot is not a
// failure: every capability starts down until its first value.
func (s *Service) current() level {
	switch s.halLevel {
	case "stopped", "error":
		return levelFail
	case "ready":
	default:
		return levelBoot
	}
	worst := levelOK
	for _, cs := range s.caps {
		switch cs.link {
		case types.LinkDegraded:
			if worst < levelWarn {
				worst = levelWarn
			}
		case types.LinkDown:
			if cs.wasUp {
				worst = levelFail
			}
		}
	}
	return worst
}

func (s *Service) apply() {
	s.dirty = false
	lv := s.current()
	if lv == s.shown {
		return
	}
	s.shown = lv

	c := colours[lv]
	kind := string(types.KindRGBLED)
	s.conn.Publish(s.conn.NewMessage(
		bus.T("hal", "cap", "io", kind, s.strip, "control", "set_all"), c, false))
	s.conn.Publish(s.conn.NewMessage(
		bus.T("hal", "cap", "io", kind, s.strip, "control", "show"), types.StripShow{}, false))
}

// Start launches the annunciator loop.
func (s *Service) Start(ctx context.Context) {
	go s.Run(ctx)
}
