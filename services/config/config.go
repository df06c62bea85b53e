package config

import (
	"context"
	"errors"

	"flightcode-go/bus"
	"flightcode-go/x/timex"

	"github.com/andreyvit/tinyjson"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// State is published retained on config/state after each (re)publish.
type State struct {
	Device string `json:"device"`
	Keys   int    `json:"keys"`
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ms"`
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig reads the device config from embedded data and publishes each
// top-level key as a retained message on config/<key>.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) (int, error) {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return 0, errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return 0, errors.New("no embedded config for device: " + device)
	}

	r := tinyjson.Raw(raw)
	val := r.Value() // should be a map[string]any
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return 0, errors.New("embedded config is not a JSON object")
	}

	for k, v := range m {
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		})
	}
	return len(m), nil
}

func (s *ConfigService) publishAndReport(ctx context.Context, conn *bus.Connection) {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	n, err := s.publishConfig(ctx, conn)
	st := State{Device: device, Keys: n, TS: timex.NowMs()}
	if err != nil {
		st.Error = err.Error()
	}
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "state"), st, true))
}

// serviceLoop publishes once at startup and again whenever something asks on
// config/reload (e.g. after a GCS pushes new values into the store).
func (s *ConfigService) serviceLoop(ctx context.Context, conn *bus.Connection) {
	reload := conn.Subscribe(bus.T(configPrefix, "reload"))
	defer conn.Unsubscribe(reload)

	s.publishAndReport(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case <-reload.Channel():
			s.publishAndReport(ctx, conn)
		}
	}
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go s.serviceLoop(ctx, conn)
}
