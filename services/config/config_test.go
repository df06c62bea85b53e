// config/config_test.go
package config

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"flightcode-go/bus"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	// Override lookup for this test.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "fc1" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"annunciator": {"strip": "nav"}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	// Arrange bus and service.
	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	// Start publisher with device ID in context.
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "fc1")
	svc.Start(ctx, conn)

	// Subscribe; retained messages should arrive immediately.
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})

	wantCount := 3 // mode, debug, annunciator
	got := map[string]any{}
	var st *State

	deadline := time.Now().Add(600 * time.Millisecond)
	for (len(got) < wantCount || st == nil) && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) < 2 {
				t.Fatalf("unexpected topic length: %#v", m.Topic)
			}
			key, ok := m.Topic[1].(string)
			if !ok {
				t.Fatalf("topic[1] type %T, want string", m.Topic[1])
			}
			if key == "state" {
				if s, ok := m.Payload.(State); ok {
					st = &s
				}
				continue
			}
			got[key] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != wantCount {
		t.Fatalf("expected %d retained messages, got %d (%v)", wantCount, len(got), got)
	}

	// Assert payloads without reflect.
	if s, ok := got["mode"].(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v, want \"dev\"", got["mode"])
	}
	if bval, ok := got["debug"].(bool); !ok || bval != true {
		t.Fatalf("debug payload = %#v, want true", got["debug"])
	}
	if m, ok := got["annunciator"].(map[string]any); !ok {
		t.Fatalf("annunciator payload type = %T, want map[string]any", got["annunciator"])
	} else if strip, ok := m["strip"].(string); !ok || strip != "nav" {
		t.Fatalf("annunciator.strip = %#v, want \"nav\"", m["strip"])
	}

	if st == nil {
		t.Fatal("missing config/state")
	}
	if st.Device != "fc1" || st.Keys != wantCount || st.Error != "" {
		t.Fatalf("state = %+v", *st)
	}
}

func TestConfig_ReloadRepublishes(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	var calls atomic.Int32
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		calls.Add(1)
		return []byte(`{"mode": "dev"}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-reload")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "fc1")
	svc.Start(ctx, conn)

	// Let the startup publish land, then ask for a reload.
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "reload"), nil, false))

	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("lookup called %d times, want 2", calls.Load())
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	// No device ID in context
	if _, err := svc.publishConfig(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	// Override lookup to simulate absence.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if _, err := svc.publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}
