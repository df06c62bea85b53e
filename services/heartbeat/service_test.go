package heartbeat

import (
	"context"
	"testing"
	"time"

	"flightcode-go/bus"
)

func TestBeatsArePublishedRetained(t *testing.T) {
	b := bus.NewBus(8)
	hb := b.NewConnection("heartbeat")
	watch := b.NewConnection("watch")

	sub := watch.Subscribe(bus.T("heartbeat", "state"))
	defer watch.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := (&Service{}).Start(ctx, hb); err != nil {
		t.Fatal(err)
	}

	var last Beat
	for i := 0; i < 2; i++ {
		select {
		case m := <-sub.Channel():
			beat, ok := m.Payload.(Beat)
			if !ok {
				t.Fatalf("payload %T", m.Payload)
			}
			if beat.Seq <= last.Seq {
				t.Fatalf("seq did not advance: %d after %d", beat.Seq, last.Seq)
			}
			last = beat
		case <-time.After(3 * time.Second):
			t.Fatal("no heartbeat")
		}
	}
	if last.UptimeMs <= 0 {
		t.Fatalf("uptime %d", last.UptimeMs)
	}
}
