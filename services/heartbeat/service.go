package heartbeat

import (
	"context"
	"time"

	"flightcode-go/bus"
	"flightcode-go/x/timex"
)

var topicConfigHeartbeat = bus.Topic{"config", "heartbeat"}

// Beat is published retained on heartbeat/state every interval so the ground
// link (and anything else watching the bus) can detect a hung firmware.
type Beat struct {
	Seq      uint32 `json:"seq"`
	UptimeMs int64  `json:"uptime_ms"`
	TS       int64  `json:"ts_ms"`
}

type Service struct{}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	start := time.Now()
	var seq uint32

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("Info: heartbeat service stopping")
			return
		case <-tick.C:
			seq++
			conn.Publish(conn.NewMessage(bus.T("heartbeat", "state"), Beat{
				Seq:      seq,
				UptimeMs: int64(time.Since(start) / time.Millisecond),
				TS:       timex.NowMs(),
			}, true))
		case msg := <-cfgSub.Channel():
			if m, ok := msg.Payload.(map[string]any); ok {
				if iv, ok := m["interval"]; ok {
					if interval, ok := iv.(float64); ok && interval > 0 {
						tick.Reset(time.Duration(interval) * time.Second)
						println("Info: heartbeat interval set to", int(interval), "seconds")
					}
				}
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
