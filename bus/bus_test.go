// bus/bus_test.go
package bus

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("heartbeat", "state"))

	conn.Publish(conn.NewMessage(T("heartbeat", "state"), "beat", false))

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "beat" {
			t.Errorf("payload = %v, want beat", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestRetainedReplayOnSubscribe(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("config", "hal"), "boot-config", true))

	// Late subscriber still sees the retained value.
	sub := conn.Subscribe(T("config", "hal"))

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "boot-config" {
			t.Errorf("payload = %v, want boot-config", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sName := c.Subscribe(T("hal", "cap", "io", "led", "+", "value"))
	sKind := c.Subscribe(T("hal", "cap", "io", "+", "+", "value"))
	sOther := c.Subscribe(T("hal", "cap", "env", "+", "+", "value"))

	c.Publish(b.NewMessage(T("hal", "cap", "io", "led", "onboard", "value"), "v1", false))

	expectPayload(t, sName, "v1")
	expectPayload(t, sKind, "v1")
	expectSilence(t, sOther)

	c.Publish(b.NewMessage(T("hal", "cap", "io", "rgbled", "nav", "value"), "v2", false))

	expectPayload(t, sKind, "v2")
	expectSilence(t, sName)
	expectSilence(t, sOther)

	// Short topic does not match a longer pattern.
	c.Publish(b.NewMessage(T("hal", "cap", "io"), "v3", false))
	expectSilence(t, sName)
	expectSilence(t, sKind)
	expectSilence(t, sOther)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sHalHash := c.Subscribe(T("hal", "#"))
	sHash := c.Subscribe(T("#"))
	sCapHash := c.Subscribe(T("hal", "cap", "#"))
	sExact := c.Subscribe(T("hal"))

	c.Publish(b.NewMessage(T("hal"), "p1", false))
	expectPayload(t, sHalHash, "p1")
	expectPayload(t, sHash, "p1")
	expectPayload(t, sExact, "p1")
	expectSilence(t, sCapHash)

	c.Publish(b.NewMessage(T("hal", "state"), "p2", false))
	expectPayload(t, sHalHash, "p2")
	expectPayload(t, sHash, "p2")
	expectSilence(t, sCapHash)
	expectSilence(t, sExact)

	c.Publish(b.NewMessage(T("hal", "cap", "env"), "p3", false))
	expectPayload(t, sHalHash, "p3")
	expectPayload(t, sHash, "p3")
	expectPayload(t, sCapHash, "p3")
	expectSilence(t, sExact)
}

func TestWildcard_RetainedReplay(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("hal"), "r0", true))
	c.Publish(b.NewMessage(T("hal", "state"), "r1", true))
	c.Publish(b.NewMessage(T("hal", "state", "detail"), "r2", true))
	c.Publish(b.NewMessage(T("hal", "cap"), "r3", true))

	sAll := c.Subscribe(T("hal", "#"))
	assertUnorderedEqual(t, drainPayloads(t, sAll, 4), []string{"r0", "r1", "r2", "r3"})

	sPlusHash := c.Subscribe(T("hal", "+", "#"))
	assertUnorderedEqual(t, drainPayloads(t, sPlusHash, 3), []string{"r1", "r2", "r3"})

	sPlus := c.Subscribe(T("hal", "+"))
	assertUnorderedEqual(t, drainPayloads(t, sPlus, 2), []string{"r1", "r3"})
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("config", "hal"), "stale", true))
	c.Publish(b.NewMessage(T("config", "heartbeat"), "keep", true))

	c.Publish(b.NewMessage(T("config", "hal"), nil, true))

	s := c.Subscribe(T("config", "#"))
	got := drainPayloads(t, s, 1)

	if len(got) != 1 || got[0] != "keep" {
		t.Fatalf("after clear got %v, want only keep", got)
	}
}

// -----------------------------------------------------------------------------
// Request / reply
// -----------------------------------------------------------------------------

func TestRequestWait_RoundTrip(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")
	devConn := b.NewConnection("device")

	ctrl := T("hal", "cap", "io", "led", "onboard", "control", "set")
	ctrlSub := devConn.Subscribe(ctrl)
	defer devConn.Unsubscribe(ctrlSub)

	go func() {
		if msg, ok := <-ctrlSub.Channel(); ok {
			devConn.Reply(msg, "ok", false)
		}
	}()

	req := b.NewMessage(ctrl, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := reqConn.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if got, ok := reply.Payload.(string); !ok || got != "ok" {
		t.Fatalf("reply payload: %#v", reply.Payload)
	}
	if len(req.ReplyTo) == 0 {
		t.Fatal("request lacks ReplyTo after RequestWait")
	}
	if !topicsEqual(reply.Topic, req.ReplyTo) {
		t.Fatalf("reply topic %v != request ReplyTo %v", reply.Topic, req.ReplyTo)
	}
}

func TestRequestWait_ContextExpires(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")

	// Nobody is subscribed on this verb.
	req := b.NewMessage(T("hal", "cap", "env", "pressure", "baro0", "control", "read"), nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := reqConn.RequestWait(ctx, req); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestRequest_ManualReplySubscription(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")
	devConn := b.NewConnection("device")

	ctrl := T("hal", "cap", "env", "pressure", "baro0", "control", "read")
	ctrlSub := devConn.Subscribe(ctrl)
	defer devConn.Unsubscribe(ctrlSub)

	req := b.NewMessage(ctrl, nil, false)
	replySub := reqConn.Request(req)
	defer reqConn.Unsubscribe(replySub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if msg, ok := <-ctrlSub.Channel(); ok {
			devConn.Reply(msg, map[string]any{"pa": 100009}, false)
		}
	}()

	select {
	case got := <-replySub.Channel():
		m, ok := got.Payload.(map[string]any)
		if !ok {
			t.Fatalf("reply type: %#v", got.Payload)
		}
		if m["pa"] != 100009 {
			t.Fatalf("reply content: %#v", m)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for manual reply")
	}

	<-done
}

func TestTopic_NonComparableTokenPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-comparable token")
		}
	}()
	_ = T([]byte{1, 2, 3})
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func topicsEqual(a, b Topic) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func expectPayload(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			t.Fatalf("payload = %v, want %q", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectSilence(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
			out = append(out, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drained %d messages, want %d (%v)", len(out), n, out)
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}
