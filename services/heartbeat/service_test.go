package heartbeat

import (
	"context"
	"testing"
	"time"

	"am2302-go/bus"
	"am2302-go/types"
)

func TestInterval(t *testing.T) {
	cases := []struct {
		in   any
		want time.Duration
		ok   bool
	}{
		{map[string]any{"interval": 2.0}, 2 * time.Second, true},
		{map[string]any{"interval": 0.5}, 500 * time.Millisecond, true},
		{map[string]any{"interval": 0.0}, 0, false},
		{map[string]any{"interval": "2"}, 0, false},
		{"interval=2", 0, false},
	}
	for _, tc := range cases {
		got, ok := interval(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("interval(%v) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestService_BeatsAtConfiguredInterval(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("heartbeat")
	c := b.NewConnection("test")

	// Retained config is picked up on subscribe.
	c.Publish(c.NewMessage(topicConfigHeartbeat, map[string]any{"interval": 0.01}, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := c.Subscribe(topicHeartbeat)
	if err := (&Service{}).Start(ctx, conn); err != nil {
		t.Fatal(err)
	}

	var last uint64
	for last < 2 {
		select {
		case m := <-sub.Channel():
			hb, ok := m.Payload.(types.Heartbeat)
			if !ok {
				t.Fatalf("payload %T", m.Payload)
			}
			if hb.Seq <= last {
				t.Fatalf("seq went from %d to %d", last, hb.Seq)
			}
			last = hb.Seq
		case <-time.After(time.Second):
			t.Fatalf("only %d beats", last)
		}
	}
}
