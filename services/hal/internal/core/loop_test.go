package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"am2302-go/bus"
	"am2302-go/errcode"
	"am2302-go/types"
)

// ---- fakes ----

type fakeDevice struct {
	id     string
	res    Resources
	closed atomic.Bool
	reads  atomic.Int32
	fail   errcode.Code
}

func (d *fakeDevice) ID() string { return d.id }

func (d *fakeDevice) Capabilities() []CapabilitySpec {
	return []CapabilitySpec{{
		Kind: types.KindTemperature,
		Name: "core",
		Info: types.Info{SchemaVersion: 1, Driver: "fake"},
	}}
}

func (d *fakeDevice) Init(ctx context.Context) error { return nil }

func (d *fakeDevice) Control(a CapAddr, verb string, _ any) (EnqueueResult, error) {
	if verb != "read" {
		return EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
	d.reads.Add(1)
	ev := Event{Addr: a, Payload: types.TemperatureValue{DeciC: 215}}
	if d.fail != "" {
		ev = Event{Addr: a, Err: string(d.fail)}
	}
	d.res.Pub.Emit(ev)
	return EnqueueResult{OK: true}, nil
}

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

type fakeBuilder struct {
	last *fakeDevice
	fail errcode.Code
}

func (b *fakeBuilder) Build(ctx context.Context, in BuilderInput) (Device, error) {
	if in.ID == "" {
		return nil, errors.New("missing id")
	}
	b.last = &fakeDevice{id: in.ID, res: in.Res, fail: b.fail}
	return b.last, nil
}

type nopRegistry struct{}

func (nopRegistry) ClaimGPIO(string, int) (GPIOHandle, error)       { return nil, errcode.Unsupported }
func (nopRegistry) ReleaseGPIO(string, int)                         {}
func (nopRegistry) ClaimCapture(string, int) (CaptureHandle, error) { return nil, errcode.Unsupported }
func (nopRegistry) ReleaseCapture(string, int)                      {}

// ---- helpers ----

func startHAL(t *testing.T) (*bus.Connection, context.CancelFunc) {
	t.Helper()
	b := bus.NewBus(16)
	h := NewHAL(b.NewConnection("hal"), nopRegistry{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b.NewConnection("test"), cancel
}

func waitFor(t *testing.T, sub *bus.Subscription, pred func(*bus.Message) bool) *bus.Message {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-sub.Channel():
			if pred(m) {
				return m
			}
		case <-deadline:
			t.Fatalf("timeout waiting on %s", sub.Topic())
			return nil
		}
	}
}

func halLevel(level string) func(*bus.Message) bool {
	return func(m *bus.Message) bool {
		s, ok := m.Payload.(types.HALState)
		return ok && s.Level == level
	}
}

func request(t *testing.T, c *bus.Connection, topic bus.Topic) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := c.RequestWait(ctx, c.NewMessage(topic, nil, false))
	if err != nil {
		t.Fatalf("request %s: %v", topic, err)
	}
	return m.Payload
}

var coreTemp = CapAddr{Domain: "env", Kind: types.KindTemperature, Name: "core"}

// ---- tests ----

func TestHAL_RejectsControlBeforeConfig(t *testing.T) {
	c, _ := startHAL(t)
	state := c.Subscribe(TopicHALState())
	waitFor(t, state, halLevel("idle"))

	got := request(t, c, CapCtrl(coreTemp, "read"))
	if r, ok := got.(types.ErrorReply); !ok || r.Error != string(errcode.HALNotReady) {
		t.Fatalf("reply = %#v", got)
	}
}

func TestHAL_ConfigReadPublishesValue(t *testing.T) {
	fb := &fakeBuilder{}
	RegisterBuilder("fake-ok", fb)

	c, _ := startHAL(t)
	state := c.Subscribe(TopicHALState())
	info := c.Subscribe(CapInfo(coreTemp))
	status := c.Subscribe(CapStatus(coreTemp))
	value := c.Subscribe(CapValue(coreTemp))

	c.Publish(c.NewMessage(TopicConfigHAL(), types.HALConfig{
		Devices: []types.HALDevice{{ID: "t0", Type: "fake-ok"}},
	}, true))

	waitFor(t, state, halLevel("ready"))
	waitFor(t, info, func(m *bus.Message) bool {
		i, ok := m.Payload.(types.Info)
		return ok && i.Driver == "fake"
	})
	waitFor(t, status, func(m *bus.Message) bool {
		s, ok := m.Payload.(types.CapabilityStatus)
		return ok && s.Link == types.LinkDown
	})

	got := request(t, c, CapCtrl(coreTemp, "read"))
	if r, ok := got.(types.OKReply); !ok || !r.OK {
		t.Fatalf("reply = %#v", got)
	}

	m := waitFor(t, value, func(*bus.Message) bool { return true })
	if v, ok := m.Payload.(types.TemperatureValue); !ok || v.DeciC != 215 || !m.Retained {
		t.Fatalf("value = %#v retained=%v", m.Payload, m.Retained)
	}
	waitFor(t, status, func(m *bus.Message) bool {
		s, ok := m.Payload.(types.CapabilityStatus)
		return ok && s.Link == types.LinkUp && s.TSms > 0
	})
}

func TestHAL_ErrorEventDegradesStatus(t *testing.T) {
	fb := &fakeBuilder{fail: errcode.ChecksumMismatch}
	RegisterBuilder("fake-bad", fb)

	c, _ := startHAL(t)
	state := c.Subscribe(TopicHALState())
	status := c.Subscribe(CapStatus(coreTemp))
	value := c.Subscribe(CapValue(coreTemp))

	c.Publish(c.NewMessage(TopicConfigHAL(), types.HALConfig{
		Devices: []types.HALDevice{{ID: "t1", Type: "fake-bad"}},
	}, true))
	waitFor(t, state, halLevel("ready"))

	request(t, c, CapCtrl(coreTemp, "read"))
	m := waitFor(t, status, func(m *bus.Message) bool {
		s, ok := m.Payload.(types.CapabilityStatus)
		return ok && s.Link == types.LinkDegraded
	})
	if s := m.Payload.(types.CapabilityStatus); s.Error != "checksum_mismatch" {
		t.Fatalf("status error = %q", s.Error)
	}
	select {
	case v := <-value.Channel():
		t.Fatalf("value published on failure: %#v", v.Payload)
	default:
	}
}

func TestHAL_UnknownCapabilityAndVerb(t *testing.T) {
	RegisterBuilder("fake-verb", &fakeBuilder{})

	c, _ := startHAL(t)
	state := c.Subscribe(TopicHALState())
	c.Publish(c.NewMessage(TopicConfigHAL(), &types.HALConfig{
		Devices: []types.HALDevice{{ID: "t2", Type: "fake-verb"}},
	}, true))
	waitFor(t, state, halLevel("ready"))

	missing := CapAddr{Domain: "env", Kind: types.KindHumidity, Name: "nope"}
	if r, ok := request(t, c, CapCtrl(missing, "read")).(types.ErrorReply); !ok || r.Error != string(errcode.UnknownCapability) {
		t.Fatalf("unknown capability reply = %#v", r)
	}
	if r, ok := request(t, c, CapCtrl(coreTemp, "reset")).(types.ErrorReply); !ok || r.Error != string(errcode.Unsupported) {
		t.Fatalf("unsupported verb reply = %#v", r)
	}
}

func TestHAL_ClosesDevicesOnStop(t *testing.T) {
	fb := &fakeBuilder{}
	RegisterBuilder("fake-close", fb)

	c, cancel := startHAL(t)
	state := c.Subscribe(TopicHALState())
	c.Publish(c.NewMessage(TopicConfigHAL(), types.HALConfig{
		Devices: []types.HALDevice{{ID: "t3", Type: "fake-close"}},
	}, true))
	waitFor(t, state, halLevel("ready"))

	cancel()
	waitFor(t, state, halLevel("stopped"))
	if !fb.last.closed.Load() {
		t.Fatal("device not closed on shutdown")
	}
}

func TestHAL_PollerDrivesReads(t *testing.T) {
	fb := &fakeBuilder{}
	RegisterBuilder("fake-poll", fb)

	c, _ := startHAL(t)
	value := c.Subscribe(CapValue(coreTemp))
	c.Publish(c.NewMessage(TopicConfigHAL(), types.HALConfig{
		Devices: []types.HALDevice{{ID: "t4", Type: "fake-poll"}},
		Pollers: []types.PollSpec{{
			Domain: "env", Kind: types.KindTemperature, Name: "core",
			Verb: "read", IntervalMs: 5,
		}},
	}, true))

	waitFor(t, value, func(*bus.Message) bool { return true })
	if fb.last.reads.Load() == 0 {
		t.Fatal("poller issued no reads")
	}
}

func TestHAL_StopsWhenDisconnected(t *testing.T) {
	fb := &fakeBuilder{}
	RegisterBuilder("fake-disc", fb)

	b := bus.NewBus(16)
	halConn := b.NewConnection("hal")
	h := NewHAL(halConn, nopRegistry{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := b.NewConnection("test")
	state := c.Subscribe(TopicHALState())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	waitFor(t, state, halLevel("idle"))
	c.Publish(c.NewMessage(TopicConfigHAL(), types.HALConfig{
		Devices: []types.HALDevice{{ID: "t5", Type: "fake-disc"}},
	}, true))
	waitFor(t, state, halLevel("ready"))

	halConn.Disconnect()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after disconnect")
	}
	m := waitFor(t, state, halLevel("stopped"))
	if s := m.Payload.(types.HALState); s.Status != "disconnected" {
		t.Fatalf("stopped status = %q", s.Status)
	}
	if !fb.last.closed.Load() {
		t.Fatal("device not closed on disconnect")
	}
}
