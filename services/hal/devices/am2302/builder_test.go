package am2302dev

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"am2302-go/errcode"
	"am2302-go/services/hal/internal/core"
	"am2302-go/services/hal/internal/platform"
	"am2302-go/types"
)

type recorder struct {
	mu  sync.Mutex
	evs []core.Event
	ch  chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 16)} }

func (r *recorder) Emit(ev core.Event) bool {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return true
}

func (r *recorder) wait(t *testing.T, n int) []core.Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(time.Second):
			t.Fatalf("got %d of %d events", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.evs
	r.evs = nil
	return out
}

func build(t *testing.T, sim *platform.Sim, params any) (*Device, *recorder) {
	t.Helper()
	rec := newRecorder()
	dev, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID: "attic", Type: "am2302", Params: params,
		Res: core.Resources{Reg: sim, Pub: rec},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev.(*Device), rec
}

func TestBuild_Defaults(t *testing.T) {
	sim := platform.NewSim()
	d, _ := build(t, sim, types.AM2302Params{Pin: 4, StartLowUs: 1})

	caps := d.Capabilities()
	if len(caps) != 2 {
		t.Fatalf("caps = %d", len(caps))
	}
	for _, c := range caps {
		if c.Domain != "env" || c.Name != "attic" {
			t.Fatalf("cap addr = %s/%s", c.Domain, c.Name)
		}
	}
	ti, ok := caps[0].Info.Detail.(types.TemperatureInfo)
	if !ok || ti.Range != "-40°C..80°C" || ti.Pin != 4 {
		t.Fatalf("temperature info = %#v", caps[0].Info.Detail)
	}
	if d.drv.Config().StartLow != time.Microsecond {
		t.Fatalf("start low = %v", d.drv.Config().StartLow)
	}
}

func TestBuild_JSONParamsAndPinClash(t *testing.T) {
	sim := platform.NewSim()
	d, _ := build(t, sim, []byte(`{"pin":5,"domain":"greenhouse","name":"north"}`))
	if d.addrTemp.Domain != "greenhouse" || d.addrHum.Name != "north" {
		t.Fatalf("addrs = %+v %+v", d.addrTemp, d.addrHum)
	}

	_, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID: "other", Params: types.AM2302Params{Pin: 5},
		Res: core.Resources{Reg: sim, Pub: newRecorder()},
	})
	if !errors.Is(err, errcode.PinInUse) {
		t.Fatalf("clash err = %v", err)
	}
	// A failed build must not leave a stray GPIO claim behind.
	if _, err := sim.ClaimGPIO("third", 6); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.ClaimCapture("third", 6); err != nil {
		t.Fatal(err)
	}
}

func TestBuild_BadParams(t *testing.T) {
	_, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID: "x", Params: "pin 4",
		Res: core.Resources{Reg: platform.NewSim(), Pub: newRecorder()},
	})
	if errcode.Of(err) != errcode.InvalidParams {
		t.Fatalf("err = %v", err)
	}
}

func TestRead_EmitsValues(t *testing.T) {
	sim := platform.NewSim()
	sim.Sensor(4).Set(652, 0x8065)
	d, rec := build(t, sim, types.AM2302Params{Pin: 4, StartLowUs: 1})

	res, err := d.Control(d.addrTemp, "read", nil)
	if err != nil || !res.OK {
		t.Fatalf("control = %+v, %v", res, err)
	}
	evs := rec.wait(t, 2)
	if v, ok := evs[0].Payload.(types.TemperatureValue); !ok || v.DeciC != -101 || evs[0].Addr != d.addrTemp {
		t.Fatalf("temperature event = %+v", evs[0])
	}
	if v, ok := evs[1].Payload.(types.HumidityValue); !ok || v.RHx100 != 6520 || evs[1].Addr != d.addrHum {
		t.Fatalf("humidity event = %+v", evs[1])
	}
	if evs[0].TS == 0 || evs[0].TS != evs[1].TS {
		t.Fatalf("timestamps %d/%d", evs[0].TS, evs[1].TS)
	}
}

func TestRead_HumidityClamped(t *testing.T) {
	sim := platform.NewSim()
	sim.Sensor(4).Set(1200, 100)
	d, rec := build(t, sim, types.AM2302Params{Pin: 4, StartLowUs: 1})

	d.Control(d.addrHum, "read", nil)
	evs := rec.wait(t, 2)
	if v := evs[1].Payload.(types.HumidityValue); v.RHx100 != 10000 {
		t.Fatalf("rh = %d", v.RHx100)
	}
}

func TestRead_ErrorsDegradeBothCaps(t *testing.T) {
	cases := []struct {
		name   string
		script func(*platform.SimSensor)
		want   errcode.Code
	}{
		{"checksum", func(s *platform.SimSensor) { s.CorruptChecksum() }, errcode.ChecksumMismatch},
		{"truncated", func(s *platform.SimSensor) { s.Truncate(41) }, errcode.IncompleteCapture},
		{"silent", func(s *platform.SimSensor) { s.Silence() }, errcode.NoResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sim := platform.NewSim()
			tc.script(sim.Sensor(4))
			d, rec := build(t, sim, types.AM2302Params{Pin: 4, StartLowUs: 1, TimeoutMs: 1})

			d.Control(d.addrTemp, "read", nil)
			evs := rec.wait(t, 2)
			for _, ev := range evs {
				if ev.Err != string(tc.want) || ev.Payload != nil {
					t.Fatalf("event = %+v, want err %q", ev, tc.want)
				}
			}
			if evs[0].Addr != d.addrTemp || evs[1].Addr != d.addrHum {
				t.Fatalf("addrs = %+v, %+v", evs[0].Addr, evs[1].Addr)
			}
			if n := sim.Sensor(4).Outstanding(); n != 0 {
				t.Fatalf("%d buffers outstanding", n)
			}
		})
	}
}

func TestControl_BusyAndUnsupported(t *testing.T) {
	sim := platform.NewSim()
	sim.Sensor(4).Silence()
	// A silent sensor holds the read for the full capture window.
	d, rec := build(t, sim, types.AM2302Params{Pin: 4, StartLowUs: 1, TimeoutMs: 50})

	if res, _ := d.Control(d.addrTemp, "read", nil); !res.OK {
		t.Fatalf("first read rejected: %+v", res)
	}
	if res, _ := d.Control(d.addrHum, "read", nil); res.OK || res.Error != errcode.Busy {
		t.Fatalf("overlapping read = %+v", res)
	}
	rec.wait(t, 2)

	if res, _ := d.Control(d.addrTemp, "calibrate", nil); res.Error != errcode.Unsupported {
		t.Fatalf("unsupported verb = %+v", res)
	}
}
