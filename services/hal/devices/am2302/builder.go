// services/hal/devices/am2302/builder.go
package am2302dev

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"

	"am2302-go/drivers/am2302"
	"am2302-go/errcode"
	"am2302-go/services/hal/internal/core"
	"am2302-go/types"
	"am2302-go/x/mathx"
)

func init() { core.RegisterBuilder("am2302", builder{}) }

// Datasheet operating range.
var (
	minTemp = physic.ZeroCelsius - 40*physic.Celsius
	maxTemp = physic.ZeroCelsius + 80*physic.Celsius
	maxRH   = 100 * physic.PercentRH
)

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	p, err := core.DecodeParams[types.AM2302Params](in.Params)
	if err != nil {
		return nil, err
	}
	if p.Pin < 0 {
		return nil, errcode.InvalidParams
	}
	if p.Domain == "" {
		p.Domain = "env"
	}
	if p.Name == "" {
		p.Name = in.ID
	}

	line, err := in.Res.Reg.ClaimGPIO(in.ID, p.Pin)
	if err != nil {
		return nil, err
	}
	capt, err := in.Res.Reg.ClaimCapture(in.ID, p.Pin)
	if err != nil {
		in.Res.Reg.ReleaseGPIO(in.ID, p.Pin)
		return nil, err
	}

	d := &Device{
		id:   in.ID,
		p:    p,
		line: line,
		pub:  in.Res.Pub,
		reg:  in.Res.Reg,
		log:  log.WithFields(log.Fields{"dev": in.ID, "pin": p.Pin}),
	}
	d.drv = am2302.New(line, capt)
	d.drv.Configure(am2302.Config{
		StartLow:       time.Duration(p.StartLowUs) * time.Microsecond,
		CaptureTimeout: time.Duration(p.TimeoutMs) * time.Millisecond,
	})
	return d, nil
}

type Device struct {
	id   string
	p    types.AM2302Params
	line core.GPIOHandle
	pub  core.EventEmitter
	reg  core.ResourceRegistry
	log  *log.Entry

	// drv is only touched by the read goroutine while busy is held.
	drv  am2302.Device
	busy atomic.Bool
	wg   sync.WaitGroup

	addrTemp core.CapAddr
	addrHum  core.CapAddr
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{
		{
			Domain: d.p.Domain,
			Kind:   types.KindTemperature,
			Name:   d.p.Name,
			Info: types.Info{
				SchemaVersion: 1, Driver: "am2302",
				Detail: types.TemperatureInfo{
					Sensor: "am2302", Pin: d.p.Pin,
					Range: minTemp.String() + ".." + maxTemp.String(),
				},
			},
		},
		{
			Domain: d.p.Domain,
			Kind:   types.KindHumidity,
			Name:   d.p.Name,
			Info: types.Info{
				SchemaVersion: 1, Driver: "am2302",
				Detail: types.HumidityInfo{
					Sensor: "am2302", Pin: d.p.Pin,
					Range: physic.RelativeHumidity(0).String() + ".." + maxRH.String(),
				},
			},
		},
	}
}

func (d *Device) Init(ctx context.Context) error {
	d.addrTemp = core.CapAddr{Domain: d.p.Domain, Kind: types.KindTemperature, Name: d.p.Name}
	d.addrHum = core.CapAddr{Domain: d.p.Domain, Kind: types.KindHumidity, Name: d.p.Name}
	// Idle level is high; the pull-up holds it between reads.
	return d.line.ConfigureOutput(true)
}

func (d *Device) Close() error {
	d.wg.Wait()
	if d.reg != nil {
		d.reg.ReleaseCapture(d.id, d.p.Pin)
		d.reg.ReleaseGPIO(d.id, d.p.Pin)
	}
	return nil
}

func (d *Device) Control(_ core.CapAddr, method string, payload any) (core.EnqueueResult, error) {
	switch method {
	case "read":
		// One transaction owns the line at a time.
		if !d.busy.CompareAndSwap(false, true) {
			readsTotal.WithLabelValues(d.id, string(errcode.Busy)).Inc()
			return core.EnqueueResult{OK: false, Error: errcode.Busy}, nil
		}
		d.wg.Add(1)
		go d.read()
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

func (d *Device) read() {
	defer d.wg.Done()
	defer d.busy.Store(false)

	start := time.Now()
	r, err := d.drv.Read()
	readDuration.WithLabelValues(d.id).Observe(time.Since(start).Seconds())

	if err != nil {
		code := errcode.MapDriverErr(err)
		readsTotal.WithLabelValues(d.id, string(code)).Inc()
		d.log.WithError(err).WithField("code", code).Warn("read failed")
		d.emitErr(string(code), start.UnixNano())
		return
	}
	readsTotal.WithLabelValues(d.id, string(errcode.OK)).Inc()

	decic := r.DeciCelsius()
	// Raw humidity is tenths of %RH.
	rhx100 := mathx.Clamp(int32(r.DeciRelHumidity())*10, 0, 10000)

	d.log.WithFields(log.Fields{"deci_c": decic, "rh_x100": rhx100}).Debug("read ok")

	ts := time.Now().UnixNano()
	d.emit(core.Event{Addr: d.addrTemp, Payload: types.TemperatureValue{DeciC: decic}, TS: ts})
	d.emit(core.Event{Addr: d.addrHum, Payload: types.HumidityValue{RHx100: uint16(rhx100)}, TS: ts})
}

func (d *Device) emitErr(code string, t0 int64) {
	d.emit(core.Event{Addr: d.addrTemp, Err: code, TS: t0})
	d.emit(core.Event{Addr: d.addrHum, Err: code, TS: t0})
}

func (d *Device) emit(ev core.Event) {
	if !d.pub.Emit(ev) {
		eventsDropped.WithLabelValues(d.id).Inc()
	}
}
