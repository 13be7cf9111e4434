// Package am2302 provides a driver for the AM2302/DHT22 single-wire
// temperature/humidity sensor.
//
// The host wakes the sensor by holding the data line low, releases it, and a
// capture peripheral records the width of every following low/high period.
// The driver turns that capture into a checksummed 40-bit frame:
//
//	d := am2302.New(line, capture)
//	r, err := d.Read()           // one attempt, no retries
//
// Both hardware facilities are injected (DigitalLine, PulseCapture) so the
// decoder runs unchanged against fakes. A Device is not safe for concurrent
// use; the line and the capture channel belong to one read at a time.
package am2302

import (
	"time"

	"tinygo.org/x/drivers"
)

// DigitalLine drives the sensor's data line.
type DigitalLine interface {
	Set(high bool)
}

// PulseCapture records pulse widths on the data line.
//
// Receive blocks for at most timeout and returns nil if nothing was captured.
// A non-nil buffer is on loan to the caller and must be handed back through
// Release.
type PulseCapture interface {
	Start()
	Stop()
	Receive(timeout time.Duration) []Pulse
	Release(buf []Pulse)
}

// Defaults. A frame of all 1 bits lasts about 5 ms from the sensor's
// response to its trailing low, and a capture that times the edges itself
// spends the whole transaction inside Receive.
const (
	DefaultStartLow       = 800 * time.Microsecond
	DefaultCaptureTimeout = 6 * time.Millisecond
)

// Config controls handshake timing. All fields are optional.
type Config struct {
	// StartLow is how long the line is held low to wake the sensor.
	StartLow time.Duration
	// CaptureTimeout bounds the single wait for the capture buffer. It must
	// cover a full transaction for captures that record edges inside Receive.
	CaptureTimeout time.Duration
}

// Device wraps the line and capture facilities of one sensor.
type Device struct {
	line    DigitalLine
	capture PulseCapture

	cfg  Config
	last Reading // last successful reading
}

// New creates a Device with default timing. It does not touch the line.
func New(line DigitalLine, capture PulseCapture) Device {
	return Device{
		line:    line,
		capture: capture,
		cfg: Config{
			StartLow:       DefaultStartLow,
			CaptureTimeout: DefaultCaptureTimeout,
		},
	}
}

// Configure applies optional timing; zero fields keep their defaults.
func (d *Device) Configure(cfgs ...Config) {
	d.cfg = Config{StartLow: DefaultStartLow, CaptureTimeout: DefaultCaptureTimeout}
	if len(cfgs) == 0 {
		return
	}
	c := cfgs[0]
	if c.StartLow > 0 {
		d.cfg.StartLow = c.StartLow
	}
	if c.CaptureTimeout > 0 {
		d.cfg.CaptureTimeout = c.CaptureTimeout
	}
}

// Config returns the effective configuration.
func (d *Device) Config() Config { return d.cfg }

// Read performs one handshake and decodes the resulting capture.
//
// The sequence is strictly line low, hold, line high, capture start, a single
// bounded wait, capture stop. The capture buffer is released on every path.
func (d *Device) Read() (Reading, error) {
	d.line.Set(false)
	time.Sleep(d.cfg.StartLow)
	d.line.Set(true)

	d.capture.Start()
	buf := d.capture.Receive(d.cfg.CaptureTimeout)
	d.capture.Stop()

	if buf == nil {
		return Reading{}, ErrNoResponse
	}
	defer d.capture.Release(buf)

	r, err := DecodeCapture(buf)
	if err != nil {
		return Reading{}, err
	}
	d.last = r
	return r, nil
}

// Update implements drivers.Sensor. Any request for temperature or humidity
// triggers one Read; the result is cached for the accessors below.
func (d *Device) Update(which drivers.Measurement) error {
	if which&(drivers.Temperature|drivers.Humidity) == 0 {
		return nil
	}
	_, err := d.Read()
	return err
}

// Temperature returns the cached temperature in tenths of °C.
func (d *Device) Temperature() int16 { return d.last.DeciCelsius() }

// Humidity returns the cached humidity in tenths of %RH.
func (d *Device) Humidity() uint16 { return d.last.DeciRelHumidity() }

// Last returns the cached raw reading.
func (d *Device) Last() Reading { return d.last }
