package core

import (
	"time"

	"am2302-go/drivers/am2302"
)

// ---- GPIO handles ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// GPIOHandle is an exclusively claimed pin. It satisfies am2302.DigitalLine.
type GPIOHandle interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(high bool)
	Get() bool
}

// ---- Pulse capture ----

// CaptureHandle is a pulse-width capture channel bound to one pin.
// It satisfies am2302.PulseCapture.
type CaptureHandle interface {
	Start()
	Stop()
	Receive(timeout time.Duration) []am2302.Pulse
	Release(buf []am2302.Pulse)
}

// ---- Device → HAL telemetry (single shape) ----
// By default an Event is a value update that HAL publishes retained to
// .../value. Err, when non-empty, makes HAL publish only .../status=degraded.

type Event struct {
	Addr    CapAddr
	Payload any    // typed value payload (e.g. types.TemperatureValue)
	TS      int64  // Unix ns; 0 => stamped by HAL
	Err     string // errcode string, e.g. "checksum_mismatch"
}

type EventEmitter interface {
	// Emit tries to enqueue an Event for HAL publication.
	// It must be non-blocking; false indicates a drop under pressure.
	Emit(ev Event) bool
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg ResourceRegistry
	Pub EventEmitter // provided by HAL
}

// ResourceRegistry hands out exclusive hardware handles. A second claim on a
// pin fails with errcode.PinInUse until the owner releases it.
type ResourceRegistry interface {
	ClaimGPIO(devID string, pin int) (GPIOHandle, error)
	ReleaseGPIO(devID string, pin int)

	ClaimCapture(devID string, pin int) (CaptureHandle, error)
	ReleaseCapture(devID string, pin int)
}

// Compile-time checks: claimed handles plug straight into the driver.
var (
	_ am2302.DigitalLine  = GPIOHandle(nil)
	_ am2302.PulseCapture = CaptureHandle(nil)
)
