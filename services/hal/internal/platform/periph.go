package platform

import (
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"am2302-go/drivers/am2302"
	"am2302-go/errcode"
	"am2302-go/services/hal/internal/core"
)

// segments recorded per capture: host release, ack low/high, 40 bit pairs,
// trailing low, plus slack.
const maxSegments = 2*am2302.CaptureLen + 4

// Periph is a ResourceRegistry over periph.io GPIO. Pin n is looked up as
// "GPIO<n>". Capture is a busy-read edge timer on the same pin.
type Periph struct {
	*claims
	byName func(string) gpio.PinIO

	mu   sync.Mutex
	pins map[int]gpio.PinIO
}

// NewPeriph initialises the periph.io host drivers.
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	return newPeriph(gpioreg.ByName), nil
}

func newPeriph(byName func(string) gpio.PinIO) *Periph {
	return &Periph{claims: newClaims(), byName: byName, pins: map[int]gpio.PinIO{}}
}

func (p *Periph) pin(n int) (gpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if io, ok := p.pins[n]; ok {
		return io, nil
	}
	io := p.byName("GPIO" + strconv.Itoa(n))
	if io == nil {
		return nil, errors.Wrapf(errcode.UnknownPin, "GPIO%d", n)
	}
	p.pins[n] = io
	return io, nil
}

func (p *Periph) ClaimGPIO(devID string, n int) (core.GPIOHandle, error) {
	io, err := p.pin(n)
	if err != nil {
		return nil, err
	}
	if err := p.claimGPIO(devID, n); err != nil {
		return nil, err
	}
	return &periphLine{n: n, io: io}, nil
}

func (p *Periph) ReleaseGPIO(devID string, n int) { p.releaseGPIO(devID, n) }

func (p *Periph) ClaimCapture(devID string, n int) (core.CaptureHandle, error) {
	io, err := p.pin(n)
	if err != nil {
		return nil, err
	}
	if err := p.claimCapture(devID, n); err != nil {
		return nil, err
	}
	return newPeriphCapture(io), nil
}

func (p *Periph) ReleaseCapture(devID string, n int) { p.releaseCapture(devID, n) }

// ---- line ----

// periphLine drives low actively and releases to the pull-up for high, as an
// open-drain bus expects.
type periphLine struct {
	n  int
	io gpio.PinIO
}

func (l *periphLine) Number() int { return l.n }

func (l *periphLine) ConfigureInput(pull core.Pull) error {
	gp := gpio.Float
	switch pull {
	case core.PullUp:
		gp = gpio.PullUp
	case core.PullDown:
		gp = gpio.PullDown
	}
	return errors.Wrapf(l.io.In(gp, gpio.NoEdge), "GPIO%d in", l.n)
}

func (l *periphLine) ConfigureOutput(initial bool) error {
	if initial {
		return l.ConfigureInput(core.PullUp)
	}
	return errors.Wrapf(l.io.Out(gpio.Low), "GPIO%d out", l.n)
}

func (l *periphLine) Set(high bool) {
	if high {
		_ = l.io.In(gpio.PullUp, gpio.NoEdge)
		return
	}
	_ = l.io.Out(gpio.Low)
}

func (l *periphLine) Get() bool { return l.io.Read() == gpio.High }

// ---- capture ----

type periphCapture struct {
	io      gpio.PinIO
	running bool

	levels    []gpio.Level
	durations []time.Duration
	free      chan []am2302.Pulse
}

func newPeriphCapture(io gpio.PinIO) *periphCapture {
	return &periphCapture{
		io:        io,
		levels:    make([]gpio.Level, 0, maxSegments),
		durations: make([]time.Duration, 0, maxSegments),
		free:      make(chan []am2302.Pulse, 2),
	}
}

func (c *periphCapture) Start() {
	_ = c.io.In(gpio.PullUp, gpio.NoEdge)
	c.running = true
}

func (c *periphCapture) Stop() { c.running = false }

// Receive busy-reads the pin, timing each level until timeout or until enough
// segments are seen. It returns nil when the line never went low.
func (c *periphCapture) Receive(timeout time.Duration) []am2302.Pulse {
	if !c.running {
		return nil
	}
	c.levels, c.durations = c.levels[:0], c.durations[:0]

	gcPercent := debug.SetGCPercent(-1)
	deadline := time.Now().Add(timeout)
	prev := c.io.Read()
	level := prev
	for len(c.levels) < maxSegments {
		start := time.Now()
		for level == prev && time.Since(start) < time.Millisecond && time.Now().Before(deadline) {
			level = c.io.Read()
		}
		c.levels = append(c.levels, prev)
		c.durations = append(c.durations, time.Since(start))
		if level == prev {
			break // line idle or window closed
		}
		prev = level
	}
	debug.SetGCPercent(gcPercent)

	return c.pair()
}

// pair folds recorded segments into the capture layout: one host-release
// item (the high segment before the sensor answers), the acknowledgement
// low/high pair, then one low/high pair per data bit.
func (c *periphCapture) pair() []am2302.Pulse {
	first := -1
	for i, l := range c.levels {
		if l == gpio.Low {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}
	buf := c.get()
	release := am2302.Pulse{}
	if first > 0 {
		release.High = micros(c.durations[first-1])
	}
	buf = append(buf, release)
	for i := first; i+1 < len(c.levels) && len(buf) < am2302.CaptureLen; i += 2 {
		buf = append(buf, am2302.Pulse{
			Low:  micros(c.durations[i]),
			High: micros(c.durations[i+1]),
		})
	}
	return buf
}

func (c *periphCapture) get() []am2302.Pulse {
	select {
	case b := <-c.free:
		return b[:0]
	default:
		return make([]am2302.Pulse, 0, am2302.CaptureLen)
	}
}

func (c *periphCapture) Release(buf []am2302.Pulse) {
	if buf == nil {
		return
	}
	select {
	case c.free <- buf:
	default:
	}
}

func micros(d time.Duration) uint16 {
	us := d / time.Microsecond
	if us > 0xFFFF {
		return 0xFFFF
	}
	return uint16(us)
}
