package platform

import (
	"sync"
	"time"

	"am2302-go/drivers/am2302"
	"am2302-go/errcode"
	"am2302-go/services/hal/internal/core"
)

// Sim is a ResourceRegistry with a simulated AM2302 behind every pin.
type Sim struct {
	*claims

	mu      sync.Mutex
	sensors map[int]*SimSensor
}

func NewSim() *Sim {
	return &Sim{claims: newClaims(), sensors: map[int]*SimSensor{}}
}

// Sensor returns the simulated sensor wired to pin, creating it on first use.
// A fresh sensor reports 40.0 %RH and 20.0 °C.
func (s *Sim) Sensor(pin int) *SimSensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sensors[pin]
	if !ok {
		ss = &SimSensor{}
		ss.Set(400, 200)
		s.sensors[pin] = ss
	}
	return ss
}

func (s *Sim) ClaimGPIO(devID string, pin int) (core.GPIOHandle, error) {
	if pin < 0 {
		return nil, errcode.UnknownPin
	}
	if err := s.claimGPIO(devID, pin); err != nil {
		return nil, err
	}
	return &simLine{n: pin, s: s.Sensor(pin)}, nil
}

func (s *Sim) ReleaseGPIO(devID string, pin int) { s.releaseGPIO(devID, pin) }

func (s *Sim) ClaimCapture(devID string, pin int) (core.CaptureHandle, error) {
	if pin < 0 {
		return nil, errcode.UnknownPin
	}
	if err := s.claimCapture(devID, pin); err != nil {
		return nil, err
	}
	return &simCapture{s: s.Sensor(pin)}, nil
}

func (s *Sim) ReleaseCapture(devID string, pin int) { s.releaseCapture(devID, pin) }

// ---- simulated sensor ----

type simMode uint8

const (
	modeFrame simMode = iota
	modeSilent
)

// SimSensor scripts what the next handshakes capture.
type SimSensor struct {
	mu       sync.Mutex
	mode     simMode
	frame    am2302.Frame
	keep     int // truncate captures to keep items; <0 keeps all
	low      bool
	armed    bool
	wakes    int
	loaned   int
}

// Set reports a valid reading (raw units) with a correct checksum.
func (s *SimSensor) Set(humidity, temperature uint16) {
	f := am2302.NewFrame(humidity, temperature, 0)
	s.SetFrame(am2302.NewFrame(humidity, temperature, f.Sum()))
}

// SetFrame reports f verbatim, checksum included.
func (s *SimSensor) SetFrame(f am2302.Frame) {
	s.mu.Lock()
	s.mode, s.frame, s.keep = modeFrame, f, -1
	s.mu.Unlock()
}

// CorruptChecksum flips the checksum byte of the current frame.
func (s *SimSensor) CorruptChecksum() {
	s.mu.Lock()
	s.frame ^= 0xFF
	s.mu.Unlock()
}

// Truncate cuts every capture to n items.
func (s *SimSensor) Truncate(n int) {
	s.mu.Lock()
	s.keep = n
	s.mu.Unlock()
}

// Silence makes the sensor ignore wake requests.
func (s *SimSensor) Silence() {
	s.mu.Lock()
	s.mode = modeSilent
	s.mu.Unlock()
}

// Wakes counts completed low/high handshakes.
func (s *SimSensor) Wakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakes
}

// Outstanding counts capture buffers not yet released.
func (s *SimSensor) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaned
}

func (s *SimSensor) drive(high bool) {
	s.mu.Lock()
	if high && s.low {
		s.armed = true
		s.wakes++
	}
	s.low = !high
	s.mu.Unlock()
}

// answer returns the capture for the pending wake, or nil.
func (s *SimSensor) answer() []am2302.Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed || s.mode == modeSilent {
		s.armed = false
		return nil
	}
	s.armed = false
	buf := am2302.EncodeFrame(s.frame)
	if s.keep >= 0 && s.keep < len(buf) {
		buf = buf[:s.keep]
	}
	s.loaned++
	return buf
}

func (s *SimSensor) release() {
	s.mu.Lock()
	if s.loaned > 0 {
		s.loaned--
	}
	s.mu.Unlock()
}

// ---- handles ----

type simLine struct {
	n     int
	s     *SimSensor
	level bool
}

func (l *simLine) Number() int                    { return l.n }
func (l *simLine) ConfigureInput(core.Pull) error { l.level = true; return nil }
func (l *simLine) ConfigureOutput(initial bool) error {
	l.Set(initial)
	return nil
}
func (l *simLine) Set(high bool) { l.level = high; l.s.drive(high) }
func (l *simLine) Get() bool     { return l.level }

type simCapture struct {
	s       *SimSensor
	running bool
}

func (c *simCapture) Start() { c.running = true }
func (c *simCapture) Stop()  { c.running = false }

func (c *simCapture) Receive(timeout time.Duration) []am2302.Pulse {
	if !c.running {
		return nil
	}
	buf := c.s.answer()
	if buf == nil {
		// Nothing on the line: the full window elapses.
		time.Sleep(timeout)
	}
	return buf
}

func (c *simCapture) Release(buf []am2302.Pulse) {
	if buf != nil {
		c.s.release()
	}
}
