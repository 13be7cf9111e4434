package platform

import (
	"sync"

	"am2302-go/errcode"
)

// claims tracks exclusive pin ownership. GPIO and capture are separate
// claims so one device may hold both on the same pin.
type claims struct {
	mu   sync.Mutex
	gpio map[int]string // pin -> devID
	capt map[int]string // pin -> devID
}

func newClaims() *claims {
	return &claims{gpio: map[int]string{}, capt: map[int]string{}}
}

func (c *claims) claimGPIO(devID string, pin int) error    { return c.take(c.gpio, devID, pin) }
func (c *claims) claimCapture(devID string, pin int) error { return c.take(c.capt, devID, pin) }
func (c *claims) releaseGPIO(devID string, pin int)        { c.drop(c.gpio, devID, pin) }
func (c *claims) releaseCapture(devID string, pin int)     { c.drop(c.capt, devID, pin) }

func (c *claims) take(m map[int]string, devID string, pin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := m[pin]; ok && owner != devID {
		return errcode.PinInUse
	}
	m[pin] = devID
	return nil
}

func (c *claims) drop(m map[int]string, devID string, pin int) {
	c.mu.Lock()
	if owner, ok := m[pin]; ok && owner == devID {
		delete(m, pin)
	}
	c.mu.Unlock()
}
