// services/hal/hal.go
package hal

import (
	"context"

	"am2302-go/bus"
	"am2302-go/services/hal/internal/core"
	"am2302-go/services/hal/internal/platform"

	// Device builders register themselves.
	_ "am2302-go/services/hal/devices/am2302"
)

// Registry hands out pins and capture channels to device builders.
type Registry = core.ResourceRegistry

// Run blocks until ctx is done. Devices are built from the retained
// config/hal message.
func Run(ctx context.Context, conn *bus.Connection, reg Registry) {
	core.NewHAL(conn, reg).Run(ctx)
}

// NewSimRegistry returns a registry with a simulated sensor on every pin.
func NewSimRegistry() *platform.Sim { return platform.NewSim() }

// NewPeriphRegistry returns a registry backed by the host's GPIO via periph.io.
func NewPeriphRegistry() (*platform.Periph, error) { return platform.NewPeriph() }
