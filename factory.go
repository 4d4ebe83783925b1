// Package gpiopin is a Raspberry Pi GPIO pin abstraction layer. A Factory
// owns the hardware subsystem and hands out one Pin per BCM number; each Pin
// multiplexes between digital input/output, software PWM and edge-triggered
// change callbacks while enforcing the board's hardware constraints.
package gpiopin

import (
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Factory creates and owns Pin objects. At most one Pin exists per BCM
// number at any time; repeated GetPin calls for the same number return the
// same instance. Constructing the factory claims the hardware subsystem and
// Close releases it, along with every pin handed out.
type Factory struct {
	hal    HAL
	caps   PinCapabilities
	logger golog.Logger

	mu     sync.Mutex
	pins   map[int]*Pin
	closed bool
}

// New claims the hardware subsystem through hal and returns a factory for
// it. caps supplies board-fixed pull data and may be nil for boards without
// hardwired pulls; a nil logger gets a development logger.
func New(hal HAL, caps PinCapabilities, logger golog.Logger) (*Factory, error) {
	if caps == nil {
		caps = NoCapabilities{}
	}
	if logger == nil {
		logger = golog.NewDevelopmentLogger("gpiopin")
	}
	if err := hal.Init(); err != nil {
		return nil, errors.Wrap(err, "claim GPIO subsystem")
	}
	return &Factory{
		hal:    hal,
		caps:   caps,
		logger: logger,
		pins:   map[int]*Pin{},
	}, nil
}

// GetPin returns the Pin for the given BCM number, constructing it on first
// reference. A new pin comes up as an input with the board-determined pull.
func (f *Factory) GetPin(number int) (*Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("pin factory is closed")
	}
	if pin, ok := f.pins[number]; ok {
		return pin, nil
	}
	pin, err := newPin(f.hal, f.caps, number, f.logger)
	if err != nil {
		return nil, err
	}
	f.pins[number] = pin
	return pin, nil
}

// Close releases every owned pin and then the hardware subsystem itself.
// It is idempotent; a second call is a no-op.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	for _, pin := range f.pins {
		err = multierr.Append(err, pin.Close())
	}
	f.pins = nil
	return multierr.Append(err, f.hal.Close())
}
