package gpiopin

import (
	"fmt"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
)

// Pin is the live state machine for one GPIO pin: its function, pull,
// digital or PWM state, and its edge detection configuration. Pins are
// created by Factory.GetPin and released by Close; every attribute is read
// and written through a method so the invariants between attributes are
// enforced at a single point.
//
// A Pin is an independent unit of mutable state: operations on different
// pins never contend. Configuration calls on the same pin are expected to
// come from a single owner; the only cross-goroutine guarantee is that the
// change callback always observes a fully consistent bounce/edges pair.
type Pin struct {
	number int
	hal    HAL
	logger golog.Logger

	fixedPull    Pull
	hasFixedPull bool

	mu        sync.Mutex
	function  Function // last direction configured through SetFunction
	pull      Pull
	lastLevel bool // shadow of the last digital write
	frequency *physic.Frequency
	duty      float64 // fraction in [0, 1], meaningful while frequency != nil
	pwm       PWMChannel
	closed    bool

	detector edgeDetector
}

// newPin claims the pin as an input with the board-determined pull.
func newPin(hal HAL, caps PinCapabilities, number int, logger golog.Logger) (*Pin, error) {
	pull := PullFloating
	fixed, hasFixed := caps.FixedPull(number)
	if hasFixed {
		pull = fixed
	}
	if err := hal.SetupInput(number, pull); err != nil {
		return nil, errors.Wrapf(err, "setup GPIO%d as input", number)
	}
	p := &Pin{
		number:       number,
		hal:          hal,
		logger:       logger,
		fixedPull:    fixed,
		hasFixedPull: hasFixed,
		function:     FunctionInput,
		pull:         pull,
	}
	p.detector = edgeDetector{
		hal:    hal,
		number: number,
		logger: logger,
		edges:  EdgesBoth,
	}
	return p, nil
}

// Number returns the pin's BCM number.
func (p *Pin) Number() int { return p.number }

func (p *Pin) String() string { return fmt.Sprintf("GPIO%d", p.number) }

// Function reports the mode the hardware says the pin is muxed to. Pins
// claimed by other subsystems read back as i2c, spi, serial or unknown.
func (p *Pin) Function() Function {
	fn, err := p.hal.Function(p.number)
	if err != nil {
		p.logger.Debugw("function read-back failed", "pin", p.String(), "error", err)
		return FunctionUnknown
	}
	return fn
}

// SetFunction reconfigures the pin's direction. Only input and output can be
// requested; anything else fails with ErrInvalidFunction. Switching to
// output forces the pull to floating. Switching to input restores the
// board-fixed pull when the pin has one, otherwise the last recorded pull.
func (p *Pin) SetFunction(value Function) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch value {
	case FunctionInput:
		pull := p.pull
		if p.hasFixedPull {
			pull = p.fixedPull
		}
		if err := p.hal.SetupInput(p.number, pull); err != nil {
			return errors.Wrapf(err, "%s: set function input", p)
		}
		p.function = FunctionInput
		p.pull = pull
	case FunctionOutput:
		if err := p.hal.SetupOutput(p.number, p.lastLevel); err != nil {
			return errors.Wrapf(err, "%s: set function output", p)
		}
		p.function = FunctionOutput
		p.pull = PullFloating
	default:
		return errors.Wrapf(ErrInvalidFunction, "%s: function %q", p, string(value))
	}
	p.logger.Debugw("function changed", "pin", p.String(), "function", string(value))
	return nil
}

// Pull returns the pin's recorded bias.
func (p *Pin) Pull() Pull {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pull
}

// SetPull reconfigures the input bias resistor. The pin must currently be an
// input, and a board-fixed pull can only be restated, never overridden.
func (p *Pin) SetPull(value Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.function != FunctionInput {
		return errors.Wrapf(ErrFixedPull, "cannot set pull on non-input pin %s", p)
	}
	if p.hasFixedPull && value != p.fixedPull {
		return errors.Wrapf(ErrFixedPull, "%s has a physical pull-%s resistor", p, string(p.fixedPull))
	}
	switch value {
	case PullUp, PullDown, PullFloating:
	default:
		return errors.Wrapf(ErrInvalidPull, "%s: pull %q", p, string(value))
	}
	if err := p.hal.SetupInput(p.number, value); err != nil {
		return errors.Wrapf(err, "%s: set pull %q", p, string(value))
	}
	p.pull = value
	return nil
}

// OutputWithState configures the pin as an output already driving the given
// level in a single hardware operation, avoiding a glitch between the
// direction change and the first write. Device classes use it at
// construction time.
func (p *Pin) OutputWithState(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.hal.SetupOutput(p.number, level); err != nil {
		return errors.Wrapf(err, "%s: set output with state", p)
	}
	p.function = FunctionOutput
	p.pull = PullFloating
	p.lastLevel = level
	return nil
}

// InputWithPull configures the pin as an input with the given pull in a
// single operation, under the same fixed-pull rules as SetPull.
func (p *Pin) InputWithPull(pull Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasFixedPull && pull != p.fixedPull {
		return errors.Wrapf(ErrFixedPull, "%s has a physical pull-%s resistor", p, string(p.fixedPull))
	}
	switch pull {
	case PullUp, PullDown, PullFloating:
	default:
		return errors.Wrapf(ErrInvalidPull, "%s: pull %q", p, string(pull))
	}
	if err := p.hal.SetupInput(p.number, pull); err != nil {
		return errors.Wrapf(err, "%s: set input with pull %q", p, string(pull))
	}
	p.function = FunctionInput
	p.pull = pull
	return nil
}

// State returns the pin's level as 0 or 1 in digital mode, or the current
// duty cycle in [0, 1] while PWM is active.
func (p *Pin) State() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frequency != nil {
		return p.duty, nil
	}
	level, err := p.hal.Read(p.number)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: read", p)
	}
	if level {
		return 1, nil
	}
	return 0, nil
}

// SetState drives the pin. While PWM is active the value is a duty cycle in
// [0, 1]; otherwise it must be exactly 0 or 1 and the pin must be an output.
func (p *Pin) SetState(value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frequency != nil {
		if value < 0 || value > 1 {
			return errors.Wrapf(ErrInvalidState, "%s: duty cycle %v", p, value)
		}
		if err := p.pwm.SetDuty(value * 100); err != nil {
			return errors.Wrapf(ErrInvalidState, "%s: duty cycle %v: %v", p, value, err)
		}
		p.duty = value
		return nil
	}
	if p.function == FunctionInput {
		return errors.Wrapf(ErrSetInput, "%s", p)
	}
	var level bool
	switch value {
	case 0:
		level = false
	case 1:
		level = true
	default:
		return errors.Wrapf(ErrInvalidState, "%s: state %v", p, value)
	}
	if err := p.hal.Write(p.number, level); err != nil {
		return errors.Wrapf(ErrSetInput, "%s: %v", p, err)
	}
	p.lastLevel = level
	return nil
}

// Frequency returns the PWM rate, or nil while PWM is inactive.
func (p *Pin) Frequency() *physic.Frequency {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frequency == nil {
		return nil
	}
	f := *p.frequency
	return &f
}

// SetFrequency starts, retunes or stops software PWM. A non-nil value on an
// inactive pin starts PWM at duty cycle zero; on an active pin it adjusts
// the rate in place, leaving the duty cycle alone (including when the rate
// is unchanged). A nil value stops PWM and restores the last digital level,
// so State afterwards reflects the pre-PWM write rather than wherever the
// PWM loop happened to end.
func (p *Pin) SetFrequency(value *physic.Frequency) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.frequency == nil && value != nil:
		if *value <= 0 {
			return errors.Errorf("%s: invalid PWM frequency %v", p, *value)
		}
		ch, err := p.hal.StartPWM(p.number, *value)
		if err != nil {
			return errors.Wrapf(ErrPWMFixed, "%s: %v", p, err)
		}
		p.pwm = ch
		p.duty = 0
		f := *value
		p.frequency = &f
	case p.frequency != nil && value != nil:
		if *value <= 0 {
			return errors.Errorf("%s: invalid PWM frequency %v", p, *value)
		}
		if err := p.pwm.SetFrequency(*value); err != nil {
			return errors.Wrapf(err, "%s: change PWM frequency", p)
		}
		f := *value
		p.frequency = &f
	case p.frequency != nil && value == nil:
		// Multi-step: a failure part way leaves the pin in the state
		// reached so far, and the error names the step.
		if err := p.pwm.Stop(); err != nil {
			return errors.Wrapf(err, "%s: stop PWM", p)
		}
		p.pwm = nil
		p.frequency = nil
		p.duty = 0
		if err := p.hal.Write(p.number, p.lastLevel); err != nil {
			return errors.Wrapf(err, "%s: restore level after PWM", p)
		}
	}
	return nil
}

// Bounce returns the debounce interval, or nil when filtering is disabled.
func (p *Pin) Bounce() *time.Duration { return p.detector.bounceValue() }

// SetBounce sets the debounce interval; nil disables filtering. Negative
// values fail with ErrInvalidBounce.
func (p *Pin) SetBounce(value *time.Duration) error {
	if value != nil && *value < 0 {
		return errors.Wrapf(ErrInvalidBounce, "%s: bounce must be 0 or greater, got %v", p, *value)
	}
	return p.detector.setBounce(value)
}

// Edges returns the active edge filter.
func (p *Pin) Edges() Edges { return p.detector.edgesValue() }

// SetEdges selects which transitions reach the change callback.
func (p *Pin) SetEdges(value Edges) error {
	switch value {
	case EdgesBoth, EdgesRising, EdgesFalling:
	default:
		return errors.Errorf("%s: invalid edges %q", p, string(value))
	}
	return p.detector.setEdges(value)
}

// WhenChanged returns the registered change callback, if any.
func (p *Pin) WhenChanged() func(Event) { return p.detector.callbackValue() }

// SetWhenChanged registers fn to be invoked on each edge that passes the
// edge and bounce filters, or deregisters the callback when fn is nil.
// Registration failures from the hardware are returned, not swallowed.
func (p *Pin) SetWhenChanged(fn func(Event)) error {
	return p.detector.setCallback(fn)
}

// Close stops any running PWM, deregisters the change callback and releases
// the hardware claim on the pin. It is idempotent.
func (p *Pin) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := multierr.Combine(
		p.SetFrequency(nil),
		p.SetWhenChanged(nil),
		p.hal.ReleasePin(p.number),
	)
	if err != nil {
		p.logger.Warnw("error releasing pin", "pin", p.String(), "error", err)
	}
	return err
}

// edgeDetector bridges the asynchronous hardware edge notification to the
// synchronous user callback. The HAL reports every raw edge; the detector
// applies the edge filter and the bounce interval, and owns the interrupt
// registration, enabling it exactly while a callback is attached.
//
// Its mutex is the serialization point required between configuration
// changes and the notification goroutine: reconfigure detaches the callback,
// applies the update and reattaches on every exit path, so a concurrent edge
// observes either the old configuration or the new one in full, never a
// half-updated pair.
type edgeDetector struct {
	hal    HAL
	number int
	logger golog.Logger

	mu       sync.Mutex
	edges    Edges
	bounce   *time.Duration
	callback func(Event)
	watching bool
	lastFire time.Time
}

// dispatch is the trampoline handed to HAL.Watch. It runs on the HAL's
// notification goroutine.
func (d *edgeDetector) dispatch(e Event) {
	d.mu.Lock()
	fn := d.callback
	if fn == nil || !d.watching || !d.edges.match(e.Rising) {
		d.mu.Unlock()
		return
	}
	if d.bounce != nil && *d.bounce > 0 && !d.lastFire.IsZero() &&
		e.Timestamp.Sub(d.lastFire) < *d.bounce {
		d.mu.Unlock()
		return
	}
	d.lastFire = e.Timestamp
	d.mu.Unlock()
	fn(e)
}

func (d *edgeDetector) setCallback(fn func(Event)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setCallbackLocked(fn)
}

func (d *edgeDetector) setCallbackLocked(fn func(Event)) error {
	switch {
	case fn != nil && !d.watching:
		if err := d.hal.Watch(d.number, d.dispatch); err != nil {
			return errors.Wrapf(err, "GPIO%d: enable edge detection", d.number)
		}
		d.watching = true
	case fn == nil && d.watching:
		if err := d.hal.Unwatch(d.number); err != nil {
			return errors.Wrapf(err, "GPIO%d: disable edge detection", d.number)
		}
		d.watching = false
		d.lastFire = time.Time{}
	}
	d.callback = fn
	return nil
}

// reconfigure applies update with the callback detached, reattaching it on
// every exit path including update failure.
func (d *edgeDetector) reconfigure(update func()) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	saved := d.callback
	if err := d.setCallbackLocked(nil); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, d.setCallbackLocked(saved))
	}()
	update()
	return nil
}

func (d *edgeDetector) setBounce(value *time.Duration) error {
	return d.reconfigure(func() {
		if value == nil {
			d.bounce = nil
			return
		}
		v := *value
		d.bounce = &v
	})
}

func (d *edgeDetector) setEdges(value Edges) error {
	return d.reconfigure(func() {
		d.edges = value
	})
}

func (d *edgeDetector) bounceValue() *time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bounce == nil {
		return nil
	}
	v := *d.bounce
	return &v
}

func (d *edgeDetector) edgesValue() Edges {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.edges
}

func (d *edgeDetector) callbackValue() func(Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callback
}
