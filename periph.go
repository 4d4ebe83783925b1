//go:build linux

package gpiopin

// This file provides the real-hardware HAL on top of the periph.io library.
// When building on a non-Linux machine, or when no GPIO hardware is
// available, use MockHAL instead.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// edgePollInterval bounds how long the edge monitor can sleep in
// WaitForEdge before rechecking for cancellation.
const edgePollInterval = 100 * time.Millisecond

// PeriphHAL drives Raspberry Pi GPIO hardware through periph.io. Pins are
// resolved by BCM number ("GPIO17") and cached. Software PWM and edge
// monitoring each run on a background goroutine per pin, all shut down by
// Close. A pin left claimed by a dead process surfaces as an error from the
// offending call, never as a process abort.
type PeriphHAL struct {
	clock  clock.Clock
	logger golog.Logger

	mu      sync.Mutex
	pins    map[int]*periphPin
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

type periphPin struct {
	pin       gpio.PinIO
	direction Function // input/output as configured through this HAL
	pull      Pull
	pwm       *periphPWM
	watch     *edgeWatch
}

// NewPeriphHAL returns the periph.io backend. A nil clk falls back to the
// wall clock; a nil logger gets a development logger.
func NewPeriphHAL(clk clock.Clock, logger golog.Logger) *PeriphHAL {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = golog.NewDevelopmentLogger("gpiopin.periph")
	}
	return &PeriphHAL{
		clock:  clk,
		logger: logger,
		pins:   map[int]*periphPin{},
	}
}

// Init implements HAL. host.Init is safe to call more than once.
func (h *PeriphHAL) Init() error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "periph host init")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		h.ctx, h.cancel = context.WithCancel(context.Background())
	}
	return nil
}

// Close implements HAL. It stops every background worker and waits for them.
func (h *PeriphHAL) Close() error {
	h.mu.Lock()
	cancel := h.cancel
	h.ctx, h.cancel = nil, nil
	h.pins = map[int]*periphPin{}
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	h.workers.Wait()
	return nil
}

// resolve looks up the pin by BCM number, caching the handle.
func (h *PeriphHAL) resolve(number int) (*periphPin, error) {
	if p, ok := h.pins[number]; ok {
		return p, nil
	}
	name := fmt.Sprintf("GPIO%d", number)
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("pin %s not found in hardware", name)
	}
	p := &periphPin{pin: pin, direction: FunctionUnknown, pull: PullFloating}
	h.pins[number] = p
	return p, nil
}

// SetupInput implements HAL.
func (h *PeriphHAL) SetupInput(number int, pull Pull) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.resolve(number)
	if err != nil {
		return err
	}
	edge := gpio.NoEdge
	if p.watch != nil {
		edge = gpio.BothEdges
	}
	if err := p.pin.In(pullToPeriph[pull], edge); err != nil {
		return errors.Wrapf(err, "set GPIO%d to input", number)
	}
	p.direction = FunctionInput
	p.pull = pull
	return nil
}

// SetupOutput implements HAL.
func (h *PeriphHAL) SetupOutput(number int, initial bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.resolve(number)
	if err != nil {
		return err
	}
	if err := p.pin.Out(gpio.Level(initial)); err != nil {
		return errors.Wrapf(err, "set GPIO%d to output", number)
	}
	p.direction = FunctionOutput
	p.pull = PullFloating
	return nil
}

// Function implements HAL by interpreting periph's function string, which
// exposes alternate modes ("I2C1_SDA", "SPI0_MOSI", ...) this package cannot
// set itself.
func (h *PeriphHAL) Function(number int) (Function, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.resolve(number)
	if err != nil {
		return FunctionUnknown, err
	}
	return functionFromPeriph(p.pin.Function()), nil
}

func functionFromPeriph(s string) Function {
	fs := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(fs, "IN"):
		return FunctionInput
	case strings.HasPrefix(fs, "OUT"):
		return FunctionOutput
	case strings.Contains(fs, "I2C"):
		return FunctionI2C
	case strings.Contains(fs, "SPI"):
		return FunctionSPI
	case strings.Contains(fs, "UART"):
		return FunctionSerial
	case strings.Contains(fs, "PWM"), strings.Contains(fs, "CLK"):
		return FunctionPWM
	default:
		return FunctionUnknown
	}
}

// Read implements HAL.
func (h *PeriphHAL) Read(number int) (bool, error) {
	h.mu.Lock()
	p, err := h.resolve(number)
	h.mu.Unlock()
	if err != nil {
		return false, err
	}
	return p.pin.Read() == gpio.High, nil
}

// Write implements HAL.
func (h *PeriphHAL) Write(number int, level bool) error {
	h.mu.Lock()
	p, err := h.resolve(number)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if p.direction != FunctionOutput {
		h.mu.Unlock()
		return errors.Errorf("GPIO%d is not an output", number)
	}
	h.mu.Unlock()
	return p.pin.Out(gpio.Level(level))
}

// StartPWM implements HAL by spinning up a software PWM goroutine for the
// pin.
func (h *PeriphHAL) StartPWM(number int, freq physic.Frequency) (PWMChannel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		return nil, errors.New("GPIO subsystem is not initialized")
	}
	p, err := h.resolve(number)
	if err != nil {
		return nil, err
	}
	if p.direction != FunctionOutput {
		return nil, errors.Errorf("GPIO%d is not an output", number)
	}
	if p.pwm != nil {
		return nil, errors.Errorf("GPIO%d: PWM already running", number)
	}

	ctx, cancel := context.WithCancel(h.ctx)
	w := &periphPWM{hal: h, number: number, pin: p.pin, cancel: cancel, freq: freq}
	p.pwm = w
	h.workers.Add(1)
	utils.ManagedGo(func() { w.loop(ctx) }, h.workers.Done)
	return w, nil
}

// Watch implements HAL. The monitor goroutine blocks in WaitForEdge with a
// short timeout so cancellation is picked up promptly, reads the level after
// each edge to classify it, and hands the event to fn.
func (h *PeriphHAL) Watch(number int, fn func(Event)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		return errors.New("GPIO subsystem is not initialized")
	}
	p, err := h.resolve(number)
	if err != nil {
		return err
	}
	if p.direction != FunctionInput {
		return errors.Errorf("GPIO%d is not an input", number)
	}
	if p.watch != nil {
		return errors.Errorf("GPIO%d is already watched", number)
	}
	if err := p.pin.In(pullToPeriph[p.pull], gpio.BothEdges); err != nil {
		return errors.Wrapf(err, "enable edge detection on GPIO%d", number)
	}

	ctx, cancel := context.WithCancel(h.ctx)
	w := &edgeWatch{fn: fn, cancel: cancel}
	p.watch = w
	h.workers.Add(1)
	utils.ManagedGo(func() { h.monitor(ctx, number, p.pin, w) }, h.workers.Done)
	return nil
}

func (h *PeriphHAL) monitor(ctx context.Context, number int, pin gpio.PinIO, w *edgeWatch) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !pin.WaitForEdge(edgePollInterval) {
			continue
		}
		level := pin.Read() == gpio.High
		ev := Event{Timestamp: h.clock.Now(), Rising: level, Level: level}

		// Recheck registration under the lock so that no invocation starts
		// after Unwatch has returned.
		h.mu.Lock()
		p, ok := h.pins[number]
		live := ok && p.watch == w
		h.mu.Unlock()
		if !live {
			return
		}
		w.fn(ev)
	}
}

// Unwatch implements HAL.
func (h *PeriphHAL) Unwatch(number int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pins[number]
	if !ok || p.watch == nil {
		return nil
	}
	p.watch.cancel()
	p.watch = nil
	utils.UncheckedError(p.pin.Halt())
	return errors.Wrapf(p.pin.In(pullToPeriph[p.pull], gpio.NoEdge),
		"disable edge detection on GPIO%d", number)
}

// ReleasePin implements HAL by stopping any PWM or watch on the pin and
// returning it to a floating input.
func (h *PeriphHAL) ReleasePin(number int) error {
	h.mu.Lock()
	p, ok := h.pins[number]
	delete(h.pins, number)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	var err error
	if p.pwm != nil {
		err = multierr.Append(err, p.pwm.Stop())
	}
	if p.watch != nil {
		p.watch.cancel()
		p.watch = nil
		utils.UncheckedError(p.pin.Halt())
	}
	return multierr.Append(err, errors.Wrapf(
		p.pin.In(gpio.Float, gpio.NoEdge), "release GPIO%d", number))
}

type edgeWatch struct {
	fn     func(Event)
	cancel context.CancelFunc
}

// periphPWM generates a PWM waveform in software: one goroutine toggles the
// pin and sleeps out each part of the period, rereading the rate and duty
// cycle every cycle so adjustments take effect on the next period.
type periphPWM struct {
	hal    *PeriphHAL
	number int
	pin    gpio.PinIO
	cancel context.CancelFunc

	mu      sync.Mutex
	freq    physic.Frequency
	duty    float64 // percent
	stopped bool
}

func (w *periphPWM) loop(ctx context.Context) {
	for w.cycle(ctx) {
	}
}

// cycle runs one PWM period and reports whether the loop should continue.
func (w *periphPWM) cycle(ctx context.Context) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	frac := w.duty / 100
	hz := float64(w.freq) / float64(physic.Hertz)
	w.mu.Unlock()

	period := time.Duration(float64(time.Second) / hz)
	onDur := time.Duration(float64(period) * frac)
	offDur := period - onDur
	if onDur > 0 {
		w.drive(true)
		if !utils.SelectContextOrWait(ctx, onDur) {
			return false
		}
	}
	if offDur > 0 {
		w.drive(false)
		if !utils.SelectContextOrWait(ctx, offDur) {
			return false
		}
	}
	return true
}

// drive toggles the pin, logging rather than aborting on failure so a
// transient write error does not kill the waveform.
func (w *periphPWM) drive(level bool) {
	if err := w.pin.Out(gpio.Level(level)); err != nil {
		w.hal.logger.Debugw("PWM write failed", "pin", w.number, "error", err)
	}
}

// SetFrequency implements PWMChannel.
func (w *periphPWM) SetFrequency(freq physic.Frequency) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errors.Errorf("GPIO%d: PWM is stopped", w.number)
	}
	w.freq = freq
	return nil
}

// SetDuty implements PWMChannel.
func (w *periphPWM) SetDuty(pct float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errors.Errorf("GPIO%d: PWM is stopped", w.number)
	}
	if pct < 0 || pct > 100 {
		return errors.Errorf("GPIO%d: duty cycle %v%% out of range", w.number, pct)
	}
	w.duty = pct
	return nil
}

// Stop implements PWMChannel.
func (w *periphPWM) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	err := w.pin.Out(gpio.Low)
	w.hal.mu.Lock()
	if p, ok := w.hal.pins[w.number]; ok && p.pwm == w {
		p.pwm = nil
	}
	w.hal.mu.Unlock()
	return err
}
