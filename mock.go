package gpiopin

// MockHAL is an in-memory HAL for tests and for developing without GPIO
// hardware. It tracks function, pull, level and PWM state per pin, lets a
// test fire edges and inject claim failures, and records every level driven
// on each pin.

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

type mockPin struct {
	function Function
	pull     Pull
	level    bool
	history  []bool
	watcher  func(Event)
	pwm      *MockPWM
}

// MockHAL implements HAL entirely in memory.
type MockHAL struct {
	clock clock.Clock

	mu          sync.Mutex
	initialized bool
	pins        map[int]*mockPin
	failPWM     map[int]bool
	failWatch   map[int]bool
}

// NewMockHAL returns a mock backend stamping events with clk. A nil clk
// falls back to the wall clock.
func NewMockHAL(clk clock.Clock) *MockHAL {
	if clk == nil {
		clk = clock.New()
	}
	return &MockHAL{
		clock:     clk,
		pins:      map[int]*mockPin{},
		failPWM:   map[int]bool{},
		failWatch: map[int]bool{},
	}
}

// Init implements HAL.
func (m *MockHAL) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// Close implements HAL.
func (m *MockHAL) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	return nil
}

// pin returns the state for number, creating it on first touch.
func (m *MockHAL) pin(number int) *mockPin {
	p, ok := m.pins[number]
	if !ok {
		p = &mockPin{function: FunctionUnknown, pull: PullFloating}
		m.pins[number] = p
	}
	return p
}

// SetupInput implements HAL. A pulled-up input reads high, anything else
// reads low until an edge is fired.
func (m *MockHAL) SetupInput(number int, pull Pull) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pin(number)
	p.function = FunctionInput
	p.pull = pull
	p.level = pull == PullUp
	return nil
}

// SetupOutput implements HAL.
func (m *MockHAL) SetupOutput(number int, initial bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pin(number)
	p.function = FunctionOutput
	p.pull = PullFloating
	p.level = initial
	p.history = append(p.history, initial)
	return nil
}

// Function implements HAL.
func (m *MockHAL) Function(number int) (Function, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin(number).function, nil
}

// Read implements HAL.
func (m *MockHAL) Read(number int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin(number).level, nil
}

// Write implements HAL.
func (m *MockHAL) Write(number int, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pin(number)
	if p.function != FunctionOutput {
		return errors.Errorf("GPIO%d is not an output", number)
	}
	p.level = level
	p.history = append(p.history, level)
	return nil
}

// StartPWM implements HAL.
func (m *MockHAL) StartPWM(number int, freq physic.Frequency) (PWMChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPWM[number] {
		return nil, errors.Errorf("GPIO%d: PWM resource busy", number)
	}
	p := m.pin(number)
	if p.function != FunctionOutput {
		return nil, errors.Errorf("GPIO%d is not an output", number)
	}
	if p.pwm != nil {
		return nil, errors.Errorf("GPIO%d: PWM already running", number)
	}
	pwm := &MockPWM{hal: m, number: number, freq: freq}
	p.pwm = pwm
	return pwm, nil
}

// Watch implements HAL.
func (m *MockHAL) Watch(number int, fn func(Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWatch[number] {
		return errors.Errorf("GPIO%d: no free edge detection slot", number)
	}
	p := m.pin(number)
	if p.watcher != nil {
		return errors.Errorf("GPIO%d is already watched", number)
	}
	p.watcher = fn
	return nil
}

// Unwatch implements HAL.
func (m *MockHAL) Unwatch(number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin(number).watcher = nil
	return nil
}

// ReleasePin implements HAL.
func (m *MockHAL) ReleasePin(number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pins, number)
	return nil
}

// Fire simulates a hardware edge on the pin: the level becomes the edge's
// destination and any registered watcher is invoked. The watcher runs on the
// calling goroutine, which stands in for the hardware notification thread.
func (m *MockHAL) Fire(number int, rising bool) {
	m.mu.Lock()
	p := m.pin(number)
	p.level = rising
	fn := p.watcher
	ev := Event{Timestamp: m.clock.Now(), Rising: rising, Level: rising}
	// Invoke outside the lock: the watcher takes the pin's own locks and
	// may call back into this HAL.
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// FailPWM makes StartPWM on the pin fail while fail is true, simulating a
// PWM resource claimed elsewhere.
func (m *MockHAL) FailPWM(number int, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPWM[number] = fail
}

// FailWatch makes Watch on the pin fail while fail is true, simulating edge
// detection resource exhaustion.
func (m *MockHAL) FailWatch(number int, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWatch[number] = fail
}

// Watched reports whether an edge watcher is currently registered on the pin.
func (m *MockHAL) Watched(number int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin(number).watcher != nil
}

// History returns every level driven on the pin, oldest first.
func (m *MockHAL) History(number int) []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.pin(number).history
	out := make([]bool, len(h))
	copy(out, h)
	return out
}

// SetMuxed marks the pin as claimed by another subsystem, so Function reads
// back the given mode. Used to exercise the read-only function reports.
func (m *MockHAL) SetMuxed(number int, fn Function) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin(number).function = fn
}

// MockPWM is the PWMChannel returned by MockHAL.StartPWM.
type MockPWM struct {
	hal    *MockHAL
	number int

	freq    physic.Frequency
	duty    float64 // percent
	stopped bool
}

// SetFrequency implements PWMChannel.
func (p *MockPWM) SetFrequency(freq physic.Frequency) error {
	p.hal.mu.Lock()
	defer p.hal.mu.Unlock()
	if p.stopped {
		return errors.Errorf("GPIO%d: PWM is stopped", p.number)
	}
	p.freq = freq
	return nil
}

// SetDuty implements PWMChannel.
func (p *MockPWM) SetDuty(pct float64) error {
	p.hal.mu.Lock()
	defer p.hal.mu.Unlock()
	if p.stopped {
		return errors.Errorf("GPIO%d: PWM is stopped", p.number)
	}
	if pct < 0 || pct > 100 {
		return errors.Errorf("GPIO%d: duty cycle %v%% out of range", p.number, pct)
	}
	p.duty = pct
	return nil
}

// Stop implements PWMChannel.
func (p *MockPWM) Stop() error {
	p.hal.mu.Lock()
	defer p.hal.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	pin := p.hal.pin(p.number)
	pin.pwm = nil
	pin.level = false
	return nil
}

// Frequency returns the current PWM rate, for test assertions.
func (p *MockPWM) Frequency() physic.Frequency {
	p.hal.mu.Lock()
	defer p.hal.mu.Unlock()
	return p.freq
}

// Duty returns the current duty cycle percentage, for test assertions.
func (p *MockPWM) Duty() float64 {
	p.hal.mu.Lock()
	defer p.hal.mu.Unlock()
	return p.duty
}
