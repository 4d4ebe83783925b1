package gpiopin

// This file defines the hardware abstraction layer (HAL) for GPIO access.
// The factory owns exactly one HAL and claims it on construction. Two
// implementations ship with the package: a periph.io backend for real
// hardware (periph.go, Linux only) and MockHAL (mock.go) for tests and for
// developing on a machine without GPIO hardware. Pins are addressed by
// their BCM numbers throughout.

import "periph.io/x/conn/v3/physic"

// HAL is the process-wide hardware subsystem behind a Factory. Implementations
// must be safe for concurrent use by multiple pins; the factory claims the
// subsystem with Init exactly once and releases it with Close exactly once.
type HAL interface {
	// Init claims the hardware subsystem. Claiming a pin left exported by a
	// dead process must not abort the process; implementations report such
	// conditions as ordinary errors.
	Init() error

	// Close releases the subsystem as a whole. Individual pins are released
	// beforehand via ReleasePin.
	Close() error

	// SetupInput configures the pin as an input with the given bias.
	SetupInput(number int, pull Pull) error

	// SetupOutput configures the pin as an output driving the given level.
	SetupOutput(number int, initial bool) error

	// Function reports the mode the hardware says the pin is muxed to,
	// including modes this package cannot set (i2c, spi, serial).
	Function(number int) (Function, error)

	// Read returns the pin's current level.
	Read(number int) (bool, error)

	// Write drives an output pin. It fails if the pin is not configured as
	// an output.
	Write(number int, level bool) error

	// StartPWM begins software PWM on an output pin at the given rate with
	// an initial duty cycle of zero. It fails if the pin is not an output
	// or the PWM resource is already claimed.
	StartPWM(number int, freq physic.Frequency) (PWMChannel, error)

	// Watch registers fn to be invoked for every edge on the pin, in both
	// directions, on the HAL's notification goroutine. Edge filtering and
	// debouncing are the caller's concern. At most one watcher per pin.
	Watch(number int, fn func(Event)) error

	// Unwatch removes the pin's watcher. After Unwatch returns no further
	// invocations of the watcher are started.
	Unwatch(number int) error

	// ReleasePin drops the claim on a single pin.
	ReleasePin(number int) error
}

// PWMChannel controls one running software PWM instance, as returned by
// HAL.StartPWM.
type PWMChannel interface {
	// SetFrequency adjusts the rate in place; the duty cycle is unchanged.
	SetFrequency(freq physic.Frequency) error
	// SetDuty sets the duty cycle as a percentage in [0, 100].
	SetDuty(pct float64) error
	// Stop halts the PWM loop and releases the channel.
	Stop() error
}
