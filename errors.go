package gpiopin

import "github.com/pkg/errors"

// Error taxonomy for pin operations. Every failure returned by a Pin wraps
// exactly one of these sentinels, so callers match the kind with errors.Is
// while the message carries the pin number and offending value. Hardware
// errors from the backend are remapped onto these at the call site and never
// leak through as a foreign type.
var (
	// ErrInvalidFunction rejects SetFunction values other than input/output.
	ErrInvalidFunction = errors.New("invalid function")

	// ErrSetInput rejects digital writes to a pin configured as an input.
	ErrSetInput = errors.New("cannot set state of an input pin")

	// ErrFixedPull rejects pull changes on non-input pins and pull values
	// that conflict with a pull resistor hardwired on the board.
	ErrFixedPull = errors.New("fixed pull")

	// ErrInvalidPull rejects pull values other than up/down/floating.
	ErrInvalidPull = errors.New("invalid pull")

	// ErrInvalidState rejects digital levels outside {0, 1} and duty cycles
	// outside [0, 1].
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidBounce rejects negative debounce intervals.
	ErrInvalidBounce = errors.New("invalid bounce")

	// ErrPWMFixed means PWM could not be started on the pin, typically
	// because the pin or PWM resource is claimed elsewhere or the pin is
	// not an output.
	ErrPWMFixed = errors.New("cannot start PWM")
)
