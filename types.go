package gpiopin

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Function is the mode a pin is muxed to. Only FunctionInput and
// FunctionOutput can be requested through SetFunction; the remaining values
// are read-only reports of what the hardware says the pin is doing (e.g. a
// pin claimed by the I2C bus reads back as FunctionI2C).
type Function string

const (
	FunctionInput   Function = "input"
	FunctionOutput  Function = "output"
	FunctionI2C     Function = "i2c"
	FunctionSPI     Function = "spi"
	FunctionPWM     Function = "pwm"
	FunctionSerial  Function = "serial"
	FunctionUnknown Function = "unknown"
)

// Pull names an input pin's bias resistor. PullFloating means no bias is
// applied and the pin reads whatever it is externally driven to.
type Pull string

const (
	PullUp       Pull = "up"
	PullDown     Pull = "down"
	PullFloating Pull = "floating"
)

// Edges selects which signal transitions reach the change callback.
type Edges string

const (
	EdgesBoth    Edges = "both"
	EdgesRising  Edges = "rising"
	EdgesFalling Edges = "falling"
)

// match reports whether an edge in the given direction passes this filter.
func (e Edges) match(rising bool) bool {
	switch e {
	case EdgesRising:
		return rising
	case EdgesFalling:
		return !rising
	default:
		return true
	}
}

// pullToPeriph is the single source table mapping pull names to periph
// constants.
var pullToPeriph = map[Pull]gpio.Pull{
	PullUp:       gpio.PullUp,
	PullDown:     gpio.PullDown,
	PullFloating: gpio.Float,
}

// Event describes one accepted signal transition, delivered to the change
// callback on the hardware notification goroutine.
type Event struct {
	// Timestamp is when the edge was observed.
	Timestamp time.Time
	// Rising is true for a low-to-high transition.
	Rising bool
	// Level is the pin level after the transition.
	Level bool
}
