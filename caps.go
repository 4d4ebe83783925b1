package gpiopin

// PinCapabilities reports board-level facts about physical pins. It is
// supplied data consulted read-only by the factory; this package never
// mutates it.
type PinCapabilities interface {
	// FixedPull returns the pull direction hardwired on the board for the
	// given BCM number, if any. A pin with a fixed pull cannot have its
	// pull reconfigured in software.
	FixedPull(number int) (Pull, bool)
}

// PiCapabilities describes Raspberry Pi boards, where GPIO2 and GPIO3 carry
// physical 1.8 kΩ pull-up resistors for the I2C bus.
type PiCapabilities struct{}

// FixedPull implements PinCapabilities.
func (PiCapabilities) FixedPull(number int) (Pull, bool) {
	switch number {
	case 2, 3:
		return PullUp, true
	}
	return "", false
}

// NoCapabilities describes a board with no hardwired pull resistors.
type NoCapabilities struct{}

// FixedPull implements PinCapabilities.
func (NoCapabilities) FixedPull(int) (Pull, bool) { return "", false }
