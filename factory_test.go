package gpiopin

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestFactoryReusesPins(t *testing.T) {
	hal := NewMockHAL(nil)
	factory, err := New(hal, PiCapabilities{}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, factory.Close(), test.ShouldBeNil) }()

	a, err := factory.GetPin(17)
	test.That(t, err, test.ShouldBeNil)
	b, err := factory.GetPin(17)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldEqual, b)

	c, err := factory.GetPin(18)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldNotEqual, a)
	test.That(t, c.Number(), test.ShouldEqual, 18)
}

func TestFactoryClaimsSubsystem(t *testing.T) {
	hal := NewMockHAL(nil)
	factory, err := New(hal, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hal.initialized, test.ShouldBeTrue)
	test.That(t, factory.Close(), test.ShouldBeNil)
	test.That(t, hal.initialized, test.ShouldBeFalse)
}

func TestFactoryFixedPullDefault(t *testing.T) {
	hal := NewMockHAL(nil)
	factory, err := New(hal, PiCapabilities{}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, factory.Close(), test.ShouldBeNil) }()

	// GPIO2 carries a physical pull-up, reported without any SetPull call.
	pin, err := factory.GetPin(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin.Pull(), test.ShouldEqual, PullUp)

	free, err := factory.GetPin(17)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, free.Pull(), test.ShouldEqual, PullFloating)
}

func TestFactoryCloseIdempotent(t *testing.T) {
	hal := NewMockHAL(nil)
	factory, err := New(hal, nil, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	pin, err := factory.GetPin(17)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin.SetWhenChanged(func(Event) {}), test.ShouldBeNil)

	test.That(t, factory.Close(), test.ShouldBeNil)
	test.That(t, hal.Watched(17), test.ShouldBeFalse)
	test.That(t, factory.Close(), test.ShouldBeNil)

	_, err = factory.GetPin(17)
	test.That(t, err, test.ShouldNotBeNil)
}
