//go:build linux

package gpiopin

import (
	"testing"

	"go.viam.com/test"
)

func TestFunctionFromPeriph(t *testing.T) {
	for fs, want := range map[string]Function{
		"In/Low":    FunctionInput,
		"In/High":   FunctionInput,
		"Out/High":  FunctionOutput,
		"I2C1_SDA":  FunctionI2C,
		"SPI0_MOSI": FunctionSPI,
		"UART0_TX":  FunctionSerial,
		"PWM0_OUT":  FunctionPWM,
		"CLK2":      FunctionPWM,
		"ALT5":      FunctionUnknown,
	} {
		test.That(t, functionFromPeriph(fs), test.ShouldEqual, want)
	}
}
