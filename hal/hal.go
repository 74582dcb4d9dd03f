// Package hal provides PulseChannel implementations for grblcore's step
// executor: a software-simulated channel for tests and development, and a
// Linux gpiocdev-backed channel for real hardware.
package hal

// Channel satisfies grblcore.PulseChannel. It is redeclared here (rather
// than imported) so this package has no dependency on grblcore, keeping
// the hardware layer reusable independently of the motion-control core.
// SimChannel and GPIOChannel each assert conformance to it at compile time.
type Channel interface {
	ArmContinuous(periodTicks uint32)
	ArmOneShot()
	Disable()
	SetDirection(negative bool)
	SetPulseHandler(f func())
}
