//go:build !linux

package capture

import "fmt"

type GPIOEdge struct{}

func OpenGPIOEdge(pin int, falling bool, bus *Bus) (*GPIOEdge, error) {
	return nil, fmt.Errorf("capture: gpio unsupported on this platform")
}

func (g *GPIOEdge) Close() error { return nil }

func openOutputLine(pin int) (outputLine, error) {
	return nil, fmt.Errorf("capture: gpio unsupported on this platform")
}
