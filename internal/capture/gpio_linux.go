//go:build linux

package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "gpsdo"

// requestLine finds BCM pin on any GPIO chip and requests it with opts.
func requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	if pin < 0 {
		return nil, nil, fmt.Errorf("capture: invalid gpio pin %d", pin)
	}
	// Header pins are named GPIO<n> on the Pi kernels.
	lineName := fmt.Sprintf("GPIO%d", pin)

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	opts = append(opts, gpiocdev.WithConsumer(consumer))
	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			return nil, nil, fmt.Errorf("capture: request %s on %s: %w", lineName, chipPath, err)
		}
		return chip, line, nil
	}
	return nil, nil, fmt.Errorf("capture: gpio line %q not found", lineName)
}

// GPIOEdge feeds the edges of a PPS input pin to a Bus. Timestamps come from
// the kernel realtime clock, the same clock the PPS device and the output
// generator use.
type GPIOEdge struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func OpenGPIOEdge(pin int, falling bool, bus *Bus) (*GPIOEdge, error) {
	var edge gpiocdev.LineReqOption = gpiocdev.WithRisingEdge
	if falling {
		edge = gpiocdev.WithFallingEdge
	}
	handler := func(evt gpiocdev.LineEvent) {
		bus.Edge(Capture, time.Unix(0, int64(evt.Timestamp)))
	}
	chip, line, err := requestLine(pin,
		gpiocdev.AsInput,
		edge,
		gpiocdev.WithRealtimeEventClock,
		gpiocdev.WithEventHandler(handler),
	)
	if err != nil {
		return nil, err
	}
	return &GPIOEdge{chip: chip, line: line}, nil
}

func (g *GPIOEdge) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}

type gpiodOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func openOutputLine(pin int) (outputLine, error) {
	chip, line, err := requestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &gpiodOutput{chip: chip, line: line}, nil
}

func (g *gpiodOutput) SetValue(v int) error { return g.line.SetValue(v) }

func (g *gpiodOutput) Close() error {
	if g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	_ = g.chip.Close()
	return err
}
