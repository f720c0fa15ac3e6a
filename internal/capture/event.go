// Package capture delivers oscillator timing events to the discipline loop:
// timer overflows, GPS PPS capture edges and local PPS output edges.
//
// Sources never block. Events are sent on a buffered channel and dropped
// (and counted) when the consumer falls behind.
package capture

import "time"

type Kind uint8

const (
	// Overflow reports Count elapsed timer periods, modulo 2^32.
	Overflow Kind = iota + 1
	// Capture is a GPS PPS edge; Value is the latched timer count.
	Capture
	// PPSOut is a local PPS output edge; Value is the latched timer count.
	PPSOut
)

func (k Kind) String() string {
	switch k {
	case Overflow:
		return "overflow"
	case Capture:
		return "capture"
	case PPSOut:
		return "pps_out"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind  Kind
	Value uint32
	Count uint32
	At    time.Time
}

