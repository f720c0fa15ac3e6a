// Package gps owns the receiver's serial link.
//
// It reads the UART into a ring buffer, frames and parses sentences, mirrors
// the stream to an optional companion port and reopens the port when the
// receiver goes silent.
package gps
