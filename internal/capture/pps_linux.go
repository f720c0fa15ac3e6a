//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PPS_FETCH is _IOWR('p', 0xa4, struct pps_fdata *): its size field is the
// pointer width, so the request number differs between 32 and 64 bit.
const (
	ppsFetchRequest = unix.PPS_FETCH
	ppsFetchTimeout = 2 // seconds
)

// PPSDevice feeds assert edges of a kernel PPS device (/dev/ppsN) to a Bus.
type PPSDevice struct {
	f       *os.File
	bus     *Bus
	closing atomic.Bool
	done    chan struct{}
}

func OpenPPS(path string, bus *Bus) (*PPSDevice, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	d := &PPSDevice{f: f, bus: bus, done: make(chan struct{})}
	go d.run()
	return d, nil
}

func (d *PPSDevice) run() {
	defer close(d.done)
	var last uint32
	first := true
	failing := false
	for !d.closing.Load() {
		seq, at, err := ppsFetch(int(d.f.Fd()))
		if err != nil {
			if errors.Is(err, unix.ETIMEDOUT) || errors.Is(err, unix.EINTR) {
				continue
			}
			if !failing {
				log.Printf("capture: pps fetch %s: %v", d.f.Name(), err)
				failing = true
			}
			time.Sleep(time.Second)
			continue
		}
		failing = false
		if !first && seq == last {
			continue
		}
		first = false
		last = seq
		d.bus.Edge(Capture, at)
	}
}

// ppsFetch waits for the next assert edge and returns its sequence number
// and realtime timestamp.
func ppsFetch(fd int) (uint32, time.Time, error) {
	var data unix.PPSFData
	data.Timeout.Sec = ppsFetchTimeout
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(ppsFetchRequest), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return 0, time.Time{}, errno
	}
	seq, at := assertEdge(&data.Info)
	return seq, at, nil
}

func assertEdge(info *unix.PPSKInfo) (uint32, time.Time) {
	return info.Assert_sequence, time.Unix(info.Assert_tu.Sec, int64(info.Assert_tu.Nsec))
}

// Close stops the reader. It returns after the pending fetch times out.
func (d *PPSDevice) Close() error {
	if d == nil || d.closing.Swap(true) {
		return nil
	}
	<-d.done
	return d.f.Close()
}
