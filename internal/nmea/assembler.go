package nmea

// MaxLine bounds a single sentence. Longer input is discarded.
const MaxLine = 512

// ByteSource is the consumer side of a byte queue.
type ByteSource interface {
	Read() (byte, bool)
}

// Assembler frames bytes from a ByteSource into newline-terminated lines.
//
// It keeps a partial line between Drain calls. Not safe for concurrent use.
type Assembler struct {
	line     []byte
	max      int
	handle   func(line []byte)
	overflow uint64
}

// NewAssembler returns an assembler that calls handle for every complete
// line, terminator included. The slice is only valid during the call.
func NewAssembler(max int, handle func(line []byte)) *Assembler {
	if max <= 0 {
		max = MaxLine
	}
	return &Assembler{line: make([]byte, 0, max), max: max, handle: handle}
}

// Drain consumes all available bytes from src and returns them appended to
// fwd, for pass-through forwarding.
//
// When the line buffer fills before a terminator, the partial line is
// discarded and Drain returns early; bytes still queued in src are handled by
// the next call.
func (a *Assembler) Drain(src ByteSource, fwd []byte) []byte {
	for {
		c, ok := src.Read()
		if !ok {
			return fwd
		}
		fwd = append(fwd, c)
		a.line = append(a.line, c)
		if c == '\n' {
			if a.handle != nil {
				a.handle(a.line)
			}
			a.line = a.line[:0]
			continue
		}
		if len(a.line) >= a.max {
			a.line = a.line[:0]
			a.overflow++
			return fwd
		}
	}
}

// Overflows reports how many partial lines were discarded.
func (a *Assembler) Overflows() uint64 { return a.overflow }

// Pending reports the length of the partial line.
func (a *Assembler) Pending() int { return len(a.line) }
