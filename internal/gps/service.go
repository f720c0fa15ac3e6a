package gps

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/ratelimit"

	"gpsdo/internal/nmea"
	"gpsdo/internal/ringbuf"
)

const (
	DefaultBaud           = 9600
	DefaultPollInterval   = 10 * time.Millisecond
	DefaultSilenceTimeout = 10 * time.Second
	DefaultReopenEvery    = 2 * time.Second

	flushWait = time.Second
)

var (
	openPortFn = openSerial
	detectFn   = DetectDevice
	newLimiter = func(per time.Duration) ratelimit.Limiter {
		return ratelimit.New(1, ratelimit.Per(per))
	}
	// Time the receiver needs to switch rate before the UARTs follow.
	baudSettle = 50 * time.Millisecond
)

// Config controls the GPS transport.
//
// Device may be empty to auto-detect. Companion is an optional second UART
// that receives a verbatim copy of the GPS stream and whose input is relayed
// to the receiver unparsed. Both ports run at Baud.
type Config struct {
	Enable bool

	Device    string
	Companion string
	Baud      int

	PollInterval   time.Duration
	SilenceTimeout time.Duration
	ReopenEvery    time.Duration
	WriteWait      time.Duration

	// OpenPort replaces the serial open, for simulated receivers.
	OpenPort func(path string, baud int) (io.ReadWriteCloser, error)

	Parser nmea.Config
}

type Snapshot struct {
	Enabled   bool   `json:"enabled"`
	Open      bool   `json:"open"`
	Device    string `json:"device,omitempty"`
	Companion string `json:"companion,omitempty"`
	Baud      int    `json:"baud,omitempty"`

	Fix    nmea.Fix   `json:"fix"`
	Parser nmea.Stats `json:"parser"`

	RxDropped          uint64 `json:"rx_dropped"`
	CompanionRxDropped uint64 `json:"companion_rx_dropped"`
	LineOverflows      uint64 `json:"line_overflows"`
	ForwardDropped     uint64 `json:"forward_dropped"`
	RelayDropped       uint64 `json:"relay_dropped"`

	// Forward* is the companion transmitter, Relay* the receiver one
	// (relayed companion bytes and configuration commands).
	ForwardSent  uint64 `json:"forward_sent"`
	RelaySent    uint64 `json:"relay_sent"`
	ForwardError string `json:"forward_error,omitempty"`
	RelayError   string `json:"relay_error,omitempty"`

	WatchdogTrips uint64 `json:"watchdog_trips"`
	Reopens       uint64 `json:"reopens"`
	LastError     string `json:"last_error,omitempty"`
}

type linkState struct {
	device, companion string
	baud              int
	open              bool
}

// link is one open UART and the goroutine feeding its ring buffer.
type link struct {
	name    string
	port    io.ReadWriteCloser
	done    chan struct{}
	closing atomic.Bool
}

// Service reads the GPS UART, feeds the NMEA parser and keeps the port alive.
//
// Goroutines: one RX reader per open UART (producer into a ring buffer), the
// poll loop (sole consumer of both rings, owner of the assembler) and the
// reopen loop. The ring buffers and transmitters outlive reopened ports so
// the poll loop never touches a port directly.
type Service struct {
	cfg    Config
	now    func() time.Time
	parser *nmea.Parser
	asm    *nmea.Assembler

	gpsRx, compRx ringbuf.Buffer
	gpsTx, compTx *Transmitter
	fwd, relay    []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	gps, comp *link
	baud      int

	state    atomic.Value // linkState
	lastErr  atomic.Value // string
	openedAt atomic.Int64

	reopen                    chan struct{}
	trips, reopens, overflows atomic.Uint64
}

func New(cfg Config) *Service {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.ReopenEvery <= 0 {
		cfg.ReopenEvery = DefaultReopenEvery
	}
	if cfg.Parser.Now == nil {
		cfg.Parser.Now = time.Now
	}
	cfg.Device = strings.TrimSpace(cfg.Device)
	cfg.Companion = strings.TrimSpace(cfg.Companion)

	s := &Service{
		cfg:    cfg,
		now:    cfg.Parser.Now,
		parser: nmea.NewParser(cfg.Parser),
		gpsTx:  NewTransmitter(cfg.WriteWait),
		compTx: NewTransmitter(cfg.WriteWait),
		baud:   cfg.Baud,
		reopen: make(chan struct{}, 1),
	}
	s.asm = nmea.NewAssembler(nmea.MaxLine, s.parser.Parse)
	s.state.Store(linkState{device: cfg.Device, companion: cfg.Companion, baud: cfg.Baud})
	return s
}

// Parser exposes the sentence parser for live setting changes.
func (s *Service) Parser() *nmea.Parser { return s.parser }

// Start opens the ports and starts the loops. A port that cannot be opened
// is not fatal: it is logged and retried by the reopen loop.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("gps: ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.openedAt.Store(s.now().UnixNano())
	if err := s.openLinksLocked(); err != nil {
		log.Printf("gps: open failed, retrying: %v", err)
		s.requestReopen()
	}

	s.wg.Add(2)
	go s.pollLoop(childCtx)
	go s.reopenLoop(childCtx)
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	if cancel != nil {
		cancel()
	}
	s.closeLinksLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

// SetBaud switches the receiver and both UARTs to baud, then asks the
// receiver to save its configuration. The receiver must be identified.
func (s *Service) SetBaud(baud int) error {
	m := s.parser.Module()
	cmd, err := BaudCommand(m, baud)
	if err != nil {
		return err
	}
	save, err := SaveCommand(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil || s.gps == nil {
		return fmt.Errorf("gps: port not open")
	}
	if err := s.gpsTx.WriteWait(cmd, flushWait); err != nil {
		return fmt.Errorf("gps: baud command: %w", err)
	}
	time.Sleep(baudSettle)

	old := s.baud
	s.baud = baud
	s.closeLinksLocked()
	if err := s.openLinksLocked(); err != nil {
		s.requestReopen()
		return fmt.Errorf("gps: reopen at %d: %w", baud, err)
	}
	if err := s.gpsTx.WriteWait(save, flushWait); err != nil {
		return fmt.Errorf("gps: save command: %w", err)
	}
	log.Printf("gps: baud changed %d -> %d module=%s", old, baud, m)
	return nil
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	st, _ := s.state.Load().(linkState)
	lastErr, _ := s.lastErr.Load().(string)
	return Snapshot{
		Enabled:            s.cfg.Enable,
		Open:               st.open,
		Device:             st.device,
		Companion:          st.companion,
		Baud:               st.baud,
		Fix:                s.parser.Fix(),
		Parser:             s.parser.Stats(),
		RxDropped:          s.gpsRx.Dropped(),
		CompanionRxDropped: s.compRx.Dropped(),
		LineOverflows:      s.overflows.Load(),
		ForwardDropped:     s.compTx.Dropped(),
		RelayDropped:       s.gpsTx.Dropped(),
		ForwardSent:        s.compTx.Sent(),
		RelaySent:          s.gpsTx.Sent(),
		ForwardError:       s.compTx.LastError(),
		RelayError:         s.gpsTx.LastError(),
		WatchdogTrips:      s.trips.Load(),
		Reopens:            s.reopens.Load(),
		LastError:          lastErr,
	}
}

func (s *Service) setError(msg string) {
	s.lastErr.Store(msg)
}

func (s *Service) requestReopen() bool {
	select {
	case s.reopen <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) openLinksLocked() error {
	device := s.cfg.Device
	if device == "" {
		device = detectFn()
	}
	st := linkState{device: device, companion: s.cfg.Companion, baud: s.baud}
	defer func() { s.state.Store(st) }()

	if device == "" {
		err := fmt.Errorf("gps: auto-detect found no serial port")
		s.setError(err.Error())
		return err
	}
	p, err := s.openPort(device, s.baud)
	if err != nil {
		err = fmt.Errorf("gps: open device=%s baud=%d: %w", device, s.baud, err)
		s.setError(err.Error())
		return err
	}
	s.gps = s.startLink("gps", p, &s.gpsRx)
	s.gpsTx.SetWriter(p)
	st.open = true

	if s.cfg.Companion != "" {
		cp, err := s.openPort(s.cfg.Companion, s.baud)
		if err != nil {
			s.setError(fmt.Sprintf("gps: open companion=%s: %v", s.cfg.Companion, err))
		} else {
			s.comp = s.startLink("companion", cp, &s.compRx)
			s.compTx.SetWriter(cp)
		}
	}
	s.openedAt.Store(s.now().UnixNano())
	log.Printf("gps: open device=%s baud=%d companion=%q", device, s.baud, s.cfg.Companion)
	return nil
}

func (s *Service) openPort(path string, baud int) (io.ReadWriteCloser, error) {
	if s.cfg.OpenPort != nil {
		return s.cfg.OpenPort(path, baud)
	}
	return openPortFn(path, baud)
}

func (s *Service) closeLinksLocked() {
	s.gpsTx.SetWriter(nil)
	s.compTx.SetWriter(nil)
	s.gps.close()
	s.comp.close()
	s.gps, s.comp = nil, nil

	st, _ := s.state.Load().(linkState)
	st.open = false
	s.state.Store(st)
}

func (s *Service) startLink(name string, port io.ReadWriteCloser, rb *ringbuf.Buffer) *link {
	l := &link{name: name, port: port, done: make(chan struct{})}
	s.wg.Add(1)
	go s.rxLoop(l, rb)
	return l
}

// close stops the reader and waits for it, so a new reader never overlaps
// the old one on the same ring buffer.
func (l *link) close() {
	if l == nil {
		return
	}
	l.closing.Store(true)
	_ = l.port.Close()
	<-l.done
}

func (s *Service) rxLoop(l *link, rb *ringbuf.Buffer) {
	defer s.wg.Done()
	defer close(l.done)

	buf := make([]byte, ringbuf.Size)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			rb.WriteBytes(buf[:n])
		}
		if err != nil {
			if !l.closing.Load() {
				s.setError(fmt.Sprintf("gps: %s read: %v", l.name, err))
				s.requestReopen()
			}
			return
		}
	}
}

func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.poll()
		}
	}
}

func (s *Service) poll() {
	s.fwd = s.asm.Drain(&s.gpsRx, s.fwd[:0])
	if len(s.fwd) > 0 && s.cfg.Companion != "" {
		s.compTx.Send(s.fwd)
	}
	s.overflows.Store(s.asm.Overflows())

	s.relay = s.relay[:0]
	for {
		c, ok := s.compRx.Read()
		if !ok {
			break
		}
		s.relay = append(s.relay, c)
	}
	if len(s.relay) > 0 {
		s.gpsTx.Send(s.relay)
	}

	s.checkSilence(s.now())
}

// checkSilence requests a reopen when neither a sentence nor a (re)open
// happened within the silence timeout.
func (s *Service) checkSilence(now time.Time) {
	last := time.Unix(0, s.openedAt.Load())
	if at := s.parser.Fix().LastFrameAt; at.After(last) {
		last = at
	}
	if now.Sub(last) < s.cfg.SilenceTimeout {
		return
	}
	s.openedAt.Store(now.UnixNano())
	if s.requestReopen() {
		s.trips.Add(1)
		log.Printf("gps: no sentence for %s, reopening", s.cfg.SilenceTimeout)
	}
}

func (s *Service) reopenLoop(ctx context.Context) {
	defer s.wg.Done()
	rl := newLimiter(s.cfg.ReopenEvery)
	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reopen:
		}
		rl.Take()

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.closeLinksLocked()
		err := s.openLinksLocked()
		s.mu.Unlock()
		s.reopens.Add(1)

		if err != nil {
			if !failing {
				log.Printf("gps: reopen failed, retrying: %v", err)
			}
			failing = true
			s.requestReopen()
			continue
		}
		failing = false
	}
}
