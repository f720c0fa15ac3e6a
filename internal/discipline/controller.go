// Package discipline steers a local oscillator toward GPS time.
//
// A Controller consumes capture events, measures the oscillator against
// each GPS PPS edge, smooths the error, and applies a correction law to the
// actuator register. It also keeps the local PPS output aligned with the
// GPS edge.
package discipline

import (
	"context"
	"log"
	"sync"
	"time"

	"gpsdo/internal/capture"
)

// Actuator is the duty register the controller steers.
type Actuator interface {
	ApplyDelta(delta int32) uint16
	Duty() uint16
}

// Aligner restarts the local PPS output on a GPS edge.
type Aligner interface {
	Resync(at time.Time)
}

const DefaultAutoSaveInterval = time.Hour

type Config struct {
	NominalHz     uint32
	TimerPeriod   uint32
	SanityFloor   time.Duration
	SanityCeiling time.Duration
	// Warmup delays corrections after the first edge. Statistics are fed
	// from the first valid sample regardless.
	Warmup time.Duration

	Algorithm AlgorithmKind
	Factor    int32

	ResyncEnabled   bool
	ResyncThreshold uint32
	ResyncDelay     uint32
	// AutoSync forces one resync when the frequency first locks.
	AutoSync bool

	// LockThreshold is in hundredths of a ppb.
	LockThreshold  int32
	AveragerWindow int
	AveragerAlpha  float64

	// SaveDuty persists the register while locked, at most once per
	// AutoSaveInterval and only when it changed. Nil disables auto-save.
	SaveDuty         func(duty uint16) error
	AutoSaveInterval time.Duration
}

type Snapshot struct {
	Algorithm string `json:"algorithm"`
	Factor    int32  `json:"factor"`

	Edges     uint64 `json:"edges"`
	Rejected  uint64 `json:"rejected"`
	Samples   int    `json:"samples"`
	Warm      bool   `json:"warm"`
	Adjusting bool   `json:"adjusting"`
	Locked    bool   `json:"locked"`

	Ticks      uint32 `json:"ticks"`
	Error      int32  `json:"error_ticks"`
	PPB        int32  `json:"ppb_x100"`
	Correction int32  `json:"correction"`
	Duty       uint16 `json:"duty"`
	GapMillis  int32  `json:"gap_ms"`

	PPSError   int32  `json:"pps_error_ticks"`
	PPSErrorNs int64  `json:"pps_error_ns"`
	ShiftCount uint32 `json:"shift_count"`
	SyncCount  uint32 `json:"sync_count"`
	Uptime     uint32 `json:"uptime"`

	LastEdgeAt time.Time `json:"last_edge_utc,omitempty"`
	LastSaveAt time.Time `json:"last_save_utc,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Controller is the frequency discipline loop. Handle and Run must be used
// from a single goroutine; the setters and Snapshot are safe from any.
type Controller struct {
	cfg   Config
	act   Actuator
	align Aligner

	meas   *Measurer
	stats  Statistics
	resync *Resync

	cfgMu   sync.Mutex
	algo    Algorithm
	rsOn    bool
	rsThres uint32
	rsDelay uint32

	start     time.Time
	wasLocked bool
	saveAt    time.Time
	savedDuty uint16
	saved     bool

	mu   sync.RWMutex
	snap Snapshot
}

// New builds a controller. align may be nil when there is no PPS output.
// stats may be nil to use an Averager built from cfg.
func New(cfg Config, act Actuator, align Aligner, stats Statistics) (*Controller, error) {
	if cfg.NominalHz == 0 {
		cfg.NominalHz = DefaultNominalHz
	}
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = DefaultAutoSaveInterval
	}
	algo, err := NewAlgorithm(cfg.Algorithm, cfg.Factor)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = NewAverager(cfg.NominalHz, cfg.AveragerWindow, cfg.AveragerAlpha, cfg.LockThreshold)
	}
	rs := NewResync(cfg.ResyncEnabled, cfg.ResyncThreshold, cfg.ResyncDelay)
	c := &Controller{
		cfg:     cfg,
		act:     act,
		align:   align,
		meas:    NewMeasurer(cfg.NominalHz, cfg.TimerPeriod, cfg.SanityFloor, cfg.SanityCeiling),
		stats:   stats,
		resync:  rs,
		algo:    algo,
		rsOn:    rs.Enabled,
		rsThres: rs.Threshold,
		rsDelay: rs.Delay,
	}
	c.snap.Algorithm = algo.Kind().String()
	c.snap.Factor = algo.Factor()
	if act != nil {
		c.snap.Duty = act.Duty()
	}
	return c, nil
}

// SetAlgorithm switches the correction law for subsequent edges.
func (c *Controller) SetAlgorithm(kind AlgorithmKind, factor int32) error {
	algo, err := NewAlgorithm(kind, factor)
	if err != nil {
		return err
	}
	c.cfgMu.Lock()
	c.algo = algo
	c.cfgMu.Unlock()
	c.setState(func(s *Snapshot) {
		s.Algorithm = algo.Kind().String()
		s.Factor = algo.Factor()
	})
	log.Printf("discipline: algorithm=%s factor=%d", algo.Kind(), algo.Factor())
	return nil
}

// SetResync changes the PPS resync parameters for subsequent edges.
func (c *Controller) SetResync(enabled bool, threshold, delay uint32) {
	if threshold == 0 {
		threshold = DefaultResyncThreshold
	}
	c.cfgMu.Lock()
	c.rsOn, c.rsThres, c.rsDelay = enabled, threshold, delay
	c.cfgMu.Unlock()
}

// ForceSync requests a PPS output resync on the next edge.
func (c *Controller) ForceSync() { c.resync.Force() }

func (c *Controller) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Controller) setState(update func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.snap)
}

// Run handles events until ctx is canceled or events is closed.
func (c *Controller) Run(ctx context.Context, events <-chan capture.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Handle(ev)
		}
	}
}

// Handle processes one capture event.
func (c *Controller) Handle(ev capture.Event) {
	switch ev.Kind {
	case capture.Overflow:
		c.meas.Overflow(ev.Count)
	case capture.PPSOut:
		c.meas.PPSOutput(ev.Value)
	case capture.Capture:
		c.edge(ev.Value, ev.At)
	}
}

func (c *Controller) edge(value uint32, at time.Time) {
	if c.start.IsZero() {
		c.start = at
		c.saveAt = at
	}

	c.cfgMu.Lock()
	algo := c.algo
	c.resync.Enabled, c.resync.Threshold, c.resync.Delay = c.rsOn, c.rsThres, c.rsDelay
	c.cfgMu.Unlock()

	m := c.meas.Capture(value, at)
	warm := at.Sub(c.start) >= c.cfg.Warmup

	var correction int32
	if m.Valid {
		c.stats.Add(m.Ticks)
		if warm && c.act != nil {
			correction = algo.Correct(Input{
				Error:  c.stats.Error(),
				PPB:    c.stats.PPB(),
				Uptime: c.meas.Uptime(),
			})
			if correction != 0 {
				c.act.ApplyDelta(-correction)
			}
			m.Adjusting = true
		}
	}

	locked := c.stats.Locked()
	if locked && !c.wasLocked {
		log.Printf("discipline: locked ppb_x100=%d duty=%d", c.stats.PPB(), c.duty())
		if c.cfg.AutoSync {
			c.resync.Force()
		}
	} else if !locked && c.wasLocked {
		log.Printf("discipline: lock lost ppb_x100=%d", c.stats.PPB())
	}
	c.wasLocked = locked

	if c.align != nil && !m.Early && c.meas.PPSOutputSeen() && c.resync.Observe(m.PPSError) {
		c.align.Resync(at)
		log.Printf("discipline: pps output resync count=%d pps_error=%d", c.resync.SyncCount(), m.PPSError)
	}

	var saveErr error
	var savedAt time.Time
	duty := c.duty()
	if locked && c.cfg.SaveDuty != nil && at.Sub(c.saveAt) >= c.cfg.AutoSaveInterval && (!c.saved || duty != c.savedDuty) {
		c.saveAt = at
		if saveErr = c.cfg.SaveDuty(duty); saveErr == nil {
			c.saved = true
			c.savedDuty = duty
			savedAt = at
		} else {
			log.Printf("discipline: auto-save duty failed: %v", saveErr)
		}
	}

	c.setState(func(s *Snapshot) {
		s.Algorithm = algo.Kind().String()
		s.Factor = algo.Factor()
		s.Edges = c.meas.Edges()
		s.Rejected = c.meas.Rejected()
		s.Samples = c.stats.Samples()
		s.Warm = warm
		s.Adjusting = m.Adjusting
		s.Locked = locked
		if m.Valid {
			s.Ticks = m.Ticks
			s.GapMillis = m.GapMillis
		}
		s.Error = c.stats.Error()
		s.PPB = c.stats.PPB()
		s.Correction = -correction
		s.Duty = duty
		s.PPSError = m.PPSError
		s.PPSErrorNs = int64(m.PPSError) * int64(time.Second) / int64(c.meas.Nominal())
		s.ShiftCount = c.resync.ShiftCount()
		s.SyncCount = c.resync.SyncCount()
		s.Uptime = c.meas.Uptime()
		s.LastEdgeAt = at
		if !savedAt.IsZero() {
			s.LastSaveAt = savedAt
		}
		if saveErr != nil {
			s.LastError = saveErr.Error()
		}
	})
}

func (c *Controller) duty() uint16 {
	if c.act == nil {
		return 0
	}
	return c.act.Duty()
}
