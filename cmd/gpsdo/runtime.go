package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"gpsdo/internal/actuator"
	"gpsdo/internal/capture"
	"gpsdo/internal/config"
	"gpsdo/internal/discipline"
	"gpsdo/internal/gps"
	"gpsdo/internal/nmea"
	"gpsdo/internal/settings"
	"gpsdo/internal/sim"
)

// Hardware seams, swapped in tests.
var (
	openDriverFn = actuator.Open
	openGPIOFn   = func(pin int, falling bool, bus *capture.Bus) (closer, error) {
		e, err := capture.OpenGPIOEdge(pin, falling, bus)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	openPPSFn = func(path string, bus *capture.Bus) (closer, error) {
		d, err := capture.OpenPPS(path, bus)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	openOutputFn = capture.OpenOutput
)

type closer interface{ Close() error }

const (
	// simDevice names the simulated receiver port.
	simDevice = "sim0"
	// Sentence bursts faster than this overrun the receive ring between polls.
	simSentenceFloor = 50 * time.Millisecond
)

type runtime struct {
	cfg   config.Config
	store *settings.Store

	reg  *actuator.Register
	bus  *capture.Bus
	ctrl *discipline.Controller
	gps  *gps.Service

	source closer
	out    *capture.Output
	osc    *sim.Oscillator
	timing *sim.Timing
}

func newRuntime(cfg config.Config) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	store, err := settings.Open(c.Settings.Path)
	if err != nil {
		return nil, err
	}
	st := store.Get()
	r := &runtime{cfg: c, store: store}

	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	simulated := c.Capture.Source == config.SourceSim
	var drv actuator.Driver
	if simulated {
		r.osc = sim.NewOscillator(sim.OscillatorConfig{
			NominalHz: float64(c.Discipline.NominalHz),
			OffsetHz:  c.Sim.OffsetHz,
			Gain:      c.Sim.Gain,
			Center:    c.Sim.Center,
		})
		drv = r.osc
	} else {
		drv, err = openDriverFn(actuator.Config{
			Backend:     c.Actuator.Backend,
			Pin:         c.Actuator.Pin,
			Chip:        c.Actuator.Chip,
			Channel:     c.Actuator.Channel,
			FrequencyHz: c.Actuator.FrequencyHz,
		})
		if err != nil {
			return nil, err
		}
	}
	r.reg = actuator.NewRegister(drv, st.InitialDuty())
	if err := r.reg.LastError(); err != nil {
		return nil, fmt.Errorf("actuator: initial duty %d: %w", r.reg.Duty(), err)
	}
	log.Printf("actuator backend=%s duty=%d ocxo=%s", c.Actuator.Backend, r.reg.Duty(), st.OCXOModel)

	r.bus = capture.NewBus(uint64(c.Discipline.NominalHz), c.Capture.TimerPeriod, time.Now(), c.Capture.Buffer)

	var align discipline.Aligner
	switch c.Capture.Source {
	case config.SourceSim:
		r.timing = sim.NewTiming(sim.TimingConfig{
			Output:      c.PPSOutput.Enable,
			OutputPhase: uint64(c.Discipline.NominalHz) / 4,
			JitterTicks: c.Sim.JitterTicks,
			Seed:        c.Sim.Seed,
		}, r.osc, r.bus)
		if c.PPSOutput.Enable {
			align = r.timing
		}
	case config.SourceGPIO:
		r.source, err = openGPIOFn(c.Capture.GPIOPin, c.Capture.Falling, r.bus)
	case config.SourcePPS:
		r.source, err = openPPSFn(c.Capture.PPSDevice, r.bus)
	}
	if err != nil {
		return nil, err
	}
	if !simulated {
		log.Printf("capture: %s edges are host timestamps; the oscillator must clock this host for the loop to close", c.Capture.Source)
	}
	if !simulated && c.PPSOutput.Enable {
		r.out, err = openOutputFn(capture.OutputConfig{Pin: c.PPSOutput.Pin, Width: c.PPSOutput.Width}, r.bus)
		if err != nil {
			return nil, err
		}
		align = r.out
	}
	log.Printf("capture source=%s nominal=%dHz period=%d pps_output=%t", c.Capture.Source, c.Discipline.NominalHz, c.Capture.TimerPeriod, c.PPSOutput.Enable)

	r.ctrl, err = discipline.New(discipline.Config{
		NominalHz:        c.Discipline.NominalHz,
		TimerPeriod:      c.Capture.TimerPeriod,
		SanityFloor:      c.Discipline.SanityFloor,
		SanityCeiling:    c.Discipline.SanityCeiling,
		Warmup:           time.Duration(st.WarmupSeconds) * time.Second,
		Algorithm:        st.CorrectionAlgorithm,
		Factor:           st.CorrectionFactor,
		ResyncEnabled:    st.PPSSyncOn,
		ResyncThreshold:  st.PPSSyncThreshold,
		ResyncDelay:      st.PPSSyncDelay,
		AutoSync:         st.PPSAutoSync,
		LockThreshold:    st.PPBLockThreshold,
		AveragerWindow:   c.Discipline.AveragerWindow,
		AveragerAlpha:    c.Discipline.AveragerAlpha,
		SaveDuty:         r.saveDuty,
		AutoSaveInterval: c.Discipline.AutoSaveInterval,
	}, r.reg, align, nil)
	if err != nil {
		return nil, err
	}

	gcfg := gps.Config{
		Enable:         c.GPS.Enable || simulated,
		Device:         c.GPS.Device,
		Companion:      c.GPS.Companion,
		Baud:           st.GPSBaud,
		PollInterval:   c.GPS.PollInterval,
		SilenceTimeout: c.GPS.SilenceTimeout,
		ReopenEvery:    c.GPS.ReopenEvery,
		WriteWait:      c.GPS.WriteWait,
		Parser: nmea.Config{
			TimeOffset:     st.TimeOffset,
			DateFormat:     st.DateFormat,
			Module:         st.GPSModule,
			StrictChecksum: c.GPS.StrictChecksum,
			OnModule:       store.SaveModule,
		},
	}
	if simulated {
		rcv := sim.Receiver{LatDeg: c.Sim.LatDeg, LonDeg: c.Sim.LonDeg, AltM: c.Sim.AltM, Module: c.Sim.Module}
		gcfg.OpenPort = sim.Opener(rcv, max(c.Sim.Step, simSentenceFloor), r.timing.Now)
		if gcfg.Device == "" {
			gcfg.Device = simDevice
		}
	}
	r.gps = gps.New(gcfg)

	ok = true
	return r, nil
}

// saveDuty persists the locked register unless auto-save was turned off.
func (r *runtime) saveDuty(duty uint16) error {
	if !r.store.Get().PWMAutoSave {
		return nil
	}
	return r.store.SaveDuty(duty)
}

// Run supervises the loops until ctx is canceled or one of them fails.
// signals delivers SIGHUP (reload settings) and SIGUSR1 (force a resync).
func (r *runtime) Run(ctx context.Context, signals <-chan os.Signal) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := r.gps.Start(ctx); err != nil {
		return err
	}
	if r.out != nil {
		r.out.Start(ctx)
	}

	g.Go(func() error {
		return ignoreCanceled(r.ctrl.Run(ctx, r.bus.Events()))
	})
	if r.timing != nil {
		g.Go(func() error {
			return ignoreCanceled(r.timing.Run(ctx, r.cfg.Sim.Step))
		})
	}
	g.Go(func() error {
		r.statusLoop(ctx)
		return nil
	})
	g.Go(func() error {
		r.signalLoop(ctx, signals)
		return nil
	})

	log.Printf("gpsdo running")
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *runtime) statusLoop(ctx context.Context) {
	t := time.NewTicker(r.cfg.Status.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			log.Print(r.statusLine())
		}
	}
}

func (r *runtime) statusLine() string {
	var out *outputStatus
	if r.out != nil {
		out = &outputStatus{Pulses: r.out.Pulses(), Syncs: r.out.Syncs(), LastError: r.out.LastError()}
	}
	act := actuatorStatus{Writes: r.reg.Writes()}
	if err := r.reg.LastError(); err != nil {
		act.LastError = err.Error()
	}
	return formatStatus(r.gps.Snapshot(), r.ctrl.Snapshot(), act, r.bus.Dropped(), out)
}

func (r *runtime) signalLoop(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			switch sig {
			case reloadSignal:
				if err := r.reload(); err != nil {
					log.Printf("settings reload failed: %v", err)
				}
			case resyncSignal:
				log.Printf("discipline: resync requested")
				r.ctrl.ForceSync()
			}
		}
	}
}

// reload applies an edited settings file to the running services. The saved
// duty and OCXO model only take effect on restart.
func (r *runtime) reload() error {
	prev := r.store.Get()
	st, err := r.store.Reload()
	if err != nil {
		return err
	}

	p := r.gps.Parser()
	p.SetTimeOffset(st.TimeOffset)
	p.SetDateFormat(st.DateFormat)
	r.ctrl.SetResync(st.PPSSyncOn, st.PPSSyncThreshold, st.PPSSyncDelay)
	if st.CorrectionAlgorithm != prev.CorrectionAlgorithm || st.CorrectionFactor != prev.CorrectionFactor {
		if err := r.ctrl.SetAlgorithm(st.CorrectionAlgorithm, st.CorrectionFactor); err != nil {
			return err
		}
	}
	if st.GPSBaud != prev.GPSBaud {
		if err := r.gps.SetBaud(st.GPSBaud); err != nil {
			// Keep the file in step with the rate the receiver actually uses.
			if serr := r.store.SaveBaud(prev.GPSBaud); serr != nil {
				log.Printf("settings: restore gps_baud failed: %v", serr)
			}
			return fmt.Errorf("gps baud %d: %w", st.GPSBaud, err)
		}
	}
	log.Printf("settings reloaded from %s", r.store.Path())
	return nil
}

// Close releases hardware in reverse order of acquisition. It leaves the
// PWM output running so the oscillator keeps its last tuning.
func (r *runtime) Close() {
	if r.gps != nil {
		r.gps.Close()
	}
	if r.out != nil {
		if err := r.out.Close(); err != nil {
			log.Printf("pps output close: %v", err)
		}
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			log.Printf("capture close: %v", err)
		}
	}
	if r.reg != nil {
		if err := r.reg.Close(); err != nil {
			log.Printf("actuator close: %v", err)
		}
	}
}
