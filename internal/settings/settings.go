// Package settings persists operator-tunable values across restarts.
//
// The file is YAML. Fields missing from it take their defaults, and the file
// is only rewritten when a value actually changes.
package settings

import (
	"fmt"
	"slices"

	"gpsdo/internal/actuator"
	"gpsdo/internal/discipline"
	"gpsdo/internal/gps"
	"gpsdo/internal/nmea"
)

type Settings struct {
	TimeOffset int             `yaml:"time_offset"`
	DateFormat nmea.DateFormat `yaml:"date_format"`
	GPSModule  nmea.Module     `yaml:"gps_module"`
	GPSBaud    int             `yaml:"gps_baud"`

	PPSSyncOn        bool   `yaml:"pps_sync_on"`
	PPSSyncThreshold uint32 `yaml:"pps_sync_threshold"`
	PPSSyncDelay     uint32 `yaml:"pps_sync_delay"`
	PPSAutoSync      bool   `yaml:"pps_auto_sync"`

	// PWM is the saved tuning register; nil means "use the OCXO default".
	PWM         *uint16 `yaml:"pwm,omitempty"`
	PWMAutoSave bool    `yaml:"pwm_auto_save"`
	OCXOModel   string  `yaml:"ocxo_model"`

	CorrectionAlgorithm discipline.AlgorithmKind `yaml:"correction_algorithm"`
	// CorrectionFactor 0 selects the default for the algorithm.
	CorrectionFactor int32 `yaml:"correction_factor"`
	// PPBLockThreshold is in hundredths of a ppb.
	PPBLockThreshold int32 `yaml:"ppb_lock_threshold"`
	WarmupSeconds    int   `yaml:"warmup_seconds"`
}

// DefaultBaud is the factory rate of every supported receiver.
const DefaultBaud = 9600

// ValidBaud reports whether the receiver commands can select b.
func ValidBaud(b int) bool {
	return slices.Contains(gps.SupportedBauds, b)
}

func Defaults() Settings {
	return Settings{
		DateFormat:          nmea.DateUTC,
		GPSModule:           nmea.ModuleUnknown,
		GPSBaud:             DefaultBaud,
		PPSSyncOn:           true,
		PPSSyncThreshold:    discipline.DefaultResyncThreshold,
		PPSSyncDelay:        discipline.DefaultResyncDelay,
		PPSAutoSync:         true,
		PWMAutoSave:         true,
		OCXOModel:           actuator.OCXOUnknown,
		CorrectionAlgorithm: discipline.Fredzo,
		PPBLockThreshold:    discipline.DefaultLockThreshold,
		WarmupSeconds:       3,
	}
}

func (s Settings) Validate() error {
	if s.TimeOffset < -nmea.MaxTimeOffset || s.TimeOffset > nmea.MaxTimeOffset {
		return fmt.Errorf("time_offset must be within ±%d", nmea.MaxTimeOffset)
	}
	if !ValidBaud(s.GPSBaud) {
		return fmt.Errorf("gps_baud must be one of %v", gps.SupportedBauds)
	}
	switch s.OCXOModel {
	case actuator.OCXOIsotemp, actuator.OCXOOX256B, actuator.OCXOUnknown:
	default:
		return fmt.Errorf("ocxo_model must be isotemp, ox256b or unknown")
	}
	if s.PPSSyncThreshold == 0 {
		return fmt.Errorf("pps_sync_threshold must be > 0")
	}
	if s.CorrectionFactor < 0 || s.CorrectionFactor > 10000 {
		return fmt.Errorf("correction_factor must be within 0..10000")
	}
	if s.PPBLockThreshold <= 0 {
		return fmt.Errorf("ppb_lock_threshold must be > 0")
	}
	if s.WarmupSeconds < 0 {
		return fmt.Errorf("warmup_seconds must be >= 0")
	}
	return nil
}

// InitialDuty is the saved register, or the OCXO default when none was saved.
func (s Settings) InitialDuty() uint16 {
	if s.PWM != nil {
		return *s.PWM
	}
	return actuator.DefaultDuty(s.OCXOModel)
}

func (s Settings) clone() Settings {
	if s.PWM != nil {
		v := *s.PWM
		s.PWM = &v
	}
	return s
}
