package nmea

import "time"

// Fix is the latest information extracted from the GPS sentence stream.
//
// Text fields keep the bounded display form; numeric fields are ready for
// computation. The zero value has empty strings and zero numbers.
type Fix struct {
	Time string `json:"time"`
	Date string `json:"date"`

	Latitude      float64 `json:"lat_deg"`
	Longitude     float64 `json:"lon_deg"`
	LatitudeText  string  `json:"lat_text,omitempty"`
	LongitudeText string  `json:"lon_text,omitempty"`
	NS            string  `json:"ns,omitempty"`
	EW            string  `json:"ew,omitempty"`

	AltitudeMSL     float64 `json:"alt_msl_m"`
	GeoidSeparation float64 `json:"geoid_sep_m"`
	HDOP            string  `json:"hdop,omitempty"`
	Satellites      int     `json:"satellites"`
	Locator         string  `json:"locator,omitempty"`

	Module Module `json:"module"`

	// LastFrame is a short debug view of the most recent sentence body.
	LastFrame   string    `json:"last_frame,omitempty"`
	LastFrameAt time.Time `json:"-"`
	GGAFrames   uint32    `json:"gga_frames"`
}

// Age reports how long ago the last sentence arrived. It is zero before the
// first sentence.
func (f Fix) Age(now time.Time) time.Duration {
	if f.LastFrameAt.IsZero() {
		return 0
	}
	return now.Sub(f.LastFrameAt)
}
