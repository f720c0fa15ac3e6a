// Package nmea extracts time, date, position and receiver identity from the
// NMEA 0183 sentence stream of a GPS receiver.
//
// Parsing is deliberately forgiving:
// - a missing, short or oversize field is skipped and the previous value kept
// - checksum mismatches are counted, and only dropped in strict mode
// - unknown sentences only refresh the last-frame debug view
package nmea

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
)

const (
	maxHDOPText   = 8
	maxFrameText  = 8
	talkerIDWidth = 3 // "$GP", "$GN", ...
)

type Config struct {
	// TimeOffset shifts displayed time and date by whole hours.
	TimeOffset int
	DateFormat DateFormat
	// Module is the receiver identity already known from settings.
	Module Module
	// StrictChecksum drops sentences whose checksum does not match.
	StrictChecksum bool

	// OnModule is called once, from the parsing goroutine, when a TXT banner
	// first identifies the receiver.
	OnModule func(Module)

	// Now defaults to time.Now.
	Now func() time.Time
}

type Stats struct {
	Lines          uint64 `json:"lines"`
	GGA            uint64 `json:"gga"`
	RMC            uint64 `json:"rmc"`
	TXT            uint64 `json:"txt"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Dropped        uint64 `json:"dropped"`
}

// Parser owns the Fix. Parse must be called from a single goroutine; Fix,
// Stats and the setters are safe from any goroutine.
type Parser struct {
	now      func() time.Time
	strict   bool
	onModule func(Module)

	offset     atomic.Int32
	dateFormat atomic.Int32
	module     atomic.Int32

	fix      Fix
	dayCarry int

	last atomic.Value // Fix

	lines, gga, rmc, txt, ckErrs, dropped atomic.Uint64
}

func NewParser(cfg Config) *Parser {
	p := &Parser{now: cfg.Now, strict: cfg.StrictChecksum, onModule: cfg.OnModule}
	if p.now == nil {
		p.now = time.Now
	}
	p.SetTimeOffset(cfg.TimeOffset)
	p.SetDateFormat(cfg.DateFormat)
	p.module.Store(int32(cfg.Module))
	p.fix.Date = EmptyDate
	p.fix.Module = cfg.Module
	p.last.Store(p.fix)
	return p
}

// SetTimeOffset changes the hour offset, clamped to ±MaxTimeOffset.
func (p *Parser) SetTimeOffset(hours int) {
	if hours > MaxTimeOffset {
		hours = MaxTimeOffset
	} else if hours < -MaxTimeOffset {
		hours = -MaxTimeOffset
	}
	p.offset.Store(int32(hours))
}

func (p *Parser) TimeOffset() int { return int(p.offset.Load()) }

func (p *Parser) SetDateFormat(f DateFormat) { p.dateFormat.Store(int32(f)) }

func (p *Parser) Module() Module { return Module(p.module.Load()) }

// Fix returns a copy of the latest fix.
func (p *Parser) Fix() Fix {
	v := p.last.Load()
	if v == nil {
		return Fix{}
	}
	return v.(Fix)
}

func (p *Parser) Stats() Stats {
	return Stats{
		Lines:          p.lines.Load(),
		GGA:            p.gga.Load(),
		RMC:            p.rmc.Load(),
		TXT:            p.txt.Load(),
		ChecksumErrors: p.ckErrs.Load(),
		Dropped:        p.dropped.Load(),
	}
}

// Parse consumes one line, with or without its CR/LF terminator.
func (p *Parser) Parse(line []byte) {
	p.lines.Add(1)
	s := strings.TrimRight(string(line), "\r\n\x00")

	body := s
	if star := strings.LastIndexByte(s, '*'); star > 0 {
		body = s[:star]
		if strings.HasPrefix(s, "$") && !checksumOK(s[1:star], s[star+1:]) {
			p.ckErrs.Add(1)
			if p.strict {
				p.dropped.Add(1)
				return
			}
		}
	}

	if len(s) >= talkerIDWidth+3 {
		switch s[talkerIDWidth : talkerIDWidth+3] {
		case "GGA":
			p.applyGGA(strings.Split(body, ","))
		case "RMC":
			p.applyRMC(strings.Split(body, ","))
		case "TXT":
			p.applyTXT(s)
		}
	}

	if len(s) > maxFrameText+talkerIDWidth {
		p.fix.LastFrame = s[talkerIDWidth : talkerIDWidth+maxFrameText]
	}
	p.fix.LastFrameAt = p.now()
	p.last.Store(p.fix)
}

func checksumOK(payload, ck string) bool {
	if len(ck) < 2 {
		return false
	}
	return strings.EqualFold(ck[:2], gonmea.Checksum(payload))
}

func field(f []string, i int) string {
	if i < len(f) {
		return strings.TrimSpace(f[i])
	}
	return ""
}

// GGA: Global Positioning System Fix Data
//
//	0: talker+type
//	1: time (hhmmss.ss)
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality
//	7: satellites in use
//	8: HDOP
//	9: altitude MSL
//
// 10: units (M)
// 11: geoid separation
func (p *Parser) applyGGA(f []string) {
	p.gga.Add(1)
	offset := p.TimeOffset()

	if t, carry, ok := CorrectTime(field(f, 1), offset); ok {
		p.fix.Time = t
		p.dayCarry = carry
	}

	if v, text, ok := ParseCoordinate(field(f, 2)); ok {
		p.fix.LatitudeText = text
		p.fix.Latitude = v
		if ns := field(f, 3); len(ns) == 1 {
			p.fix.NS = ns
			if ns == "S" {
				p.fix.Latitude = -v
			}
		}
	}
	if v, text, ok := ParseCoordinate(field(f, 4)); ok {
		p.fix.LongitudeText = text
		p.fix.Longitude = v
		if ew := field(f, 5); len(ew) == 1 {
			p.fix.EW = ew
			if ew == "W" {
				p.fix.Longitude = -v
			}
		}
	}
	p.fix.Locator = Locator(p.fix.Latitude, p.fix.Longitude)

	if n, err := strconv.Atoi(field(f, 7)); err == nil && n >= 0 {
		p.fix.Satellites = n
	}
	if h := field(f, 8); h != "" && len(h) <= maxHDOPText {
		p.fix.HDOP = h
	}
	if v, err := strconv.ParseFloat(field(f, 9), 64); err == nil {
		p.fix.AltitudeMSL = v
	}
	if v, err := strconv.ParseFloat(field(f, 11), 64); err == nil {
		p.fix.GeoidSeparation = v
	}
	p.fix.GGAFrames++
}

// RMC: Recommended Minimum Specific GNSS Data. Only the date is used.
//
//	9: date (ddmmyy)
func (p *Parser) applyRMC(f []string) {
	p.rmc.Add(1)
	d, ok := CorrectDate(field(f, 9), p.TimeOffset(), p.dayCarry, DateFormat(p.dateFormat.Load()))
	if ok {
		p.fix.Date = d
	}
}

func (p *Parser) applyTXT(line string) {
	p.txt.Add(1)
	if p.Module() != ModuleUnknown {
		return
	}
	m, ok := DetectModule(line)
	if !ok {
		return
	}
	if !p.module.CompareAndSwap(int32(ModuleUnknown), int32(m)) {
		return
	}
	p.fix.Module = m
	if p.onModule != nil {
		p.onModule(m)
	}
}
