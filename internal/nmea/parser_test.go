package nmea

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", payload, ck)
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestParser(cfg Config) *Parser {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return fixedNow }
	}
	return NewParser(cfg)
}

func TestParser_GGAExample(t *testing.T) {
	p := newTestParser(Config{})
	p.Parse([]byte("$GPGGA,123519.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\n"))

	fix := p.Fix()
	if fix.Time != "12:35:20" {
		t.Fatalf("time=%q want 12:35:20", fix.Time)
	}
	if math.Abs(fix.Latitude-48.1173) > 1e-4 {
		t.Fatalf("lat=%v want ~48.1173", fix.Latitude)
	}
	if math.Abs(fix.Longitude-11.5166) > 1e-3 {
		t.Fatalf("lon=%v want ~11.5166", fix.Longitude)
	}
	if fix.Satellites != 8 {
		t.Fatalf("satellites=%d want 8", fix.Satellites)
	}
	if fix.HDOP != "0.9" {
		t.Fatalf("hdop=%q", fix.HDOP)
	}
	if fix.AltitudeMSL != 545.4 || fix.GeoidSeparation != 46.9 {
		t.Fatalf("alt=%v geoid=%v", fix.AltitudeMSL, fix.GeoidSeparation)
	}
	if fix.Locator != "JN58SC" {
		t.Fatalf("locator=%q want JN58SC", fix.Locator)
	}
	if fix.LatitudeText != "4807038" || fix.LongitudeText != "1131000" {
		t.Fatalf("text lat=%q lon=%q", fix.LatitudeText, fix.LongitudeText)
	}
	if fix.GGAFrames != 1 {
		t.Fatalf("gga frames=%d", fix.GGAFrames)
	}
	if fix.LastFrame != "GGA,1235" {
		t.Fatalf("last frame=%q", fix.LastFrame)
	}
	if !fix.LastFrameAt.Equal(fixedNow) {
		t.Fatalf("last frame at=%v", fix.LastFrameAt)
	}

	// The sample carries a stale checksum; it is counted but still parsed.
	if got := p.Stats().ChecksumErrors; got != 1 {
		t.Fatalf("checksum errors=%d want 1", got)
	}

	// Same input twice gives the same locator.
	p.Parse([]byte("$GPGGA,123519.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\n"))
	if p.Fix().Locator != fix.Locator {
		t.Fatalf("locator not reproducible")
	}
}

func TestParser_StrictChecksumDropsBadLine(t *testing.T) {
	p := newTestParser(Config{StrictChecksum: true})
	p.Parse([]byte("$GPGGA,123519.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\n"))
	if p.Fix().GGAFrames != 0 {
		t.Fatalf("expected bad checksum line dropped")
	}
	if p.Stats().Dropped != 1 {
		t.Fatalf("dropped=%d", p.Stats().Dropped)
	}

	p.Parse([]byte(nmeaLine("GPGGA,123519.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")))
	if p.Fix().GGAFrames != 1 {
		t.Fatalf("expected valid line parsed")
	}
}

func TestParser_SouthWestNegates(t *testing.T) {
	p := newTestParser(Config{})
	p.Parse([]byte(nmeaLine("GNGGA,010203,3352.128,S,15112.558,E,1,10,1.1,10.0,M,20.0,M,,")))
	fix := p.Fix()
	if fix.Latitude >= 0 || fix.Longitude <= 0 {
		t.Fatalf("lat=%v lon=%v", fix.Latitude, fix.Longitude)
	}
	if fix.Locator != "QF56OD" {
		t.Fatalf("locator=%q want QF56OD", fix.Locator)
	}

	p.Parse([]byte(nmeaLine("GNGGA,010203,4042.768,N,07400.360,W,1,10,1.1,10.0,M,20.0,M,,")))
	fix = p.Fix()
	if fix.Longitude >= 0 || fix.EW != "W" {
		t.Fatalf("lon=%v ew=%q", fix.Longitude, fix.EW)
	}
	if fix.Locator != "FN20XR" {
		t.Fatalf("locator=%q want FN20XR", fix.Locator)
	}
}

func TestParser_EmptyFieldsKeepPreviousValues(t *testing.T) {
	p := newTestParser(Config{})
	p.Parse([]byte(nmeaLine("GPGGA,123519.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")))
	before := p.Fix()

	// Receiver without a fix: empty position and quality fields.
	p.Parse([]byte(nmeaLine("GPGGA,123520.00,,,,,0,,,,,,,,")))
	after := p.Fix()

	if after.Time != "12:35:21" {
		t.Fatalf("time=%q want 12:35:21", after.Time)
	}
	if after.Latitude != before.Latitude || after.Longitude != before.Longitude {
		t.Fatalf("position changed: %v,%v -> %v,%v", before.Latitude, before.Longitude, after.Latitude, after.Longitude)
	}
	if after.Satellites != 8 || after.HDOP != "0.9" || after.AltitudeMSL != 545.4 {
		t.Fatalf("fields overwritten: %+v", after)
	}
	if after.GGAFrames != 2 {
		t.Fatalf("gga frames=%d", after.GGAFrames)
	}
}

func TestParser_OversizeHDOPIgnored(t *testing.T) {
	p := newTestParser(Config{})
	p.Parse([]byte(nmeaLine("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")))
	p.Parse([]byte(nmeaLine("GPGGA,123519,4807.038,N,01131.000,E,1,08,123456789.5,545.4,M,46.9,M,,")))
	if got := p.Fix().HDOP; got != "0.9" {
		t.Fatalf("hdop=%q want 0.9", got)
	}
}

func TestParser_TruncatedLineDoesNotPanic(t *testing.T) {
	p := newTestParser(Config{})
	for _, line := range []string{
		"",
		"$",
		"$GPGGA",
		"$GPGGA,",
		"$GPGGA,12",
		"$GPRMC,1,2,3",
		"$GPTXT",
		"\r\n",
		"$GPGGA,xx3519,48x7.038,N,,,,",
	} {
		p.Parse([]byte(line))
	}
	if p.Stats().Lines != 9 {
		t.Fatalf("lines=%d", p.Stats().Lines)
	}
}

func TestParser_RMCDate(t *testing.T) {
	cases := []struct {
		name   string
		format DateFormat
		want   string
	}{
		{"UTC", DateUTC, "23/03/94"},
		{"UTCDot", DateUTCDot, "23.03.94"},
		{"US", DateUS, "03/23/94"},
		{"ISO", DateISO, "94/03/23"},
		{"ISODash", DateISODash, "94-03-23"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestParser(Config{DateFormat: tc.format})
			if got := p.Fix().Date; got != EmptyDate {
				t.Fatalf("initial date=%q", got)
			}
			p.Parse([]byte(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")))
			if got := p.Fix().Date; got != tc.want {
				t.Fatalf("date=%q want %q", got, tc.want)
			}
		})
	}
}

func TestParser_RMCShortDateIgnored(t *testing.T) {
	p := newTestParser(Config{})
	p.Parse([]byte(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")))
	p.Parse([]byte(nmeaLine("GPRMC,123519,V,,,,,,,,,")))
	if got := p.Fix().Date; got != "23/03/94" {
		t.Fatalf("date=%q want 23/03/94", got)
	}
}

func TestParser_OffsetCarriesIntoDate(t *testing.T) {
	p := newTestParser(Config{TimeOffset: 2})
	p.Parse([]byte(nmeaLine("GPGGA,230000,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")))
	p.Parse([]byte(nmeaLine("GPRMC,230000,A,4807.038,N,01131.000,E,0.0,0.0,311299,,")))
	fix := p.Fix()
	if fix.Time != "01:00:01" {
		t.Fatalf("time=%q", fix.Time)
	}
	if fix.Date != "01/01/00" {
		t.Fatalf("date=%q want 01/01/00", fix.Date)
	}

	p.SetTimeOffset(-5)
	p.Parse([]byte(nmeaLine("GPGGA,020000,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")))
	p.Parse([]byte(nmeaLine("GPRMC,020000,A,4807.038,N,01131.000,E,0.0,0.0,010300,,")))
	fix = p.Fix()
	if fix.Time != "21:00:01" {
		t.Fatalf("time=%q", fix.Time)
	}
	// Year 00 is a leap year under the two-digit rule.
	if fix.Date != "29/02/00" {
		t.Fatalf("date=%q want 29/02/00", fix.Date)
	}
}

func TestParser_SetTimeOffsetClamps(t *testing.T) {
	p := newTestParser(Config{TimeOffset: 40})
	if p.TimeOffset() != MaxTimeOffset {
		t.Fatalf("offset=%d", p.TimeOffset())
	}
	p.SetTimeOffset(-99)
	if p.TimeOffset() != -MaxTimeOffset {
		t.Fatalf("offset=%d", p.TimeOffset())
	}
}

func TestParser_ModuleIdentityIsWriteOnce(t *testing.T) {
	var calls []Module
	p := newTestParser(Config{OnModule: func(m Module) { calls = append(calls, m) }})

	p.Parse([]byte(nmeaLine("GPTXT,01,01,02,MA=CASIC")))
	if p.Module() != ModuleUnknown {
		t.Fatalf("module=%v want unknown", p.Module())
	}

	p.Parse([]byte(nmeaLine("GPTXT,01,01,02,IC=AT6558F-5N-32-1C580901")))
	if p.Module() != ModuleATGM336H {
		t.Fatalf("module=%v want atgm336h", p.Module())
	}

	p.Parse([]byte(nmeaLine("GPTXT,01,01,02,HW UBX-G60xx 00040007")))
	p.Parse([]byte(nmeaLine("GNTXT,01,01,02,HW UBX 9 00190000")))
	if p.Module() != ModuleATGM336H {
		t.Fatalf("module overwritten: %v", p.Module())
	}
	if len(calls) != 1 || calls[0] != ModuleATGM336H {
		t.Fatalf("OnModule calls=%v", calls)
	}
	if p.Fix().Module != ModuleATGM336H {
		t.Fatalf("fix module=%v", p.Fix().Module)
	}
}

func TestParser_KnownModuleSkipsDetection(t *testing.T) {
	called := false
	p := newTestParser(Config{Module: ModuleNEO6M, OnModule: func(Module) { called = true }})
	p.Parse([]byte(nmeaLine("GNTXT,01,01,02,HW UBX 9 00190000")))
	if p.Module() != ModuleNEO6M || called {
		t.Fatalf("module=%v called=%v", p.Module(), called)
	}
}

func TestParser_UnknownSentenceUpdatesLastFrame(t *testing.T) {
	now := fixedNow
	p := NewParser(Config{Now: func() time.Time { return now }})
	p.Parse([]byte(nmeaLine("GPGSV,3,1,11,03,03,111,00,04,15,270,00")))
	now = now.Add(time.Second)
	p.Parse([]byte(nmeaLine("GPVTG,054.7,T,034.4,M,005.5,N,010.2,K")))

	fix := p.Fix()
	if fix.LastFrame != "VTG,054." {
		t.Fatalf("last frame=%q", fix.LastFrame)
	}
	if !fix.LastFrameAt.Equal(now) {
		t.Fatalf("last frame at=%v want %v", fix.LastFrameAt, now)
	}
	if fix.Age(now.Add(3*time.Second)) != 3*time.Second {
		t.Fatalf("age=%v", fix.Age(now.Add(3*time.Second)))
	}
}
