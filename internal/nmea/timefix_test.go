package nmea

import "testing"

func TestCorrectTime(t *testing.T) {
	cases := []struct {
		raw    string
		offset int
		want   string
		carry  int
	}{
		{"123519.00", 0, "12:35:20", 0},
		{"123559", 0, "12:36:00", 0},
		{"235959", 0, "00:00:00", 1},
		{"125959", 5, "18:00:00", 0},
		{"120059", 5, "17:01:00", 0},
		{"220000", 3, "01:00:01", 1},
		{"010000", -3, "22:00:01", -1},
		{"000000", -14, "10:00:01", -1},
		{"235959", -1, "23:00:00", 0},
	}
	for _, tc := range cases {
		got, carry, ok := CorrectTime(tc.raw, tc.offset)
		if !ok {
			t.Fatalf("CorrectTime(%q,%d) not ok", tc.raw, tc.offset)
		}
		if got != tc.want || carry != tc.carry {
			t.Fatalf("CorrectTime(%q,%d)=%q,%d want %q,%d", tc.raw, tc.offset, got, carry, tc.want, tc.carry)
		}
	}
}

func TestCorrectTime_RejectsShortOrGarbage(t *testing.T) {
	for _, raw := range []string{"", "1235", "12351", "ab3519"} {
		if _, _, ok := CorrectTime(raw, 0); ok {
			t.Fatalf("CorrectTime(%q) ok", raw)
		}
	}
}

func TestRollDate(t *testing.T) {
	cases := []struct {
		name                string
		d, m, y, carry      int
		wantD, wantM, wantY int
	}{
		{"no carry", 15, 6, 24, 0, 15, 6, 24},
		{"mid month forward", 15, 6, 24, 1, 16, 6, 24},
		{"end of 31 day month", 31, 1, 24, 1, 1, 2, 24},
		{"30th of 31 day month stays", 30, 1, 24, 1, 31, 1, 24},
		{"end of 30 day month", 30, 4, 24, 1, 1, 5, 24},
		{"leap february", 28, 2, 24, 1, 29, 2, 24},
		{"non-leap february", 28, 2, 23, 1, 1, 3, 23},
		{"leap february end", 29, 2, 24, 1, 1, 3, 24},
		{"new year", 31, 12, 99, 1, 1, 1, 0},
		{"back into 30 day month", 1, 5, 24, -1, 30, 4, 24},
		{"back into leap february", 1, 3, 24, -1, 29, 2, 24},
		{"back into february", 1, 3, 23, -1, 28, 2, 23},
		{"back over new year", 1, 1, 0, -1, 31, 12, 99},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, m, y := RollDate(tc.d, tc.m, tc.y, tc.carry)
			if d != tc.wantD || m != tc.wantM || y != tc.wantY {
				t.Fatalf("RollDate(%d,%d,%d,%d)=%d,%d,%d want %d,%d,%d",
					tc.d, tc.m, tc.y, tc.carry, d, m, y, tc.wantD, tc.wantM, tc.wantY)
			}
		})
	}
}

func TestCorrectDate_OffsetZeroIgnoresCarry(t *testing.T) {
	got, ok := CorrectDate("311299", 0, 1, DateUTC)
	if !ok || got != "31/12/99" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	got, ok = CorrectDate("311299", 1, 1, DateISODash)
	if !ok || got != "00-01-01" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if _, ok := CorrectDate("3112", 1, 0, DateUTC); ok {
		t.Fatalf("short date accepted")
	}
}

func TestDateFormatText(t *testing.T) {
	for _, f := range []DateFormat{DateUTC, DateUTCDot, DateUS, DateISO, DateISODash} {
		b, err := f.MarshalText()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back DateFormat
		if err := back.UnmarshalText(b); err != nil || back != f {
			t.Fatalf("%v round trip got %v err=%v", f, back, err)
		}
	}
	if _, err := ParseDateFormat("julian"); err == nil {
		t.Fatalf("expected error")
	}
	if f, err := ParseDateFormat(""); err != nil || f != DateUTC {
		t.Fatalf("empty -> %v %v", f, err)
	}
}
