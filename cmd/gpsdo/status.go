package main

import (
	"fmt"
	"strings"

	"gpsdo/internal/discipline"
	"gpsdo/internal/gps"
)

type actuatorStatus struct {
	Writes    uint64
	LastError string
}

type outputStatus struct {
	Pulses    uint64
	Syncs     uint64
	LastError string
}

// formatStatus renders the periodic status line: receiver, loop, actuator,
// then drop counters. Empty receiver fields print as "-".
func formatStatus(g gps.Snapshot, d discipline.Snapshot, act actuatorStatus, captureDropped uint64, out *outputStatus) string {
	var b strings.Builder
	b.WriteString("status:")
	if g.Enabled {
		fmt.Fprintf(&b, " gps=%s module=%s time=%s date=%s sats=%d loc=%s",
			openState(g.Open), g.Fix.Module, dash(g.Fix.Time, ""), dash(g.Fix.Date, "/.-"),
			g.Fix.Satellites, dash(g.Fix.Locator, ""))
	} else {
		b.WriteString(" gps=off")
	}
	writeLoop(&b, d)
	fmt.Fprintf(&b, " | act writes=%d", act.Writes)
	if act.LastError != "" {
		fmt.Fprintf(&b, " act_err=%q", act.LastError)
	}
	writeDrops(&b, g, captureDropped, out)
	return b.String()
}

func writeLoop(b *strings.Builder, d discipline.Snapshot) {
	fmt.Fprintf(b, " | algo=%s/%d edges=%d ticks=%d err=%d ppb=%s duty=%d",
		d.Algorithm, d.Factor, d.Edges, d.Ticks, d.Error, hundredths(d.PPB), d.Duty)
	switch {
	case d.Locked:
		b.WriteString(" locked")
	case !d.Warm:
		b.WriteString(" warming")
	}
	fmt.Fprintf(b, " pps_err=%dns shifts=%d syncs=%d", d.PPSErrorNs, d.ShiftCount, d.SyncCount)
	if d.LastError != "" {
		fmt.Fprintf(b, " loop_err=%q", d.LastError)
	}
}

func writeDrops(b *strings.Builder, g gps.Snapshot, captureDropped uint64, out *outputStatus) {
	fmt.Fprintf(b, " | drops capture=%d rx=%d fwd=%d", captureDropped, g.RxDropped, g.ForwardDropped)
	if g.Companion != "" {
		fmt.Fprintf(b, " comp_rx=%d relay=%d", g.CompanionRxDropped, g.RelayDropped)
		fmt.Fprintf(b, " sent fwd=%d relay=%d", g.ForwardSent, g.RelaySent)
		if g.ForwardError != "" {
			fmt.Fprintf(b, " comp_tx_err=%q", g.ForwardError)
		}
	}
	if g.WatchdogTrips > 0 || g.Reopens > 0 {
		fmt.Fprintf(b, " trips=%d reopens=%d", g.WatchdogTrips, g.Reopens)
	}
	if g.LastError != "" {
		fmt.Fprintf(b, " gps_err=%q", g.LastError)
	}
	if g.RelayError != "" {
		fmt.Fprintf(b, " tx_err=%q", g.RelayError)
	}
	if out != nil {
		fmt.Fprintf(b, " | out pulses=%d syncs=%d", out.Pulses, out.Syncs)
		if out.LastError != "" {
			fmt.Fprintf(b, " out_err=%q", out.LastError)
		}
	}
}

func openState(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}

// dash stands in for a field that is blank apart from separators.
func dash(s, separators string) string {
	if strings.Trim(s, " "+separators) == "" {
		return "-"
	}
	return s
}

// hundredths renders a value scaled by 100 with two decimals.
func hundredths(v int32) string {
	sign := ""
	n := int64(v)
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}
