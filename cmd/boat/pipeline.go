package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/banshee-data/boatnav/internal/monitoring"
	"github.com/banshee-data/boatnav/internal/recorder"
	"github.com/banshee-data/boatnav/internal/session"
	"github.com/banshee-data/boatnav/internal/telemetry"
	"github.com/banshee-data/boatnav/internal/units"
)

// pipeline routes decoded link traffic to the recorder and the estimator
// queue. It is driven by a single subscriber goroutine.
type pipeline struct {
	decoder  *telemetry.Decoder
	recorder *recorder.Recorder
	obs      chan<- session.Observation

	lastStatus telemetry.Status
	statusSeen bool
	decodeErrs int
}

// handleLine decodes one line. Only a cancelled context is returned as an
// error; malformed frames are logged and counted.
func (p *pipeline) handleLine(ctx context.Context, line string) error {
	ev, err := p.decoder.Decode(line)
	if err != nil {
		p.decodeErrs++
		monitoring.Logf("dropping frame: %v", err)
		return nil
	}

	switch {
	case ev.Telemetry != nil:
		if p.recorder != nil {
			p.recorder.AppendTelemetry(*ev.Telemetry)
		}
		select {
		case p.obs <- p.decoder.Observation(*ev.Telemetry):
		case <-ctx.Done():
			return ctx.Err()
		}
	case ev.Onboard != nil:
		if p.recorder != nil {
			p.recorder.AppendOnboard(*ev.Onboard)
		}
	case ev.Status != nil:
		if !p.statusSeen || *ev.Status != p.lastStatus {
			log.Printf("boat status: %s", *ev.Status)
		}
		p.lastStatus = *ev.Status
		p.statusSeen = true
	default:
		log.Printf("boat: %s", strings.TrimSpace(ev.Debug))
	}
	return nil
}

// statusLine summarises the live estimate for the console.
func statusLine(sess *session.Session, dec *telemetry.Decoder, rec *recorder.Recorder, speedUnits string) string {
	var sb strings.Builder
	st := sess.State()
	fmt.Fprintf(&sb, "x=%.1fm y=%.1fm heading=%.1f° rate=%.1f°/s speed=%.2f%s steps=%d",
		st.X, st.Y, st.Heading, st.HeadingRate,
		units.ConvertSpeed(st.Speed(), speedUnits), speedUnits, sess.Len())
	if latest, ok := sess.Latest(); ok {
		fmt.Fprintf(&sb, " mode=%s", latest.Mode)
	}
	if s, ok := dec.Status(); ok {
		fmt.Fprintf(&sb, "\nlink: %s", s)
	} else {
		sb.WriteString("\nlink: no status yet")
	}
	if rec != nil {
		p := rec.Pending()
		fmt.Fprintf(&sb, "\npending: %d telemetry, %d onboard, %d estimates", p.Telemetry, p.Onboard, p.Estimates)
	}
	return sb.String()
}
