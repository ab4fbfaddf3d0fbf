package main

import (
	"fmt"
	"io"
	"time"

	"github.com/ent0n29/maitred/internal/clock"
	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/session"
)

// report is the replay's presenter. It prints every change with its offset
// from the start of the trace and keeps counts for the final summary.
type report struct {
	clk *clock.Mock
	out io.Writer

	events      int
	state       session.State
	transitions []string
	modes       []session.Mode
	connects    []bool
	sends       int
	ended       []session.Summary
}

func (r *report) SetMode(mode session.Mode) {
	r.modes = append(r.modes, mode)
	r.logf("mode %s", mode)
}

func (r *report) SetConnected(connected bool) {
	r.logf("connected=%t", connected)
}

func (r *report) SetStartEnabled(enabled bool) {
	r.logf("start_enabled=%t", enabled)
}

func (r *report) observe(snap session.Snapshot) {
	if snap.State == r.state {
		return
	}
	r.transitions = append(r.transitions, fmt.Sprintf("%s->%s", r.state, snap.State))
	r.logf("state %s -> %s", r.state, snap.State)
	r.state = snap.State
}

func (r *report) logf(format string, args ...any) {
	offset := r.clk.Now().Sub(epoch)
	fmt.Fprintf(r.out, "+%6.2fs  %s\n", offset.Seconds(), fmt.Sprintf(format, args...))
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "\nevents=%d transitions=%d mode_changes=%d sends=%d sessions=%d\n",
		r.events, len(r.transitions), len(r.modes), r.sends, len(r.ended))
	for _, sum := range r.ended {
		fmt.Fprintf(w, "  %s reason=%s duration=%s transcript=%q\n",
			sum.SessionID, sum.Reason, sum.EndedAt.Sub(sum.StartedAt).Round(time.Millisecond), sum.LastTranscript)
	}
}

// replayTransport accepts everything the machine sends. Connection state is
// driven by open and close entries in the trace.
type replayTransport struct {
	rep *report
}

func (t *replayTransport) Connect(sessionID string, audioEnabled bool) error {
	t.rep.connects = append(t.rep.connects, audioEnabled)
	t.rep.logf("connect session=%s audio=%t", sessionID, audioEnabled)
	return nil
}

func (t *replayTransport) Send(protocol.Envelope) error {
	t.rep.sends++
	return nil
}
