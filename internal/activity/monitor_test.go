package activity

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ent0n29/maitred/internal/protocol"
)

func frame(peak int16) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out[2:], uint16(peak))
	return out
}

func TestResetSetsAllTimestamps(t *testing.T) {
	m := NewMonitor(0)
	now := time.Unix(100, 0)
	m.Reset(now)
	ts := m.Timestamps()
	for name, v := range map[string]time.Time{
		"user":  ts.LastUserSpeechAt,
		"agent": ts.LastAgentActivityAt,
		"audio": ts.LastAudioFrameAt,
		"turn":  ts.LastTurnCompleteAt,
	} {
		if !v.Equal(now) {
			t.Fatalf("%s timestamp = %v, want %v", name, v, now)
		}
	}

	m.Clear()
	if !m.Timestamps().LastUserSpeechAt.IsZero() {
		t.Fatalf("Clear() left timestamps set")
	}
}

func TestOutboundFrameThreshold(t *testing.T) {
	m := NewMonitor(0)
	start := time.Unix(100, 0)
	m.Reset(start)

	if m.ObserveOutboundFrame(frame(700), start.Add(time.Second)) {
		t.Fatalf("peak 700 should not count as speech")
	}
	if !m.Timestamps().LastUserSpeechAt.Equal(start) {
		t.Fatalf("quiet frame moved LastUserSpeechAt")
	}

	at := start.Add(2 * time.Second)
	if !m.ObserveOutboundFrame(frame(-701), at) {
		t.Fatalf("peak 701 should count as speech")
	}
	if !m.Timestamps().LastUserSpeechAt.Equal(at) {
		t.Fatalf("LastUserSpeechAt = %v, want %v", m.Timestamps().LastUserSpeechAt, at)
	}
}

func TestInboundAudioUpdatesAgentAndAudio(t *testing.T) {
	m := NewMonitor(0)
	m.Reset(time.Unix(0, 0))
	at := time.Unix(5, 0)

	obs := m.ObserveInbound(protocol.Envelope{MimeType: protocol.MimeAudio, Data: "AAA="}, at)
	if !obs.AgentAudio || obs.Interrupted {
		t.Fatalf("unexpected observation: %+v", obs)
	}
	ts := m.Timestamps()
	if !ts.LastAgentActivityAt.Equal(at) || !ts.LastAudioFrameAt.Equal(at) {
		t.Fatalf("timestamps not updated: %+v", ts)
	}
	if ts.LastUserSpeechAt.Equal(at) {
		t.Fatalf("agent audio must not touch user speech")
	}
}

func TestInboundInterruptedShortCircuits(t *testing.T) {
	m := NewMonitor(0)
	m.Reset(time.Unix(0, 0))
	at := time.Unix(5, 0)

	env := protocol.Envelope{
		MimeType:     protocol.MimeAudio,
		Data:         "AAA=",
		Interrupted:  protocol.Bool(true),
		TurnComplete: protocol.Bool(true),
	}
	obs := m.ObserveInbound(env, at)
	if !obs.Interrupted || obs.AgentAudio || obs.TurnComplete {
		t.Fatalf("unexpected observation: %+v", obs)
	}
	if m.Timestamps().LastAudioFrameAt.Equal(at) {
		t.Fatalf("interrupted envelope must not count as an audio frame")
	}
}

func TestInboundTextAndTurnComplete(t *testing.T) {
	m := NewMonitor(0)
	m.Reset(time.Unix(0, 0))

	obs := m.ObserveInbound(protocol.NewTextEnvelope("hello"), time.Unix(3, 0))
	if obs.Transcript != "hello" {
		t.Fatalf("Transcript = %q", obs.Transcript)
	}
	if !m.Timestamps().LastAgentActivityAt.Equal(time.Unix(3, 0)) {
		t.Fatalf("text should mark agent activity")
	}

	obs = m.ObserveInbound(protocol.Envelope{TurnComplete: protocol.Bool(true)}, time.Unix(4, 0))
	if !obs.TurnComplete {
		t.Fatalf("TurnComplete = false")
	}
	if !m.Timestamps().LastTurnCompleteAt.Equal(time.Unix(4, 0)) {
		t.Fatalf("LastTurnCompleteAt not updated")
	}
}

func TestLastInteractionPicksLatest(t *testing.T) {
	m := NewMonitor(0)
	m.Reset(time.Unix(0, 0))
	m.ObserveOutboundFrame(frame(5000), time.Unix(9, 0))
	m.ObserveInbound(protocol.NewTextEnvelope("x"), time.Unix(7, 0))
	if got := m.LastInteraction(); !got.Equal(time.Unix(9, 0)) {
		t.Fatalf("LastInteraction() = %v, want 9s", got)
	}
}
