// Package activity derives speaking signals from audio frames and inbound
// envelopes. It only keeps timestamps; acting on them is the session's job.
package activity

import (
	"time"

	"github.com/ent0n29/maitred/internal/audio"
	"github.com/ent0n29/maitred/internal/protocol"
)

type Timestamps struct {
	LastUserSpeechAt    time.Time `json:"last_user_speech_at"`
	LastAgentActivityAt time.Time `json:"last_agent_activity_at"`
	LastAudioFrameAt    time.Time `json:"last_audio_frame_at"`
	LastTurnCompleteAt  time.Time `json:"last_turn_complete_at"`
}

// Observation summarizes what one inbound envelope means for the session.
type Observation struct {
	// Interrupted short-circuits everything else in the envelope.
	Interrupted  bool
	AgentAudio   bool
	Transcript   string
	TurnComplete bool
}

type Monitor struct {
	threshold int
	ts        Timestamps
}

func NewMonitor(threshold int) *Monitor {
	if threshold <= 0 {
		threshold = audio.SilenceThreshold
	}
	return &Monitor{threshold: threshold}
}

// Reset sets every timestamp to now, as on session start.
func (m *Monitor) Reset(now time.Time) {
	m.ts = Timestamps{
		LastUserSpeechAt:    now,
		LastAgentActivityAt: now,
		LastAudioFrameAt:    now,
		LastTurnCompleteAt:  now,
	}
}

// Clear zeroes every timestamp, as on session stop.
func (m *Monitor) Clear() {
	m.ts = Timestamps{}
}

func (m *Monitor) Timestamps() Timestamps {
	return m.ts
}

// LastInteraction is the later of the last user speech and last agent activity.
func (m *Monitor) LastInteraction() time.Time {
	if m.ts.LastAgentActivityAt.After(m.ts.LastUserSpeechAt) {
		return m.ts.LastAgentActivityAt
	}
	return m.ts.LastUserSpeechAt
}

// SinceAudio is how long the agent audio stream has been silent.
func (m *Monitor) SinceAudio(now time.Time) time.Duration {
	return now.Sub(m.ts.LastAudioFrameAt)
}

func (m *Monitor) ObserveInbound(env protocol.Envelope, now time.Time) Observation {
	var obs Observation

	if env.MimeType == protocol.MimeText {
		m.ts.LastAgentActivityAt = now
	}
	if env.IsInterrupted() {
		obs.Interrupted = true
		return obs
	}
	if env.MimeType == protocol.MimeText {
		obs.Transcript = env.Data
	}
	if env.MimeType == protocol.MimeAudio {
		m.ts.LastAgentActivityAt = now
		m.ts.LastAudioFrameAt = now
		obs.AgentAudio = true
	}
	if env.IsTurnComplete() {
		m.ts.LastTurnCompleteAt = now
		m.ts.LastAgentActivityAt = now
		obs.TurnComplete = true
	}
	return obs
}

// ObserveOutboundFrame runs the peak detector on a microphone frame and reports
// whether it counted as speech. Loud noise counts too.
func (m *Monitor) ObserveOutboundFrame(pcm []byte, now time.Time) bool {
	if audio.PeakAmplitude(pcm) <= m.threshold {
		return false
	}
	m.ts.LastUserSpeechAt = now
	return true
}
