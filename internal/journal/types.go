// Package journal keeps a record of every ended session.
package journal

import (
	"context"
	"time"

	"github.com/ent0n29/maitred/internal/session"
)

// Record is one ended session. Transcripts are redacted before they get here.
type Record struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Reason          string    `json:"reason"`
	EndReason       string    `json:"end_reason,omitempty"`
	LastTranscript  string    `json:"last_transcript,omitempty"`
	UserSpeechAt    time.Time `json:"user_speech_at"`
	AgentActivityAt time.Time `json:"agent_activity_at"`
	RecordingPath   string    `json:"recording_path,omitempty"`
}

// Duration is how long the session was active.
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// FromSummary builds a record for an ended session.
func FromSummary(s session.Summary, recordingPath string) Record {
	return Record{
		SessionID:       s.SessionID,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		Reason:          s.Reason,
		EndReason:       s.EndReason,
		LastTranscript:  s.LastTranscript,
		UserSpeechAt:    s.Timestamps.LastUserSpeechAt,
		AgentActivityAt: s.Timestamps.LastAgentActivityAt,
		RecordingPath:   recordingPath,
	}
}

// Store persists and lists session records.
type Store interface {
	Save(ctx context.Context, record Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
