package session

import (
	"time"

	"github.com/ent0n29/maitred/internal/activity"
	"github.com/ent0n29/maitred/internal/protocol"
)

type State string

const (
	StateIdle          State = "idle"
	StateActive        State = "active"
	StateEndingPending State = "ending_pending"
	StateStopping      State = "stopping"
)

// Mode is the avatar presentation. Exactly one mode is shown at a time.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeListening Mode = "listening"
	ModeSpeaking  Mode = "speaking"
)

// End reasons.
const (
	ReasonGoodbye             = "goodbye"
	ReasonReservationComplete = "reservation_complete"
	ReasonInactive            = "inactive"
	ReasonTurnComplete        = "turn_complete"
	ReasonUser                = "user"
	ReasonShutdown            = "shutdown"
)

// Presenter renders machine output. Calls come from the event loop only.
type Presenter interface {
	SetMode(Mode)
	SetConnected(bool)
	SetStartEnabled(bool)
}

// Transport is the agent channel as seen by the machine.
type Transport interface {
	Connect(sessionID string, audioEnabled bool) error
	Send(env protocol.Envelope) error
}

// Snapshot is a consistent copy of the machine for diagnostics.
type Snapshot struct {
	SessionID     string              `json:"session_id"`
	State         State               `json:"state"`
	Mode          Mode                `json:"mode"`
	Active        bool                `json:"active"`
	AudioEnabled  bool                `json:"audio_enabled"`
	EndRequested  bool                `json:"end_requested"`
	EndReason     string              `json:"end_reason,omitempty"`
	Connected     bool                `json:"connected"`
	StartedAt     time.Time           `json:"started_at"`
	Timestamps    activity.Timestamps `json:"timestamps"`
	PendingTimers []string            `json:"pending_timers"`
}

// Summary describes a session that just ended.
type Summary struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	// Reason is what stopped the session; EndReason is what requested the
	// end, if anything did.
	Reason         string              `json:"reason"`
	EndReason      string              `json:"end_reason,omitempty"`
	LastTranscript string              `json:"last_transcript,omitempty"`
	Timestamps     activity.Timestamps `json:"timestamps"`
	Recording      []byte              `json:"-"`
}

type nopPresenter struct{}

func (nopPresenter) SetMode(Mode)         {}
func (nopPresenter) SetConnected(bool)    {}
func (nopPresenter) SetStartEnabled(bool) {}
