package session

import "github.com/ent0n29/maitred/internal/protocol"

// Event is one unit of work for the machine. Producers enqueue events with
// Post; the machine handles them strictly in arrival order.
type Event interface {
	Name() string
}

type StartRequested struct{}

type StopRequested struct {
	Reason string
}

type ConnectionOpened struct{}

type ConnectionClosed struct {
	Err error
}

type EnvelopeReceived struct {
	Envelope protocol.Envelope
}

// OutboundFrame is one microphone frame of PCM16LE audio.
type OutboundFrame struct {
	PCM []byte
}

type ServerEventReceived struct {
	Event protocol.ServerEvent
}

// PlaybackDrained reports that the speaker buffer ran empty.
type PlaybackDrained struct{}

type timerFired struct {
	name string
	gen  uint64
}

func (StartRequested) Name() string      { return "start_requested" }
func (StopRequested) Name() string       { return "stop_requested" }
func (ConnectionOpened) Name() string    { return "connection_opened" }
func (ConnectionClosed) Name() string    { return "connection_closed" }
func (EnvelopeReceived) Name() string    { return "envelope_received" }
func (OutboundFrame) Name() string       { return "outbound_frame" }
func (ServerEventReceived) Name() string { return "server_event" }
func (PlaybackDrained) Name() string     { return "playback_drained" }
func (t timerFired) Name() string        { return "timer_" + t.name }
