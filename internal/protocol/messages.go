package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MimeType identifies websocket payload variants.
type MimeType string

const (
	MimeText  MimeType = "text/plain"
	MimeAudio MimeType = "audio/pcm"
)

var (
	ErrMalformedEnvelope   = errors.New("malformed envelope")
	ErrUnsupportedMimeType = errors.New("unsupported mime type")
)

// Envelope is the single message unit exchanged with the agent in both directions.
// Control envelopes carry only the turn flags and no mime type.
type Envelope struct {
	MimeType     MimeType `json:"mime_type,omitempty"`
	Data         string   `json:"data,omitempty"`
	Interrupted  *bool    `json:"interrupted,omitempty"`
	TurnComplete *bool    `json:"turn_complete,omitempty"`
	IsTranscript bool     `json:"is_transcript,omitempty"`
}

func (e Envelope) IsInterrupted() bool {
	return e.Interrupted != nil && *e.Interrupted
}

func (e Envelope) IsTurnComplete() bool {
	return e.TurnComplete != nil && *e.TurnComplete
}

// Kind returns a short label used for metrics and logs.
func (e Envelope) Kind() string {
	switch {
	case e.MimeType != "":
		return string(e.MimeType)
	case e.IsInterrupted():
		return "interrupted"
	case e.IsTurnComplete():
		return "turn_complete"
	default:
		return "control"
	}
}

func NewTextEnvelope(text string) Envelope {
	return Envelope{MimeType: MimeText, Data: text}
}

// NewAudioEnvelope wraps a raw PCM16LE frame for the agent.
func NewAudioEnvelope(pcm []byte) Envelope {
	return NewAudioEnvelopeData(base64.StdEncoding.EncodeToString(pcm))
}

// NewAudioEnvelopeData wraps audio that is already encoded for the wire.
func NewAudioEnvelopeData(data string) Envelope {
	return Envelope{MimeType: MimeAudio, Data: data}
}

// ParseEnvelope decodes one inbound frame. Malformed JSON is reported as
// ErrMalformedEnvelope rather than being dropped silently.
func ParseEnvelope(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrMalformedEnvelope)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.MimeType {
	case "", MimeText, MimeAudio:
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnsupportedMimeType, env.MimeType)
	}
	return env, nil
}

func Bool(v bool) *bool {
	return &v
}
