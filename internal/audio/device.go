package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrAudioBusy is returned when a device is acquired while a previous owner
// still holds it.
var ErrAudioBusy = errors.New("audio device busy")

// Capture produces microphone frames (PCM16LE mono).
type Capture interface {
	StartCapture(ctx context.Context, onFrame func(pcm []byte)) error
	StopCapture() error
}

// Playback consumes agent audio frames (PCM16LE mono).
type Playback interface {
	StartPlayback(ctx context.Context) error
	StopPlayback() error
	Play(pcm []byte) error
	// Flush drops everything queued for playback.
	Flush()
}

type Device interface {
	Capture
	Playback
	Close() error
}

// DrainNotifier is implemented by playback devices that can report when their
// queue runs empty.
type DrainNotifier interface {
	OnDrained(func())
}

// Null is a silent device for headless runs. It accepts and discards audio.
type Null struct {
	mu        sync.Mutex
	capturing bool
	playing   bool
	played    int
}

func NewNull() *Null { return &Null{} }

func (n *Null) StartCapture(_ context.Context, _ func([]byte)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.capturing {
		return ErrAudioBusy
	}
	n.capturing = true
	return nil
}

func (n *Null) StopCapture() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capturing = false
	return nil
}

func (n *Null) StartPlayback(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.playing {
		return ErrAudioBusy
	}
	n.playing = true
	return nil
}

func (n *Null) StopPlayback() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.playing = false
	return nil
}

func (n *Null) Play(pcm []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.played += len(pcm)
	return nil
}

func (n *Null) Flush() {}

func (n *Null) Close() error { return nil }
