// Package miniaudio implements audio.Device on top of miniaudio via malgo.
package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/ent0n29/maitred/internal/audio"
)

// Device owns one malgo context. Capture and playback devices are created on
// start and torn down on stop so the microphone is really released between
// sessions.
type Device struct {
	audioContext *malgo.AllocatedContext

	captureRate  uint32
	playbackRate uint32

	capture  captureDevice
	playback playbackDevice
}

var _ audio.Device = (*Device)(nil)
var _ audio.DrainNotifier = (*Device)(nil)

func New(captureRate, playbackRate int) (*Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo init context: %w", err)
	}
	if captureRate <= 0 {
		captureRate = audio.DefaultCaptureSampleRate
	}
	if playbackRate <= 0 {
		playbackRate = audio.DefaultPlaybackSampleRate
	}
	return &Device{
		audioContext: ctx,
		captureRate:  uint32(captureRate),
		playbackRate: uint32(playbackRate),
	}, nil
}

func (d *Device) StartCapture(_ context.Context, onFrame func([]byte)) error {
	return d.capture.start(d.audioContext, d.captureRate, onFrame)
}

func (d *Device) StopCapture() error {
	return d.capture.stop()
}

func (d *Device) StartPlayback(_ context.Context) error {
	return d.playback.start(d.audioContext, d.playbackRate)
}

func (d *Device) StopPlayback() error {
	return d.playback.stop()
}

func (d *Device) Play(pcm []byte) error {
	return d.playback.enqueue(pcm)
}

func (d *Device) Flush() {
	d.playback.clear()
}

func (d *Device) OnDrained(fn func()) {
	d.playback.setOnDrained(fn)
}

func (d *Device) Close() error {
	_ = d.capture.stop()
	_ = d.playback.stop()
	if err := d.audioContext.Uninit(); err != nil {
		return fmt.Errorf("malgo uninit context: %w", err)
	}
	d.audioContext.Free()
	return nil
}

type captureDevice struct {
	mu      sync.Mutex
	device  *malgo.Device
	onFrame func([]byte)
}

func (c *captureDevice) start(ctx *malgo.AllocatedContext, sampleRate uint32, onFrame func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return audio.ErrAudioBusy
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = sampleRate
	cfg.Capture.Format = format
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = sampleRate / 50 // 20ms frames
	cfg.Periods = 3

	c.onFrame = onFrame
	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			c.mu.Lock()
			cb := c.onFrame
			c.mu.Unlock()
			if cb != nil {
				frame := make([]byte, n)
				copy(frame, pInput[:n])
				cb(frame)
			}
		},
	})
	if err != nil {
		c.onFrame = nil
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		c.onFrame = nil
		return fmt.Errorf("start capture device: %w", err)
	}
	c.device = device
	return nil
}

func (c *captureDevice) stop() error {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.onFrame = nil
	c.mu.Unlock()
	if device == nil {
		return nil
	}
	// Stop waits for the data callback, so it must run without c.mu held.
	err := device.Stop()
	device.Uninit()
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

type playbackDevice struct {
	mu        sync.Mutex
	device    *malgo.Device
	pending   []byte
	onDrained func()

	audioMu sync.Mutex
}

func (p *playbackDevice) start(ctx *malgo.AllocatedContext, sampleRate uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		return audio.ErrAudioBusy
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = sampleRate
	cfg.Playback.Format = format
	cfg.Playback.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	cfg.Periods = 4

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: p.fill(bytesPerFrame),
	})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}
	p.device = device
	return nil
}

func (p *playbackDevice) stop() error {
	p.mu.Lock()
	device := p.device
	p.device = nil
	p.mu.Unlock()
	p.clear()
	if device == nil {
		return nil
	}
	err := device.Stop()
	device.Uninit()
	if err != nil {
		return fmt.Errorf("stop playback device: %w", err)
	}
	return nil
}

func (p *playbackDevice) enqueue(pcm []byte) error {
	p.mu.Lock()
	started := p.device != nil
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not started")
	}
	p.audioMu.Lock()
	p.pending = append(p.pending, pcm...)
	p.audioMu.Unlock()
	return nil
}

func (p *playbackDevice) clear() {
	p.audioMu.Lock()
	p.pending = nil
	p.audioMu.Unlock()
}

func (p *playbackDevice) setOnDrained(fn func()) {
	p.audioMu.Lock()
	p.onDrained = fn
	p.audioMu.Unlock()
}

func (p *playbackDevice) fill(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame
		if need > len(pOutput) {
			need = len(pOutput)
		}

		p.audioMu.Lock()
		if len(p.pending) == 0 {
			p.audioMu.Unlock()
			return
		}
		n := copy(pOutput[:need], p.pending)
		p.pending = p.pending[n:]
		drained := len(p.pending) == 0
		onDrained := p.onDrained
		p.audioMu.Unlock()

		if drained && onDrained != nil {
			go onDrained()
		}
	}
}
