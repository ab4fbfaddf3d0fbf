// Package session implements the conversation state machine: it owns the
// session lifecycle, the avatar mode and every end-of-session decision.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/maitred/internal/activity"
	"github.com/ent0n29/maitred/internal/audio"
	"github.com/ent0n29/maitred/internal/clock"
	"github.com/ent0n29/maitred/internal/observability"
	"github.com/ent0n29/maitred/internal/policy"
	"github.com/ent0n29/maitred/internal/protocol"
)

// Timer names.
const (
	TimerInactivityCheck  = "inactivityCheck"
	TimerSpeakingFallback = "speakingFallback"
	TimerListeningSettle  = "listeningSettle"
	TimerStopAfterTurn    = "stopAfterTurn"
)

const (
	defaultQueueSize   = 1024
	maxTranscriptRunes = 240
)

// Timing holds every delay the machine uses.
type Timing struct {
	WatchdogInterval  time.Duration
	InactivityTimeout time.Duration
	// SpeakingFallback fires after the last agent audio frame; the avatar
	// returns to listening if audio has been quiet for FallbackSilence.
	SpeakingFallback time.Duration
	FallbackSilence  time.Duration
	// Trailing audio after turn_complete is polled first after SettleFirst,
	// then every SettlePoll, until quiet for SettleSilence.
	SettleFirst   time.Duration
	SettlePoll    time.Duration
	SettleSilence time.Duration
	StopAfterTurn time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		WatchdogInterval:  time.Second,
		InactivityTimeout: 10 * time.Second,
		SpeakingFallback:  2 * time.Second,
		FallbackSilence:   1500 * time.Millisecond,
		SettleFirst:       300 * time.Millisecond,
		SettlePoll:        200 * time.Millisecond,
		SettleSilence:     500 * time.Millisecond,
		StopAfterTurn:     3 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.WatchdogInterval <= 0 {
		t.WatchdogInterval = d.WatchdogInterval
	}
	if t.InactivityTimeout <= 0 {
		t.InactivityTimeout = d.InactivityTimeout
	}
	if t.SpeakingFallback <= 0 {
		t.SpeakingFallback = d.SpeakingFallback
	}
	if t.FallbackSilence <= 0 {
		t.FallbackSilence = d.FallbackSilence
	}
	if t.SettleFirst <= 0 {
		t.SettleFirst = d.SettleFirst
	}
	if t.SettlePoll <= 0 {
		t.SettlePoll = d.SettlePoll
	}
	if t.SettleSilence <= 0 {
		t.SettleSilence = d.SettleSilence
	}
	if t.StopAfterTurn <= 0 {
		t.StopAfterTurn = d.StopAfterTurn
	}
	return t
}

type Options struct {
	SessionID        string
	Clock            clock.Clock
	Transport        Transport
	Audio            audio.Device
	Codec            audio.Codec
	Presenter        Presenter
	Recorder         *audio.Recorder
	Logger           zerolog.Logger
	Metrics          *observability.Metrics
	Timing           Timing
	SilenceThreshold int
	QueueSize        int
	// OnSessionEnded runs on the event loop after every stop. It must not block
	// or call back into the Machine.
	OnSessionEnded func(Summary)
}

// Machine is the session state machine. HandleEvent is the only entry point
// that mutates it; Run feeds it from the event queue.
type Machine struct {
	id        string
	clock     clock.Clock
	transport Transport
	device    audio.Device
	codec     audio.Codec
	presenter Presenter
	recorder  *audio.Recorder
	log       zerolog.Logger
	metrics   *observability.Metrics
	timing    Timing
	onEnded   func(Summary)

	events chan Event
	ctx    context.Context

	// mu guards everything below against Snapshot readers. The event loop is
	// the only writer.
	mu           sync.Mutex
	state        State
	mode         Mode
	audioEnabled bool
	endRequested bool
	endReason    string
	connected    bool
	startedAt    time.Time
	transcript   string
	monitor      *activity.Monitor
	timers       *clock.Timers

	captureHeld  bool
	playbackHeld bool

	// turnDone is set by turn_complete and cleared by user speech; agent audio
	// arriving while it is set is trailing audio of a finished turn.
	turnDone    bool
	speechAt    time.Time
	awaitAudio  bool
	turnAudioAt time.Time
}

func New(opts Options) *Machine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	codec := opts.Codec
	if codec == nil {
		codec = audio.Base64
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = nopPresenter{}
	}
	device := opts.Audio
	if device == nil {
		device = audio.NewNull()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	m := &Machine{
		id:        opts.SessionID,
		clock:     clk,
		transport: opts.Transport,
		device:    device,
		codec:     codec,
		presenter: presenter,
		recorder:  opts.Recorder,
		log:       opts.Logger.With().Str("component", "session").Str("session_id", opts.SessionID).Logger(),
		metrics:   opts.Metrics,
		timing:    opts.Timing.withDefaults(),
		onEnded:   opts.OnSessionEnded,
		events:    make(chan Event, size),
		ctx:       context.Background(),
		state:     StateIdle,
		mode:      ModeIdle,
		monitor:   activity.NewMonitor(opts.SilenceThreshold),
		timers:    clock.NewTimers(clk),
	}
	if dn, ok := device.(audio.DrainNotifier); ok {
		dn.OnDrained(func() { m.TryPost(PlaybackDrained{}) })
	}
	return m
}

func (m *Machine) SessionID() string {
	return m.id
}

// Post enqueues ev, blocking while the queue is full.
func (m *Machine) Post(ev Event) {
	m.events <- ev
}

// TryPost enqueues ev unless the queue is full. Audio callbacks use it so the
// device thread never waits on the event loop.
func (m *Machine) TryPost(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

// Run handles queued events until ctx is done. An active session is stopped
// with reason "shutdown" before Run returns.
func (m *Machine) Run(ctx context.Context) error {
	m.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			m.HandleEvent(StopRequested{Reason: ReasonShutdown})
			return ctx.Err()
		case ev := <-m.events:
			m.HandleEvent(ev)
		}
	}
}

// Drain handles queued events until the queue is empty and reports how many
// it handled. Drivers that own the clock, such as replays, call it after every
// step. It must not be used while Run is active.
func (m *Machine) Drain() int {
	n := 0
	for {
		select {
		case ev := <-m.events:
			m.HandleEvent(ev)
			n++
		default:
			return n
		}
	}
}

func (m *Machine) HandleEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := ev.(type) {
	case StartRequested:
		m.metrics.ObserveSessionEvent(e.Name())
		if err := m.start(); err != nil {
			m.log.Warn().Err(err).Msg("session start refused")
		}
	case StopRequested:
		if m.state == StateIdle {
			return
		}
		m.metrics.ObserveSessionEvent(e.Name())
		reason := e.Reason
		if reason == "" {
			reason = ReasonUser
		}
		m.stop(reason)
	case ConnectionOpened:
		m.connected = true
		m.presenter.SetConnected(true)
		if m.audioEnabled {
			m.setMode(ModeListening)
		}
	case ConnectionClosed:
		// Only connectivity changes; the session and its timestamps stay.
		m.connected = false
		m.presenter.SetConnected(false)
	case EnvelopeReceived:
		m.handleEnvelope(e.Envelope)
	case OutboundFrame:
		m.handleFrame(e.PCM)
	case ServerEventReceived:
		m.handleServerEvent(e.Event)
	case PlaybackDrained:
		if m.active() && m.audioEnabled && !m.endRequested {
			m.setMode(ModeListening)
		}
	case timerFired:
		if !m.timers.Claim(e.name, e.gen) {
			return
		}
		m.handleTimer(e.name)
	default:
		m.log.Error().Str("event", ev.Name()).Msg("unknown event")
	}
}

var errStartWhileActive = errors.New("session already active")

func (m *Machine) start() error {
	if m.state != StateIdle {
		return errStartWhileActive
	}
	if m.captureHeld || m.playbackHeld {
		m.releaseAudio()
		if m.captureHeld || m.playbackHeld {
			return audio.ErrAudioBusy
		}
	}
	m.presenter.SetStartEnabled(false)

	now := m.clock.Now()
	m.monitor.Reset(now)
	m.endRequested = false
	m.endReason = ""
	m.transcript = ""
	m.turnDone = false
	m.awaitAudio = false
	m.turnAudioAt = time.Time{}
	m.speechAt = time.Time{}

	if err := m.acquireAudio(); err != nil {
		m.monitor.Clear()
		m.presenter.SetStartEnabled(true)
		return err
	}
	if m.recorder != nil {
		m.recorder.Reset()
	}

	m.transition(StateActive)
	m.audioEnabled = true
	m.startedAt = now
	m.setMode(ModeListening)
	m.armTimer(TimerInactivityCheck, m.timing.WatchdogInterval)
	m.metrics.ObserveSessionStarted()
	m.log.Info().Msg("session started")

	if m.transport != nil {
		if err := m.transport.Connect(m.id, true); err != nil {
			m.log.Error().Err(err).Msg("reconnect with audio failed")
		}
	}
	return nil
}

// acquireAudio takes the speaker and then the microphone. On failure anything
// already taken is released again.
func (m *Machine) acquireAudio() error {
	if err := m.device.StartPlayback(m.ctx); err != nil {
		return err
	}
	m.playbackHeld = true
	if err := m.device.StartCapture(m.ctx, func(pcm []byte) {
		m.TryPost(OutboundFrame{PCM: pcm})
	}); err != nil {
		m.releaseAudio()
		return err
	}
	m.captureHeld = true
	return nil
}

func (m *Machine) releaseAudio() {
	if m.captureHeld {
		if err := m.device.StopCapture(); err != nil {
			m.log.Error().Err(err).Msg("release microphone")
		} else {
			m.captureHeld = false
		}
	}
	if m.playbackHeld {
		if err := m.device.StopPlayback(); err != nil {
			m.log.Error().Err(err).Msg("release speaker")
		} else {
			m.playbackHeld = false
		}
	}
}

// stop is synchronous and total: the machine is Idle with every resource
// released when it returns.
func (m *Machine) stop(reason string) {
	m.transition(StateStopping)
	now := m.clock.Now()

	m.timers.CancelAll()
	m.releaseAudio()

	summary := Summary{
		SessionID:      m.id,
		StartedAt:      m.startedAt,
		EndedAt:        now,
		Reason:         reason,
		EndReason:      m.endReason,
		LastTranscript: m.transcript,
		Timestamps:     m.monitor.Timestamps(),
	}
	if m.recorder != nil {
		summary.Recording = m.recorder.Take()
	}

	m.audioEnabled = false
	m.endRequested = false
	m.endReason = ""
	m.transcript = ""
	m.turnDone = false
	m.awaitAudio = false
	m.startedAt = time.Time{}
	m.monitor.Clear()

	m.transition(StateIdle)
	m.setMode(ModeIdle)
	m.presenter.SetStartEnabled(true)
	m.metrics.ObserveSessionEnded(reason)
	m.log.Info().Str("reason", reason).Str("end_reason", summary.EndReason).Msg("session stopped")

	if m.transport != nil {
		if err := m.transport.Connect(m.id, false); err != nil {
			m.log.Error().Err(err).Msg("reconnect without audio failed")
		}
	}

	if m.onEnded != nil {
		m.onEnded(summary)
	}
}

func (m *Machine) handleEnvelope(env protocol.Envelope) {
	if !m.active() {
		m.log.Debug().Str("kind", env.Kind()).Msg("envelope outside session")
		return
	}
	now := m.clock.Now()
	obs := m.monitor.ObserveInbound(env, now)

	if obs.Interrupted {
		m.device.Flush()
		m.timers.Cancel(TimerSpeakingFallback)
		m.timers.Cancel(TimerListeningSettle)
		if m.audioEnabled {
			m.setMode(ModeListening)
		}
		return
	}

	if obs.Transcript != "" {
		m.handleTranscript(obs.Transcript, env.IsTranscript)
	}

	if obs.AgentAudio && m.audioEnabled {
		m.playAgentAudio(env.Data, now)
	}

	if obs.TurnComplete {
		m.timers.Cancel(TimerSpeakingFallback)
		m.timers.Cancel(TimerListeningSettle)
		m.turnDone = true
		if !m.turnAudioAt.IsZero() {
			m.metrics.ObserveTurnDuration(now.Sub(m.turnAudioAt))
			m.turnAudioAt = time.Time{}
		}
		switch {
		case m.endRequested:
			if m.audioEnabled {
				m.armTimer(TimerStopAfterTurn, m.timing.StopAfterTurn)
			}
		case m.audioEnabled:
			m.setMode(ModeListening)
		}
	}
}

func (m *Machine) handleTranscript(text string, isTranscript bool) {
	redacted := policy.Transcript(text, maxTranscriptRunes)
	m.transcript = redacted
	m.log.Debug().Str("text", redacted).Bool("is_transcript", isTranscript).Msg("agent text")
	if IsFarewell(text) {
		m.requestStopAfterTurn(ReasonGoodbye)
	}
}

func (m *Machine) playAgentAudio(data string, now time.Time) {
	pcm, err := m.codec.Decode(data)
	if err != nil {
		m.log.Error().Err(err).Int("bytes", len(data)).Msg("dropping agent audio")
		return
	}
	m.setMode(ModeSpeaking)
	if err := m.device.Play(pcm); err != nil {
		m.log.Warn().Err(err).Msg("playback rejected audio")
	}
	if m.recorder != nil {
		m.recorder.Append(pcm)
	}
	if m.awaitAudio {
		m.awaitAudio = false
		m.metrics.ObserveFirstAudioLatency(now.Sub(m.speechAt))
	}
	if m.turnAudioAt.IsZero() {
		m.turnAudioAt = now
	}
	if m.turnDone {
		m.armTimer(TimerListeningSettle, m.timing.SettleFirst)
		return
	}
	m.armTimer(TimerSpeakingFallback, m.timing.SpeakingFallback)
}

func (m *Machine) handleFrame(pcm []byte) {
	if !m.active() {
		return
	}
	now := m.clock.Now()
	if m.monitor.ObserveOutboundFrame(pcm, now) {
		m.turnDone = false
		if !m.awaitAudio {
			m.awaitAudio = true
			m.speechAt = now
		}
	}
	if m.transport == nil {
		return
	}
	env := protocol.NewAudioEnvelopeData(m.codec.Encode(pcm))
	// Frames sent while the channel is down are dropped.
	_ = m.transport.Send(env)
}

func (m *Machine) handleServerEvent(ev protocol.ServerEvent) {
	if !ev.EndsSession() {
		m.log.Debug().Str("type", ev.Type).Msg("server event")
		return
	}
	if !m.active() {
		m.log.Debug().Str("type", ev.Type).Msg("end event outside session")
		return
	}
	m.metrics.ObserveSessionEvent(ev.Type)
	m.requestStopAfterTurn(ReasonReservationComplete)
	if m.audioEnabled {
		m.armTimer(TimerStopAfterTurn, m.timing.StopAfterTurn)
	}
}

// requestStopAfterTurn records the end request. The first reason wins.
func (m *Machine) requestStopAfterTurn(reason string) {
	if m.state == StateActive {
		m.transition(StateEndingPending)
	}
	m.endRequested = true
	if m.endReason == "" {
		m.endReason = reason
		m.log.Info().Str("reason", reason).Msg("session end requested")
		return
	}
	if m.endReason != reason {
		m.log.Debug().Str("kept", m.endReason).Str("ignored", reason).Msg("end already requested")
	}
}

func (m *Machine) handleTimer(name string) {
	if !m.active() {
		return
	}
	now := m.clock.Now()
	switch name {
	case TimerInactivityCheck:
		if now.Sub(m.monitor.LastInteraction()) > m.timing.InactivityTimeout {
			m.stop(ReasonInactive)
			return
		}
		m.armTimer(TimerInactivityCheck, m.timing.WatchdogInterval)
	case TimerSpeakingFallback:
		if m.audioEnabled && !m.endRequested && m.monitor.SinceAudio(now) > m.timing.FallbackSilence {
			m.setMode(ModeListening)
		}
	case TimerListeningSettle:
		if m.monitor.SinceAudio(now) <= m.timing.SettleSilence {
			m.armTimer(TimerListeningSettle, m.timing.SettlePoll)
			return
		}
		if m.audioEnabled && !m.endRequested {
			m.setMode(ModeListening)
		}
	case TimerStopAfterTurn:
		reason := m.endReason
		if reason == "" {
			reason = ReasonTurnComplete
		}
		m.stop(reason)
	}
}

func (m *Machine) armTimer(name string, d time.Duration) {
	m.timers.Arm(name, d, func(name string, gen uint64) {
		m.Post(timerFired{name: name, gen: gen})
	})
}

func (m *Machine) setMode(mode Mode) {
	if m.mode == mode {
		return
	}
	m.mode = mode
	m.presenter.SetMode(mode)
	m.metrics.ObserveAvatarMode(string(mode))
}

func (m *Machine) transition(to State) {
	if m.state == to {
		return
	}
	m.metrics.ObserveTransition(string(m.state), string(to))
	m.log.Debug().Str("from", string(m.state)).Str("to", string(to)).Msg("state transition")
	m.state = to
}

func (m *Machine) active() bool {
	return m.state == StateActive || m.state == StateEndingPending
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := m.timers.Names()
	sort.Strings(names)
	return Snapshot{
		SessionID:     m.id,
		State:         m.state,
		Mode:          m.mode,
		Active:        m.active(),
		AudioEnabled:  m.audioEnabled,
		EndRequested:  m.endRequested,
		EndReason:     m.endReason,
		Connected:     m.connected,
		StartedAt:     m.startedAt,
		Timestamps:    m.monitor.Timestamps(),
		PendingTimers: names,
	}
}
