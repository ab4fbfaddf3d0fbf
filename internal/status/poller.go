package status

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ent0n29/maitred/internal/observability"
	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/reliability"
)

const DefaultInterval = 4 * time.Second

// Fetcher is the read side of Client.
type Fetcher interface {
	FetchStatus(ctx context.Context, userID string) (protocol.Status, error)
}

// Renderer draws a fetched status, typically the terminal dashboard.
type Renderer interface {
	RenderStatus(protocol.Status)
}

type PollerOptions struct {
	UserID   string
	Interval time.Duration
	Renderer Renderer

	// Sink receives last_event from every successful poll that carries one.
	Sink func(protocol.ServerEvent)

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Poller fetches status on a fixed cadence. Failures never change the cadence.
type Poller struct {
	fetcher  Fetcher
	userID   string
	interval time.Duration
	renderer Renderer
	sink     func(protocol.ServerEvent)
	log      zerolog.Logger
	metrics  *observability.Metrics

	mu       sync.RWMutex
	last     protocol.Status
	lastAt   time.Time
	failures int

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPoller(fetcher Fetcher, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		userID:   opts.UserID,
		interval: interval,
		renderer: opts.Renderer,
		sink:     opts.Sink,
		log:      opts.Logger.With().Str("component", "status-poller").Logger(),
		metrics:  opts.Metrics,
		done:     make(chan struct{}),
	}
}

// Start polls once right away and then on every tick until ctx ends or Stop is
// called. Only the first call starts the loop.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
		p.log.Info().Dur("interval", p.interval).Msg("status poller started")
	})
}

func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.log.Info().Msg("status poller stopped")
	})
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	_ = p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			_ = p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single fetch. The error is returned for callers that poll on
// demand; the loop ignores it.
func (p *Poller) PollOnce(ctx context.Context) error {
	ctx, span := observability.Tracer().Start(ctx, "status.poll")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", p.userID))

	started := time.Now()
	st, err := p.fetcher.FetchStatus(ctx, p.userID)
	elapsed := time.Since(started)
	class := reliability.Classify(err)
	p.metrics.ObservePoll(class, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, class)
		p.mu.Lock()
		p.failures++
		failures := p.failures
		p.mu.Unlock()

		evt := p.log.Warn()
		if class == reliability.ClassCanceled {
			evt = p.log.Debug()
		}
		evt.Err(err).Str("class", class).Int("consecutive_failures", failures).Msg("status poll failed")
		return err
	}

	p.mu.Lock()
	p.last = st
	p.lastAt = time.Now()
	p.failures = 0
	p.mu.Unlock()

	if p.renderer != nil {
		p.renderer.RenderStatus(st)
	}
	if st.LastEvent != nil && p.sink != nil {
		p.log.Info().Str("event", st.LastEvent.Type).Msg("server event")
		p.sink(*st.LastEvent)
	}
	return nil
}

// Last returns the most recent successful status and when it was fetched.
func (p *Poller) Last() (protocol.Status, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.lastAt, !p.lastAt.IsZero()
}
