package observability

import (
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Latency stages recorded by the client.
const (
	StageFirstAudio = "speech_to_first_audio"
	StageTurn       = "first_audio_to_turn_complete"
	StagePoll       = "status_poll"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// StageWindow keeps the last N samples per stage in a ring buffer.
type StageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func (r *ring) push(v float64) {
	r.values[r.next] = v
	r.last = v
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.filled = true
	}
}

func (r *ring) samples() []float64 {
	n := r.next
	if r.filled {
		n = len(r.values)
	}
	out := slices.Clone(r.values[:n])
	sort.Float64s(out)
	return out
}

func NewStageWindow(size int) *StageWindow {
	if size <= 0 {
		size = 128
	}
	return &StageWindow{
		size:       size,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *StageWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.push(float64(d.Microseconds()) / 1000)
}

func (w *StageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *StageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}

	stages := make([]string, 0, len(w.rings))
	for stage := range w.rings {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		r := w.rings[stage]
		samples := r.samples()
		if len(samples) == 0 {
			continue
		}
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(len(samples))),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}

	names := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StageFirstAudio:
		return 1400
	case StagePoll:
		return 500
	default:
		return 0
	}
}
