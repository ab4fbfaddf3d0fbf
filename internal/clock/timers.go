package clock

import "time"

// Timers is a table of named, generation-tagged timers. Arming a name replaces
// any live instance of that name, so at most one firing is pending per name.
//
// The table is not safe for concurrent use; it is owned by a single event loop.
// Firings are delivered through the fire callback as (name, generation) and the
// owner confirms them with Claim, which drops firings of replaced or cancelled
// instances that were already in flight.
type Timers struct {
	clock Clock
	gen   uint64
	live  map[string]liveTimer
}

type liveTimer struct {
	gen   uint64
	timer Timer
}

func NewTimers(c Clock) *Timers {
	return &Timers{clock: c, live: make(map[string]liveTimer)}
}

// Arm schedules fire(name, gen) after d, cancelling the previous instance of name.
func (t *Timers) Arm(name string, d time.Duration, fire func(name string, gen uint64)) uint64 {
	t.Cancel(name)
	t.gen++
	gen := t.gen
	timer := t.clock.AfterFunc(d, func() { fire(name, gen) })
	t.live[name] = liveTimer{gen: gen, timer: timer}
	return gen
}

// Cancel stops the live instance of name, if any. Idempotent.
func (t *Timers) Cancel(name string) {
	lt, ok := t.live[name]
	if !ok {
		return
	}
	lt.timer.Stop()
	delete(t.live, name)
}

func (t *Timers) CancelAll() {
	for name := range t.live {
		t.Cancel(name)
	}
}

// Live reports whether name has a pending instance.
func (t *Timers) Live(name string) bool {
	_, ok := t.live[name]
	return ok
}

// Claim consumes a firing. It returns false for stale generations.
func (t *Timers) Claim(name string, gen uint64) bool {
	lt, ok := t.live[name]
	if !ok || lt.gen != gen {
		return false
	}
	delete(t.live, name)
	return true
}

// Names lists the pending timer names.
func (t *Timers) Names() []string {
	out := make([]string, 0, len(t.live))
	for name := range t.live {
		out = append(out, name)
	}
	return out
}
