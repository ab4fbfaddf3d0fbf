// Package clock abstracts time so timer-driven behaviour can run on a virtual
// clock in tests and replays.
package clock

import (
	"sort"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer; calling it more than once is safe.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct {
	c bclock.Clock
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{c: bclock.New()} }

func (r realClock) Now() time.Time { return r.c.Now() }

func (r realClock) AfterFunc(d time.Duration, f func()) Timer {
	return r.c.AfterFunc(d, f)
}

// Mock is a virtual clock on top of bclock.Mock. Time only moves in Advance
// and Step. bclock.Mock starts each AfterFunc callback on its own goroutine;
// Mock holds every callback until its turn, so callbacks run one at a time in
// deadline order and Advance returns only after the due ones have finished.
type Mock struct {
	mock *bclock.Mock

	mu      sync.Mutex
	seq     uint64
	pending []*mockTimer
}

type mockTimer struct {
	m        *Mock
	timer    *bclock.Timer
	seq      uint64
	deadline time.Time
	popped   bool
	turn     chan struct{}
	done     chan struct{}
}

func NewMock(start time.Time) *Mock {
	m := &Mock{mock: bclock.NewMock()}
	m.mock.Set(start)
	return m
}

func (m *Mock) Now() time.Time {
	return m.mock.Now()
}

func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	t := &mockTimer{m: m, turn: make(chan struct{}), done: make(chan struct{})}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.seq = m.seq
	t.deadline = m.mock.Now().Add(d)
	t.timer = m.mock.AfterFunc(d, func() {
		<-t.turn
		defer close(t.done)
		f()
	})
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward by d, running every callback whose deadline
// falls inside the window. Each callback sees Now() at its own deadline.
func (m *Mock) Advance(d time.Duration) {
	target := m.mock.Now().Add(d)
	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		m.mock.Set(t.deadline)
		close(t.turn)
		<-t.done
	}
	if target.After(m.mock.Now()) {
		m.mock.Set(target)
	}
}

// Step advances by d one deadline at a time and calls after each time the
// clock stops, including once at the end. Drivers pass their event pump as
// after, so work a callback posts is handled at the callback's deadline.
func (m *Mock) Step(d time.Duration, after func()) {
	target := m.mock.Now().Add(d)
	for {
		next, ok := m.Next()
		if !ok || next.After(target) {
			break
		}
		m.Advance(next.Sub(m.mock.Now()))
		after()
	}
	m.Advance(target.Sub(m.mock.Now()))
	after()
}

// Next returns the earliest pending deadline.
func (m *Mock) Next() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return time.Time{}, false
	}
	m.sortLocked()
	return m.pending[0].deadline, true
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mock) popDue(target time.Time) *mockTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	m.sortLocked()
	t := m.pending[0]
	if t.deadline.After(target) {
		return nil
	}
	m.pending = m.pending[1:]
	t.popped = true
	return t
}

func (m *Mock) sortLocked() {
	sort.SliceStable(m.pending, func(i, j int) bool {
		a, b := m.pending[i], m.pending[j]
		if a.deadline.Equal(b.deadline) {
			return a.seq < b.seq
		}
		return a.deadline.Before(b.deadline)
	})
}

func (m *Mock) removeLocked(t *mockTimer) {
	for i, cur := range m.pending {
		if cur == t {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (t *mockTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	// Once Advance has claimed a timer, or bclock has ticked it, its callback
	// still runs.
	if t.popped || !t.timer.Stop() {
		return false
	}
	t.m.removeLocked(t)
	return true
}
