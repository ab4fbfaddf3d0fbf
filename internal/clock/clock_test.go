package clock

import (
	"testing"
	"time"
)

func TestMockAdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewMock(start)

	var order []string
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, "b") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "late") })

	c.Advance(time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
	if got := c.Now().Sub(start); got != time.Second {
		t.Fatalf("elapsed = %s, want 1s", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}
}

func TestMockStopPreventsFiring(t *testing.T) {
	c := NewMock(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatalf("first Stop() = false, want true")
	}
	if tm.Stop() {
		t.Fatalf("second Stop() = true, want false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestMockCallbackSeesDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewMock(start)
	var seen time.Time
	c.AfterFunc(250*time.Millisecond, func() { seen = c.Now() })
	c.Advance(time.Second)
	if want := start.Add(250 * time.Millisecond); !seen.Equal(want) {
		t.Fatalf("Now() in callback = %v, want %v", seen, want)
	}
}

func TestMockCallbacksArmingTimersInsideWindow(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewMock(start)

	var fired []time.Duration
	var tick func()
	tick = func() {
		fired = append(fired, c.Now().Sub(start))
		if len(fired) < 3 {
			c.AfterFunc(100*time.Millisecond, tick)
		}
	}
	c.AfterFunc(100*time.Millisecond, tick)

	c.Advance(time.Second)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}
}

func TestMockStepStopsAtEachDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewMock(start)
	c.AfterFunc(250*time.Millisecond, func() {})
	c.AfterFunc(700*time.Millisecond, func() {})

	var stops []time.Duration
	c.Step(time.Second, func() { stops = append(stops, c.Now().Sub(start)) })

	want := []time.Duration{250 * time.Millisecond, 700 * time.Millisecond, time.Second}
	if len(stops) != len(want) {
		t.Fatalf("stops = %v, want %v", stops, want)
	}
	for i := range want {
		if stops[i] != want[i] {
			t.Fatalf("stops = %v, want %v", stops, want)
		}
	}
	if _, ok := c.Next(); ok {
		t.Fatalf("Next() reported a pending timer after Step")
	}
}

func TestRealClockFires(t *testing.T) {
	fired := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("real timer never fired")
	}
}

func TestTimersArmReplacesPriorInstance(t *testing.T) {
	c := NewMock(time.Unix(0, 0))
	timers := NewTimers(c)

	type firing struct {
		name string
		gen  uint64
	}
	var fired []firing
	fire := func(name string, gen uint64) { fired = append(fired, firing{name, gen}) }

	first := timers.Arm("stopAfterTurn", 3*time.Second, fire)
	second := timers.Arm("stopAfterTurn", 3*time.Second, fire)
	if first == second {
		t.Fatalf("generations should differ")
	}

	c.Advance(3 * time.Second)
	if len(fired) != 1 {
		t.Fatalf("fired %d times, want 1", len(fired))
	}
	if !timers.Claim(fired[0].name, fired[0].gen) {
		t.Fatalf("Claim() rejected the live generation")
	}
	if timers.Live("stopAfterTurn") {
		t.Fatalf("timer still live after claim")
	}
}

func TestTimersClaimRejectsStaleGeneration(t *testing.T) {
	c := NewMock(time.Unix(0, 0))
	timers := NewTimers(c)
	noop := func(string, uint64) {}

	stale := timers.Arm("speakingFallback", time.Second, noop)
	timers.Arm("speakingFallback", time.Second, noop)
	if timers.Claim("speakingFallback", stale) {
		t.Fatalf("Claim() accepted a replaced generation")
	}

	timers.Cancel("speakingFallback")
	timers.Cancel("speakingFallback")
	if timers.Live("speakingFallback") {
		t.Fatalf("timer live after Cancel")
	}
}

func TestTimersCancelAll(t *testing.T) {
	c := NewMock(time.Unix(0, 0))
	timers := NewTimers(c)
	noop := func(string, uint64) {}
	timers.Arm("a", time.Second, noop)
	timers.Arm("b", time.Second, noop)
	timers.CancelAll()
	if len(timers.Names()) != 0 {
		t.Fatalf("Names() = %v, want empty", timers.Names())
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}
}
