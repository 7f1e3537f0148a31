package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceFiresDueTimersInOrder(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewManual(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })
	c.AfterFunc(10*time.Second, func() { fired = append(fired, "never") })

	c.Advance(5 * time.Second)

	if len(fired) != 2 || fired[0] != "early" || fired[1] != "late" {
		t.Fatalf("unexpected firing order: %v", fired)
	}
	if got := c.Now(); !got.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("expected clock at +5s, got %v", got)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", c.Pending())
	}
}

func TestManualStopDisarms(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatalf("expected first Stop to report true")
	}
	if timer.Stop() {
		t.Fatalf("expected second Stop to report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestManualCallbackCanRearm(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)
	if count != 3 {
		t.Fatalf("expected 3 ticks, got %d", count)
	}
}
