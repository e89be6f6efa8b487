package testutil

import (
	"testing"
	"time"
)

func TestFakeClockFiresInOrder(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	stopped := c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	if !stopped.Stop() {
		t.Fatalf("expected stop to report pending timer")
	}

	c.Advance(2 * time.Second)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("expected only first timer, got %v", order)
	}
	c.Advance(time.Second)
	if len(order) != 2 || order[1] != 3 {
		t.Fatalf("expected third timer, got %v", order)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeClockCallbackSeesDeadline(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFakeClock(start)
	var seen time.Time
	c.AfterFunc(5*time.Second, func() { seen = c.Now() })
	c.Advance(10 * time.Second)
	if !seen.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("callback saw %v", seen)
	}
	if !c.Now().Equal(start.Add(10 * time.Second)) {
		t.Fatalf("clock at %v", c.Now())
	}
}
