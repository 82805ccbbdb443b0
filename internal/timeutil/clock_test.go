package timeutil

import (
	"testing"
	"time"
)

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Sleep(150 * time.Millisecond)
	c.Sleep(50 * time.Millisecond)

	if got := c.Since(start); got != 200*time.Millisecond {
		t.Errorf("Expected 200ms elapsed, got %v", got)
	}

	sleeps := c.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("Expected 2 recorded sleeps, got %d", len(sleeps))
	}
	if sleeps[0] != 150*time.Millisecond || sleeps[1] != 50*time.Millisecond {
		t.Errorf("Unexpected sleeps: %v", sleeps)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(time.Second)

	if !c.Now().Equal(start.Add(time.Second)) {
		t.Errorf("Expected %v, got %v", start.Add(time.Second), c.Now())
	}
	if len(c.Sleeps()) != 0 {
		t.Error("Advance should not record sleeps")
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}

	before := c.Now()
	c.Sleep(time.Millisecond)
	if c.Since(before) < time.Millisecond {
		t.Error("Expected at least 1ms to elapse")
	}
}
