package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since() returned a negative duration")
	}
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	c.Advance(250 * time.Millisecond)
	if got := c.Since(base); got != 250*time.Millisecond {
		t.Errorf("Since() = %v, want 250ms", got)
	}
}

func TestMockClock_AutoStep(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(base)
	c.SetAutoStep(time.Millisecond)

	first := c.Now()
	second := c.Now()
	if second.Sub(first) != time.Millisecond {
		t.Errorf("auto step = %v, want 1ms", second.Sub(first))
	}
	// Since does not step.
	if c.Since(second) != 0 {
		t.Errorf("Since() = %v, want 0", c.Since(second))
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(100 * time.Millisecond)

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
