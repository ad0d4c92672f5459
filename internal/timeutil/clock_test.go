package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before))

	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2024, 5, 26, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	tk := c.NewTicker(10 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case got := <-tk.C():
		assert.Equal(t, start.Add(10*time.Second), got)
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	c.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_Set(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	want := time.Unix(1700000000, 0)
	c.Set(want)
	assert.Equal(t, want, c.Now())
}

func TestSecondsRoundTrip(t *testing.T) {
	ts := time.Unix(1685104331, 250_000_000)
	s := Seconds(ts)
	assert.InDelta(t, 1685104331.25, s, 1e-6)
	assert.WithinDuration(t, ts, FromSeconds(s), time.Microsecond)
}
