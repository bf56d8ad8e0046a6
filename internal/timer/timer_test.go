package timer

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func useFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	prev := now
	now = clock.now
	t.Cleanup(func() { now = prev })
	return clock
}

func TestMeasureGrowsInnerCountUntilWindowReached(t *testing.T) {
	clock := useFakeClock(t)
	calls := 0
	thunk := func() error {
		calls++
		clock.advance(10 * time.Millisecond)
		return nil
	}

	got, err := Measure(thunk, Options{Repeat: 1, Number: 10, Dryrun: 3, MinRepeat: time.Second})
	if err != nil {
		t.Fatalf("Measure error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if math.Abs(got[0]-10) > 1e-9 {
		t.Fatalf("expected 10ms per call, got %f", got[0])
	}
	// 3 dry runs, one short batch of 10, then a batch of 101.
	if calls != 3+10+101 {
		t.Fatalf("unexpected call count %d", calls)
	}
}

func TestMeasureCarriesCountAcrossRepeats(t *testing.T) {
	clock := useFakeClock(t)
	calls := 0
	thunk := func() error {
		calls++
		clock.advance(20 * time.Millisecond)
		return nil
	}

	got, err := Measure(thunk, Options{Repeat: 3, Number: 1, Dryrun: 0, MinRepeat: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Measure error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, v := range got {
		if math.Abs(v-20) > 1e-9 {
			t.Fatalf("sample %d: expected 20ms, got %f", i, v)
		}
	}
	// batch of 1 (20ms) grows to 6 (120ms); the next two repeats reuse 6.
	if calls != 1+6+6+6 {
		t.Fatalf("unexpected call count %d", calls)
	}
}

func TestMeasureUsesGeometricGrowthWhenEstimateIsSmaller(t *testing.T) {
	if got := nextNumber(100, 99, 10); got != 16 {
		t.Fatalf("expected geometric growth to 16, got %d", got)
	}
	if got := nextNumber(1000, 100, 10); got != 101 {
		t.Fatalf("expected estimate 101, got %d", got)
	}
	if got := nextNumber(1000, 0, 10); got != 16 {
		t.Fatalf("expected growth on zero latency, got %d", got)
	}
}

func TestNextNumberAlwaysAdvancesFromOne(t *testing.T) {
	if got := nextNumber(1000, 0, 1); got != 2 {
		t.Fatalf("expected zero latency to advance 1 -> 2, got %d", got)
	}
	n := 1
	for i := 0; i < 10; i++ {
		next := nextNumber(500, 0, n)
		if next <= n {
			t.Fatalf("inner count stalled at %d", n)
		}
		n = next
	}
}

func TestMeasurePropagatesThunkError(t *testing.T) {
	useFakeClock(t)
	boom := errors.New("boom")
	calls := 0
	_, err := Measure(func() error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}, DefaultOptions())
	if !errors.Is(err, boom) {
		t.Fatalf("expected thunk error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected measurement to stop at the failing call, got %d calls", calls)
	}
}

func TestMeasureRejectsNilThunk(t *testing.T) {
	if _, err := Measure(nil, DefaultOptions()); err == nil {
		t.Fatal("expected error for nil thunk")
	}
}

func TestWithDefaults(t *testing.T) {
	opts := withDefaults(Options{Dryrun: -1})
	if opts.Repeat != 1 || opts.Number != 10 || opts.Dryrun != 0 {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}
