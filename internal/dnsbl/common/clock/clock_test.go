package clock

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	now := RealClock{}.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("RealClock.Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := &MockClock{CurrentTime: start}

	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	clk.Advance(time.Hour)
	if got := clk.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Fatalf("after Advance Now() = %v, want %v", got, start.Add(time.Hour))
	}

	clk.Advance(-30 * time.Minute)
	if got := clk.Now(); !got.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("after negative Advance Now() = %v", got)
	}

	later := start.Add(48 * time.Hour)
	clk.Set(later)
	if got := clk.Now(); !got.Equal(later) {
		t.Fatalf("after Set Now() = %v, want %v", got, later)
	}
}

func TestMockClock_ConcurrentAdvance(t *testing.T) {
	start := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := &MockClock{CurrentTime: start}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.Advance(time.Second)
			_ = clk.Now()
		}()
	}
	wg.Wait()

	if got := clk.Now(); !got.Equal(start.Add(50 * time.Second)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(50*time.Second))
	}
}
