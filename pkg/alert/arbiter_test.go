package alert

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestArbiter_EdgeTriggeredHazard(t *testing.T) {
	a := NewArbiter(Config{MinHazardInterval: 1500 * time.Millisecond, ClearInterval: 7000 * time.Millisecond})

	if got := a.Evaluate(true, at(0)); got != AnnounceHazard {
		t.Fatalf("first hazard: got %v, want hazard", got)
	}
	// Hazard -> clear -> hazard 200ms later, well inside the hazard interval.
	a.Evaluate(false, at(100))
	if got := a.Evaluate(true, at(200)); got != AnnounceHazard {
		t.Errorf("hazard re-entry must announce regardless of elapsed time, got %v", got)
	}
}

func TestArbiter_HazardRateLimit(t *testing.T) {
	a := NewArbiter(Config{MinHazardInterval: 1500 * time.Millisecond, ClearInterval: 7000 * time.Millisecond})

	announced := 0
	for _, ms := range []int{0, 1000} {
		if a.ShouldAnnounce(true, at(ms)) {
			announced++
		}
	}
	if announced != 1 {
		t.Errorf("two hazard frames 1000ms apart: %d announcements, want 1", announced)
	}

	if !a.ShouldAnnounce(true, at(1500)) {
		t.Error("hazard at exactly the interval should announce")
	}
	if a.ShouldAnnounce(true, at(2999)) {
		t.Error("hazard 1499ms after last alert should be silent")
	}
}

func TestArbiter_ClearNotEdgeTriggered(t *testing.T) {
	a := NewArbiter(Config{MinHazardInterval: 1500 * time.Millisecond, ClearInterval: 7000 * time.Millisecond})

	if got := a.Evaluate(false, at(0)); got != AnnounceClear {
		t.Fatalf("first clear frame: got %v, want clear", got)
	}
	a.Evaluate(true, at(1000))
	if got := a.Evaluate(false, at(2000)); got != Silent {
		t.Errorf("hazard->clear transition inside clear interval must be silent, got %v", got)
	}
	if got := a.Evaluate(false, at(7000)); got != AnnounceClear {
		t.Errorf("clear after interval: got %v, want clear", got)
	}
}

func TestArbiter_OneClearPerInterval(t *testing.T) {
	a := NewArbiter(Config{MinHazardInterval: 2 * time.Second, ClearInterval: 7500 * time.Millisecond})

	// 30 fps of empty frames for 8.5 seconds.
	var times []time.Time
	for ms := 0; ms <= 8500; ms += 33 {
		if a.Evaluate(false, at(ms)) == AnnounceClear {
			times = append(times, at(ms))
		}
	}
	if len(times) != 2 {
		t.Fatalf("got %d clear announcements in 8.5s, want 2 (t=0 and t>=7.5s)", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < 7500*time.Millisecond {
		t.Errorf("clear announcements %v apart, want >= 7.5s", gap)
	}
}

func TestArbiter_StateUpdates(t *testing.T) {
	a := NewArbiter(DefaultConfig())
	a.Evaluate(true, at(500))

	s := a.State()
	if !s.LastAlert.Equal(at(500)) {
		t.Errorf("LastAlert = %v, want %v", s.LastAlert, at(500))
	}
	if !s.LastHazardPresent {
		t.Error("LastHazardPresent should be true after hazard announce")
	}

	a.Evaluate(false, at(1000))
	s = a.State()
	if s.LastHazardPresent {
		t.Error("LastHazardPresent should be false after clear announce")
	}
	if !s.LastClearAnnounce.Equal(at(1000)) {
		t.Errorf("LastClearAnnounce = %v", s.LastClearAnnounce)
	}
	if s.Announcements != 2 {
		t.Errorf("Announcements = %d, want 2", s.Announcements)
	}
}

func TestArbiter_LastAlertMonotonic(t *testing.T) {
	a := NewArbiter(DefaultConfig())
	a.Evaluate(true, at(5000))
	a.Evaluate(false, at(5100))
	// Clock stepped backward; the edge still announces but LastAlert holds.
	a.Evaluate(true, at(1000))

	if got := a.State().LastAlert; !got.Equal(at(5000)) {
		t.Errorf("LastAlert moved backward to %v", got)
	}
}

func TestArbiter_Reset(t *testing.T) {
	a := NewArbiter(DefaultConfig())
	a.Evaluate(true, at(0))
	a.Reset()
	if s := a.State(); !s.LastAlert.IsZero() || s.PreviousHazard {
		t.Errorf("state not reset: %+v", s)
	}
}

func TestNewArbiter_Defaults(t *testing.T) {
	a := NewArbiter(Config{})
	cfg := a.Config()
	if cfg.MinHazardInterval != DefaultMinHazardInterval || cfg.ClearInterval != DefaultClearInterval {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
