package narration

import (
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/stairguard/pkg/alert"
	"github.com/teslashibe/stairguard/pkg/detection"
)

func TestUrgencyFor(t *testing.T) {
	tests := []struct {
		bucket detection.DistanceBucket
		want   Urgency
	}{
		{detection.VeryClose, Urgent},
		{detection.Close, Warning},
		{detection.Medium, Notice},
		{detection.Far, Notice},
	}
	for _, tt := range tests {
		if got := UrgencyFor(tt.bucket); got != tt.want {
			t.Errorf("UrgencyFor(%v) = %v, want %v", tt.bucket, got, tt.want)
		}
	}
}

func TestEngine_Hazard(t *testing.T) {
	tests := []struct {
		name  string
		style DistanceStyle
		det   detection.Detection
		want  string
		urg   Urgency
	}{
		{
			name:  "very close descending categorical",
			style: Categorical,
			det:   detection.Detection{Category: detection.Descending, Distance: detection.VeryClose},
			want:  "Stop! Stairs going down immediately ahead.",
			urg:   Urgent,
		},
		{
			name:  "close ascending categorical",
			style: Categorical,
			det:   detection.Detection{Category: detection.Ascending, Distance: detection.Close},
			want:  "Caution! Stairs going up close ahead.",
			urg:   Warning,
		},
		{
			name:  "far spiral numeric",
			style: Numeric,
			det:   detection.Detection{Category: detection.Spiral, Distance: detection.Far},
			want:  "Spiral staircase 5 meters ahead.",
			urg:   Notice,
		},
		{
			name:  "medium unknown numeric",
			style: Numeric,
			det:   detection.Detection{Category: detection.Unknown, Distance: detection.Medium},
			want:  "Stairs 3 meters ahead.",
			urg:   Notice,
		},
		{
			name:  "very close numeric uses half meter",
			style: Numeric,
			det:   detection.Detection{Category: detection.SideView, Distance: detection.VeryClose},
			want:  "Stop! Staircase to the side 0.5 meters ahead.",
			urg:   Urgent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.style, First{}).Hazard(tt.det)
			if p.Text != tt.want {
				t.Errorf("text: got %q, want %q", p.Text, tt.want)
			}
			if p.Urgency != tt.urg {
				t.Errorf("urgency: got %v, want %v", p.Urgency, tt.urg)
			}
		})
	}
}

func TestEngine_RoundRobinVariety(t *testing.T) {
	e := New(Categorical, &RoundRobin{})
	got := []string{e.Clear().Text, e.Clear().Text, e.Clear().Text, e.Clear().Text}
	want := []string{"Path clear.", "No stairs detected.", "The way ahead is clear.", "Path clear."}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("clear[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEngine_SeededIsReproducible(t *testing.T) {
	a := New(Categorical, NewSeeded(99))
	b := New(Categorical, NewSeeded(99))
	for i := 0; i < 20; i++ {
		if pa, pb := a.Clear().Text, b.Clear().Text; pa != pb {
			t.Fatalf("iteration %d: %q != %q", i, pa, pb)
		}
	}
}

func TestEngine_Compose(t *testing.T) {
	e := New(Categorical, First{})
	primary := &detection.Detection{Category: detection.Ascending, Distance: detection.Close}

	if _, ok := e.Compose(alert.Silent, primary); ok {
		t.Error("silent decision must produce no phrase")
	}
	if _, ok := e.Compose(alert.AnnounceHazard, nil); ok {
		t.Error("hazard without a detection must produce no phrase")
	}
	if p, ok := e.Compose(alert.AnnounceHazard, primary); !ok || p.Urgency != Warning {
		t.Errorf("hazard: got %+v ok=%v", p, ok)
	}
	if p, ok := e.Compose(alert.AnnounceClear, nil); !ok || p.Text != "Path clear." {
		t.Errorf("clear: got %+v ok=%v", p, ok)
	}
}

func TestEngine_Summary(t *testing.T) {
	e := New(Categorical, First{})
	s := detection.Summary{
		Category:  detection.Ascending,
		Distance:  detection.Close,
		StepCount: "10-15",
		Handrail:  detection.HandrailRight,
	}
	p := e.Summary(s)
	want := "Caution! Stairs going up close ahead. About 10-15 steps. Handrail likely on the right."
	if p.Text != want {
		t.Errorf("got %q\nwant %q", p.Text, want)
	}

	s.Handrail = detection.HandrailUncertain
	if p := e.Summary(s); !strings.HasSuffix(p.Text, "Check both sides for a handrail.") {
		t.Errorf("uncertain handrail phrase: %q", p.Text)
	}
}

func TestEngine_Replay(t *testing.T) {
	e := New(Categorical, First{})
	p := e.Replay(detection.Descending, 1.5, 12400*time.Millisecond)
	want := "Last alert: stairs going down, about 1.5 meters, 12 seconds ago."
	if p.Text != want {
		t.Errorf("got %q, want %q", p.Text, want)
	}
	if e.NoReplay().Empty() {
		t.Error("NoReplay should not be empty")
	}
}

func TestNewSelector(t *testing.T) {
	for _, name := range []string{"first", "round-robin", "random", ""} {
		if _, err := NewSelector(name, 1); err != nil {
			t.Errorf("NewSelector(%q): %v", name, err)
		}
	}
	if _, err := NewSelector("shuffle", 1); err == nil {
		t.Error("unknown policy should fail")
	}
}

func TestParseDistanceStyle(t *testing.T) {
	if s, err := ParseDistanceStyle("numeric"); err != nil || s != Numeric {
		t.Errorf("numeric: %v %v", s, err)
	}
	if _, err := ParseDistanceStyle("vague"); err == nil {
		t.Error("unknown style should fail")
	}
}
