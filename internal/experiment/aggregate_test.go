package experiment

import (
	"math"
	"testing"
	"time"

	"github.com/onnwee/foryou/internal/exposure"
	"github.com/onnwee/foryou/internal/interaction"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func f64Ptr(v float64) *float64 { return &v }

func served(viewer, candidate, variant string, at time.Time) exposure.Exposure {
	e := exposure.Exposure{SessionID: "sess-" + viewer, CandidateID: candidate, Variant: variant, ServedAt: at}
	if viewer != "" {
		e.ViewerID = strPtr(viewer)
	}
	return e
}

func event(viewer, candidate string, typ interaction.EventType, at time.Time, value *float64) interaction.Event {
	ev := interaction.Event{SessionID: "sess-" + viewer, CandidateID: candidate, Type: typ, OccurredAt: at, Value: value}
	if viewer != "" {
		ev.ViewerID = strPtr(viewer)
	}
	return ev
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAggregate_Funnel(t *testing.T) {
	exposures := []exposure.Exposure{
		served("v1", "c1", "A", t0),
		served("v1", "c2", "A", t0),
		served("v2", "c1", "A", t0),
		served("", "c1", "A", t0),
	}
	events := []interaction.Event{
		event("v1", "c1", interaction.EventView, t0.Add(time.Minute), nil),
		event("v1", "c1", interaction.EventComplete, t0.Add(2*time.Minute), nil),
		event("v2", "c1", interaction.EventView, t0.Add(time.Minute), nil),
		event("v2", "c1", interaction.EventLike, t0.Add(time.Minute), nil),
		event("v1", "c1", interaction.EventDwell, t0.Add(time.Minute), f64Ptr(10)),
		event("v2", "c1", interaction.EventDwell, t0.Add(time.Minute), f64Ptr(20)),
		event("v1", "c2", interaction.EventDwell, t0.Add(time.Minute), nil),
		// Not attributable.
		event("v1", "c3", interaction.EventView, t0.Add(time.Minute), nil),
		event("", "c1", interaction.EventView, t0.Add(time.Minute), nil),
		event("v1", "c2", interaction.EventLike, t0.Add(-time.Minute), nil),
	}

	got := Aggregate(exposures, events)
	a, ok := got["A"]
	if !ok {
		t.Fatalf("variant A missing from %v", got)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"exposures", float64(a.Exposures), 3},
		{"views", float64(a.Views), 2},
		{"likes", float64(a.Likes), 1},
		{"completes", float64(a.Completes), 1},
		{"shares", float64(a.Shares), 0},
		{"dwell samples", float64(a.DwellSamples), 2},
		{"dwell avg", a.DwellAvgSeconds, 15},
		{"views per exposure", a.ViewsPerExposure, 2.0 / 3.0},
		{"likes per exposure", a.LikesPerExposure, 1.0 / 3.0},
		{"completion rate", a.CompletionRate, 0.5},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestAggregate_AttributesToLatestPriorExposure(t *testing.T) {
	exposures := []exposure.Exposure{
		served("v1", "c1", "B", t0.Add(2*time.Hour)),
		served("v1", "c1", "A", t0),
	}
	events := []interaction.Event{
		event("v1", "c1", interaction.EventView, t0.Add(time.Hour), nil),
		event("v1", "c1", interaction.EventView, t0.Add(3*time.Hour), nil),
		event("v1", "c1", interaction.EventShare, t0.Add(2*time.Hour), nil),
	}

	got := Aggregate(exposures, events)
	if got["A"].Views != 1 || got["A"].Shares != 0 {
		t.Errorf("A = %+v, want 1 view and no shares", got["A"])
	}
	if got["B"].Views != 1 || got["B"].Shares != 1 {
		t.Errorf("B = %+v, want 1 view and 1 share", got["B"])
	}
	if exposures[0].Variant != "B" {
		t.Error("input exposures reordered")
	}
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil, []interaction.Event{
		event("v1", "c1", interaction.EventView, t0, nil),
	})
	if len(got) != 0 {
		t.Errorf("got %v, want no variants", got)
	}
}

func TestAggregate_ZeroViewsHasZeroCompletionRate(t *testing.T) {
	got := Aggregate([]exposure.Exposure{served("v1", "c1", "A", t0)}, []interaction.Event{
		event("v1", "c1", interaction.EventComplete, t0.Add(time.Minute), nil),
	})
	if got["A"].CompletionRate != 0 {
		t.Errorf("completion rate = %v, want 0", got["A"].CompletionRate)
	}
	if got["A"].Completes != 1 {
		t.Errorf("completes = %d, want 1", got["A"].Completes)
	}
}
