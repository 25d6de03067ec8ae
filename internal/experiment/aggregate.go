// Package experiment computes per-variant funnel metrics by joining served
// exposures with the interactions that followed them.
package experiment

import (
	"sort"

	"github.com/onnwee/foryou/internal/exposure"
	"github.com/onnwee/foryou/internal/interaction"
)

// VariantMetrics are the funnel counts and ratios for one variant.
type VariantMetrics struct {
	Exposures int64 `json:"exposures"`
	Views     int64 `json:"views"`
	Completes int64 `json:"completes"`
	Likes     int64 `json:"likes"`
	Shares    int64 `json:"shares"`

	// DwellAvgSeconds averages dwell events that carry a value.
	// DwellSamples is the number of such events.
	DwellAvgSeconds float64 `json:"dwell_avg_seconds"`
	DwellSamples    int64   `json:"dwell_samples"`

	ViewsPerExposure float64 `json:"views_per_exposure"`
	LikesPerExposure float64 `json:"likes_per_exposure"`
	// CompletionRate is completes / views.
	CompletionRate float64 `json:"completion_rate"`
}

type pairKey struct {
	viewer    string
	candidate string
}

// Aggregate joins identified exposures with interaction events.
//
// An event is attributed to the most recent exposure of the same candidate
// to the same viewer served at or before the event. Events without such an
// exposure are ignored, as are anonymous exposures and events. Neither input
// is modified.
func Aggregate(exposures []exposure.Exposure, events []interaction.Event) map[string]VariantMetrics {
	out := make(map[string]VariantMetrics)

	served := make(map[pairKey][]exposure.Exposure)
	for _, e := range exposures {
		if e.ViewerID == nil || *e.ViewerID == "" {
			continue
		}
		k := pairKey{viewer: *e.ViewerID, candidate: e.CandidateID}
		served[k] = append(served[k], e)

		m := out[e.Variant]
		m.Exposures++
		out[e.Variant] = m
	}
	for _, list := range served {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].ServedAt.Before(list[j].ServedAt)
		})
	}

	dwellSum := make(map[string]float64)
	for _, ev := range events {
		if ev.ViewerID == nil || *ev.ViewerID == "" {
			continue
		}
		list := served[pairKey{viewer: *ev.ViewerID, candidate: ev.CandidateID}]
		// Index of the first exposure served after the event.
		i := sort.Search(len(list), func(i int) bool {
			return list[i].ServedAt.After(ev.OccurredAt)
		})
		if i == 0 {
			continue
		}
		variant := list[i-1].Variant

		m := out[variant]
		switch ev.Type {
		case interaction.EventView:
			m.Views++
		case interaction.EventLike:
			m.Likes++
		case interaction.EventShare:
			m.Shares++
		case interaction.EventComplete:
			m.Completes++
		case interaction.EventDwell:
			if ev.Value != nil {
				dwellSum[variant] += *ev.Value
				m.DwellSamples++
			}
		}
		out[variant] = m
	}

	for variant, m := range out {
		if m.DwellSamples > 0 {
			m.DwellAvgSeconds = dwellSum[variant] / float64(m.DwellSamples)
		}
		m.ViewsPerExposure = ratio(m.Views, m.Exposures)
		m.LikesPerExposure = ratio(m.Likes, m.Exposures)
		m.CompletionRate = ratio(m.Completes, m.Views)
		out[variant] = m
	}
	return out
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
