package ranking

import (
	"sort"
)

// Diversified is the result of Diversify.
type Diversified struct {
	Items []Scored
	// RelaxedFrom is the index of the first item placed by the relaxed
	// pass, or -1 when every item satisfied both constraints.
	RelaxedFrom int
}

// Diversify orders scored candidates by descending score while enforcing
// the creator cap and the trailing category window.
//
// Primary pass: at each position the highest scoring remaining item that
// satisfies both constraints is emitted. Items rejected by the category
// window stay queued and are reconsidered as the window slides. Items whose
// creator has reached PerCreatorMax are dropped.
//
// Relaxed pass: when no queued item satisfies the window, the rest are
// appended in score order subject to the creator cap only.
//
// The output never contains more items than the input and never repeats
// an item. Uncategorized items are exempt from the category window.
func Diversify(items []Scored, cfg DiversityConfig) Diversified {
	queue := make([]Scored, len(items))
	copy(queue, items)
	sortScored(queue)

	out := Diversified{
		Items:       make([]Scored, 0, len(queue)),
		RelaxedFrom: -1,
	}
	creatorCount := make(map[string]int)

	creatorOK := func(s Scored) bool {
		return cfg.PerCreatorMax <= 0 || creatorCount[s.Candidate.CreatorID] < cfg.PerCreatorMax
	}
	emit := func(s Scored) {
		out.Items = append(out.Items, s)
		creatorCount[s.Candidate.CreatorID]++
	}

	for len(queue) > 0 {
		picked := -1
		kept := queue[:0]
		for _, s := range queue {
			if !creatorOK(s) {
				continue
			}
			if picked == -1 && windowOK(out.Items, s, cfg) {
				picked = len(kept)
			}
			kept = append(kept, s)
		}
		queue = kept
		if picked == -1 {
			break
		}
		emit(queue[picked])
		queue = append(queue[:picked], queue[picked+1:]...)
	}

	for _, s := range queue {
		if !creatorOK(s) {
			continue
		}
		if out.RelaxedFrom == -1 {
			out.RelaxedFrom = len(out.Items)
		}
		emit(s)
	}
	return out
}

// windowOK reports whether appending s keeps its category below the
// per-window maximum over the trailing PerCategoryWindow-1 emitted items.
func windowOK(emitted []Scored, s Scored, cfg DiversityConfig) bool {
	if cfg.PerCategoryWindow <= 0 || cfg.PerCategoryMaxInWindow <= 0 {
		return true
	}
	category := s.Candidate.CategoryName()
	if category == "" {
		return true
	}

	start := len(emitted) - (cfg.PerCategoryWindow - 1)
	if start < 0 {
		start = 0
	}
	n := 0
	for _, e := range emitted[start:] {
		if e.Candidate.CategoryName() == category {
			n++
		}
	}
	return n < cfg.PerCategoryMaxInWindow
}

// sortScored orders by score DESC, candidate ID ASC.
func sortScored(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Candidate.ID < items[j].Candidate.ID
	})
}

// IDs returns the candidate IDs of a scored list in order.
func IDs(items []Scored) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.Candidate.ID
	}
	return out
}
