package ranking

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/onnwee/foryou/internal/content"
)

func scored(id, creator, category string, score float64) Scored {
	c := content.Candidate{ID: id, CreatorID: creator}
	if category != "" {
		c.Category = strPtr(category)
	}
	return Scored{Candidate: c, Score: score}
}

func assertIDs(t *testing.T, got []Scored, want []string) {
	t.Helper()
	ids := IDs(got)
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestDiversify_OrdersByScore(t *testing.T) {
	items := []Scored{
		scored("b", "c2", "", 0.5),
		scored("a", "c1", "", 0.9),
		scored("d", "c4", "", 0.5),
		scored("c", "c3", "", 0.7),
	}

	out := Diversify(items, DiversityConfig{})
	assertIDs(t, out.Items, []string{"a", "c", "b", "d"})
	if out.RelaxedFrom != -1 {
		t.Errorf("RelaxedFrom = %d, want -1", out.RelaxedFrom)
	}
}

func TestDiversify_CreatorCapIsHard(t *testing.T) {
	items := []Scored{
		scored("a1", "alice", "", 0.9),
		scored("a2", "alice", "", 0.8),
		scored("a3", "alice", "", 0.7),
		scored("b1", "bob", "", 0.1),
	}

	out := Diversify(items, DiversityConfig{PerCreatorMax: 2})
	assertIDs(t, out.Items, []string{"a1", "a2", "b1"})
}

func TestDiversify_CategoryWindowDefersThenReconsiders(t *testing.T) {
	items := []Scored{
		scored("m1", "c1", "music", 0.9),
		scored("m2", "c2", "music", 0.8),
		scored("m3", "c3", "music", 0.7),
		scored("s1", "c4", "sports", 0.6),
		scored("s2", "c5", "sports", 0.5),
	}

	out := Diversify(items, DiversityConfig{PerCategoryWindow: 2, PerCategoryMaxInWindow: 1})
	assertIDs(t, out.Items, []string{"m1", "s1", "m2", "s2", "m3"})
	if out.RelaxedFrom != -1 {
		t.Errorf("no relaxation expected, got RelaxedFrom = %d", out.RelaxedFrom)
	}
}

func TestDiversify_RelaxesWindowInsteadOfStarving(t *testing.T) {
	items := []Scored{
		scored("m1", "c1", "music", 0.9),
		scored("m2", "c2", "music", 0.8),
		scored("m3", "c3", "music", 0.7),
	}

	out := Diversify(items, DiversityConfig{PerCategoryWindow: 3, PerCategoryMaxInWindow: 1})
	assertIDs(t, out.Items, []string{"m1", "m2", "m3"})
	if out.RelaxedFrom != 1 {
		t.Errorf("RelaxedFrom = %d, want 1", out.RelaxedFrom)
	}
}

func TestDiversify_RelaxedPassKeepsCreatorCap(t *testing.T) {
	items := []Scored{
		scored("m1", "alice", "music", 0.9),
		scored("m2", "alice", "music", 0.8),
		scored("m3", "alice", "music", 0.7),
	}

	out := Diversify(items, DiversityConfig{PerCreatorMax: 2, PerCategoryWindow: 5, PerCategoryMaxInWindow: 1})
	assertIDs(t, out.Items, []string{"m1", "m2"})
}

func TestDiversify_UncategorizedExemptFromWindow(t *testing.T) {
	items := []Scored{
		scored("u1", "c1", "", 0.9),
		scored("u2", "c2", "", 0.8),
		scored("u3", "c3", "", 0.7),
	}

	out := Diversify(items, DiversityConfig{PerCategoryWindow: 3, PerCategoryMaxInWindow: 1})
	assertIDs(t, out.Items, []string{"u1", "u2", "u3"})
}

func TestDiversify_DoesNotMutateInput(t *testing.T) {
	items := []Scored{scored("b", "c2", "", 0.1), scored("a", "c1", "", 0.9)}
	_ = Diversify(items, DiversityConfig{})
	if items[0].Candidate.ID != "b" {
		t.Error("input slice was reordered")
	}
}

// TestDiversify_Properties checks the output invariants over random pools.
func TestDiversify_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	categories := []string{"", "music", "art", "sports"}
	cfg := DiversityConfig{PerCreatorMax: 2, PerCategoryWindow: 4, PerCategoryMaxInWindow: 2}

	for round := 0; round < 200; round++ {
		n := rng.Intn(60)
		items := make([]Scored, n)
		for i := range items {
			items[i] = scored(
				fmt.Sprintf("cand-%d", i),
				fmt.Sprintf("creator-%d", rng.Intn(8)),
				categories[rng.Intn(len(categories))],
				rng.Float64(),
			)
		}

		out := Diversify(items, cfg)
		if len(out.Items) > n {
			t.Fatalf("round %d: output larger than input", round)
		}

		seen := make(map[string]bool)
		perCreator := make(map[string]int)
		for _, s := range out.Items {
			if seen[s.Candidate.ID] {
				t.Fatalf("round %d: duplicate %s", round, s.Candidate.ID)
			}
			seen[s.Candidate.ID] = true
			perCreator[s.Candidate.CreatorID]++
			if perCreator[s.Candidate.CreatorID] > cfg.PerCreatorMax {
				t.Fatalf("round %d: creator %s over cap", round, s.Candidate.CreatorID)
			}
		}

		primaryEnd := len(out.Items)
		if out.RelaxedFrom >= 0 {
			primaryEnd = out.RelaxedFrom
		}
		primary := out.Items[:primaryEnd]
		for start := 0; start < len(primary); start++ {
			end := start + cfg.PerCategoryWindow
			if end > len(primary) {
				end = len(primary)
			}
			counts := make(map[string]int)
			for _, s := range primary[start:end] {
				if cat := s.Candidate.CategoryName(); cat != "" {
					counts[cat]++
					if counts[cat] > cfg.PerCategoryMaxInWindow {
						t.Fatalf("round %d: category %s exceeds window at %d", round, cat, start)
					}
				}
			}
		}
	}
}
