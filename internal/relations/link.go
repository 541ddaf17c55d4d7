package relations

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/pkg/types"
)

// PlanTagPrefix marks a checkpoint tag that links the checkpoint to a plan
// explicitly, as in "plan:<planID>".
const PlanTagPrefix = "plan:"

// minTermLength is the shortest term considered significant for overlap.
const minTermLength = 3

// ExplicitPlan returns the plan ID named by a "plan:<id>" tag on cp.
func ExplicitPlan(cp *types.MemoryItem) (string, bool) {
	for _, tag := range cp.Tags {
		if len(tag) > len(PlanTagPrefix) && strings.EqualFold(tag[:len(PlanTagPrefix)], PlanTagPrefix) {
			return tag[len(PlanTagPrefix):], true
		}
	}
	return "", false
}

// LinkCheckpoint picks the plan a checkpoint most likely belongs to: among
// the plans whose text overlaps the checkpoint's, the one closest in time,
// ties broken by the smallest plan ID. ok is false when no plan overlaps.
func LinkCheckpoint(cp *types.MemoryItem, plans []*types.Plan) (planID string, ok bool) {
	cpTerms := significantTerms(checkpointText(cp))
	if len(cpTerms) == 0 {
		return "", false
	}

	var (
		best     string
		bestDist time.Duration
	)
	for _, p := range plans {
		if !overlaps(cpTerms, p) {
			continue
		}
		d := Distance(cp.CreatedAt, p)
		if best == "" || d < bestDist || (d == bestDist && p.ID < best) {
			best, bestDist = p.ID, d
		}
	}
	return best, best != ""
}

// Distance is zero when t falls within the plan's lifetime
// [CreatedAt, UpdatedAt], else the distance to the nearest bound.
func Distance(t time.Time, p *types.Plan) time.Duration {
	start, end := p.CreatedAt, p.UpdatedAt
	if end.Before(start) {
		end = start
	}
	switch {
	case t.Before(start):
		return start.Sub(t)
	case t.After(end):
		return t.Sub(end)
	}
	return 0
}

func overlaps(cpTerms map[string]bool, p *types.Plan) bool {
	for t := range significantTerms(p.Title) {
		if cpTerms[t] {
			return true
		}
	}
	shared := 0
	for t := range significantTerms(p.Description) {
		if cpTerms[t] {
			shared++
		}
	}
	return shared >= 2
}

func checkpointText(cp *types.MemoryItem) string {
	doc := storage.DocumentOf(cp)
	return doc.Body + " " + strings.Join(doc.Highlights, " ")
}

func significantTerms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range storage.QueryTerms(s) {
		if utf8.RuneCountInString(t) >= minTermLength {
			out[t] = true
		}
	}
	return out
}
