package search

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
)

// subsequencePenalty keeps subsequence matches below any approximate
// substring match of the same span.
const subsequencePenalty = 0.9

// matchTerm scores term against text in [0, 1]; 0 means no match. Both
// arguments must already be lower case.
func matchTerm(term, text string, p ModeParams) float64 {
	if term == "" || text == "" {
		return 0
	}
	if strings.Contains(text, term) {
		return 1
	}

	tr := []rune(term)
	if allowed := maxEdits(len(tr), p.Tolerance); allowed > 0 {
		if d := substringDistance(tr, []rune(text), allowed); d <= allowed {
			return 1 - float64(d)/float64(len(tr))
		}
	}

	if p.Subsequence {
		return subsequenceScore(term, text, p.Distance)
	}
	return 0
}

func maxEdits(n int, tolerance float64) int {
	return int(math.Floor(tolerance*float64(n) + 1e-9))
}

// substringDistance returns the minimum edit distance between term and any
// substring of text, or limit+1 when it exceeds limit.
func substringDistance(term, text []rune, limit int) int {
	m := len(term)
	prev := make([]int, m+1)
	cur := make([]int, m+1)
	for i := range prev {
		prev[i] = i
	}
	best := prev[m]

	for _, c := range text {
		cur[0] = 0 // a match may start anywhere in text
		for i := 1; i <= m; i++ {
			cost := 1
			if term[i-1] == c {
				cost = 0
			}
			cur[i] = min(prev[i-1]+cost, prev[i]+1, cur[i-1]+1)
		}
		best = min(best, cur[m])
		if best == 0 {
			return 0
		}
		prev, cur = cur, prev
	}
	if best > limit {
		return limit + 1
	}
	return best
}

// subsequenceScore matches the characters of term in order inside text with
// at most maxGap characters between consecutive matches. The score is the
// share of the matched span made up of term characters.
func subsequenceScore(term, text string, maxGap int) float64 {
	matches := fuzzy.Find(term, []string{text})
	if len(matches) == 0 {
		return 0
	}
	idx := runePositions(text, matches[0].MatchedIndexes)
	if len(idx) == 0 {
		return 0
	}
	for i := 1; i < len(idx); i++ {
		if idx[i]-idx[i-1]-1 > maxGap {
			return 0
		}
	}
	span := idx[len(idx)-1] - idx[0] + 1
	return subsequencePenalty * float64(len(idx)) / float64(span)
}

// runePositions converts ascending byte offsets into text to character
// positions, so gaps and spans count characters in any script.
func runePositions(text string, offsets []int) []int {
	out := make([]int, 0, len(offsets))
	pos, prev := 0, 0
	for _, off := range offsets {
		pos += utf8.RuneCountInString(text[prev:off])
		prev = off
		out = append(out, pos)
	}
	return out
}

// fields are the lower-cased searchable texts of one entity.
type fields struct {
	content    string
	highlights string
	tags       string
	workspace  string
	kind       string
}

// scoreTerms returns the normalized score of an entity for terms and how
// many terms matched at all.
func scoreTerms(terms []string, f fields, p ModeParams, w Weights) (score float64, matched int) {
	maxWeight := w.max()
	weighted := []struct {
		text   string
		weight float64
	}{
		{f.content, w.Content},
		{f.highlights, w.Highlights},
		{f.tags, w.Tags},
		{f.workspace, w.Workspace},
		{f.kind, w.Kind},
	}

	var total float64
	for _, term := range terms {
		var best float64
		for _, fw := range weighted {
			if fw.weight <= 0 || fw.text == "" {
				continue
			}
			if s := matchTerm(term, fw.text, p) * fw.weight; s > best {
				best = s
			}
		}
		if best > 0 {
			matched++
		}
		total += best / maxWeight
	}
	return total / float64(len(terms)), matched
}

func satisfies(req Requirement, matched, total int) bool {
	switch req {
	case RequireAll:
		return matched == total
	case RequireMajority:
		return matched*2 > total
	default:
		return matched > 0
	}
}
