package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTerm(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1.0, matchTerm("cache", "warm the cache now", cfg.Strict))
	assert.Zero(t, matchTerm("cachr", "warm the cache now", cfg.Strict))
	assert.InDelta(t, 0.8, matchTerm("cachr", "warm the cache now", cfg.Normal), 1e-9)
	// "deply" is one deletion away, so a transposed tail still matches.
	assert.InDelta(t, 1-1.0/6, matchTerm("deploy", "deplyo", cfg.Normal), 1e-9)
	assert.InDelta(t, 1-1.0/6, matchTerm("deploy", "deplyo", cfg.Fuzzy), 1e-9)
	assert.Zero(t, matchTerm("deploy", "dqplqy", cfg.Normal))
	assert.InDelta(t, 1-2.0/6, matchTerm("deploy", "dqplqy", cfg.Fuzzy), 1e-9)
	assert.Zero(t, matchTerm("", "anything", cfg.Fuzzy))
	assert.Zero(t, matchTerm("term", "", cfg.Fuzzy))
}

func TestMatchTerm_SubsequenceOnlyWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	text := "c--o--n--f--i--g--u--r--a--t--i--o--n"

	assert.Zero(t, matchTerm("configuration", text, cfg.Normal))
	score := matchTerm("configuration", text, cfg.Fuzzy)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, subsequencePenalty)
}

func TestSubsequenceScore_GapBound(t *testing.T) {
	assert.InDelta(t, subsequencePenalty, subsequenceScore("abc", "abc", 0), 1e-9)
	assert.InDelta(t, subsequencePenalty*3/5, subsequenceScore("abc", "a.b.c", 1), 1e-9)
	assert.Zero(t, subsequenceScore("abc", "a....b.c", 3))
	assert.Zero(t, subsequenceScore("abc", "xyz", 16))
}

func TestSubsequenceScore_CountsCharacters(t *testing.T) {
	gap := strings.Repeat("y", 9)
	wide := strings.Repeat("ы", 9)

	assert.InDelta(t, subsequencePenalty*2/11, subsequenceScore("ab", "a"+gap+"b", 16), 1e-9)
	assert.InDelta(t, subsequencePenalty*2/11, subsequenceScore("жз", "ж"+wide+"з", 16), 1e-9)
	assert.InDelta(t, subsequencePenalty*3/5, subsequenceScore("жзи", "ж-з-и", 16), 1e-9)
	assert.Zero(t, subsequenceScore("жз", "ж"+wide+"з", 8))
	assert.InDelta(t, subsequencePenalty*2/11, subsequenceScore("жз", "ж"+wide+"з", 9), 1e-9)
}

func TestRunePositions(t *testing.T) {
	assert.Equal(t, []int{0, 2, 4}, runePositions("ж-з-и", []int{0, 3, 6}))
	assert.Equal(t, []int{0, 2}, runePositions("a-b", []int{0, 2}))
	assert.Empty(t, runePositions("abc", nil))
}

func TestSubstringDistance(t *testing.T) {
	cases := []struct {
		term, text string
		limit      int
		want       int
	}{
		{"cache", "the cache", 2, 0},
		{"cachr", "the cache", 2, 1},
		{"deploy", "deplyo", 3, 1},
		{"deploy", "dqplqy", 3, 2},
		{"kitten", "sitting", 3, 2},
		{"abc", "xyz", 1, 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, substringDistance([]rune(tc.term), []rune(tc.text), tc.limit), "%s in %s", tc.term, tc.text)
	}
}

func TestScoreTerms(t *testing.T) {
	cfg := DefaultConfig()
	f := fields{content: "redis cache", highlights: "eviction policy", kind: "general"}

	score, matched := scoreTerms([]string{"redis", "eviction"}, f, cfg.Strict, cfg.Weights)
	assert.Equal(t, 2, matched)
	assert.InDelta(t, (1.0/1.5+1.0)/2, score, 1e-9)

	score, matched = scoreTerms([]string{"redis", "sharding"}, f, cfg.Strict, cfg.Weights)
	assert.Equal(t, 1, matched)
	assert.InDelta(t, (1.0/1.5)/2, score, 1e-9)
}

func TestSatisfies(t *testing.T) {
	assert.True(t, satisfies(RequireAll, 3, 3))
	assert.False(t, satisfies(RequireAll, 2, 3))
	assert.True(t, satisfies(RequireMajority, 2, 3))
	assert.False(t, satisfies(RequireMajority, 1, 2))
	assert.True(t, satisfies(RequireAny, 1, 5))
	assert.False(t, satisfies(RequireAny, 0, 5))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Normal.Tolerance = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Fuzzy.Require = "most"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxLimit = 5
	assert.Error(t, bad.Validate())
}

func TestParseSince(t *testing.T) {
	at := time.Date(2026, 4, 10, 15, 30, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"":                          {},
		"today":                     time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		"Yesterday":                 time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC),
		"6h":                        at.Add(-6 * time.Hour),
		"3d":                        at.AddDate(0, 0, -3),
		"2w":                        at.AddDate(0, 0, -14),
		"876600h":                   at.Add(-876600 * time.Hour),
		"2026-03-01":                time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		"2026-04-01T08:00:00Z":      time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		"2026-04-01T10:00:00+02:00": time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseSince(in, at)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%q: want %v got %v", in, want, got)
	}

	for _, in := range []string{"last week", "h", "-3d", "5m", "2026-13-01", "9999999999h", "9999999999d", "99999999999w", "876601h"} {
		_, err := ParseSince(in, at)
		assert.Error(t, err, in)
	}
}
