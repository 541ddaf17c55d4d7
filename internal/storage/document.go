package storage

import (
	"strings"
	"unicode"

	"github.com/scrypster/goldfish/pkg/types"
)

// Document is the searchable text of one entity, split by ranking field.
type Document struct {
	Body       string
	Highlights []string
	Tags       []string
}

// DocumentOf extracts the searchable fields of e. Plan categories and
// chronicle kinds are indexed as tags.
func DocumentOf(e types.Entity) Document {
	switch v := e.(type) {
	case *types.MemoryItem:
		return Document{Body: v.Content.SearchText(), Highlights: v.Content.Highlights(), Tags: v.Tags}
	case *types.TodoList:
		parts := []string{v.Title}
		for _, it := range v.Items {
			parts = append(parts, it.Content)
		}
		return Document{Body: joinNonEmpty(parts)}
	case *types.Plan:
		parts := append([]string{v.Title, v.Description}, v.Items...)
		parts = append(parts, v.Discoveries...)
		var tags []string
		if v.Category != "" {
			tags = []string{v.Category}
		}
		return Document{Body: joinNonEmpty(parts), Tags: tags}
	case *types.ChronicleEntry:
		return Document{Body: v.Description, Tags: []string{string(v.Kind)}}
	}
	return Document{}
}

func joinNonEmpty(parts []string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true,
}

// IsStopWord reports whether the lower-case word w carries no search signal.
func IsStopWord(w string) bool { return stopWords[w] }

// QueryTerms splits a free-form query into lower-case search terms. Anything
// other than letters and digits separates terms; stop words and single
// characters are dropped.
func QueryTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := words[:0]
	for _, w := range words {
		if len(w) >= 2 && !stopWords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}
