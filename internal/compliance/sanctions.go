package compliance

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// SanctionsMatch describes a name hit against the list.
type SanctionsMatch struct {
	ListedName string  `json:"listedName"`
	Similarity float64 `json:"similarity"`
}

// SanctionsScreener checks a name against a sanctions list.
type SanctionsScreener interface {
	Screen(ctx context.Context, name string) (*SanctionsMatch, error)
}

// ListScreener matches names against a static list using normalized
// Levenshtein similarity. Token order is ignored ("DOE John" == "john doe").
type ListScreener struct {
	entries   []listEntry
	threshold float64
}

type listEntry struct {
	original   string
	normalized string
}

// NewListScreener builds a screener; threshold is the minimum similarity
// (0..1] that counts as a hit.
func NewListScreener(names []string, threshold float64) *ListScreener {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	s := &ListScreener{threshold: threshold}
	for _, n := range names {
		if norm := normalizeName(n); norm != "" {
			s.entries = append(s.entries, listEntry{original: n, normalized: norm})
		}
	}
	return s
}

// Screen returns the best hit at or above the threshold, or nil.
func (s *ListScreener) Screen(ctx context.Context, name string) (*SanctionsMatch, error) {
	query := normalizeName(name)
	if query == "" {
		return nil, nil
	}

	var best *SanctionsMatch
	for _, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim := similarity(query, e.normalized)
		if sim >= s.threshold && (best == nil || sim > best.Similarity) {
			best = &SanctionsMatch{ListedName: e.original, Similarity: sim}
		}
	}
	return best, nil
}

// similarity is 1 - distance/maxLen over runes.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// normalizeName lowercases, drops punctuation and sorts tokens.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == ',':
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
