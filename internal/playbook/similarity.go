package playbook

import "strings"

// DefaultSimilarityThreshold is the merge threshold for similarity-based
// matchers. Exact matching ignores it.
const DefaultSimilarityThreshold = 0.85

// Matcher decides whether an incoming delta reinforces an existing bullet
// instead of becoming a new one.
type Matcher interface {
	// FindSimilar returns the first candidate equivalent to the delta, or
	// nil when none qualifies. Candidates are scanned in collection order.
	FindSimilar(delta *Bullet, candidates []*Bullet) *Bullet
}

// ExactMatcher matches on exact content equality. It is the conservative
// default: two bullets merge only when their content is byte-for-byte the
// same. The Threshold field exists for symmetry with similarity-based
// matchers and is ignored here.
type ExactMatcher struct {
	Threshold float64
}

// FindSimilar returns the first candidate whose content equals the delta's.
func (ExactMatcher) FindSimilar(delta *Bullet, candidates []*Bullet) *Bullet {
	for _, c := range candidates {
		if c.Content == delta.Content {
			return c
		}
	}
	return nil
}

// LexicalMatcher matches bullets whose contents share enough character
// bigrams (Jaccard index at or above Threshold). It is a plain lexical
// check: it catches rewordings and trailing-space churn, not paraphrases.
// A zero Threshold means DefaultSimilarityThreshold.
type LexicalMatcher struct {
	Threshold float64
}

// FindSimilar returns the first candidate lexically similar to the delta.
func (m LexicalMatcher) FindSimilar(delta *Bullet, candidates []*Bullet) *Bullet {
	threshold := m.Threshold
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}
	for _, c := range candidates {
		if lexicalSimilarity(delta.Content, c.Content) >= threshold {
			return c
		}
	}
	return nil
}

// lexicalSimilarity scores two strings by shared bigram ratio (Jaccard
// index), 0 to 1. Strings equal after trimming score 1 outright.
func lexicalSimilarity(a, b string) float64 {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return 1
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}

	union := len(bigramsA) + len(bigramsB) - shared
	if union == 0 {
		return 1
	}
	return float64(shared) / float64(union)
}

func bigrams(s string) map[string]bool {
	if len(s) < 2 {
		return nil
	}
	m := make(map[string]bool, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		m[s[i:i+2]] = true
	}
	return m
}
