// Package dedup flags near-duplicate generated text against a recent-history
// corpus using Jaccard similarity over normalized token sets. The filter is
// stateless and side-effect-free; retry policy on a hit belongs to callers.
package dedup

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultThreshold is the similarity at or above which a candidate counts as
// a near-duplicate. Tunable per corpus; a heuristic, not a guarantee.
const DefaultThreshold = 0.58

const maxMatches = 3

// DefaultStopWords are high-frequency Korean filler tokens for pharmacy
// content. Domain-specific and replaceable via config.
var DefaultStopWords = []string{
	"약국", "영업", "영업시간", "영업합니다", "엽니다", "닫습니다",
	"운영", "운영시간", "시간", "안내", "정보", "위치",
	"평일", "주말", "공휴일", "휴무", "가능", "문의",
}

// Match is one corpus entry scoring at or above the threshold.
type Match struct {
	Text  string
	Score float64
}

// Filter compares candidate text against a corpus.
type Filter struct {
	threshold float64
	stopWords map[string]struct{}
}

// New builds a filter with the given threshold and stop words. A zero or
// negative threshold falls back to DefaultThreshold; nil stop words fall
// back to DefaultStopWords.
func New(threshold float64, stopWords []string) *Filter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if stopWords == nil {
		stopWords = DefaultStopWords
	}
	set := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		set[strings.ToLower(w)] = struct{}{}
	}
	return &Filter{threshold: threshold, stopWords: set}
}

// FindNearDuplicates returns up to three corpus entries scoring at or above
// the threshold, highest first. Never fails; worst case is an empty slice.
func (f *Filter) FindNearDuplicates(candidate string, corpus []string) []Match {
	cand := f.tokenSet(candidate)
	if len(cand) == 0 {
		return nil
	}

	var matches []Match
	for _, text := range corpus {
		score := jaccard(cand, f.tokenSet(text))
		if score >= f.threshold {
			matches = append(matches, Match{Text: text, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	return matches
}

// Similarity exposes the pairwise Jaccard score for two texts.
func (f *Filter) Similarity(a, b string) float64 {
	return jaccard(f.tokenSet(a), f.tokenSet(b))
}

// tokenSet normalizes text and splits it into the comparable token set:
// tokens shorter than two runes and stop words are dropped.
func (f *Filter) tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalize(text)) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, stop := f.stopWords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// normalize lowercases and strips everything except letters, digits,
// whitespace, colon, tilde, and hyphen. strings.Fields collapses the
// remaining whitespace at tokenization.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(unicode.ToLower(r))
		case r == ':' || r == '~' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// jaccard is intersection-over-union; defined as 0 when either set is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
