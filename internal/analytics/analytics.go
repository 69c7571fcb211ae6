// Package analytics computes word statistics over generated captions:
// word frequencies, n-grams, and a corpus summary.
package analytics

import (
	"sort"
	"strings"
	"unicode"
)

// englishStopwords is the default filter preset.
var englishStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "their": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "to": true,
	"was": true, "were": true, "while": true, "with": true, "which": true,
	"his": true, "her": true, "she": true, "them": true, "who": true,
}

// Options tune frequency extraction.
type Options struct {
	// Stopwords selects a filter preset: "english" or "none".
	Stopwords string `json:"stopwords"`
	// MinLength drops tokens shorter than this many runes.
	MinLength int `json:"min_length"`
	// Limit caps the number of returned entries; 0 means 50.
	Limit int `json:"limit"`
}

// WordCount is one frequency table row.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Summary describes the caption corpus as a whole.
type Summary struct {
	TotalCaptions      int     `json:"total_captions"`
	TotalWords         int     `json:"total_words"`
	UniqueWords        int     `json:"unique_words"`
	AvgWordsPerCaption float64 `json:"avg_words_per_caption"`
}

// WordFrequency counts words across all texts, filtered by the options.
func WordFrequency(texts []string, opts Options) []WordCount {
	stopwords := stopwordSet(opts.Stopwords)

	counts := make(map[string]int)
	for _, text := range texts {
		for _, token := range tokenize(text) {
			if len([]rune(token)) < opts.MinLength {
				continue
			}
			if stopwords[token] {
				continue
			}
			counts[token]++
		}
	}
	return rank(counts, opts.Limit)
}

// NGrams counts contiguous n-token sequences within each caption.
// Stopword filtering applies to whole n-grams: one is dropped only when
// every token in it is a stopword.
func NGrams(texts []string, n int, opts Options) []WordCount {
	if n < 2 {
		n = 2
	}
	stopwords := stopwordSet(opts.Stopwords)

	counts := make(map[string]int)
	for _, text := range texts {
		tokens := tokenize(text)
		for i := 0; i+n <= len(tokens); i++ {
			gram := tokens[i : i+n]
			allStop := true
			for _, token := range gram {
				if !stopwords[token] {
					allStop = false
					break
				}
			}
			if allStop {
				continue
			}
			counts[strings.Join(gram, " ")]++
		}
	}
	return rank(counts, opts.Limit)
}

// Summarize computes corpus-level statistics.
func Summarize(texts []string) Summary {
	summary := Summary{TotalCaptions: len(texts)}
	unique := make(map[string]bool)
	for _, text := range texts {
		tokens := tokenize(text)
		summary.TotalWords += len(tokens)
		for _, token := range tokens {
			unique[token] = true
		}
	}
	summary.UniqueWords = len(unique)
	if summary.TotalCaptions > 0 {
		summary.AvgWordsPerCaption = float64(summary.TotalWords) / float64(summary.TotalCaptions)
	}
	return summary
}

func stopwordSet(preset string) map[string]bool {
	switch preset {
	case "", "english":
		return englishStopwords
	default:
		return nil
	}
}

// tokenize lowercases and splits on anything that is not a letter,
// digit, or in-word apostrophe.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// rank orders counts descending, ties broken alphabetically.
func rank(counts map[string]int, limit int) []WordCount {
	if limit <= 0 {
		limit = 50
	}
	out := make([]WordCount, 0, len(counts))
	for word, count := range counts {
		out = append(out, WordCount{Word: word, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
