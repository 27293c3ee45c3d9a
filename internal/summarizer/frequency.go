package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"relay/internal/lexicon"
)

// DefaultSentences is the summary length used when callers pass zero.
const DefaultSentences = 3

var (
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
	wordPattern     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// Frequency is an extractive summarizer: sentences are scored by the
// normalized frequency of their content words and the best ones are returned
// in document order.
type Frequency struct {
	stopwords map[string]struct{}
	maxInput  int
}

// New returns a Frequency summarizer that looks at most at maxInput runes of
// each document (0 means no limit).
func New(maxInput int) *Frequency {
	return &Frequency{stopwords: lexicon.Stopwords(), maxInput: maxInput}
}

type scored struct {
	pos   int
	score float64
}

// Summarize picks up to n sentences from text. Blank text yields "".
func (f *Frequency) Summarize(text string, n int) string {
	if n <= 0 {
		n = DefaultSentences
	}
	if f.maxInput > 0 {
		if r := []rune(text); len(r) > f.maxInput {
			text = string(r[:f.maxInput])
		}
	}
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) <= n {
		return strings.Join(sentences, " ")
	}

	weights := map[string]float64{}
	tokens := make([][]string, len(sentences))
	top := 0.0
	for i, s := range sentences {
		tokens[i] = f.words(s)
		for _, w := range tokens[i] {
			weights[w]++
			if weights[w] > top {
				top = weights[w]
			}
		}
	}

	ranked := make([]scored, len(sentences))
	for i, words := range tokens {
		sum := 0.0
		for _, w := range words {
			sum += weights[w] / top
		}
		if len(words) > 0 {
			// long sentences would otherwise always win
			sum /= math.Sqrt(float64(len(words)))
		}
		ranked[i] = scored{pos: i, score: sum}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	picked := ranked[:n]
	sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })
	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = sentences[p.pos]
	}
	return strings.Join(out, " ")
}

func (f *Frequency) words(sentence string) []string {
	all := wordPattern.FindAllString(strings.ToLower(sentence), -1)
	out := all[:0]
	for _, w := range all {
		if _, skip := f.stopwords[w]; !skip {
			out = append(out, w)
		}
	}
	return out
}
