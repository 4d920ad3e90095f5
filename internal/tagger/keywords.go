package tagger

import (
	"sort"
	"strings"
	"unicode"

	"github.com/aaaton/golem/v4"
	golemen "github.com/aaaton/golem/v4/dicts/en"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Lemmatizer reduces a lowercase word to its dictionary form.
type Lemmatizer interface {
	Lemma(word string) string
}

type identityLemmatizer struct{}

func (identityLemmatizer) Lemma(w string) string { return w }

// NewEnglishLemmatizer loads golem's English dictionary.
func NewEnglishLemmatizer() (Lemmatizer, error) {
	lem, err := golem.New(golemen.New())
	if err != nil {
		return nil, err
	}
	return lem, nil
}

// keywordExtractor ranks content words by frequency.
type keywordExtractor struct {
	tokenizer  analysis.Tokenizer
	stopWords  analysis.TokenMap
	lemmatizer Lemmatizer
}

func newKeywordExtractor(lem Lemmatizer) *keywordExtractor {
	stop := analysis.NewTokenMap()
	_ = stop.LoadBytes(en.EnglishStopWords)
	if lem == nil {
		lem = identityLemmatizer{}
	}
	return &keywordExtractor{
		tokenizer:  bleveunicode.NewUnicodeTokenizer(),
		stopWords:  stop,
		lemmatizer: lem,
	}
}

// words returns the lowercase tokens of text.
func (k *keywordExtractor) words(text string) []string {
	stream := k.tokenizer.Tokenize([]byte(text))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		out = append(out, strings.ToLower(string(tok.Term)))
	}
	return out
}

// extract returns up to limit lemmas by descending frequency. Ties keep the
// order in which the lemmas first appeared.
func (k *keywordExtractor) extract(text string, limit int) []string {
	type freq struct {
		word  string
		count int
	}
	counts := make(map[string]*freq)
	var order []*freq
	for _, w := range k.words(text) {
		if len([]rune(w)) <= 2 || !isAlpha(w) || k.stopWords[w] {
			continue
		}
		lemma := k.lemmatizer.Lemma(w)
		f, ok := counts[lemma]
		if !ok {
			f = &freq{word: lemma}
			counts[lemma] = f
			order = append(order, f)
		}
		f.count++
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].count > order[j].count })
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]string, len(order))
	for i, f := range order {
		out[i] = f.word
	}
	return out
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
