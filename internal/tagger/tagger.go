// Package tagger extracts medical structure from free text: pattern
// categories, keywords, abbreviations, dosages, vital signs and, when a model
// is available, named entities.
package tagger

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Category is the label Categorize assigns to a query.
type Category string

// GeneralQuery is returned when no query category matches.
const GeneralQuery Category = "general_query"

// Dosage is one dosage or frequency mention. Start and End are rune offsets.
type Dosage struct {
	Text  string `json:"text"`
	Value string `json:"value"`
	Unit  string `json:"unit"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// MedicalNumber is a typed numeric measurement. Start and End are rune offsets.
type MedicalNumber struct {
	Text   string   `json:"text"`
	Type   string   `json:"type"`
	Values []string `json:"values"`
	Start  int      `json:"start"`
	End    int      `json:"end"`
}

// TagSet is everything Tag found in one text. Entities and VitalSigns are
// keyed by the registry's group names; each value is sorted.
type TagSet struct {
	Entities      map[string][]string `json:"medical_entities"`
	Keywords      []string            `json:"keywords"`
	Abbreviations []string            `json:"abbreviations"`
	Dosages       []Dosage            `json:"dosages"`
	VitalSigns    map[string][]string `json:"vital_signs"`
	NamedEntities []Entity            `json:"named_entities"`
	SentenceCount int                 `json:"sentence_count"`
	WordCount     int                 `json:"word_count"`
}

// Symptoms, Conditions, Medications, BodyParts and Procedures read the
// default registry groups.
func (t TagSet) Symptoms() []string    { return t.Entities["symptoms"] }
func (t TagSet) Conditions() []string  { return t.Entities["conditions"] }
func (t TagSet) Medications() []string { return t.Entities["medications"] }
func (t TagSet) BodyParts() []string   { return t.Entities["body_parts"] }
func (t TagSet) Procedures() []string  { return t.Entities["procedures"] }

var abbreviationPattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

// Option configures a Tagger.
type Option func(*Tagger)

// WithNER sets the named-entity capability. The default is Unavailable.
func WithNER(n NER) Option {
	return func(t *Tagger) {
		if n != nil {
			t.ner = n
		}
	}
}

// WithKeywordLimit sets how many keywords Tag returns (default 10).
func WithKeywordLimit(n int) Option {
	return func(t *Tagger) {
		if n > 0 {
			t.keywordLimit = n
		}
	}
}

// WithLemmatizer replaces the English lemmatizer.
func WithLemmatizer(l Lemmatizer) Option {
	return func(t *Tagger) { t.lemmatizer = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tagger) {
		if l != nil {
			t.logger = l
		}
	}
}

// Tagger is safe for concurrent use.
type Tagger struct {
	reg          *Registry
	ner          NER
	keywordLimit int
	lemmatizer   Lemmatizer
	keywords     *keywordExtractor
	logger       *zap.Logger
}

// New builds a Tagger over reg (DefaultRegistry when nil). When no lemmatizer
// is given the English dictionary is loaded; if that fails keywords are
// counted unlemmatised.
func New(reg *Registry, opts ...Option) *Tagger {
	if reg == nil {
		reg = DefaultRegistry()
	}
	t := &Tagger{
		reg:          reg,
		ner:          Unavailable{},
		keywordLimit: 10,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.lemmatizer == nil {
		lem, err := NewEnglishLemmatizer()
		if err != nil {
			t.logger.Warn("lemmatizer unavailable, keywords will not be lemmatised", zap.Error(err))
		} else {
			t.lemmatizer = lem
		}
	}
	t.keywords = newKeywordExtractor(t.lemmatizer)
	t.logger.Debug("tagger ready",
		zap.Int("categories", len(reg.Categories)),
		zap.Bool("ner", t.ner.Available()),
	)
	return t
}

// NERAvailable reports whether named-entity extraction is active.
func (t *Tagger) NERAvailable() bool { return t.ner.Available() }

// Tag runs every extractor on text.
func (t *Tagger) Tag(text string) TagSet {
	return TagSet{
		Entities:      t.ExtractEntities(text),
		Keywords:      t.ExtractKeywords(text),
		Abbreviations: ExtractAbbreviations(text),
		Dosages:       t.ExtractDosages(text),
		VitalSigns:    t.ExtractVitalSigns(text),
		NamedEntities: nonNil(t.ner.Entities(text)),
		SentenceCount: countSentences(text),
		WordCount:     len(t.keywords.words(text)),
	}
}

// ExtractEntities returns, per registry category, the lowercase distinct matches.
func (t *Tagger) ExtractEntities(text string) map[string][]string {
	out := make(map[string][]string, len(t.reg.Categories))
	for _, g := range t.reg.Categories {
		seen := make(map[string]struct{})
		for _, re := range g.Patterns {
			for _, m := range re.FindAllString(text, -1) {
				seen[strings.ToLower(m)] = struct{}{}
			}
		}
		out[g.Name] = sortedKeys(seen)
	}
	return out
}

// ExtractKeywords returns the most frequent lemmatised content words.
func (t *Tagger) ExtractKeywords(text string) []string {
	return t.keywords.extract(text, t.keywordLimit)
}

// ExtractAbbreviations returns distinct 2-5 letter uppercase tokens in order
// of first appearance.
func ExtractAbbreviations(text string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, m := range abbreviationPattern.FindAllString(text, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ExtractDosages returns dosage mentions ordered by position.
func (t *Tagger) ExtractDosages(text string) []Dosage {
	out := []Dosage{}
	for _, re := range t.reg.Dosages {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			d := Dosage{
				Text:  text[loc[0]:loc[1]],
				Value: group(text, loc, 1),
				Unit:  group(text, loc, 2),
			}
			d.Start, d.End = runeSpan(text, loc[0], loc[1])
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// ExtractVitalSigns returns readings per vital sign. Multi-group matches such
// as blood pressure are joined with "/".
func (t *Tagger) ExtractVitalSigns(text string) map[string][]string {
	out := make(map[string][]string, len(t.reg.VitalSigns))
	for _, g := range t.reg.VitalSigns {
		readings := []string{}
		for _, re := range g.Patterns {
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				readings = append(readings, joinGroups(text, loc))
			}
		}
		out[g.Name] = readings
	}
	return out
}

// ExtractMedicalNumbers returns typed measurements ordered by position.
func (t *Tagger) ExtractMedicalNumbers(text string) []MedicalNumber {
	out := []MedicalNumber{}
	for _, np := range t.reg.Numbers {
		for _, loc := range np.Pattern.FindAllStringSubmatchIndex(text, -1) {
			n := MedicalNumber{Text: text[loc[0]:loc[1]], Type: np.Type}
			for g := 1; g < len(loc)/2; g++ {
				if v := group(text, loc, g); v != "" {
					n.Values = append(n.Values, v)
				}
			}
			n.Start, n.End = runeSpan(text, loc[0], loc[1])
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Categorize returns the first query category, in registry order, with a
// keyword contained in the lowercased query.
func (t *Tagger) Categorize(query string) Category {
	q := strings.ToLower(query)
	for _, c := range t.reg.QueryCategories {
		for _, kw := range c.Keywords {
			if strings.Contains(q, kw) {
				return c.Name
			}
		}
	}
	return GeneralQuery
}

func group(text string, loc []int, g int) string {
	if 2*g+1 >= len(loc) || loc[2*g] < 0 {
		return ""
	}
	return text[loc[2*g]:loc[2*g+1]]
}

func joinGroups(text string, loc []int) string {
	var parts []string
	for g := 1; g < len(loc)/2; g++ {
		if v := group(text, loc, g); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return text[loc[0]:loc[1]]
	}
	return strings.Join(parts, "/")
}

func runeSpan(text string, start, end int) (int, int) {
	s := utf8.RuneCountInString(text[:start])
	return s, s + utf8.RuneCountInString(text[start:end])
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(e []Entity) []Entity {
	if e == nil {
		return []Entity{}
	}
	return e
}
