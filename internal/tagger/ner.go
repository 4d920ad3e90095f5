package tagger

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

// Entity is a named entity found in text. Start and End are rune offsets.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// NER is the optional named-entity capability. The variant is chosen once at
// startup; Tag never checks for a nil recogniser.
type NER interface {
	Entities(text string) []Entity
	Available() bool
}

// Unavailable is the NER variant used when no model is loaded. It finds nothing.
type Unavailable struct{}

func (Unavailable) Entities(string) []Entity { return nil }
func (Unavailable) Available() bool          { return false }

// ProseNER recognises people, places and organisations with prose's
// averaged-perceptron model. The model is loaded once and shared by all calls.
type ProseNER struct {
	mu    sync.Mutex // guards model
	model *prose.Model
}

// NewProseNER loads prose's tagging and extraction model.
func NewProseNER() (*ProseNER, error) {
	doc, err := prose.NewDocument("Aspirin.", prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("load prose model: %w", err)
	}
	return &ProseNER{model: doc.Model}, nil
}

func (*ProseNER) Available() bool { return true }

// Entities runs extraction on text. A prose failure yields no entities.
func (n *ProseNER) Entities(text string) []Entity {
	n.mu.Lock()
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false), prose.UsingModel(n.model))
	n.mu.Unlock()
	if err != nil {
		return nil
	}
	ents := doc.Entities()
	out := make([]Entity, 0, len(ents))
	cursor := 0
	for _, e := range ents {
		idx := strings.Index(text[cursor:], e.Text)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		end := start + len(e.Text)
		out = append(out, Entity{
			Text:  e.Text,
			Label: e.Label,
			Start: utf8.RuneCountInString(text[:start]),
			End:   utf8.RuneCountInString(text[:end]),
		})
		cursor = end
	}
	return out
}

// countSentences uses prose's sentence segmenter.
func countSentences(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return 1
	}
	return len(doc.Sentences())
}
