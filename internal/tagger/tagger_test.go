package tagger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTagger(opts ...Option) *Tagger {
	return New(nil, append([]Option{WithLemmatizer(identityLemmatizer{})}, opts...)...)
}

func TestTag_ClinicalNote(t *testing.T) {
	tg := newTestTagger()
	tags := tg.Tag("Patient reports 500mg ibuprofen twice daily, BP 120/80")

	assert.Contains(t, tags.Medications(), "ibuprofen")
	require.NotEmpty(t, tags.Dosages)
	assert.Equal(t, "500", tags.Dosages[0].Value)
	assert.Equal(t, "mg", tags.Dosages[0].Unit)
	assert.Equal(t, "500mg", tags.Dosages[0].Text)
	assert.Equal(t, 16, tags.Dosages[0].Start)
	assert.Equal(t, 21, tags.Dosages[0].End)
	assert.Contains(t, tags.VitalSigns["blood_pressure"], "120/80")
	assert.Equal(t, []string{"BP"}, tags.Abbreviations)
	assert.Empty(t, tags.NamedEntities)
	assert.NotNil(t, tags.NamedEntities)
	assert.Equal(t, 1, tags.SentenceCount)
}

func TestExtractEntities_CaseInsensitiveSet(t *testing.T) {
	tg := newTestTagger()
	ents := tg.ExtractEntities("FEVER and fever, then Fever with a headache. Took Insulin for diabetes.")

	assert.Equal(t, []string{"fever", "headache"}, ents["symptoms"])
	assert.Equal(t, []string{"insulin"}, ents["medications"])
	assert.Equal(t, []string{"diabetes"}, ents["conditions"])
	assert.Empty(t, ents["procedures"])
	assert.Len(t, ents, 5)
}

func TestExtractAbbreviations(t *testing.T) {
	assert.Equal(t, []string{"ECG", "ICU", "COPD"}, ExtractAbbreviations("ECG done in ICU. ECG normal, COPD noted, ABCDEFG ignored, X too short."))
	assert.Empty(t, ExtractAbbreviations("no caps here"))
}

func TestExtractDosages(t *testing.T) {
	tg := newTestTagger()
	got := tg.ExtractDosages("Take 2 tablets 3 times per day, plus 0.5 ml drops.")
	require.Len(t, got, 3)

	assert.Equal(t, Dosage{Text: "2 tablets", Value: "2", Unit: "tablets", Start: 5, End: 14}, got[0])
	assert.Equal(t, "3 times per day", got[1].Text)
	assert.Equal(t, "3", got[1].Value)
	assert.Equal(t, "", got[1].Unit)
	assert.Equal(t, "0.5", got[2].Value)
	assert.Equal(t, "ml", got[2].Unit)
}

func TestExtractDosages_RuneOffsets(t *testing.T) {
	tg := newTestTagger()
	got := tg.ExtractDosages("Fièvre: 10 mg")
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].Start)
	assert.Equal(t, 13, got[0].End)
}

func TestExtractVitalSigns(t *testing.T) {
	tg := newTestTagger()
	v := tg.ExtractVitalSigns("BP 135/85 mmHg, pulse 72 bpm, temp 101.3°F, 18 breaths per minute, 97% SpO2")

	assert.Equal(t, []string{"135/85"}, v["blood_pressure"])
	assert.Equal(t, []string{"72"}, v["heart_rate"])
	assert.Equal(t, []string{"101.3"}, v["temperature"])
	assert.Equal(t, []string{"18"}, v["respiratory_rate"])
	assert.Equal(t, []string{"97"}, v["oxygen_saturation"])
}

func TestExtractMedicalNumbers(t *testing.T) {
	tg := newTestTagger()
	got := tg.ExtractMedicalNumbers("A 45 years old man, 80 kg, BP 140/90, given 10 mg.")

	types := make([]string, len(got))
	for i, n := range got {
		types[i] = n.Type
	}
	assert.Equal(t, []string{"age", "weight", "blood_pressure", "dosage"}, types)
	assert.Equal(t, []string{"140", "90"}, got[2].Values)
	assert.Equal(t, []string{"10", "mg"}, got[3].Values)
}

func TestExtractKeywords(t *testing.T) {
	tg := newTestTagger(WithKeywordLimit(3))
	got := tg.ExtractKeywords("Insulin therapy: insulin dose and insulin timing matter; therapy adherence matters, therapy!")
	assert.Equal(t, []string{"insulin", "therapy", "dose"}, got)
}

func TestExtractKeywords_DropsStopWordsAndNumbers(t *testing.T) {
	tg := newTestTagger()
	got := tg.ExtractKeywords("The 500 patients and the of a x2 was fine")
	assert.Equal(t, []string{"patients", "fine"}, got)
}

func TestExtractKeywords_Lemmatised(t *testing.T) {
	tg := New(nil)
	got := tg.ExtractKeywords("patients patient")
	assert.Equal(t, []string{"patient"}, got)
}

func TestCategorize(t *testing.T) {
	tg := newTestTagger()
	cases := map[string]Category{
		"What medication treats a headache?": "symptom_query",
		"Which drug lowers cholesterol?":     "medication_query",
		"Is this condition hereditary?":      "diagnosis_query",
		"How long does an MRI scan take?":    "procedure_query",
		"Tips for a healthy diet":            "general_health",
		"Where is the nearest clinic?":       GeneralQuery,
	}
	for q, want := range cases {
		assert.Equal(t, want, tg.Categorize(q), q)
		assert.Equal(t, tg.Categorize(q), tg.Categorize(q))
	}
}

type fakeNER struct{}

func (fakeNER) Entities(string) []Entity {
	return []Entity{{Text: "Boston", Label: "GPE", Start: 0, End: 6}}
}
func (fakeNER) Available() bool { return true }

func TestTag_WithNER(t *testing.T) {
	tg := newTestTagger(WithNER(fakeNER{}))
	assert.True(t, tg.NERAvailable())
	assert.Equal(t, "GPE", tg.Tag("Boston clinic").NamedEntities[0].Label)
}

func TestProseNER_ReusesLoadedModel(t *testing.T) {
	ner, err := NewProseNER()
	require.NoError(t, err)
	require.NotNil(t, ner.model)
	model := ner.model

	text := "Dr. John Smith referred the patient to Boston General Hospital."
	first := ner.Entities(text)
	second := ner.Entities(text)
	assert.Equal(t, first, second)
	assert.Same(t, model, ner.model)

	runes := []rune(text)
	for _, e := range first {
		assert.Equal(t, e.Text, string(runes[e.Start:e.End]))
	}
}

func TestProseNER_ConcurrentUse(t *testing.T) {
	ner, err := NewProseNER()
	require.NoError(t, err)
	want := ner.Entities("Maria Lopez flew to Chicago.")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, ner.Entities("Maria Lopez flew to Chicago."))
		}()
	}
	wg.Wait()
}

func TestUnavailableNER(t *testing.T) {
	var n NER = Unavailable{}
	assert.False(t, n.Available())
	assert.Empty(t, n.Entities("John Smith lives in Boston"))
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reg.yaml")
	yml := `
categories:
  - name: allergens
    patterns: ['\b(?:peanut|latex)\b']
query_categories:
  - name: allergy_query
    keywords: [Allergy]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	tg := New(reg, WithLemmatizer(identityLemmatizer{}))

	assert.Equal(t, []string{"latex"}, tg.ExtractEntities("LATEX gloves")["allergens"])
	assert.Equal(t, Category("allergy_query"), tg.Categorize("Is this an allergy?"))
	assert.Empty(t, tg.ExtractDosages("10 mg"))
}

func TestLoadRegistry_Errors(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, apperr.ErrConfig)

	_, err = ParseRegistry([]byte("categories:\n  - name: bad\n    patterns: ['(unclosed']\n"))
	assert.ErrorIs(t, err, apperr.ErrConfig)

	_, err = ParseRegistry([]byte("categories: [[["))
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	names := make([]string, len(reg.Categories))
	for i, g := range reg.Categories {
		names[i] = g.Name
	}
	assert.Equal(t, []string{"symptoms", "conditions", "medications", "body_parts", "procedures"}, names)
	assert.Len(t, reg.QueryCategories, 5)
	assert.Len(t, reg.VitalSigns, 5)
}
