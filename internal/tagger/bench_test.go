package tagger

import "testing"

const benchNote = "Dr. Ana Perez saw the patient in Denver. Metformin 500 mg twice daily, BP 140/90, HbA1c 7.2%. " +
	"Reports fatigue and headache; ECG ordered."

func BenchmarkProseNER_Entities(b *testing.B) {
	ner, err := NewProseNER()
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ner.Entities(benchNote)
	}
}

func BenchmarkTag_WithProseNER(b *testing.B) {
	ner, err := NewProseNER()
	if err != nil {
		b.Fatal(err)
	}
	tg := newTestTagger(WithNER(ner))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tg.Tag(benchNote)
	}
}
