package rag

import (
	"fmt"
	"strings"

	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/tmc/langchaingo/prompts"
)

// DefaultPromptTemplate is a "stuff" prompt: every retrieved chunk is placed
// verbatim ahead of the question.
const DefaultPromptTemplate = `Use the following pieces of medical context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{{.context}}

Question: {{.question}}
Helpful Answer:`

func newPrompt(template string) (prompts.PromptTemplate, error) {
	p := prompts.NewPromptTemplate(template, []string{"context", "question"})
	// Render once so a broken template fails at construction.
	if _, err := p.Format(map[string]any{"context": "", "question": ""}); err != nil {
		return prompts.PromptTemplate{}, fmt.Errorf("invalid prompt template: %w", err)
	}
	return p, nil
}

func buildContext(chunks []models.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n\n")
}
