// Package rag answers medical questions by retrieval-augmented generation:
// embed the query, fetch the nearest chunks, and generate from a grounded prompt.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/embedding"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/tagger"
	"github.com/RohitChoukiker/medQuery/internal/vector"
	"github.com/RohitChoukiker/medQuery/pkg/utils"
	"github.com/tmc/langchaingo/prompts"
	"go.uber.org/zap"
)

// State is a step of one Answer call.
type State int

const (
	StateIdle State = iota
	StateEmbedding
	StateRetrieving
	StateGenerating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEmbedding:
		return "embedding"
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Chain is stateless across calls and safe for concurrent use. The embedder,
// store and generator are shared by every call.
type Chain struct {
	embedder  embedding.Embedder
	store     vector.Store
	generator Generator
	tagger    *tagger.Tagger

	k         int
	maxTokens int
	timeout   time.Duration
	template  string
	prompt    prompts.PromptTemplate
	stateHook func(State)
	logger    *zap.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithK sets how many chunks are retrieved (default 4).
func WithK(k int) Option {
	return func(c *Chain) {
		if k > 0 {
			c.k = k
		}
	}
}

// WithMaxTokens bounds the generated answer length (default 512).
func WithMaxTokens(n int) Option {
	return func(c *Chain) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTimeout bounds each generation call (default 120s).
func WithTimeout(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTagger enables query categorisation for answers and the audit log.
func WithTagger(t *tagger.Tagger) Option {
	return func(c *Chain) { c.tagger = t }
}

// WithPromptTemplate replaces DefaultPromptTemplate. The template sees
// {{.context}} and {{.question}}.
func WithPromptTemplate(tmpl string) Option {
	return func(c *Chain) {
		if tmpl != "" {
			c.template = tmpl
		}
	}
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(c *Chain) { c.stateHook = fn }
}

// WithLogger sets the logger used for the query audit record.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChain builds a chain. An invalid prompt template is a ConfigError.
func NewChain(emb embedding.Embedder, store vector.Store, gen Generator, opts ...Option) (*Chain, error) {
	c := &Chain{
		embedder:  emb,
		store:     store,
		generator: gen,
		k:         4,
		maxTokens: 512,
		timeout:   120 * time.Second,
		template:  DefaultPromptTemplate,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	p, err := newPrompt(c.template)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigError, "rag.NewChain", err)
	}
	c.prompt = p
	return c, nil
}

// Answer runs the chain for one query. An empty store fails with
// RetrievalEmpty before anything is embedded or generated; a generator that
// overruns the timeout fails with GenerationTimeout. No partial answer is
// returned on failure.
func (c *Chain) Answer(ctx context.Context, req models.QueryRequest) (ans *models.Answer, err error) {
	const op = "rag.Answer"
	start := time.Now()
	c.transition(StateIdle)

	if err := req.Validate(); err != nil {
		c.transition(StateFailed)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	category := tagger.GeneralQuery
	if c.tagger != nil {
		category = c.tagger.Categorize(req.Query)
	}
	defer func() {
		if err != nil {
			c.transition(StateFailed)
		}
		c.audit(req, category, ans, err, time.Since(start))
	}()

	if c.store.Count() == 0 {
		return nil, apperr.New(apperr.RetrievalEmpty, op, "vector store has no entries")
	}

	c.transition(StateEmbedding)
	vec, err := c.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%s: embed query: %w", op, err)
	}

	c.transition(StateRetrieving)
	hits, err := c.store.Search(ctx, vec, c.k)
	if err != nil {
		return nil, fmt.Errorf("%s: search: %w", op, err)
	}
	if len(hits) == 0 {
		return nil, apperr.New(apperr.RetrievalEmpty, op, "no chunks retrieved")
	}

	prompt, err := c.prompt.Format(map[string]any{
		"context":  buildContext(hits),
		"question": req.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: render prompt: %w", op, err)
	}

	c.transition(StateGenerating)
	text, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	c.transition(StateDone)
	return &models.Answer{
		Text:     strings.TrimSpace(text),
		Sources:  hits,
		Category: string(category),
	}, nil
}

// Categorize returns the query category, or general_query without a tagger.
func (c *Chain) Categorize(query string) tagger.Category {
	if c.tagger == nil {
		return tagger.GeneralQuery
	}
	return c.tagger.Categorize(query)
}

type generation struct {
	text string
	err  error
}

// generate runs the generator under the timeout. The call is abandoned when
// the deadline passes even if the backend ignores ctx.
func (c *Chain) generate(ctx context.Context, prompt string) (string, error) {
	const op = "rag.generate"
	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan generation, 1)
	go func() {
		text, err := c.generator.Generate(gctx, prompt, c.maxTokens)
		done <- generation{text: text, err: err}
	}()

	select {
	case g := <-done:
		if g.err == nil {
			return g.text, nil
		}
		if ctx.Err() == nil && (errors.Is(g.err, context.DeadlineExceeded) || gctx.Err() == context.DeadlineExceeded) {
			return "", apperr.Errorf(apperr.GenerationTimeout, op, "no answer within %s", c.timeout)
		}
		return "", fmt.Errorf("%s: %w", op, g.err)
	case <-gctx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.Errorf(apperr.GenerationTimeout, op, "no answer within %s", c.timeout)
	}
}

func (c *Chain) transition(s State) {
	if c.stateHook != nil {
		c.stateHook(s)
	}
}

func (c *Chain) audit(req models.QueryRequest, category tagger.Category, ans *models.Answer, err error, d time.Duration) {
	status := StateDone.String()
	sources := 0
	if err != nil {
		status = apperr.KindOf(err).String()
	} else if ans != nil {
		sources = len(ans.Sources)
	}
	c.logger.Info("medical query",
		zap.String("role", req.Role),
		zap.String("category", string(category)),
		zap.Int("query_length", len([]rune(req.Query))),
		zap.Int("sources", sources),
		zap.Duration("duration", d),
		zap.String("status", status),
	)
	c.logger.Debug("medical query text", zap.String("query", utils.Truncate(req.Query, 200)))
	if err != nil && apperr.KindOf(err) == apperr.Internal {
		c.logger.Error("query failed", zap.Error(err))
	}
}
