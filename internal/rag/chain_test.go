package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/embedding"
	"github.com/RohitChoukiker/medQuery/internal/ingest"
	"github.com/RohitChoukiker/medQuery/internal/models"
	"github.com/RohitChoukiker/medQuery/internal/segment"
	"github.com/RohitChoukiker/medQuery/internal/tagger"
	"github.com/RohitChoukiker/medQuery/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/fake"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testDims = 64

type stubGenerator struct {
	text    string
	err     error
	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string, _ int) (string, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.text, g.err
}

// sleepyGenerator ignores ctx entirely.
type sleepyGenerator struct{ d time.Duration }

func (g sleepyGenerator) Generate(context.Context, string, int) (string, error) {
	time.Sleep(g.d)
	return "too late", nil
}

// waitingGenerator blocks until ctx ends.
type waitingGenerator struct{}

func (waitingGenerator) Generate(ctx context.Context, _ string, _ int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type countingEmbedder struct {
	*embedding.HashEmbedder
	calls atomic.Int32
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return e.HashEmbedder.Embed(ctx, text)
}

func openStore(t *testing.T, texts ...string) *vector.DiskStore {
	t.Helper()
	ctx := context.Background()
	store, err := vector.OpenDiskStore(ctx, t.TempDir(), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := embedding.NewHashEmbedder(testDims)
	entries := make([]models.Entry, len(texts))
	for i, text := range texts {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		entries[i] = models.Entry{
			ID:       fmt.Sprintf("chunk-%d", i),
			Text:     text,
			Vector:   vec,
			Metadata: map[string]string{models.MetaSource: fmt.Sprintf("doc%d.txt", i)},
		}
	}
	require.NoError(t, store.Upsert(ctx, entries))
	return store
}

func recordStates(states *[]State, mu *sync.Mutex) Option {
	return WithStateHook(func(s State) {
		mu.Lock()
		*states = append(*states, s)
		mu.Unlock()
	})
}

func TestAnswer_EmptyStoreFailsBeforeEmbedding(t *testing.T) {
	store := openStore(t)
	emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(testDims)}
	gen := &stubGenerator{text: "unused"}
	var states []State
	var mu sync.Mutex

	chain, err := NewChain(emb, store, gen, recordStates(&states, &mu))
	require.NoError(t, err)

	ans, err := chain.Answer(context.Background(), models.QueryRequest{Query: "What is angina?"})
	assert.Nil(t, ans)
	assert.ErrorIs(t, err, apperr.ErrRetrievalEmpty)
	assert.Equal(t, int32(0), emb.calls.Load())
	assert.Equal(t, int32(0), gen.calls.Load())
	assert.Equal(t, []State{StateIdle, StateFailed}, states)
}

func TestAnswer_GroundsPromptAndReturnsSources(t *testing.T) {
	store := openStore(t,
		"Metformin is first-line therapy for type 2 diabetes.",
		"Salbutamol relieves acute asthma symptoms.",
		"Statins lower LDL cholesterol.",
	)
	gen := &stubGenerator{text: "  Metformin.  "}
	var states []State
	var mu sync.Mutex

	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, gen, WithK(2), recordStates(&states, &mu))
	require.NoError(t, err)

	ans, err := chain.Answer(context.Background(), models.QueryRequest{Query: "first-line therapy for type 2 diabetes", Role: "Doctor"})
	require.NoError(t, err)
	assert.Equal(t, "Metformin.", ans.Text)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "doc0.txt", ans.Sources[0].Metadata[models.MetaSource])
	assert.GreaterOrEqual(t, ans.Sources[0].Score, ans.Sources[1].Score)
	assert.Equal(t, string(tagger.GeneralQuery), ans.Category)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "Metformin is first-line therapy for type 2 diabetes.")
	assert.Contains(t, prompt, "Question: first-line therapy for type 2 diabetes")
	assert.Less(t, strings.Index(prompt, "Metformin"), strings.Index(prompt, "Question:"))

	assert.Equal(t, []State{StateIdle, StateEmbedding, StateRetrieving, StateGenerating, StateDone}, states)
}

func TestAnswer_KLargerThanStoreReturnsAll(t *testing.T) {
	store := openStore(t, "one chunk only")
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, &stubGenerator{text: "ok"}, WithK(10))
	require.NoError(t, err)

	ans, err := chain.Answer(context.Background(), models.QueryRequest{Query: "chunk"})
	require.NoError(t, err)
	assert.Len(t, ans.Sources, 1)
}

func TestAnswer_TimeoutWhenGeneratorIgnoresContext(t *testing.T) {
	store := openStore(t, "Sepsis needs early antibiotics.")
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, sleepyGenerator{d: 500 * time.Millisecond},
		WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	ans, err := chain.Answer(context.Background(), models.QueryRequest{Query: "sepsis treatment"})
	assert.Nil(t, ans)
	assert.ErrorIs(t, err, apperr.ErrGenerationTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestAnswer_TimeoutWhenGeneratorHonoursContext(t *testing.T) {
	store := openStore(t, "Sepsis needs early antibiotics.")
	var states []State
	var mu sync.Mutex
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, waitingGenerator{},
		WithTimeout(30*time.Millisecond), recordStates(&states, &mu))
	require.NoError(t, err)

	_, err = chain.Answer(context.Background(), models.QueryRequest{Query: "sepsis"})
	assert.ErrorIs(t, err, apperr.ErrGenerationTimeout)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateFailed, states[len(states)-1])
}

func TestAnswer_CallerCancellationIsNotATimeout(t *testing.T) {
	store := openStore(t, "Gout flares respond to colchicine.")
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, &stubGenerator{text: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = chain.Answer(ctx, models.QueryRequest{Query: "gout"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, apperr.ErrGenerationTimeout))
}

func TestAnswer_GeneratorFailureIsInternal(t *testing.T) {
	store := openStore(t, "Hypertension raises stroke risk.")
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, &stubGenerator{err: errors.New("backend exploded")})
	require.NoError(t, err)

	ans, err := chain.Answer(context.Background(), models.QueryRequest{Query: "stroke risk"})
	assert.Nil(t, ans)
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
}

func TestAnswer_BackendDownIsModelUnavailable(t *testing.T) {
	store := openStore(t, "Hypertension raises stroke risk.")
	gen := &stubGenerator{err: classifyGenerationError("test", fmt.Errorf("post: %w", syscall.ECONNREFUSED))}
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, gen)
	require.NoError(t, err)

	_, err = chain.Answer(context.Background(), models.QueryRequest{Query: "stroke risk"})
	assert.ErrorIs(t, err, apperr.ErrModelUnavailable)
}

func TestAnswer_RejectsEmptyQuery(t *testing.T) {
	store := openStore(t, "anything")
	gen := &stubGenerator{text: "x"}
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, gen)
	require.NoError(t, err)

	_, err = chain.Answer(context.Background(), models.QueryRequest{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestAnswer_CategorisesWithTagger(t *testing.T) {
	store := openStore(t, "Ibuprofen is an NSAID.")
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, &stubGenerator{text: "ok"},
		WithTagger(tagger.New(nil)))
	require.NoError(t, err)

	ans, err := chain.Answer(context.Background(), models.QueryRequest{Query: "What is the dose of this medication?"})
	require.NoError(t, err)
	assert.Equal(t, "medication_query", ans.Category)
	assert.Equal(t, tagger.Category("medication_query"), chain.Categorize("which medication"))
}

func TestAnswer_ConcurrentCalls(t *testing.T) {
	store := openStore(t, "Asthma", "Diabetes", "Migraine")
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, &stubGenerator{text: "ok"}, WithK(1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := chain.Answer(context.Background(), models.QueryRequest{Query: fmt.Sprintf("question %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestNewChain_InvalidTemplate(t *testing.T) {
	store := openStore(t)
	_, err := NewChain(embedding.NewHashEmbedder(testDims), store, &stubGenerator{}, WithPromptTemplate("{{.context"))
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestNewChain_CustomTemplate(t *testing.T) {
	store := openStore(t, "Warfarin interacts with aspirin.")
	gen := &stubGenerator{text: "ok"}
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, gen,
		WithPromptTemplate("Q={{.question}} C={{.context}}"))
	require.NoError(t, err)

	_, err = chain.Answer(context.Background(), models.QueryRequest{Query: "warfarin"})
	require.NoError(t, err)
	assert.Equal(t, "Q=warfarin C=Warfarin interacts with aspirin.", gen.prompts[0])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "retrieving", StateRetrieving.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestEndToEnd_IngestThenAnswer(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	doc1 := filepath.Join(src, "diabetes.txt")
	doc2 := filepath.Join(src, "asthma.txt")
	require.NoError(t, os.WriteFile(doc1, []byte(
		"Metformin is the first-line medication for type 2 diabetes mellitus. "+
			"It lowers hepatic glucose production."), 0600))
	require.NoError(t, os.WriteFile(doc2, []byte(
		"Asthma exacerbations are treated with inhaled bronchodilators. "+
			"Severe attacks may need systemic corticosteroids."), 0600))

	emb := embedding.NewHashEmbedder(256)
	store, err := vector.OpenDiskStore(ctx, filepath.Join(t.TempDir(), "store"), emb.Dimensions())
	require.NoError(t, err)
	defer store.Close()
	seg, err := segment.New(80, 10)
	require.NoError(t, err)

	n, err := ingest.New(seg, emb, store).Ingest(ctx, src)
	require.NoError(t, err)
	require.Greater(t, n, 2)

	chain, err := NewChain(emb, store, NewLLMGenerator(fake.NewFakeLLM([]string{"Metformin."}), 0), WithK(n))
	require.NoError(t, err)

	ans, err := chain.Answer(ctx, models.QueryRequest{Query: "first-line medication for type 2 diabetes mellitus"})
	require.NoError(t, err)
	assert.Equal(t, "Metformin.", ans.Text)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, doc1, ans.Sources[0].Metadata[models.MetaSource])

	firstDoc2 := -1
	for i, s := range ans.Sources {
		if s.Metadata[models.MetaSource] == doc2 {
			firstDoc2 = i
			break
		}
	}
	assert.NotEqual(t, 0, firstDoc2)
}

func TestAnswer_AuditsEveryQuery(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := openStore(t, "Angina is chest pain from reduced blood flow to the heart.")
	gen := &stubGenerator{text: "Chest pain."}
	chain, err := NewChain(embedding.NewHashEmbedder(testDims), store, gen, WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = chain.Answer(context.Background(), models.QueryRequest{Query: "what is angina", Role: "Doctor"})
	require.NoError(t, err)

	empty, err := NewChain(embedding.NewHashEmbedder(testDims), openStore(t), gen, WithLogger(zap.New(core)))
	require.NoError(t, err)
	_, err = empty.Answer(context.Background(), models.QueryRequest{Query: "what is angina"})
	require.ErrorIs(t, err, apperr.ErrRetrievalEmpty)

	entries := logs.FilterMessage("medical query").All()
	require.Len(t, entries, 2)

	ok := entries[0].ContextMap()
	assert.Equal(t, "doctor", ok["role"])
	assert.Equal(t, "general_query", ok["category"])
	assert.Equal(t, int64(len("what is angina")), ok["query_length"])
	assert.Equal(t, int64(1), ok["sources"])
	assert.Equal(t, "done", ok["status"])
	assert.NotContains(t, ok, "query", "query text is only logged at debug level")

	failed := entries[1].ContextMap()
	assert.Equal(t, "anonymous", failed["role"])
	assert.Equal(t, "retrieval_empty", failed["status"])
	assert.Equal(t, int64(0), failed["sources"])
}
