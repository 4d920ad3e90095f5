package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Generator turns a grounded prompt into answer text. Implementations must
// honour ctx cancellation where the backend allows it.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// LLMGenerator drives any langchaingo model.
type LLMGenerator struct {
	model       llms.Model
	temperature float64
}

// NewLLMGenerator wraps model. temperature 0 leaves the backend default.
func NewLLMGenerator(model llms.Model, temperature float64) *LLMGenerator {
	return &LLMGenerator{model: model, temperature: temperature}
}

func (g *LLMGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	opts := []llms.CallOption{llms.WithMaxTokens(maxTokens)}
	if g.temperature > 0 {
		opts = append(opts, llms.WithTemperature(g.temperature))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, opts...)
	if err != nil {
		return "", classifyGenerationError("rag.LLMGenerator.Generate", err)
	}
	return out, nil
}

// OpenAIGenerator uses the chat completions API of OpenAI or a compatible server.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator creates a generator on an existing client.
func NewOpenAIGenerator(client *openai.Client, model string, temperature float64) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model, temperature: float32(temperature)}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   maxTokens,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyGenerationError("rag.OpenAIGenerator.Generate", fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// NewGenerator builds the generator named by cfg.Provider. Client construction
// failures are ModelUnavailable; an unknown provider is a ConfigError.
func NewGenerator(cfg config.GenerationConfig, creds config.Credentials) (Generator, error) {
	const op = "rag.NewGenerator"
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		llm, err := ollama.New(ollama.WithModel(cfg.ModelID), ollama.WithServerURL(cfg.BaseURL))
		if err != nil {
			return nil, apperr.Wrap(apperr.ModelUnavailable, op, err)
		}
		return NewLLMGenerator(llm, cfg.Temperature), nil
	case "huggingface":
		opts := []huggingface.Option{huggingface.WithModel(cfg.ModelID), huggingface.WithToken(creds.HuggingFaceToken)}
		if cfg.BaseURL != "" {
			opts = append(opts, huggingface.WithURL(cfg.BaseURL))
		}
		llm, err := huggingface.New(opts...)
		if err != nil {
			return nil, apperr.Wrap(apperr.ModelUnavailable, op, err)
		}
		return NewLLMGenerator(llm, cfg.Temperature), nil
	case "openai":
		if creds.OpenAIKey == "" {
			return nil, apperr.New(apperr.ModelUnavailable, op, "OPENAI_API_KEY is not set")
		}
		oc := openai.DefaultConfig(creds.OpenAIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		return NewOpenAIGenerator(openai.NewClientWithConfig(oc), cfg.ModelID, cfg.Temperature), nil
	default:
		return nil, apperr.Errorf(apperr.ConfigError, op, "unknown generation provider %q", cfg.Provider)
	}
}

// CheckGenerator asks gen for a one-token completion so that an unreachable
// backend or a missing model is reported at startup instead of on the first
// question. Any failure is ModelUnavailable.
func CheckGenerator(ctx context.Context, gen Generator, timeout time.Duration) error {
	const op = "rag.CheckGenerator"
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := gen.Generate(ctx, "ping", 1); err != nil {
		if apperr.KindOf(err) == apperr.ModelUnavailable {
			return err
		}
		return apperr.Wrap(apperr.ModelUnavailable, op, err)
	}
	return nil
}

// classifyGenerationError tags errors that mean the backend cannot serve
// requests at all (nothing listening, unknown model) as ModelUnavailable.
// Context errors pass through untouched so timeouts stay timeouts.
func classifyGenerationError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if modelUnavailable(err) {
		return apperr.Wrap(apperr.ModelUnavailable, op, err)
	}
	return err
}

func modelUnavailable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "model") && strings.Contains(msg, "not found")
}
