package llm

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog/log"

	"groundline/internal/config"
	"groundline/internal/doc"
)

// Embedder issues one raw embedding call. Batching, inter-batch delay,
// and rate-limit retry live in the index layer.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is an OpenAI-compatible chat + embedding client. It is a
// process-wide singleton; the SDK maintains its own connection pool.
type Client struct {
	sdk         sdk.Client
	model       string
	embedModel  string
	temperature float64
	timeout     time.Duration
}

// NewClient builds a Client from configuration. An empty BaseURL uses
// the default OpenAI endpoint.
func NewClient(cfg config.AIConfig) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		sdk:         sdk.NewClient(opts...),
		model:       cfg.Model,
		embedModel:  cfg.EmbeddingModel,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
}

// Complete implements Provider.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(req.System),
			sdk.UserMessage(req.User),
		},
	}
	if SupportsTemperature(model) {
		params.Temperature = sdk.Float(c.temperature)
	}
	if req.JSONMode {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", model).Dur("duration", dur).Msg("chat_completion_error")
		return "", fmt.Errorf("%w: chat completion: %v", doc.ErrAI, err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", doc.ErrAI)
	}
	log.Debug().
		Str("model", model).
		Dur("duration", dur).
		Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).
		Msg("chat_completion_ok")
	return comp.Choices[0].Message.Content, nil
}

// Embed implements Embedder with a single API call. Callers must keep
// len(texts) within the configured embedding batch size.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.embedModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings: %v", doc.ErrAI, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d for %d inputs",
			doc.ErrAI, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
