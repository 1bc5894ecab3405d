package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/casetrace/casetrace/internal/findings"
	"github.com/casetrace/casetrace/internal/store"
)

// Options configures the OpenAI-backed gateway.
type Options struct {
	Model          string
	APIKey         string
	BaseURL        string // optional, for OpenAI-compatible endpoints
	RequestTimeout time.Duration
	MaxRetries     int // retries after the first attempt, transient errors only
	RetryDelay     time.Duration
}

// OpenAIGateway implements Gateway against the OpenAI chat completions API.
type OpenAIGateway struct {
	client openai.Client
	opts   Options
	logger *slog.Logger
}

// NewOpenAIGateway builds a gateway from options. The API key must be set.
func NewOpenAIGateway(opts Options, logger *slog.Logger) (*OpenAIGateway, error) {
	if opts.APIKey == "" {
		return nil, errors.New("analysis gateway requires an API key")
	}
	if opts.Model == "" {
		return nil, errors.New("analysis gateway requires a model")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAIGateway{
		client: openai.NewClient(clientOpts...),
		opts:   opts,
		logger: logger.With("component", "analysis"),
	}, nil
}

// AnalyzeBatch implements Gateway.
func (g *OpenAIGateway) AnalyzeBatch(ctx context.Context, docs []*store.Document, batchIndex, totalBatches int, priorContext string) (*findings.BatchFindings, error) {
	user, err := batchUserPrompt(docs, batchIndex, totalBatches, priorContext)
	if err != nil {
		return nil, fmt.Errorf("failed to render batch prompt: %w", err)
	}

	content, err := g.complete(ctx, "batch", batchSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var out findings.BatchFindings
	if err := parseStructured("batch", content, batchFindingsSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Consolidate implements Gateway.
func (g *OpenAIGateway) Consolidate(ctx context.Context, digest string) (*findings.CaseAnalysis, error) {
	user, err := consolidateUserPrompt(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to render consolidation prompt: %w", err)
	}

	content, err := g.complete(ctx, "consolidate", consolidateSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var out findings.CaseAnalysis
	if err := parseStructured("consolidate", content, caseAnalysisSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// complete runs one chat completion with a per-call deadline and bounded
// fixed-delay retries. Transient failures (rate limits, 5xx) retry;
// deadline expiry does not, since a slow model rarely speeds up on the
// next attempt.
func (g *OpenAIGateway) complete(parent context.Context, op, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, g.opts.RequestTimeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	var content string
	err := retry.Do(
		func() error {
			start := time.Now()
			completion, err := g.client.Chat.Completions.New(ctx, params)
			if err != nil {
				return g.classify(op, err)
			}
			if len(completion.Choices) == 0 {
				return &MalformedResponseError{Op: op, Reason: "no completion choices returned"}
			}
			content = completion.Choices[0].Message.Content
			g.logger.Debug("completion finished",
				"op", op,
				"model", g.opts.Model,
				"tokens", completion.Usage.TotalTokens,
				"duration", time.Since(start))
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.opts.MaxRetries)+1),
		retry.Delay(g.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var transient *TransientError
			return errors.As(err, &transient)
		}),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("retrying analysis call", "op", op, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", err
	}
	return content, nil
}

// classify maps API failures onto the gateway error taxonomy.
func (g *OpenAIGateway) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return &TransientError{Op: op, StatusCode: apiErr.StatusCode, Err: err}
		}
		return fmt.Errorf("analysis %s failed: %w", op, err)
	}
	// Connection-level failures have no status code; treat as transient.
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}
