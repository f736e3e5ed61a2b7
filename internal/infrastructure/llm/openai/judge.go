package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL        string
	Token          string
	Model          string
	EmbeddingModel string
}

func (c Config) token() string {
	// Local OpenAI-compatible servers accept any token.
	if strings.TrimSpace(c.Token) == "" {
		return "none"
	}
	return c.Token
}

// Judge scores candidates through any OpenAI-compatible chat endpoint.
type Judge struct {
	client   llms.Model
	executor *resilience.Executor
	logger   *slog.Logger
}

var _ ports.RelevanceJudge = (*Judge)(nil)

func NewJudge(cfg Config, executor *resilience.Executor, logger *slog.Logger) (*Judge, error) {
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.token()),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create judge client: %w", err)
	}
	return NewJudgeWithModel(client, executor, logger), nil
}

func NewJudgeWithModel(model llms.Model, executor *resilience.Executor, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{
		client:   model,
		executor: executor,
		logger:   logger.With("component", "openai-judge"),
	}
}

type verdict struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

func (j *Judge) Score(ctx context.Context, query, candidateText, domainContext string) (float64, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt(domainContext))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(buildCandidatePrompt(query, candidateText))},
		},
	}

	text, err := resilience.Do(ctx, j.executor, "openai.judge", func(callCtx context.Context) (string, error) {
		response, err := j.client.GenerateContent(callCtx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			return "", err
		}
		if len(response.Choices) < 1 {
			return "", fmt.Errorf("no choices returned from model")
		}
		return response.Choices[0].Content, nil
	}, resilience.ClassifyTransportError)
	if err != nil {
		return 0, resilience.JudgeError("openai judge", err)
	}

	var result verdict
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &result); err != nil {
		j.logger.Warn("error parsing judge response", "response", text, "err", err)
		return 0, resilience.JudgeError("openai judge", fmt.Errorf("parse verdict json: %w", err))
	}
	if result.Score == nil {
		return 0, resilience.JudgeError("openai judge", fmt.Errorf("verdict without score"))
	}
	j.logger.Debug("judge verdict", "score", *result.Score, "reason", result.Reason)
	return *result.Score, nil
}

func buildSystemPrompt(domainContext string) string {
	if strings.TrimSpace(domainContext) == "" {
		domainContext = "general"
	}
	return `You grade evidence for a ` + domainContext + ` question answering service.
Rate how well the evidence answers the question on a scale from 0 (unrelated) to 10 (directly answers it).
Return strict JSON object with keys:
score (number from 0 to 10), reason (string, one sentence).
No markdown, no extra keys.`
}

func buildCandidatePrompt(query, candidate string) string {
	return "Question:\n" + query + "\n\nEvidence:\n" + candidate
}

func stripCodeFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
