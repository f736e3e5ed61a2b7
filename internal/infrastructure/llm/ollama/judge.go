package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stewmckendry/health-assistant/internal/core/ports"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/resilience"
)

// Judge scores candidates with a local generation model.
type Judge struct {
	client *Client
}

var _ ports.RelevanceJudge = (*Judge)(nil)

func NewJudge(client *Client) *Judge {
	return &Judge{client: client}
}

func (j *Judge) Score(ctx context.Context, query, candidateText, domainContext string) (float64, error) {
	if strings.TrimSpace(domainContext) == "" {
		domainContext = "general"
	}
	raw, err := j.client.generateJSON(ctx, buildRelevancePrompt(query, candidateText, domainContext))
	if err != nil {
		return 0, resilience.JudgeError("ollama judge", err)
	}

	var verdict struct {
		Score  *float64 `json:"score"`
		Reason string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &verdict); err != nil {
		return 0, resilience.JudgeError("ollama judge", fmt.Errorf("parse verdict json: %w", err))
	}
	if verdict.Score == nil {
		return 0, resilience.JudgeError("ollama judge", fmt.Errorf("verdict without score: %q", raw))
	}
	return *verdict.Score, nil
}
