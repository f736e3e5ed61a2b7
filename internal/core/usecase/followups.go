package usecase

import (
	"fmt"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

const maxConflictFollowups = 3

// BuildFollowups suggests what the caller could ask next given how the answer came out.
func BuildFollowups(resp *domain.Response, cls domain.Classification) []string {
	out := make([]string, 0, 4)

	if resp.Fault != nil {
		return append(out, "The evidence sources could not be reached. Retry the question shortly.")
	}

	for i, conflict := range resp.Conflicts {
		if i == maxConflictFollowups {
			break
		}
		subject := conflict.EntityKey
		if subject == "" {
			subject = "this item"
		}
		out = append(out, fmt.Sprintf(
			"Sources disagree on %s for %s (%v vs %v). Confirm the current value against the latest schedule.",
			conflict.Field, subject, conflict.RelationalValue, conflict.SemanticValue,
		))
	}

	if len(resp.Items) == 0 {
		return append(out, "No evidence matched. Try rephrasing the question or supplying the exact code.")
	}

	if !resp.HasOrigin(domain.OriginRelational) && len(cls.Identifiers) == 0 {
		out = append(out, "This answer comes from policy documents only. Provide the exact code to check the structured schedule.")
	}
	return out
}
