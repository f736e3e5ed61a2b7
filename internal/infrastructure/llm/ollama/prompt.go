package ollama

import "fmt"

func buildRelevancePrompt(query, candidate, domainContext string) string {
	return fmt.Sprintf(`You grade evidence for a %s question answering service.
Rate how well the evidence answers the question on a scale from 0 (unrelated) to 10 (directly answers it).
Return strict JSON object with keys:
score (number from 0 to 10), reason (string, one sentence).
No markdown, no extra keys.

Question:
%s

Evidence:
%s
`, domainContext, query, candidate)
}
