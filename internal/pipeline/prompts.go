package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// visionInstruction is the fixed instruction for the first (vision) stage.
const visionInstruction = "List all tables, columns (with inferred types), and relationships in this ER diagram."

// extractionSystemPrompt frames the second (extraction) stage. The schema is
// embedded so the generative process is nudged toward valid output instead of
// relying purely on post-hoc rejection.
const extractionSystemPrompt = `You are a senior Data Engineer. Extract the database schema strictly.

Respond ONLY with a JSON object (no markdown, no commentary) that conforms to this JSON schema:

%s`

func extractionPrompt(description string) string {
	return fmt.Sprintf("Create the schema based on this description:\n\n%s", description)
}

// correctivePrompt builds the follow-up message reissued after a failed
// validation attempt, feeding the validation error back to the model.
func correctivePrompt(schemaText json.RawMessage, issue error) string {
	return fmt.Sprintf(`Your previous output failed validation:
%v

Return ONLY valid JSON (no markdown, no commentary) that strictly conforms to this schema:

%s`, issue, string(schemaText))
}

// parseStructuredJSON parses JSON from model output, with lightweight recovery
// for markdown code fences and surrounding text.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty extraction output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize extraction output: %w", mErr)
			}
			return normalized, nil
		}
	}

	return nil, fmt.Errorf("failed to parse extraction output as JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop first fence line.
	lines = lines[1:]
	// Drop trailing fence if present.
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(trimmed, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}
