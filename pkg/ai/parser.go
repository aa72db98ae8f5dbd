package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Choice count bounds enforced on model output.
const (
	minChoices = 1
	maxChoices = 4
)

// ParseNodeResponse parses the model's reply into a NodeResult. The reply is
// expected to be a single JSON object, possibly wrapped in a markdown code
// fence; anything else is an error so the caller can retry.
func ParseNodeResponse(raw string) (NodeResult, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return NodeResult{}, errors.New("empty response")
	}

	// Some models prepend prose before the object; cut to the outermost braces.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return NodeResult{}, errors.New("response contains no JSON object")
	}

	var result NodeResult
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &result); err != nil {
		return NodeResult{}, fmt.Errorf("response is not valid JSON: %w", err)
	}

	result.Story = strings.TrimSpace(result.Story)
	if result.Story == "" {
		return NodeResult{}, errors.New("response has no story text")
	}

	choices := result.Choices[:0]
	for _, c := range result.Choices {
		if c = strings.TrimSpace(c); c != "" {
			choices = append(choices, c)
		}
	}
	if len(choices) < minChoices {
		return NodeResult{}, errors.New("response has no choices")
	}
	if len(choices) > maxChoices {
		choices = choices[:maxChoices]
	}
	result.Choices = choices

	return result, nil
}
