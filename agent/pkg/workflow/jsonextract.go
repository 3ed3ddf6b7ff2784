package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON document out of model output. A ```json fence wins,
// then a bare ``` fence, otherwise the whole trimmed text is returned.
func ExtractJSON(text string) string {
	if body, ok := fencedBlock(text, "```json"); ok {
		return body
	}
	if body, ok := fencedBlock(text, "```"); ok {
		return body
	}
	return strings.TrimSpace(text)
}

func fencedBlock(text, open string) (string, bool) {
	start := strings.Index(text, open)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// DecodeJSON extracts and unmarshals the JSON payload of a model response.
func DecodeJSON(text string, v any) error {
	payload := ExtractJSON(text)
	if payload == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}
