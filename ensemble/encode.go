package ensemble

import (
	"encoding/json"
	"fmt"
	"strings"
)

func decodeJSON[T any](raw string) (*T, error) {
	clean := sanitizeJSON(raw)
	var out T
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return &out, nil
}

// sanitizeJSON strips markdown fences and any prose around the outermost
// JSON object.
func sanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start > 0 && end > start {
		trimmed = trimmed[start : end+1]
	}
	return trimmed
}

type adjudication struct {
	Answer         string   `json:"answer"`
	Contradictions []string `json:"contradictions"`
}

type critique struct {
	Verdict string   `json:"verdict"` // approve | revise
	Issues  []string `json:"issues"`
}
