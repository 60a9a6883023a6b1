package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const snippetLimit = 160

// DecodeJSON unmarshals a model response into v. Models sometimes wrap JSON
// in markdown code fences or surround it with prose even when asked not to,
// so a failed direct parse falls back to extracting the outermost JSON value.
func DecodeJSON(payload string, v any) error {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return errors.New("empty response payload")
	}

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	cleaned := sanitizeJSONPayload(trimmed)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decoding model response %q: %w", summarizeSnippet(trimmed), err)
	}
	return nil
}

func sanitizeJSONPayload(payload string) string {
	payload = stripCodeFence(payload)

	start := strings.IndexAny(payload, "{[")
	if start < 0 {
		return strings.TrimSpace(payload)
	}

	closer := byte('}')
	if payload[start] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(payload, closer); end > start {
		return strings.TrimSpace(payload[start : end+1])
	}
	return strings.TrimSpace(payload)
}

func stripCodeFence(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop the language tag on the opening fence, e.g. ```json
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// summarizeSnippet collapses whitespace and truncates so errors stay log-friendly
func summarizeSnippet(payload string) string {
	collapsed := strings.Join(strings.Fields(payload), " ")
	runes := []rune(collapsed)
	if len(runes) <= snippetLimit {
		return collapsed
	}
	return string(runes[:snippetLimit]) + "..."
}
