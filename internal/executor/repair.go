package executor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONObject recovers a JSON object from a near-miss payload: models
// wrap output in markdown fences or prepend prose. The documented repair
// strategy is fence stripping followed by scanning for the first balanced
// top-level object.
func ExtractJSONObject(raw string) (map[string]any, error) {
	candidate := strings.TrimSpace(raw)

	// Strip a markdown code fence if present.
	if strings.HasPrefix(candidate, "```") {
		if idx := strings.Index(candidate, "\n"); idx >= 0 {
			candidate = candidate[idx+1:]
		}
		if idx := strings.LastIndex(candidate, "```"); idx >= 0 {
			candidate = candidate[:idx]
		}
		candidate = strings.TrimSpace(candidate)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj, nil
	}

	// Scan for the first balanced top-level object, ignoring braces inside
	// string literals.
	start := strings.IndexByte(candidate, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in payload")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(candidate); i++ {
		c := candidate[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(candidate[start:i+1]), &obj); err != nil {
					return nil, fmt.Errorf("balanced object does not parse: %w", err)
				}
				return obj, nil
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON object in payload")
}
