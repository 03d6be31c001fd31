package contract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var thinkSegment = regexp.MustCompile(`(?is)<think>.*?</think>`)

// StripThink removes chain-of-thought segments some models leak around the
// structured payload. Unpaired tags are dropped as well.
func StripThink(text string) string {
	cleaned := thinkSegment.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, "<think>", "")
	cleaned = strings.ReplaceAll(cleaned, "</think>", "")
	return strings.TrimSpace(cleaned)
}

// parseObject extracts the JSON object from raw model output. It tolerates
// think segments, markdown code fences, and prose around the object.
func parseObject(raw string) (map[string]any, Issues) {
	cleaned := stripCodeFence(StripThink(raw))

	var data any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		// Models sometimes wrap the object in prose. Retry on the
		// outermost brace span before giving up.
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, Issues{{Path: "root", Reason: "invalid json", Expected: "valid JSON object"}}
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &data); err != nil {
			return nil, Issues{{Path: "root", Reason: "invalid json", Expected: "valid JSON object"}}
		}
	}

	obj, ok := data.(map[string]any)
	if !ok {
		return nil, Issues{{Path: "root", Reason: "must be an object", Expected: "object", Actual: typeName(data)}}
	}
	return obj, nil
}

func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line ("json", ...).
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
