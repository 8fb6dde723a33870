package transcript

import (
	"strings"
	"time"
)

// messagePayload unwraps {"type":"message","message":{...}} wrappers; other
// shapes pass through untouched.
func messagePayload(obj map[string]any) map[string]any {
	if strings.EqualFold(stringField(obj, "type"), "message") {
		if inner, ok := obj["message"].(map[string]any); ok {
			return inner
		}
	}
	return obj
}

// IsUserMessage reports whether a decoded transcript line is a user turn.
func IsUserMessage(obj map[string]any) bool {
	return strings.ToLower(stringField(messagePayload(obj), "role")) == "user"
}

// IsAssistantMessage reports whether a decoded transcript line is an
// assistant turn. Tool, tool-result, system, and user roles all disqualify.
func IsAssistantMessage(obj map[string]any) bool {
	switch strings.ToLower(stringField(messagePayload(obj), "role")) {
	case "assistant", "agent", "model":
		return true
	}
	return false
}

// ExtractText pulls displayable assistant text out of a decoded transcript
// value. Reasoning, tool-call, and tool-result blocks are skipped at every
// nesting level.
func ExtractText(v any) string {
	switch obj := v.(type) {
	case string:
		return strings.TrimSpace(obj)
	case []any:
		var parts []string
		for _, item := range obj {
			if t := ExtractText(item); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		payload := messagePayload(obj)

		switch strings.ToLower(stringField(payload, "type")) {
		case "reasoning", "thinking", "analysis", "toolcall", "tool_call", "toolresult", "tool_result":
			return ""
		}
		switch strings.ToLower(stringField(payload, "role")) {
		case "reasoning", "thinking", "tool", "toolresult", "tool_result":
			return ""
		}

		if content, ok := payload["content"].([]any); ok {
			var parts []string
			for _, item := range content {
				block, ok := item.(map[string]any)
				if !ok {
					if t := ExtractText(item); t != "" {
						parts = append(parts, t)
					}
					continue
				}
				var t string
				switch strings.ToLower(stringField(block, "type")) {
				case "reasoning", "thinking", "analysis", "input_text", "input", "user",
					"toolcall", "tool_call", "toolresult", "tool_result", "summary", "summary_text":
					continue
				case "text", "output_text":
					t = ExtractText(block["text"])
				default:
					inner := block["content"]
					if inner == nil {
						inner = block["text"]
					}
					if inner == nil {
						inner = block["output"]
					}
					t = ExtractText(inner)
				}
				if t != "" {
					parts = append(parts, t)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}

		for _, key := range []string{"text", "output"} {
			if raw, ok := payload[key]; ok {
				if t := ExtractText(raw); t != "" {
					return t
				}
			}
		}
	}
	return ""
}

var timestampKeys = []string{"timestamp", "ts", "createdAt", "updatedAt", "lastAssistantUpdatedAt"}

// ExtractTimestampMS finds a millisecond epoch timestamp on a transcript
// line: the line itself, its unwrapped payload, then a nested "data" object.
// Returns 0 when no usable timestamp exists.
func ExtractTimestampMS(obj map[string]any) int64 {
	for _, key := range timestampKeys {
		if ts := NormalizeTimestampMS(obj[key]); ts != 0 {
			return ts
		}
	}
	payload := messagePayload(obj)
	for _, key := range timestampKeys {
		if ts := NormalizeTimestampMS(payload[key]); ts != 0 {
			return ts
		}
	}
	if data, ok := obj["data"].(map[string]any); ok {
		for _, key := range timestampKeys {
			if ts := NormalizeTimestampMS(data[key]); ts != 0 {
				return ts
			}
		}
	}
	return 0
}

// NormalizeTimestampMS converts a numeric epoch (seconds or milliseconds)
// or an RFC 3339 string to millisecond epoch, or 0 when unusable. Numeric
// values at or below one billion are too small to be an epoch and are
// rejected.
func NormalizeTimestampMS(v any) int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		if i > 1_000_000_000_000 {
			return i
		}
		if i > 1_000_000_000 {
			return i * 1000
		}
		return 0
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		s = strings.Replace(s, "Z", "+00:00", 1)
		for _, layout := range []string{"2006-01-02T15:04:05.999999999-07:00", "2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli()
			}
		}
	}
	return 0
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
