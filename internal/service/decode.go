package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// transcriptionKeys are checked in order when a provider returns an object.
var transcriptionKeys = []string{"text", "transcription", "output"}

// DecodeTranscription extracts the transcript text from a provider response.
// Accepted shapes: a bare string (JSON or plain text), or an object exposing
// text, transcription or output. output may itself be a string, a list of
// strings, or another such object. Anything else is returned as its compact
// JSON serialization.
// Parameters:
//   - body: raw response body.
// Returns:
//   - string: transcript text.
//   - error: non-nil if the body is empty.
func DecodeTranscription(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty transcription response")
	}

	var payload interface{}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		// text/plain providers
		return string(trimmed), nil
	}

	if text, ok := extractText(payload); ok {
		return text, nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed), nil
	}
	return compact.String(), nil
}

func extractText(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if text, ok := extractText(item); ok && text != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, " "), true
	case map[string]interface{}:
		for _, key := range transcriptionKeys {
			inner, ok := val[key]
			if !ok || inner == nil {
				continue
			}
			if text, ok := extractText(inner); ok && text != "" {
				return text, true
			}
		}
	}
	return "", false
}

// extractJSONObject pulls the first complete JSON object out of model output,
// tolerating <think> preambles and markdown code fences.
func extractJSONObject(content string) (string, error) {
	if start := strings.Index(content, "<think>"); start != -1 {
		if end := strings.Index(content, "</think>"); end != -1 {
			content = content[end+len("</think>"):]
		}
	}
	content = stripCodeFenceBlock(content)

	jsonStart := strings.Index(content, "{")
	if jsonStart == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := jsonStart; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[jsonStart : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("incomplete JSON in response")
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
