// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// Regex definitions use \x60 for backticks because Go raw strings cannot contain them.
// fencedBlockRegex captures the body of the first fenced block, with or without a json tag.
var fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?[ \t]*\\n?(.*?)\\n?[ \t]*\x60\x60\x60")

// ExtractJSON returns the JSON payload of an LLM response. A fenced block wins;
// otherwise the outermost braces, or brackets when the caller expects an array.
func ExtractJSON(response string, wantArray bool) (string, bool) {
	response = strings.TrimSpace(response)
	if m := fencedBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		if body := strings.TrimSpace(m[1]); body != "" {
			return body, true
		}
	}

	open, closing := "{", "}"
	if wantArray {
		open, closing = "[", "]"
	}
	first := strings.Index(response, open)
	last := strings.LastIndex(response, closing)
	if first == -1 || last <= first {
		return "", false
	}
	return response[first : last+1], true
}

// ParseJSONResponse extracts and decodes an LLM response into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	wantArray := reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Slice

	payload, ok := ExtractJSON(response, wantArray)
	if !ok {
		return nil, fmt.Errorf("no JSON found in LLM response (truncated): %s", truncateString(response, 200))
	}

	var result T
	if err := json.UnmarshalFromString(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(payload, 500))
	}
	return &result, nil
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
