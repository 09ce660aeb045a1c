package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"
)

// ErrNoJSON is returned when a response contains nothing that looks like JSON.
var ErrNoJSON = errors.New("no JSON value found in model response")

// fencedBlockRegex matches a markdown code fence, optionally tagged json.
var fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(.*?)\\s*\x60\x60\x60")

var codec = json.ConfigCompatibleWithStandardLibrary

// ParseJSONResponse parses a model response into T. It tolerates markdown
// fences and conversational text around the JSON value.
func ParseJSONResponse[T any](response string) (*T, error) {
	candidate, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var result T
	if err := codec.UnmarshalFromString(candidate, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(candidate, 500))
	}
	return &result, nil
}

// ExtractJSON returns the first balanced JSON object or array in response.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", ErrNoJSON
	}

	if m := fencedBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		response = strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return "", ErrNoJSON
	}
	if end := matchingBracket(response, start); end != -1 {
		return response[start : end+1], nil
	}
	// Unbalanced: hand the remainder to the decoder so the error names the problem.
	return response[start:], nil
}

// matchingBracket finds the bracket closing the one at open, skipping string
// literals. It returns -1 when the value is unterminated.
func matchingBracket(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
