package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrParseFailed is returned when content cannot be parsed as JSON,
// either directly, from a markdown code fence, or after repair.
var ErrParseFailed = errors.New("failed to parse response")

var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// Parse unmarshals model output into T. It tries the raw content, then the
// body of a markdown code fence, then a repaired version of whichever
// candidate is available (trailing commas, single quotes, unquoted keys).
func Parse[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)

	candidate := content
	if matches := jsonBlockRegex.FindStringSubmatch(content); len(matches) >= 2 {
		candidate = strings.TrimSpace(matches[1])
	}

	for _, c := range []string{content, candidate} {
		if err := json.Unmarshal([]byte(c), &result); err == nil {
			return result, nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &result); err == nil {
			return result, nil
		}
	}

	return result, fmt.Errorf("%w: %s", ErrParseFailed, content)
}
