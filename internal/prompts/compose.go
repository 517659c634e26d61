package prompts

import (
	"fmt"
	"strings"
)

// Compose builds the system prompt for stage from its instructions and
// output specification.
func Compose(stage Stage) (string, error) {
	instructions, err := Instructions(stage)
	if err != nil {
		return "", fmt.Errorf("load instructions for %s: %w", stage, err)
	}

	spec, err := Spec(stage)
	if err != nil {
		return "", fmt.Errorf("load spec for %s: %w", stage, err)
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\n")
	sb.WriteString(spec)
	return sb.String(), nil
}
