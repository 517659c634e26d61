// Package prompts holds the language-model instructions and output
// specifications for each model-backed stage.
package prompts

import (
	"encoding/json"
	"slices"
)

// Stage identifies a model-backed pipeline step.
type Stage string

const (
	StageRefine     Stage = "refine"
	StagePlan       Stage = "plan"
	StageSynthesize Stage = "synthesize"
)

var stages = []Stage{
	StageRefine,
	StagePlan,
	StageSynthesize,
}

// Stages returns the list of valid stages.
func Stages() []Stage {
	return stages
}

// UnmarshalJSON validates that the decoded string is a known stage value.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseStage(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStage validates a string as a known stage.
func ParseStage(s string) (Stage, error) {
	v := Stage(s)
	if !slices.Contains(stages, v) {
		return "", ErrInvalidStage
	}
	return v, nil
}
