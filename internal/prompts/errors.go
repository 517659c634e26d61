package prompts

import "errors"

var ErrInvalidStage = errors.New("stage must be refine, plan, or synthesize")
