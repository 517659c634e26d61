package prompts

const refineSpec = `Respond with a JSON object matching this exact structure:

{
  "record": {
    "project": "<project>",
    "date": "<YYYY-MM-DD>",
    "activity_type": "<activity>",
    "quantity": 0,
    "unit": "<unit>",
    "location": "<location>",
    "team": "<team>",
    "workpoint": "<workpoint>",
    "subproject": "<subproject>",
    "position": "<position>",
    "process": "<process>",
    "weather": "<weather>",
    "workers": ["<name>"],
    "equipment": ["<equipment>"],
    "issues": ["<issue>"]
  },
  "confidence": {
    "<field>": 0.0
  }
}

Field constraints:
- date: ISO format. Convert 2024年3月15日 to 2024-03-15.
- quantity: a number without its unit.
- confidence: one entry per non-empty record field, each in [0, 1].

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- Report only what the text supports`

const planSpec = `Respond with a JSON object matching this exact structure:

{
  "intent": "<structured|unstructured|hybrid>",
  "calls": [
    {"tool": "sql", "input": "<SELECT statement>"},
    {"tool": "vector", "input": "<search text>"}
  ]
}

Field constraints:
- intent: structured when only sql is used, unstructured when only vector
  is used, hybrid when both are used.
- calls: one entry per selected tool, at most one per tool.
- sql input: a single SELECT statement with no trailing semicolon.
- vector input: a short search phrase in the language of the question.

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- Never write statements that modify data`

const synthesizeSpec = `Respond with a JSON object matching this exact structure:

{
  "text": "<answer>",
  "citations": [
    {"kind": "row", "ref": "<row index>"},
    {"kind": "document", "ref": "<document reference>"}
  ]
}

Field constraints:
- text: the answer in plain prose.
- citations: only rows and documents that the answer actually uses.
  Row refs are the zero-based index shown beside each row. Document refs
  are copied exactly from the excerpt headers.

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- Never cite evidence that was not provided`

var specs = map[Stage]string{
	StageRefine:     refineSpec,
	StagePlan:       planSpec,
	StageSynthesize: synthesizeSpec,
}

// Spec returns the output specification for a stage.
// Returns ErrInvalidStage if the stage is not recognized.
func Spec(stage Stage) (string, error) {
	text, ok := specs[stage]
	if !ok {
		return "", ErrInvalidStage
	}
	return text, nil
}
