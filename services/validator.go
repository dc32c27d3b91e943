package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"docintel-backend/models"
)

const extractionSchemaJSON = `{
  "type": "object",
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "entity_type": {"type": "string", "minLength": 1},
          "entity_value": {"type": "string", "minLength": 1},
          "confidence_score": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["entity_type", "entity_value", "confidence_score"]
      }
    },
    "key_points": {
      "type": "array",
      "items": {"type": "string"}
    },
    "dates": {
      "type": "array",
      "items": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}"}
    },
    "numerical_values": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "value": {"type": "number"},
          "unit": {"type": "string"},
          "context": {"type": "string"}
        },
        "required": ["value"]
      }
    },
    "risks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "risk_type": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
          "confidence_score": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["risk_type", "description", "severity", "confidence_score"]
      }
    }
  },
  "required": ["entities", "key_points", "dates", "numerical_values", "risks"]
}`

const anomalySchemaJSON = `{
  "type": "object",
  "properties": {
    "anomalies": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "anomaly_type": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
          "confidence_score": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["anomaly_type", "description", "severity", "confidence_score"]
      }
    }
  },
  "required": ["anomalies"]
}`

// Validator checks raw model output against the payload schemas. Validation
// is pure: the same raw text always yields the same verdict and the same
// ordered list of violations.
type Validator struct {
	extraction *jsonschema.Schema
	anomaly    *jsonschema.Schema
}

// NewValidator compiles the payload schemas
func NewValidator() (*Validator, error) {
	extraction, err := compileSchema("extraction.json", extractionSchemaJSON)
	if err != nil {
		return nil, err
	}
	anomaly, err := compileSchema("anomaly.json", anomalySchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Validator{extraction: extraction, anomaly: anomaly}, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(raw))); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// ValidateExtraction parses raw output and validates it against the
// extraction schema. On failure the returned violations are ordered and
// deterministic for use in repair prompts.
func (v *Validator) ValidateExtraction(raw string) (*models.ExtractionPayload, []string) {
	doc, violations := v.validate(v.extraction, raw)
	if violations != nil {
		return nil, violations
	}
	var payload models.ExtractionPayload
	if err := json.Unmarshal(doc, &payload); err != nil {
		return nil, []string{fmt.Sprintf("payload does not decode: %v", err)}
	}
	return &payload, nil
}

// AnomalyPayload is the structured payload of the generative anomaly pass
type AnomalyPayload struct {
	Anomalies []models.Anomaly `json:"anomalies"`
}

// ValidateAnomalies parses and validates a generative anomaly response
func (v *Validator) ValidateAnomalies(raw string) (*AnomalyPayload, []string) {
	doc, violations := v.validate(v.anomaly, raw)
	if violations != nil {
		return nil, violations
	}
	var payload AnomalyPayload
	if err := json.Unmarshal(doc, &payload); err != nil {
		return nil, []string{fmt.Sprintf("payload does not decode: %v", err)}
	}
	return &payload, nil
}

func (v *Validator) validate(schema *jsonschema.Schema, raw string) ([]byte, []string) {
	doc, ok := ExtractJSONPayload(raw)
	if !ok {
		return nil, []string{"response does not contain a JSON object"}
	}
	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return nil, []string{fmt.Sprintf("response is not well-formed JSON: %v", err)}
	}
	if err := schema.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, flattenViolations(ve)
		}
		return nil, []string{err.Error()}
	}
	return []byte(doc), nil
}

// flattenViolations turns a validation error tree into an ordered list
func flattenViolations(ve *jsonschema.ValidationError) []string {
	basic := ve.BasicOutput()
	var out []string
	for _, e := range basic.Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, fmt.Sprintf("at %s: %s", loc, e.Error))
	}
	if len(out) == 0 {
		return []string{ve.Error()}
	}
	// BasicOutput order is not stable across runs.
	sort.Strings(out)
	return out
}

// ExtractJSONPayload pulls the first JSON object out of raw model output,
// tolerating code fences and surrounding prose
func ExtractJSONPayload(raw string) (string, bool) {
	text := strings.TrimSpace(raw)

	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// CallFunc performs one generative call. The orchestrator supplies an
// implementation that already handles the concurrency ceiling and transport
// retries; it returns the raw text and the tokens consumed.
type CallFunc func(ctx context.Context, prompt string) (string, int, error)

// Repairer drives a chunk response through generate, parse, validate and
// bounded repair until the payload is valid or the repair budget runs out.
type Repairer struct {
	validator         *Validator
	prompts           *PromptBuilder
	maxRepairAttempts int
}

// NewRepairer creates a repairer. maxRepairAttempts counts repair rounds
// after the initial call.
func NewRepairer(validator *Validator, prompts *PromptBuilder, maxRepairAttempts int) *Repairer {
	if maxRepairAttempts < 0 {
		maxRepairAttempts = 0
	}
	return &Repairer{
		validator:         validator,
		prompts:           prompts,
		maxRepairAttempts: maxRepairAttempts,
	}
}

// Run processes one chunk. It returns a ChunkExtraction in state valid or
// exhausted; an error is returned only for fatal call failures, prompt
// construction failures and cancellation, which abort the chunk immediately.
// A call that exhausts its transport retries counts as one failed attempt
// and the next round reissues the same prompt.
func (r *Repairer) Run(ctx context.Context, chunk models.DocumentChunk, seed int64, call CallFunc) (models.ChunkExtraction, error) {
	result := models.ChunkExtraction{
		ChunkIndex: chunk.Index,
		State:      models.AttemptDraft,
	}

	prompt, err := r.prompts.ExtractionPrompt(chunk.Text, seed)
	if err != nil {
		return result, fmt.Errorf("build extraction prompt: %w", err)
	}

	var lastRaw string
	var lastViolations []string

	for attempt := 0; attempt <= r.maxRepairAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		raw, tokens, err := call(ctx, prompt)
		result.TokensUsed += tokens
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if !IsTransient(err) {
				return result, err
			}
			result.Attempts = append(result.Attempts, models.ExtractionAttempt{
				Number: attempt,
				State:  models.AttemptInvalid,
				Errors: []string{err.Error()},
			})
			if attempt == r.maxRepairAttempts {
				break
			}
			result.State = models.AttemptRepairing
			continue
		}

		record := models.ExtractionAttempt{
			Number:    attempt,
			State:     models.AttemptParsing,
			RawOutput: raw,
		}

		payload, violations := r.validator.ValidateExtraction(raw)
		if payload != nil {
			record.State = models.AttemptValid
			result.Attempts = append(result.Attempts, record)
			result.State = models.AttemptValid
			result.Payload = payload
			result.RepairCount = attempt
			return result, nil
		}

		record.State = models.AttemptInvalid
		record.Errors = violations
		result.Attempts = append(result.Attempts, record)
		lastRaw = raw
		lastViolations = violations

		if attempt == r.maxRepairAttempts {
			break
		}

		result.State = models.AttemptRepairing
		prompt, err = r.prompts.RepairPrompt(chunk.Text, lastRaw, lastViolations, attempt+1)
		if err != nil {
			return result, fmt.Errorf("build repair prompt: %w", err)
		}
	}

	result.State = models.AttemptExhausted
	result.RepairCount = r.maxRepairAttempts
	return result, nil
}
