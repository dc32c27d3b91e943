package services

import (
	"fmt"
	"strings"

	"github.com/tyler-sommer/stick"
)

// PromptBuilder renders the prompts used by the pipeline. Rendering is pure:
// the same inputs and seed always produce the same string.
type PromptBuilder struct {
	env       *stick.Env
	templates map[string]string
	examples  []extractionExample
}

type extractionExample struct {
	Input  string
	Output string
}

const extractionShape = `{
  "entities": [{"entity_type": "string", "entity_value": "string", "confidence_score": 0.0}],
  "key_points": ["string"],
  "dates": ["YYYY-MM-DD"],
  "numerical_values": [{"value": 0.0, "unit": "string", "context": "string"}],
  "risks": [{"risk_type": "string", "description": "string", "severity": "low|medium|high|critical", "confidence_score": 0.0}]
}`

const extractionTemplate = `You are a document analysis engine. Extract structured data from the text below.

Respond with a single JSON object matching exactly this shape:
{{ shape }}

Rules:
- Every confidence_score is a number between 0 and 1.
- Dates use ISO 8601 (YYYY-MM-DD). Omit dates you cannot normalize.
- severity must be one of: low, medium, high, critical.
- Return JSON only, no commentary.

Example input:
{{ example_input }}

Example output:
{{ example_output }}

Text to analyze:
{{ chunk_text }}`

const repairTemplate = `Your previous response failed validation. This is repair attempt {{ attempt }}.

Previous response:
{{ raw_output }}

Validation errors, in order:
{{ violations }}

Return a corrected JSON object matching exactly this shape, fixing every error above. Return JSON only, no commentary, no code fences.
{{ shape }}

Text being analyzed:
{{ chunk_text }}`

const chunkSummaryTemplate = `Summarize the following document excerpt in 2-3 sentences. Keep concrete names, dates and figures. Respond with the summary text only.

{{ chunk_text }}`

const sectionSummaryTemplate = `The following are summaries of consecutive parts of a document. Combine them into a single coherent summary of 3-4 sentences. Respond with the summary text only.

{{ summaries }}`

const globalSummaryTemplate = `The following are section summaries covering an entire document. Write a concise executive summary of the whole document in one paragraph. Respond with the summary text only.

{{ summaries }}`

const anomalyTemplate = `You are reviewing structured data extracted from a document for anomalies: contradictions, implausible values, inconsistent dates or suspicious patterns.

Extracted data digest:
{{ digest }}

Respond with a single JSON object of this shape, and nothing else:
{
  "anomalies": [{"anomaly_type": "string", "description": "string", "severity": "low|medium|high|critical", "confidence_score": 0.0}]
}`

// NewPromptBuilder creates a builder with the built-in template set
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		env: stick.New(nil),
		templates: map[string]string{
			"extraction":      extractionTemplate,
			"repair":          repairTemplate,
			"chunk_summary":   chunkSummaryTemplate,
			"section_summary": sectionSummaryTemplate,
			"global_summary":  globalSummaryTemplate,
			"anomaly":         anomalyTemplate,
		},
		examples: []extractionExample{
			{
				Input: "Acme Corp signed the lease on 2023-04-01 for $12,500 per month. Early termination carries a penalty.",
				Output: `{"entities": [{"entity_type": "organization", "entity_value": "Acme Corp", "confidence_score": 0.95}], "key_points": ["Lease signed by Acme Corp"], "dates": ["2023-04-01"], "numerical_values": [{"value": 12500, "unit": "USD", "context": "monthly rent"}], "risks": [{"risk_type": "contractual", "description": "Early termination penalty", "severity": "medium", "confidence_score": 0.8}]}`,
			},
			{
				Input: "The audit flagged revenue of 3.2M EUR reported by Globex on 2024-11-15 as unverified.",
				Output: `{"entities": [{"entity_type": "organization", "entity_value": "Globex", "confidence_score": 0.9}], "key_points": ["Audit flagged unverified revenue"], "dates": ["2024-11-15"], "numerical_values": [{"value": 3200000, "unit": "EUR", "context": "reported revenue"}], "risks": [{"risk_type": "financial", "description": "Unverified revenue figure", "severity": "high", "confidence_score": 0.85}]}`,
			},
		},
	}
}

// ExtractionPrompt renders the initial extraction prompt for a chunk. The
// seed picks which few-shot example is embedded so repeated runs over the
// same chunk see the same example.
func (pb *PromptBuilder) ExtractionPrompt(chunkText string, seed int64) (string, error) {
	if seed < 0 {
		seed = -seed
	}
	ex := pb.examples[seed%int64(len(pb.examples))]
	return pb.render("extraction", map[string]stick.Value{
		"shape":          extractionShape,
		"example_input":  ex.Input,
		"example_output": ex.Output,
		"chunk_text":     chunkText,
	})
}

// RepairPrompt renders the repair prompt for a failed attempt. It always
// embeds the verbatim prior output and the ordered validation errors, so
// each repair round is strictly more specific than the initial prompt.
func (pb *PromptBuilder) RepairPrompt(chunkText, rawOutput string, violations []string, attempt int) (string, error) {
	numbered := make([]string, len(violations))
	for i, v := range violations {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, v)
	}
	return pb.render("repair", map[string]stick.Value{
		"attempt":    attempt,
		"raw_output": rawOutput,
		"violations": strings.Join(numbered, "\n"),
		"shape":      extractionShape,
		"chunk_text": chunkText,
	})
}

// ChunkSummaryPrompt renders the per-chunk summary prompt
func (pb *PromptBuilder) ChunkSummaryPrompt(chunkText string) (string, error) {
	return pb.render("chunk_summary", map[string]stick.Value{"chunk_text": chunkText})
}

// SectionSummaryPrompt renders the section summary prompt over chunk summaries
func (pb *PromptBuilder) SectionSummaryPrompt(summaries []string) (string, error) {
	return pb.render("section_summary", map[string]stick.Value{
		"summaries": joinNumbered(summaries),
	})
}

// GlobalSummaryPrompt renders the global summary prompt over section summaries
func (pb *PromptBuilder) GlobalSummaryPrompt(summaries []string) (string, error) {
	return pb.render("global_summary", map[string]stick.Value{
		"summaries": joinNumbered(summaries),
	})
}

// AnomalyPrompt renders the generative anomaly review prompt
func (pb *PromptBuilder) AnomalyPrompt(digest string) (string, error) {
	return pb.render("anomaly", map[string]stick.Value{"digest": digest})
}

func (pb *PromptBuilder) render(tag string, ctx map[string]stick.Value) (string, error) {
	tpl, ok := pb.templates[tag]
	if !ok {
		return "", fmt.Errorf("template %q not found", tag)
	}
	var out strings.Builder
	if err := pb.env.Execute(tpl, &out, ctx); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}

func joinNumbered(items []string) string {
	var b strings.Builder
	for i, s := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}
