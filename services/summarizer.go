package services

import (
	"context"
	"sort"
	"strings"

	"docintel-backend/models"
)

// sectionSize is the number of chunk summaries folded into one section
const sectionSize = 5

// Summarizer builds the chunk, section and global summary hierarchy
type Summarizer struct {
	prompts *PromptBuilder
}

// NewSummarizer creates a summarizer
func NewSummarizer(prompts *PromptBuilder) *Summarizer {
	return &Summarizer{prompts: prompts}
}

// SummarizeChunk generates a plain-text summary for one chunk
func (s *Summarizer) SummarizeChunk(ctx context.Context, chunkText string, call CallFunc) (string, error) {
	prompt, err := s.prompts.ChunkSummaryPrompt(chunkText)
	if err != nil {
		return "", err
	}
	raw, _, err := call(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// BuildHierarchy folds chunk summaries into section summaries and a global
// summary. Failed section calls are absorbed; the global summary is built
// from whatever sections succeeded.
func (s *Summarizer) BuildHierarchy(ctx context.Context, chunkSummaries []models.Summary, call CallFunc) ([]models.Summary, []models.ProcessingError) {
	ordered := make([]models.Summary, len(chunkSummaries))
	copy(ordered, chunkSummaries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	summaries := make([]models.Summary, 0, len(ordered)+len(ordered)/sectionSize+2)
	summaries = append(summaries, ordered...)

	var absorbed []models.ProcessingError
	var sections []models.Summary

	for start := 0; start < len(ordered); start += sectionSize {
		end := start + sectionSize
		if end > len(ordered) {
			end = len(ordered)
		}
		group := ordered[start:end]

		texts := make([]string, 0, len(group))
		var confidenceSum float64
		var sourceChunks []int
		for _, cs := range group {
			texts = append(texts, cs.Text)
			confidenceSum += cs.ConfidenceScore
			sourceChunks = append(sourceChunks, cs.SourceChunks...)
		}

		prompt, err := s.prompts.SectionSummaryPrompt(texts)
		if err != nil {
			absorbed = append(absorbed, summaryError(start/sectionSize, err))
			continue
		}
		raw, _, err := call(ctx, prompt)
		if err != nil {
			absorbed = append(absorbed, summaryError(start/sectionSize, err))
			continue
		}

		sections = append(sections, models.Summary{
			Level:           models.SummaryLevelSection,
			Index:           start / sectionSize,
			Text:            strings.TrimSpace(raw),
			ConfidenceScore: confidenceSum / float64(len(group)),
			SourceChunks:    sourceChunks,
		})
	}
	summaries = append(summaries, sections...)

	if len(sections) > 0 {
		texts := make([]string, 0, len(sections))
		var confidenceSum float64
		var sourceChunks []int
		for _, sec := range sections {
			texts = append(texts, sec.Text)
			confidenceSum += sec.ConfidenceScore
			sourceChunks = append(sourceChunks, sec.SourceChunks...)
		}

		prompt, err := s.prompts.GlobalSummaryPrompt(texts)
		if err != nil {
			absorbed = append(absorbed, summaryError(-1, err))
			return summaries, absorbed
		}
		raw, _, err := call(ctx, prompt)
		if err != nil {
			absorbed = append(absorbed, summaryError(-1, err))
			return summaries, absorbed
		}

		summaries = append(summaries, models.Summary{
			Level:           models.SummaryLevelGlobal,
			Index:           0,
			Text:            strings.TrimSpace(raw),
			ConfidenceScore: confidenceSum / float64(len(sections)),
			SourceChunks:    sourceChunks,
		})
	}

	return summaries, absorbed
}

func summaryError(index int, err error) models.ProcessingError {
	return models.ProcessingError{
		Stage:      "summarization",
		ChunkIndex: index,
		Code:       "summary_failed",
		Message:    err.Error(),
	}
}
