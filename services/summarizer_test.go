package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel-backend/models"
)

func chunkSummary(index int, confidence float64) models.Summary {
	return models.Summary{
		Level:           models.SummaryLevelChunk,
		Index:           index,
		Text:            fmt.Sprintf("summary of chunk %d", index),
		ConfidenceScore: confidence,
		SourceChunks:    []int{index},
	}
}

func summariesOfLevel(summaries []models.Summary, level string) []models.Summary {
	var out []models.Summary
	for _, s := range summaries {
		if s.Level == level {
			out = append(out, s)
		}
	}
	return out
}

func TestSummarizeChunkTrims(t *testing.T) {
	s := NewSummarizer(NewPromptBuilder())
	call := func(ctx context.Context, prompt string) (string, int, error) {
		assert.Contains(t, prompt, "the excerpt text")
		return "  a short summary \n", 8, nil
	}

	out, err := s.SummarizeChunk(context.Background(), "the excerpt text", call)
	require.NoError(t, err)
	assert.Equal(t, "a short summary", out)
}

func TestBuildHierarchy(t *testing.T) {
	s := NewSummarizer(NewPromptBuilder())

	// Seven chunk summaries fold into two sections and one global summary.
	var chunkSummaries []models.Summary
	for i := 0; i < 7; i++ {
		chunkSummaries = append(chunkSummaries, chunkSummary(i, 0.8))
	}

	calls := 0
	call := func(ctx context.Context, prompt string) (string, int, error) {
		calls++
		return fmt.Sprintf("rollup %d", calls), 10, nil
	}

	summaries, absorbed := s.BuildHierarchy(context.Background(), chunkSummaries, call)
	require.Empty(t, absorbed)
	assert.Equal(t, 3, calls, "two section calls and one global call")

	chunks := summariesOfLevel(summaries, models.SummaryLevelChunk)
	sections := summariesOfLevel(summaries, models.SummaryLevelSection)
	globals := summariesOfLevel(summaries, models.SummaryLevelGlobal)
	assert.Len(t, chunks, 7)
	require.Len(t, sections, 2)
	require.Len(t, globals, 1)

	assert.Equal(t, 0, sections[0].Index)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, sections[0].SourceChunks)
	assert.Equal(t, 1, sections[1].Index)
	assert.Equal(t, []int{5, 6}, sections[1].SourceChunks)
	assert.InDelta(t, 0.8, sections[0].ConfidenceScore, 1e-9)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, globals[0].SourceChunks)
}

func TestBuildHierarchyUnorderedInput(t *testing.T) {
	s := NewSummarizer(NewPromptBuilder())
	chunkSummaries := []models.Summary{
		chunkSummary(2, 0.9), chunkSummary(0, 0.9), chunkSummary(1, 0.9),
	}

	var sectionPrompt string
	call := func(ctx context.Context, prompt string) (string, int, error) {
		if strings.Contains(prompt, "consecutive parts") {
			sectionPrompt = prompt
		}
		return "rollup", 10, nil
	}

	summaries, absorbed := s.BuildHierarchy(context.Background(), chunkSummaries, call)
	require.Empty(t, absorbed)

	sections := summariesOfLevel(summaries, models.SummaryLevelSection)
	require.Len(t, sections, 1)
	assert.Equal(t, []int{0, 1, 2}, sections[0].SourceChunks)

	// The section prompt sees the chunk summaries in document order.
	assert.Less(t,
		strings.Index(sectionPrompt, "summary of chunk 0"),
		strings.Index(sectionPrompt, "summary of chunk 2"))
}

func TestBuildHierarchySectionFailureAbsorbed(t *testing.T) {
	s := NewSummarizer(NewPromptBuilder())
	var chunkSummaries []models.Summary
	for i := 0; i < 10; i++ {
		chunkSummaries = append(chunkSummaries, chunkSummary(i, 0.7))
	}

	calls := 0
	call := func(ctx context.Context, prompt string) (string, int, error) {
		calls++
		if calls == 1 {
			return "", 0, errors.New("upstream timeout")
		}
		return "rollup", 10, nil
	}

	summaries, absorbed := s.BuildHierarchy(context.Background(), chunkSummaries, call)
	require.Len(t, absorbed, 1)
	assert.Equal(t, "summarization", absorbed[0].Stage)
	assert.Equal(t, 0, absorbed[0].ChunkIndex, "failed section index is recorded")

	sections := summariesOfLevel(summaries, models.SummaryLevelSection)
	globals := summariesOfLevel(summaries, models.SummaryLevelGlobal)
	require.Len(t, sections, 1, "the surviving section is kept")
	assert.Equal(t, 1, sections[0].Index)
	assert.Len(t, globals, 1, "global is built from surviving sections")
}

func TestBuildHierarchyAllSectionsFail(t *testing.T) {
	s := NewSummarizer(NewPromptBuilder())
	var chunkSummaries []models.Summary
	for i := 0; i < 7; i++ {
		chunkSummaries = append(chunkSummaries, chunkSummary(i, 0.7))
	}

	call := func(ctx context.Context, prompt string) (string, int, error) {
		return "", 0, errors.New("upstream down")
	}

	summaries, absorbed := s.BuildHierarchy(context.Background(), chunkSummaries, call)
	assert.Len(t, absorbed, 2)
	assert.Empty(t, summariesOfLevel(summaries, models.SummaryLevelSection))
	assert.Empty(t, summariesOfLevel(summaries, models.SummaryLevelGlobal))
	assert.Len(t, summariesOfLevel(summaries, models.SummaryLevelChunk), 7)
}

func TestBuildHierarchyEmpty(t *testing.T) {
	s := NewSummarizer(NewPromptBuilder())
	call := func(ctx context.Context, prompt string) (string, int, error) {
		t.Fatal("no calls expected for empty input")
		return "", 0, nil
	}

	summaries, absorbed := s.BuildHierarchy(context.Background(), nil, call)
	assert.Empty(t, summaries)
	assert.Empty(t, absorbed)
}
