package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel-backend/internal/config"
	"docintel-backend/models"
)

func pipelineTestConfig() *config.Config {
	return &config.Config{
		GeminiModel:             "test-model",
		TargetTokens:            40,
		OverlapTokens:           5,
		BoundaryTolerance:       0.1,
		MaxRepairAttempts:       2,
		MaxTransportRetries:     2,
		MaxConcurrentCalls:      4,
		LinkEntities:            true,
		EntityLinkThreshold:     0.8,
		WeightValidFraction:     0.40,
		WeightRepairPenalty:     0.25,
		WeightEntityConsistency: 0.20,
		WeightSelfReported:      0.15,
		DetectAnomalies:         true,
		AnomalyConfidenceFloor:  0.4,
		GenerateSummary:         true,
		ExtractEntities:         true,
	}
}

// fakeGenerator routes canned responses by prompt kind and tracks call
// concurrency.
type fakeGenerator struct {
	mu          sync.Mutex
	calls       int
	inFlight    int32
	maxInFlight int32
	delay       time.Duration
	respond     func(call int, prompt string) (string, int, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, int, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inFlight, -1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.respond(n, prompt)
}

// respondByPrompt answers every prompt kind the pipeline produces
func respondByPrompt(call int, prompt string) (string, int, error) {
	switch {
	case strings.Contains(prompt, "Extract structured data"):
		return validExtractionJSON, 50, nil
	case strings.Contains(prompt, "failed validation"):
		return validExtractionJSON, 50, nil
	case strings.Contains(prompt, "reviewing structured data"):
		return `{"anomalies": []}`, 10, nil
	default:
		// Chunk, section and global summary prompts.
		return "a concise summary of the content", 15, nil
	}
}

func testDocumentText() string {
	return sentenceWords(100)
}

func newTestPipeline(t *testing.T, cfg *config.Config, gen Generator) (*Pipeline, *SessionStore) {
	t.Helper()
	sessions := NewSessionStore(time.Minute)
	p, err := NewPipeline(cfg, gen, nil, sessions, nil)
	require.NoError(t, err)
	return p, sessions
}

func TestPipelineHappyPath(t *testing.T) {
	gen := &fakeGenerator{respond: respondByPrompt}
	p, sessions := newTestPipeline(t, pipelineTestConfig(), gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, models.StatusCompleted, result.Status)
	require.Len(t, result.Extractions, 3)
	for _, ex := range result.Extractions {
		assert.Equal(t, models.AttemptValid, ex.State)
		assert.Equal(t, 0, ex.RepairCount)
		assert.NotEmpty(t, ex.Summary)
	}

	// Every chunk reports the same entity, so linking merges them.
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Acme Corp", result.Entities[0].CanonicalValue)
	assert.Equal(t, []int{0, 1, 2}, result.Entities[0].ChunkIndices)

	assert.Greater(t, result.Confidence, 0.5)
	assert.NotEmpty(t, result.ConfidenceBand)

	globals := summariesOfLevel(result.Summaries, models.SummaryLevelGlobal)
	assert.Len(t, globals, 1)
	assert.Len(t, summariesOfLevel(result.Summaries, models.SummaryLevelChunk), 3)

	assert.Equal(t, 3, result.Metrics.ChunkCount)
	assert.Equal(t, 3, result.Metrics.ValidChunks)
	assert.Equal(t, 0, result.Metrics.ExhaustedChunks)
	assert.Equal(t, 0, result.Metrics.RepairAttempts)
	assert.Greater(t, result.Metrics.TokensUsed, 0)

	state, err := sessions.Get("doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, state.Status)
	assert.Equal(t, 3, state.ChunksDone)
}

func TestPipelineRepairsInvalidResponses(t *testing.T) {
	gen := &fakeGenerator{respond: func(call int, prompt string) (string, int, error) {
		if strings.Contains(prompt, "Extract structured data") {
			// Initial extraction attempts come back malformed.
			return `{"entities": []}`, 30, nil
		}
		return respondByPrompt(call, prompt)
	}}
	p, _ := newTestPipeline(t, pipelineTestConfig(), gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	require.Len(t, result.Extractions, 3)
	for _, ex := range result.Extractions {
		assert.Equal(t, models.AttemptValid, ex.State)
		assert.Equal(t, 1, ex.RepairCount)
		assert.Len(t, ex.Attempts, 2)
	}
	assert.Equal(t, 3, result.Metrics.RepairAttempts)
}

func TestPipelineAllExhaustedStillCompletes(t *testing.T) {
	gen := &fakeGenerator{respond: func(call int, prompt string) (string, int, error) {
		return "no structured output", 5, nil
	}}
	p, _ := newTestPipeline(t, pipelineTestConfig(), gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err, "a document with zero valid chunks still completes")

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Equal(t, models.ConfidenceVeryLow, result.ConfidenceBand)
	assert.Equal(t, 3, result.Metrics.ExhaustedChunks)
	assert.Empty(t, result.Entities)
	assert.Empty(t, summariesOfLevel(result.Summaries, models.SummaryLevelGlobal))

	exhausted := 0
	for _, pe := range result.Errors {
		if pe.Code == "repair_exhausted" {
			exhausted++
		}
	}
	assert.Equal(t, 3, exhausted)
}

func TestPipelineFatalErrorAbsorbed(t *testing.T) {
	gen := &fakeGenerator{respond: func(call int, prompt string) (string, int, error) {
		return "", 0, &FatalError{Err: errors.New("request blocked")}
	}}
	p, _ := newTestPipeline(t, pipelineTestConfig(), gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err, "fatal chunk failures are absorbed, not surfaced")

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 0.0, result.Confidence)
	for _, ex := range result.Extractions {
		assert.Equal(t, models.AttemptExhausted, ex.State)
	}

	fatal := 0
	for _, pe := range result.Errors {
		if pe.Code == "generative_fatal" {
			fatal++
		}
	}
	assert.Equal(t, 3, fatal)
}

func TestPipelineRetriesTransientErrors(t *testing.T) {
	var failed atomic.Bool
	gen := &fakeGenerator{respond: func(call int, prompt string) (string, int, error) {
		if failed.CompareAndSwap(false, true) {
			return "", 0, &TransientError{Err: errors.New("rate limited")}
		}
		return respondByPrompt(call, prompt)
	}}

	cfg := pipelineTestConfig()
	cfg.TargetTokens = 200 // single chunk
	p, _ := newTestPipeline(t, cfg, gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	require.Len(t, result.Extractions, 1)
	assert.Equal(t, models.AttemptValid, result.Extractions[0].State)
	assert.Equal(t, 1, result.Metrics.TransportRetries)
}

func TestPipelineTransientOutageConsumesOneAttempt(t *testing.T) {
	var outage atomic.Bool
	gen := &fakeGenerator{respond: func(call int, prompt string) (string, int, error) {
		if strings.Contains(prompt, "Extract structured data") && outage.CompareAndSwap(false, true) {
			return "", 0, &TransientError{Err: errors.New("upstream down")}
		}
		return respondByPrompt(call, prompt)
	}}

	cfg := pipelineTestConfig()
	cfg.TargetTokens = 200
	cfg.MaxTransportRetries = 0
	p, _ := newTestPipeline(t, cfg, gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	require.Len(t, result.Extractions, 1)
	assert.Equal(t, models.AttemptValid, result.Extractions[0].State,
		"one exhausted transport budget costs one attempt, not the whole chunk")
	require.Len(t, result.Extractions[0].Attempts, 2)
	assert.Equal(t, models.AttemptInvalid, result.Extractions[0].Attempts[0].State)
}

func TestPipelineTransientExhaustionAbsorbed(t *testing.T) {
	gen := &fakeGenerator{respond: func(call int, prompt string) (string, int, error) {
		return "", 0, &TransientError{Err: errors.New("upstream down")}
	}}

	cfg := pipelineTestConfig()
	cfg.TargetTokens = 200
	cfg.MaxTransportRetries = 1
	p, _ := newTestPipeline(t, cfg, gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	require.Len(t, result.Extractions, 1)
	assert.Equal(t, models.AttemptExhausted, result.Extractions[0].State)
	require.Len(t, result.Extractions[0].Attempts, 3, "every repair round spent its transport budget")
	for _, attempt := range result.Extractions[0].Attempts {
		assert.NotEmpty(t, attempt.Errors)
	}

	found := false
	for _, pe := range result.Errors {
		if pe.Code == "repair_exhausted" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPipelineChunkingFailureFailsDocument(t *testing.T) {
	gen := &fakeGenerator{respond: respondByPrompt}
	p, _ := newTestPipeline(t, pipelineTestConfig(), gen)

	result, err := p.Process(context.Background(), "doc-1", "   ", nil)
	require.Error(t, err)
	var ce *ChunkingError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, models.StatusFailed, result.Status)
}

func TestPipelineCancellation(t *testing.T) {
	gen := &fakeGenerator{
		delay:   5 * time.Second,
		respond: respondByPrompt,
	}
	p, sessions := newTestPipeline(t, pipelineTestConfig(), gen)

	type outcome struct {
		result *models.DocumentResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
		done <- outcome{result, err}
	}()

	// Wait for the run to register, then cancel it.
	require.Eventually(t, func() bool {
		_, err := sessions.Get("doc-1")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Cancel("doc-1"))

	select {
	case o := <-done:
		require.Error(t, o.err)
		assert.True(t, IsCancellation(o.err))
		assert.Equal(t, models.StatusCancelled, o.result.Status)
		assert.Nil(t, o.result.Extractions, "aggregation is discarded on cancel")
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled run did not return")
	}

	state, err := sessions.Get("doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, state.Status)
}

func TestPipelineConcurrencyCeiling(t *testing.T) {
	gen := &fakeGenerator{
		delay:   10 * time.Millisecond,
		respond: respondByPrompt,
	}
	cfg := pipelineTestConfig()
	cfg.MaxConcurrentCalls = 2
	cfg.TargetTokens = 15
	cfg.OverlapTokens = 2
	p, _ := newTestPipeline(t, cfg, gen)

	result, err := p.Process(context.Background(), "doc-1", testDocumentText(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Greater(t, len(result.Extractions), 2)
	assert.LessOrEqual(t, atomic.LoadInt32(&gen.maxInFlight), int32(2),
		"in-flight generative calls never exceed the configured ceiling")
}

func TestPipelineSeedStability(t *testing.T) {
	var prompts [2][]string
	for run := 0; run < 2; run++ {
		run := run
		var mu sync.Mutex
		gen := &fakeGenerator{respond: func(call int, prompt string) (string, int, error) {
			if strings.Contains(prompt, "Extract structured data") {
				mu.Lock()
				prompts[run] = append(prompts[run], prompt)
				mu.Unlock()
			}
			return respondByPrompt(call, prompt)
		}}
		cfg := pipelineTestConfig()
		cfg.TargetTokens = 200
		p, _ := newTestPipeline(t, cfg, gen)
		_, err := p.Process(context.Background(), "doc-stable", testDocumentText(), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, prompts[0], prompts[1], "the same document always sees the same prompts")
}

func TestDocumentSeed(t *testing.T) {
	assert.Equal(t, documentSeed("doc-1"), documentSeed("doc-1"))
	assert.NotEqual(t, documentSeed("doc-1"), documentSeed("doc-2"))
	assert.GreaterOrEqual(t, documentSeed("doc-1"), int64(0))
}
