package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"docintel-backend/internal/config"
	"docintel-backend/internal/logger"
	"docintel-backend/internal/telemetry"
	"docintel-backend/models"
)

// Generator is the boundary to the generative service. Implementations
// classify failures as TransientError or FatalError.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, int, error)
}

// Pipeline orchestrates the full document run: chunking, concurrent
// extraction with bounded repair, entity linking, confidence scoring,
// summaries and anomaly detection. One pipeline instance is shared by all
// documents; its semaphore is the global ceiling on in-flight generative
// calls.
type Pipeline struct {
	cfg        *config.Config
	generator  Generator
	chunker    *Chunker
	prompts    *PromptBuilder
	validator  *Validator
	repairer   *Repairer
	confidence *ConfidenceCalculator
	linker     *EntityLinker
	anomalies  *AnomalyDetector
	summarizer *Summarizer
	sessions   *SessionStore
	metrics    *telemetry.Metrics
	sem        *semaphore.Weighted
}

// NewPipeline wires the pipeline from configuration. embedder may be nil;
// metrics may be nil in tests.
func NewPipeline(cfg *config.Config, generator Generator, embedder Embedder, sessions *SessionStore, metrics *telemetry.Metrics) (*Pipeline, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}
	prompts := NewPromptBuilder()

	weights := ConfidenceWeights{
		ValidFraction:     cfg.WeightValidFraction,
		RepairPenalty:     cfg.WeightRepairPenalty,
		EntityConsistency: cfg.WeightEntityConsistency,
		SelfReported:      cfg.WeightSelfReported,
	}

	return &Pipeline{
		cfg:        cfg,
		generator:  generator,
		chunker:    NewChunker(cfg.TargetTokens, cfg.OverlapTokens, cfg.BoundaryTolerance, cfg.MinChunkTokens),
		prompts:    prompts,
		validator:  validator,
		repairer:   NewRepairer(validator, prompts, cfg.MaxRepairAttempts),
		confidence: NewConfidenceCalculator(weights),
		linker:     NewEntityLinker(cfg.EntityLinkThreshold, embedder),
		anomalies:  NewAnomalyDetector(validator, prompts, cfg.AnomalyConfidenceFloor, cfg.NumericPlausibleMax),
		summarizer: NewSummarizer(prompts),
		sessions:   sessions,
		metrics:    metrics,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
	}, nil
}

// chunkOutcome is the per-worker result handed across the join barrier
type chunkOutcome struct {
	extraction models.ChunkExtraction
	summary    string
	absorbed   []models.ProcessingError
}

// Process runs the pipeline over one document. The returned result is
// complete even when individual chunks failed; the error is non-nil only
// when the whole document failed (chunking error or cancellation).
func (p *Pipeline) Process(ctx context.Context, documentID, text string, pageOffsets []int) (*models.DocumentResult, error) {
	started := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &models.DocumentResult{
		DocumentID: documentID,
		Status:     models.StatusProcessing,
	}

	chunks, err := p.chunker.ChunkText(text, pageOffsets)
	if err != nil {
		result.Status = models.StatusFailed
		p.finish(result, started, documentID)
		return result, err
	}

	p.sessions.Begin(documentID, len(chunks), cancel)
	logger.Info("pipeline started", "document_id", documentID, "chunks", len(chunks))

	var transportRetries atomic.Int64
	call := p.boundedCall(&transportRetries)
	seed := documentSeed(documentID)

	outcomes := make([]chunkOutcome, len(chunks))
	g, workerCtx := errgroup.WithContext(runCtx)
	g.SetLimit(p.cfg.MaxConcurrentCalls)

	for i := range chunks {
		chunk := chunks[i]
		g.Go(func() error {
			chunkStart := time.Now()
			outcome, err := p.processChunk(workerCtx, chunk, seed, call)
			if err != nil {
				// Only cancellation crosses the join barrier as an error.
				return err
			}
			outcomes[chunk.Index] = outcome
			p.sessions.Progress(documentID)
			if p.metrics != nil {
				p.metrics.RecordChunkProcessing(time.Since(chunkStart).Seconds(), string(outcome.extraction.State))
				p.metrics.RecordRepairAttempts(int64(outcome.extraction.RepairCount), string(outcome.extraction.State))
			}
			return nil
		})
	}

	// Join barrier: nothing aggregates until every chunk worker finished.
	if err := g.Wait(); err != nil {
		result.Status = models.StatusCancelled
		result.Extractions = nil
		p.sessions.SetStatus(documentID, models.StatusCancelled)
		p.finish(result, started, documentID)
		logger.Warn("pipeline cancelled", "document_id", documentID)
		return result, err
	}

	for _, outcome := range outcomes {
		result.Extractions = append(result.Extractions, outcome.extraction)
		result.Errors = append(result.Errors, outcome.absorbed...)
	}

	// Aggregation stages run post-join and share the same call ceiling.
	if p.cfg.ExtractEntities && p.cfg.LinkEntities {
		entities, absorbed := p.linker.Link(runCtx, result.Extractions)
		result.Entities = entities
		result.Errors = append(result.Errors, absorbed...)
	}

	result.Confidence = p.confidence.DocumentConfidence(result.Extractions, result.Entities)
	result.ConfidenceBand = models.ConfidenceBand(result.Confidence)

	if p.cfg.GenerateSummary {
		chunkSummaries := p.collectChunkSummaries(outcomes)
		summaries, absorbed := p.summarizer.BuildHierarchy(runCtx, chunkSummaries, call)
		result.Summaries = summaries
		result.Errors = append(result.Errors, absorbed...)
	}

	if p.cfg.DetectAnomalies {
		result.Anomalies = p.anomalies.DetectRules(result.Extractions, result.Entities, time.Now())
		generative, err := p.anomalies.DetectGenerative(runCtx, result.Entities, result.Summaries, result.Confidence, call)
		if err != nil {
			result.Errors = append(result.Errors, models.ProcessingError{
				Stage:      "anomaly_detection",
				ChunkIndex: -1,
				Code:       "anomaly_detection_error",
				Message:    err.Error(),
			})
		} else {
			result.Anomalies = append(result.Anomalies, generative...)
		}
	}

	// A document with zero valid chunks still completes; the confidence
	// score carries the bad news.
	result.Status = models.StatusCompleted
	result.Metrics.TransportRetries = int(transportRetries.Load())
	p.sessions.SetStatus(documentID, models.StatusCompleted)
	p.finish(result, started, documentID)

	logger.Info("pipeline completed",
		"document_id", documentID,
		"chunks", len(chunks),
		"valid_chunks", result.Metrics.ValidChunks,
		"confidence", result.Confidence,
		"duration", result.Metrics.Duration.String(),
	)
	return result, nil
}

// processChunk runs one chunk through extraction with repair and, when
// enabled, the chunk summary. Fatal and prompt construction failures are
// absorbed into the outcome; only cancellation propagates.
func (p *Pipeline) processChunk(ctx context.Context, chunk models.DocumentChunk, seed int64, call CallFunc) (chunkOutcome, error) {
	outcome := chunkOutcome{}

	extraction, err := p.repairer.Run(ctx, chunk, seed+int64(chunk.Index), call)
	if err != nil {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		code := "prompt_build_failed"
		switch {
		case IsFatal(err):
			code = "generative_fatal"
		case IsTransient(err):
			code = "generative_transient_exhausted"
		}
		extraction.State = models.AttemptExhausted
		outcome.absorbed = append(outcome.absorbed, models.ProcessingError{
			Stage:      "extraction",
			ChunkIndex: chunk.Index,
			Code:       code,
			Message:    err.Error(),
		})
	} else if extraction.State == models.AttemptExhausted {
		re := &RepairExhausted{
			ChunkIndex: chunk.Index,
			Attempts:   len(extraction.Attempts),
		}
		if n := len(extraction.Attempts); n > 0 {
			re.LastErrors = extraction.Attempts[n-1].Errors
		}
		outcome.absorbed = append(outcome.absorbed, models.ProcessingError{
			Stage:      "extraction",
			ChunkIndex: chunk.Index,
			Code:       "repair_exhausted",
			Message:    re.Error(),
		})
	}
	outcome.extraction = extraction

	if p.cfg.GenerateSummary && extraction.State == models.AttemptValid {
		summary, err := p.summarizer.SummarizeChunk(ctx, chunk.Text, call)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			outcome.absorbed = append(outcome.absorbed, models.ProcessingError{
				Stage:      "summarization",
				ChunkIndex: chunk.Index,
				Code:       "summary_failed",
				Message:    err.Error(),
			})
		} else {
			outcome.summary = summary
			outcome.extraction.Summary = summary
		}
	}

	return outcome, nil
}

// boundedCall wraps the generator with the global semaphore and the
// transport retry policy. The semaphore is held only for the duration of
// the upstream call and released on every path; retries back off
// exponentially with jitter and give up on fatal errors immediately.
func (p *Pipeline) boundedCall(transportRetries *atomic.Int64) CallFunc {
	return func(ctx context.Context, prompt string) (string, int, error) {
		var tokens int

		operation := func() (string, error) {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return "", backoff.Permanent(err)
			}
			text, t, err := p.generator.Generate(ctx, prompt)
			p.sem.Release(1)
			tokens += t

			if p.metrics != nil {
				p.metrics.RecordGenerateCall(int64(t), p.cfg.GeminiModel, err == nil)
			}
			if err != nil {
				if IsTransient(err) {
					transportRetries.Add(1)
					if p.metrics != nil {
						p.metrics.RecordTransportRetries(1)
					}
					return "", err
				}
				return "", backoff.Permanent(err)
			}
			return text, nil
		}

		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = 500 * time.Millisecond
		expo.MaxInterval = 10 * time.Second

		text, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(expo),
			backoff.WithMaxTries(uint(p.cfg.MaxTransportRetries+1)),
		)
		if err != nil {
			return "", tokens, err
		}
		return text, tokens, nil
	}
}

func (p *Pipeline) collectChunkSummaries(outcomes []chunkOutcome) []models.Summary {
	var summaries []models.Summary
	for _, o := range outcomes {
		if o.summary == "" {
			continue
		}
		summaries = append(summaries, models.Summary{
			Level:           models.SummaryLevelChunk,
			Index:           o.extraction.ChunkIndex,
			Text:            o.summary,
			ConfidenceScore: p.confidence.ChunkConfidence(o.extraction),
			SourceChunks:    []int{o.extraction.ChunkIndex},
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Index < summaries[j].Index })
	return summaries
}

// finish fills run metrics and the completion timestamp
func (p *Pipeline) finish(result *models.DocumentResult, started time.Time, documentID string) {
	result.Metrics.ChunkCount = len(result.Extractions)
	for _, ex := range result.Extractions {
		switch ex.State {
		case models.AttemptValid:
			result.Metrics.ValidChunks++
		case models.AttemptExhausted:
			result.Metrics.ExhaustedChunks++
		}
		result.Metrics.GenerateCalls += len(ex.Attempts)
		result.Metrics.RepairAttempts += ex.RepairCount
		result.Metrics.TokensUsed += ex.TokensUsed
	}
	result.Metrics.Duration = time.Since(started)
	result.CompletedAt = time.Now()

	if p.metrics != nil {
		p.metrics.RecordDocumentProcessing(result.Metrics.Duration.Seconds(), result.Status)
	}
}

// Cancel aborts an in-flight run; the run surfaces as cancelled
func (p *Pipeline) Cancel(documentID string) error {
	return p.sessions.Cancel(documentID)
}

// Status returns the session snapshot for an in-flight or recent run
func (p *Pipeline) Status(documentID string) (SessionState, error) {
	return p.sessions.Get(documentID)
}

// documentSeed derives a stable per-document seed for prompt example
// rotation
func documentSeed(documentID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(documentID))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// IsCancellation reports whether the run error came from an explicit cancel
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
