package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"docintel-backend/internal/logger"
	"docintel-backend/services"
)

const (
	TaskProcessDocument = "document:process"
)

type DocumentProcessPayload struct {
	DocumentID string `json:"document_id"`
}

// NewDocumentProcessTask creates the background processing task for a
// document. Exhausted retries land in the asynq archive for inspection.
func NewDocumentProcessTask(documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentProcessPayload{
		DocumentID: documentID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskProcessDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// TaskProcessor handles queued pipeline work
type TaskProcessor struct {
	documents *services.DocumentService
}

func NewTaskProcessor(documents *services.DocumentService) *TaskProcessor {
	return &TaskProcessor{
		documents: documents,
	}
}

// ProcessDocument runs the pipeline for one queued document
func (p *TaskProcessor) ProcessDocument(ctx context.Context, t *asynq.Task) error {
	var payload DocumentProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("processing document task", "document_id", payload.DocumentID)

	result, err := p.documents.Process(ctx, payload.DocumentID)
	if err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			return fmt.Errorf("document %s not found: %w", payload.DocumentID, asynq.SkipRetry)
		}
		if services.IsCancellation(err) {
			logger.Info("document run cancelled", "document_id", payload.DocumentID)
			return asynq.SkipRetry // Cancellation is deliberate, never retry
		}
		var chunkErr *services.ChunkingError
		if errors.As(err, &chunkErr) {
			return fmt.Errorf("%v: %w", chunkErr, asynq.SkipRetry) // Deterministic failure
		}
		return err // Will retry
	}

	logger.Info("document task completed",
		"document_id", payload.DocumentID,
		"status", result.Status,
		"confidence", result.Confidence,
	)
	return nil
}
