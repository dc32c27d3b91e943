package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Confidence bands
const (
	ConfidenceHigh    = "high"
	ConfidenceMedium  = "medium"
	ConfidenceLow     = "low"
	ConfidenceVeryLow = "very_low"
)

// ConfidenceBand maps a score in [0,1] to its reporting band
func ConfidenceBand(score float64) string {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	case score >= 0.4:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// ProcessingError is a non-fatal failure absorbed during a pipeline run
type ProcessingError struct {
	Stage      string `bson:"stage" json:"stage"`
	ChunkIndex int    `bson:"chunk_index" json:"chunk_index"` // -1 when not chunk-scoped
	Code       string `bson:"code" json:"code"`
	Message    string `bson:"message" json:"message"`
}

// ProcessingMetrics aggregates counters for one pipeline run
type ProcessingMetrics struct {
	ChunkCount       int           `bson:"chunk_count" json:"chunk_count"`
	ValidChunks      int           `bson:"valid_chunks" json:"valid_chunks"`
	ExhaustedChunks  int           `bson:"exhausted_chunks" json:"exhausted_chunks"`
	GenerateCalls    int           `bson:"generate_calls" json:"generate_calls"`
	RepairAttempts   int           `bson:"repair_attempts" json:"repair_attempts"`
	TransportRetries int           `bson:"transport_retries" json:"transport_retries"`
	TokensUsed       int           `bson:"tokens_used" json:"tokens_used"`
	Duration         time.Duration `bson:"duration" json:"duration"`
}

// DocumentResult is the complete output of one pipeline run over a document
type DocumentResult struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	DocumentID     string             `bson:"document_id" json:"document_id"`
	Status         string             `bson:"status" json:"status"`
	Extractions    []ChunkExtraction  `bson:"extractions" json:"extractions"`
	Entities       []LinkedEntity     `bson:"entities" json:"entities"`
	Summaries      []Summary          `bson:"summaries" json:"summaries"`
	Anomalies      []Anomaly          `bson:"anomalies" json:"anomalies"`
	Confidence     float64            `bson:"confidence" json:"confidence"`
	ConfidenceBand string             `bson:"confidence_band" json:"confidence_band"`
	Errors         []ProcessingError  `bson:"errors,omitempty" json:"errors,omitempty"`
	Metrics        ProcessingMetrics  `bson:"metrics" json:"metrics"`
	CompletedAt    time.Time          `bson:"completed_at" json:"completed_at"`
}
