package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document represents an uploaded document tracked through the extraction pipeline
type Document struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Filename       string             `bson:"filename" json:"filename"`
	OriginalName   string             `bson:"original_name" json:"original_name"`
	ContentType    string             `bson:"content_type" json:"content_type"`
	FileHash       string             `bson:"file_hash" json:"file_hash"` // For deduplication
	Size           int64              `bson:"size" json:"size"`
	Status         string             `bson:"status" json:"status"` // uploaded, processing, completed, failed, cancelled
	CompressedText []byte             `bson:"compressed_text,omitempty" json:"-"`
	Compression    string             `bson:"compression,omitempty" json:"-"`
	PageOffsets    []int              `bson:"page_offsets,omitempty" json:"-"` // byte offset where each page starts
	PageCount      int                `bson:"page_count" json:"page_count"`
	CharCount      int                `bson:"char_count" json:"char_count"`
	ErrorMessage   string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt     time.Time          `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt    *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// DocumentChunk is a contiguous span of the source text produced by the chunker.
// Offsets are byte positions into the source; token positions are indices into
// the whitespace token stream. Concatenating the non-overlap region of every
// chunk in index order reproduces the source text exactly.
type DocumentChunk struct {
	Index         int    `bson:"index" json:"index"`
	Text          string `bson:"text" json:"text"`
	StartOffset   int    `bson:"start_offset" json:"start_offset"`
	EndOffset     int    `bson:"end_offset" json:"end_offset"`
	StartToken    int    `bson:"start_token" json:"start_token"`
	EndToken      int    `bson:"end_token" json:"end_token"`
	TokenCount    int    `bson:"token_count" json:"token_count"`
	OverlapTokens int    `bson:"overlap_tokens" json:"overlap_tokens"` // tokens shared with the previous chunk
	Page          int    `bson:"page,omitempty" json:"page,omitempty"`
	Oversized     bool   `bson:"oversized,omitempty" json:"oversized,omitempty"` // single unit larger than the target size
}

// UploadResponse is returned after a successful upload
type UploadResponse struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	PageCount   int    `json:"page_count,omitempty"`
	Message     string `json:"message"`
	TaskID      string `json:"task_id,omitempty"` // For async processing
}

// Document status constants
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)
