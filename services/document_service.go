package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"docintel-backend/internal/config"
	"docintel-backend/internal/logger"
	"docintel-backend/models"
	"docintel-backend/utils"
)

// DocumentService owns document ingestion and ties uploads to pipeline runs
type DocumentService struct {
	cfg      *config.Config
	repo     *Repository
	pipeline *Pipeline
	cache    *ResultCache
}

// NewDocumentService creates the service. cache may be nil.
func NewDocumentService(cfg *config.Config, repo *Repository, pipeline *Pipeline, cache *ResultCache) *DocumentService {
	return &DocumentService{
		cfg:      cfg,
		repo:     repo,
		pipeline: pipeline,
		cache:    cache,
	}
}

// extractedText is the ingestion boundary output: plain text plus the byte
// offset where each page starts
type extractedText struct {
	text        string
	pageOffsets []int
	pageCount   int
}

// Upload validates and stores an uploaded file. Re-uploading identical
// content returns the existing document.
func (s *DocumentService) Upload(ctx context.Context, filename, contentType string, content []byte) (*models.Document, bool, error) {
	if int64(len(content)) > s.cfg.MaxFileSize {
		return nil, false, fmt.Errorf("file exceeds maximum size of %d bytes", s.cfg.MaxFileSize)
	}
	if !s.typeAllowed(contentType) {
		return nil, false, fmt.Errorf("unsupported content type %q", contentType)
	}

	hash := utils.HashBytes(content)
	if existing, err := s.repo.FindDocumentByHash(ctx, hash); err == nil {
		logger.Info("duplicate upload detected", "document_id", existing.ID.Hex(), "file_hash", hash)
		return existing, true, nil
	}

	extracted, err := s.extractText(contentType, content)
	if err != nil {
		return nil, false, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(extracted.text) == "" {
		return nil, false, fmt.Errorf("document contains no extractable text")
	}

	doc := &models.Document{
		Filename:     filename,
		OriginalName: filename,
		ContentType:  contentType,
		FileHash:     hash,
		Size:         int64(len(content)),
		Status:       models.StatusUploaded,
		PageOffsets:  extracted.pageOffsets,
		PageCount:    extracted.pageCount,
		CharCount:    len(extracted.text),
	}
	if err := s.repo.InsertDocument(ctx, doc, extracted.text); err != nil {
		return nil, false, err
	}

	logger.Info("document uploaded",
		"document_id", doc.ID.Hex(),
		"filename", filename,
		"pages", extracted.pageCount,
		"chars", len(extracted.text),
	)
	return doc, false, nil
}

// Process runs the pipeline over a stored document and persists the result.
// It is invoked by the queue worker or inline for small documents.
func (s *DocumentService) Process(ctx context.Context, documentID string) (*models.DocumentResult, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	text, err := s.repo.DocumentText(doc)
	if err != nil {
		return nil, fmt.Errorf("decompress document text: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, documentID)
	}
	if err := s.repo.UpdateDocumentStatus(ctx, documentID, models.StatusProcessing, ""); err != nil {
		return nil, err
	}

	result, runErr := s.pipeline.Process(ctx, documentID, text, doc.PageOffsets)

	// Persist whatever the run produced before reporting the error. A
	// cancelled run keeps its cancelled status; chunking failures fail the
	// document.
	if err := s.repo.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("failed to save result", "document_id", documentID, "error", err)
	}

	errorMessage := ""
	if runErr != nil {
		errorMessage = runErr.Error()
	}
	if err := s.repo.UpdateDocumentStatus(context.WithoutCancel(ctx), documentID, result.Status, errorMessage); err != nil {
		logger.Error("failed to update document status", "document_id", documentID, "error", err)
	}

	if runErr == nil && s.cache != nil {
		s.cache.Set(ctx, result)
	}
	return result, runErr
}

// Result returns the stored result, preferring the cache
func (s *DocumentService) Result(ctx context.Context, documentID string) (*models.DocumentResult, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, documentID); err == nil && cached != nil {
			return cached, nil
		}
	}
	result, err := s.repo.GetResult(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && result.Status == models.StatusCompleted {
		s.cache.Set(ctx, result)
	}
	return result, nil
}

// Cancel aborts an in-flight run for the document
func (s *DocumentService) Cancel(documentID string) error {
	return s.pipeline.Cancel(documentID)
}

// Status reports live progress for an in-flight run, falling back to the
// stored document status
func (s *DocumentService) Status(ctx context.Context, documentID string) (SessionState, error) {
	if state, err := s.pipeline.Status(documentID); err == nil {
		return state, nil
	}
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return SessionState{}, err
	}
	return SessionState{
		DocumentID: documentID,
		Status:     doc.Status,
		UpdatedAt:  doc.UploadedAt,
	}, nil
}

// List returns recent documents without their text payloads
func (s *DocumentService) List(ctx context.Context, limit int64) ([]models.Document, error) {
	return s.repo.ListDocuments(ctx, limit)
}

func (s *DocumentService) typeAllowed(contentType string) bool {
	for _, allowed := range s.cfg.AllowedTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), contentType) {
			return true
		}
	}
	return false
}

// extractText pulls plain text and page boundaries out of the upload
func (s *DocumentService) extractText(contentType string, content []byte) (*extractedText, error) {
	switch {
	case strings.EqualFold(contentType, "application/pdf"):
		return extractPDFText(content)
	default:
		return &extractedText{
			text:        string(content),
			pageOffsets: []int{0},
			pageCount:   1,
		}, nil
	}
}

// extractPDFText extracts text page by page and records where each page
// starts in the concatenated text
func extractPDFText(content []byte) (*extractedText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var textBuilder strings.Builder
	var pageOffsets []int
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}

		pageOffsets = append(pageOffsets, textBuilder.Len())
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	return &extractedText{
		text:        textBuilder.String(),
		pageOffsets: pageOffsets,
		pageCount:   pages,
	}, nil
}
