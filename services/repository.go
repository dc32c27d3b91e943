package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docintel-backend/models"
	"docintel-backend/utils"
)

// ErrDocumentNotFound is returned for lookups of unknown documents
var ErrDocumentNotFound = errors.New("document not found")

// Repository persists documents and pipeline results in MongoDB. Document
// text is stored compressed.
type Repository struct {
	documents *mongo.Collection
	results   *mongo.Collection
}

// NewRepository creates a repository over the given database
func NewRepository(client *mongo.Client, dbName string) *Repository {
	db := client.Database(dbName)
	return &Repository{
		documents: db.Collection("documents"),
		results:   db.Collection("results"),
	}
}

// InsertDocument stores a new document with its compressed text
func (r *Repository) InsertDocument(ctx context.Context, doc *models.Document, text string) error {
	compressed, algorithm, err := utils.CompressText(text)
	if err != nil {
		return fmt.Errorf("compress document text: %w", err)
	}
	doc.CompressedText = compressed
	doc.Compression = string(algorithm)
	doc.CharCount = len(text)
	doc.UploadedAt = time.Now()

	res, err := r.documents.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		doc.ID = oid
	}
	return nil
}

// GetDocument loads a document by ID
func (r *Repository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrDocumentNotFound
	}

	var doc models.Document
	err = r.documents.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindDocumentByHash returns a previously uploaded document with the same
// content hash, used for upload deduplication
func (r *Repository) FindDocumentByHash(ctx context.Context, hash string) (*models.Document, error) {
	var doc models.Document
	err := r.documents.FindOne(ctx, bson.M{"file_hash": hash}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DocumentText decompresses and returns the stored source text
func (r *Repository) DocumentText(doc *models.Document) (string, error) {
	return utils.DecompressText(doc.CompressedText, utils.CompressionAlgorithm(doc.Compression))
}

// UpdateDocumentStatus records a status transition
func (r *Repository) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrDocumentNotFound
	}

	update := bson.M{
		"status": status,
	}
	if errorMessage != "" {
		update["error_message"] = errorMessage
	}
	if status == models.StatusCompleted || status == models.StatusFailed || status == models.StatusCancelled {
		now := time.Now()
		update["processed_at"] = now
	}

	_, err = r.documents.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": update})
	return err
}

// FailStaleProcessing marks documents stuck in processing for longer than
// maxAge as failed. Covers worker crashes that never wrote a terminal status.
func (r *Repository) FailStaleProcessing(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := r.documents.UpdateMany(ctx,
		bson.M{
			"status":      models.StatusProcessing,
			"uploaded_at": bson.M{"$lt": cutoff},
		},
		bson.M{"$set": bson.M{
			"status":        models.StatusFailed,
			"error_message": "processing timed out",
			"processed_at":  time.Now(),
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// SaveResult upserts the pipeline result for a document
func (r *Repository) SaveResult(ctx context.Context, result *models.DocumentResult) error {
	_, err := r.results.UpdateOne(ctx,
		bson.M{"document_id": result.DocumentID},
		bson.M{"$set": result},
		options.Update().SetUpsert(true),
	)
	return err
}

// GetResult loads the stored result for a document
func (r *Repository) GetResult(ctx context.Context, documentID string) (*models.DocumentResult, error) {
	var result models.DocumentResult
	err := r.results.FindOne(ctx, bson.M{"document_id": documentID}).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDocuments returns recent documents, newest first
func (r *Repository) ListDocuments(ctx context.Context, limit int64) ([]models.Document, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "uploaded_at", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"compressed_text": 0})

	cursor, err := r.documents.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
