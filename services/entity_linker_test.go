package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel-backend/models"
)

func extractionWithEntities(chunkIndex int, entities ...models.ExtractedEntity) models.ChunkExtraction {
	return models.ChunkExtraction{
		ChunkIndex: chunkIndex,
		State:      models.AttemptValid,
		Payload:    &models.ExtractionPayload{Entities: entities},
	}
}

func org(value string, confidence float64) models.ExtractedEntity {
	return models.ExtractedEntity{EntityType: "organization", EntityValue: value, ConfidenceScore: confidence}
}

func TestLinkMergesVariants(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0, org("Acme Corp", 0.9)),
		extractionWithEntities(2, org("ACME", 0.7)),
		extractionWithEntities(4, org("The Acme Company", 0.6)),
	}

	linked, absorbed := linker.Link(context.Background(), extractions)
	require.Empty(t, absorbed)
	require.Len(t, linked, 1)

	e := linked[0]
	assert.Equal(t, "Acme Corp", e.CanonicalValue, "canonical form comes from the highest-confidence mention")
	assert.Equal(t, 0.9, e.ConfidenceScore)
	assert.Equal(t, []string{"ACME", "Acme Corp", "The Acme Company"}, e.Variants)
	assert.Equal(t, []int{0, 2, 4}, e.ChunkIndices)
	assert.Equal(t, 3, e.Occurrences)
	assert.Equal(t, "organization", e.EntityType)
	assert.NotEmpty(t, e.ID)
}

func TestLinkMergesLongCorporateForms(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0, org("Acme Corp", 0.9)),
		extractionWithEntities(1, org("ACME Corporation", 0.7)),
	}

	linked, _ := linker.Link(context.Background(), extractions)
	require.Len(t, linked, 1)
	assert.Equal(t, "Acme Corp", linked[0].CanonicalValue)
	assert.Equal(t, []int{0, 1}, linked[0].ChunkIndices)
}

func TestLinkMergesContainedForms(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0, org("Globex", 0.9)),
		extractionWithEntities(1, org("Globex Intl", 0.8)),
	}

	linked, _ := linker.Link(context.Background(), extractions)
	require.Len(t, linked, 1, "a short form contained in a longer one merges")
}

func TestLinkKeepsDistinctEntities(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0, org("Acme Corp", 0.9), org("Globex Corporation", 0.8)),
	}

	linked, _ := linker.Link(context.Background(), extractions)
	require.Len(t, linked, 2)
}

func TestLinkRespectsEntityType(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0,
			models.ExtractedEntity{EntityType: "organization", EntityValue: "Jordan", ConfidenceScore: 0.9},
			models.ExtractedEntity{EntityType: "person", EntityValue: "Jordan", ConfidenceScore: 0.8},
		),
	}

	linked, _ := linker.Link(context.Background(), extractions)
	require.Len(t, linked, 2, "same value under different types stays separate")
}

func TestLinkOrderIndependent(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	forward := []models.ChunkExtraction{
		extractionWithEntities(0, org("Acme Corp", 0.9)),
		extractionWithEntities(1, org("ACME", 0.7), org("Globex", 0.8)),
		extractionWithEntities(2, org("Acme Corp.", 0.9)),
	}
	reversed := []models.ChunkExtraction{forward[2], forward[1], forward[0]}

	a, _ := linker.Link(context.Background(), forward)
	b, _ := linker.Link(context.Background(), reversed)
	require.Equal(t, len(a), len(b))

	for i := range a {
		assert.Equal(t, a[i].CanonicalValue, b[i].CanonicalValue)
		assert.Equal(t, a[i].Variants, b[i].Variants)
		assert.Equal(t, a[i].ChunkIndices, b[i].ChunkIndices)
		assert.Equal(t, a[i].ConfidenceScore, b[i].ConfidenceScore)
	}
}

func TestLinkCanonicalTieBreak(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	extractions := []models.ChunkExtraction{
		extractionWithEntities(5, org("acme corp", 0.8)),
		extractionWithEntities(1, org("Acme Corp", 0.8)),
	}

	linked, _ := linker.Link(context.Background(), extractions)
	require.Len(t, linked, 1)
	assert.Equal(t, "Acme Corp", linked[0].CanonicalValue, "equal confidence ties go to the earliest chunk")
}

func TestLinkSkipsInvalidChunks(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0, org("Acme Corp", 0.9)),
		{ChunkIndex: 1, State: models.AttemptExhausted},
		{ChunkIndex: 2, State: models.AttemptValid, Payload: nil},
	}

	linked, absorbed := linker.Link(context.Background(), extractions)
	assert.Empty(t, absorbed)
	require.Len(t, linked, 1)
	assert.Equal(t, []int{0}, linked[0].ChunkIndices)
}

func TestLinkEmpty(t *testing.T) {
	linker := NewEntityLinker(0.8, nil)
	linked, absorbed := linker.Link(context.Background(), nil)
	assert.Nil(t, linked)
	assert.Nil(t, absorbed)
}

// stubEmbedder returns fixed vectors per normalized value
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	vec, ok := s.vectors[text]
	if !ok {
		return nil, errors.New("no vector")
	}
	return vec, nil
}

func TestLinkEmbeddingsSeparateNearForms(t *testing.T) {
	// Surface similarity alone would merge these, but orthogonal embeddings
	// pull the blended similarity below the threshold.
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0, org("alpha beta", 0.9)),
		extractionWithEntities(1, org("alpha betas", 0.8)),
	}

	surfaceOnly := NewEntityLinker(0.8, nil)
	linked, _ := surfaceOnly.Link(context.Background(), extractions)
	require.Len(t, linked, 1)

	embedded := NewEntityLinker(0.8, &stubEmbedder{vectors: map[string][]float32{
		"alpha beta":  {1, 0},
		"alpha betas": {0, 1},
	}})
	linked, absorbed := embedded.Link(context.Background(), extractions)
	assert.Empty(t, absorbed)
	require.Len(t, linked, 2)
}

func TestLinkEmbedderFailureAbsorbed(t *testing.T) {
	linker := NewEntityLinker(0.8, &stubEmbedder{err: errors.New("quota exceeded")})
	extractions := []models.ChunkExtraction{
		extractionWithEntities(0, org("Acme Corp", 0.9)),
		extractionWithEntities(1, org("ACME", 0.7)),
	}

	linked, absorbed := linker.Link(context.Background(), extractions)
	require.NotEmpty(t, absorbed)
	for _, e := range absorbed {
		assert.Equal(t, "entity_linking", e.Stage)
	}
	// Surface similarity still merges the variants.
	require.Len(t, linked, 1)
	assert.Equal(t, 2, linked[0].Occurrences)
}

func TestNormalizeEntityValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme"},
		{"ACME", "acme"},
		{"The Acme Company", "acme"},
		{"  Globex   LLC ", "globex"},
		{"Initech Inc.", "initech"},
		{"ACME Corporation", "acme"},
		{"Hooli Incorporated", "hooli"},
		{"Pied Piper Limited", "pied piper"},
		{"Acme Corp Inc", "acme"},
		{"Umbrella Ltd,", "umbrella"},
		{"plain value", "plain value"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEntityValue(tt.in), "input %q", tt.in)
	}
}
