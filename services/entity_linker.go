package services

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"

	"docintel-backend/models"
)

// Embedder resolves a text to an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EntityLinker merges entity mentions across chunks into canonical entities.
// Mentions of the same type whose similarity reaches the threshold are
// clustered with union-find, so the result does not depend on input order.
type EntityLinker struct {
	threshold   float64
	embedder    Embedder // optional; surface similarity alone when nil
	embedWeight float64
}

// NewEntityLinker creates a linker. embedder may be nil, in which case only
// normalized surface similarity is used.
func NewEntityLinker(threshold float64, embedder Embedder) *EntityLinker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &EntityLinker{
		threshold:   threshold,
		embedder:    embedder,
		embedWeight: 0.6,
	}
}

type mention struct {
	entity     models.ExtractedEntity
	chunkIndex int
	normalized string
}

// Link clusters the entities of all valid chunk payloads. Embedding failures
// degrade that mention to surface similarity and are reported as absorbed
// errors; they never fail the run.
func (l *EntityLinker) Link(ctx context.Context, extractions []models.ChunkExtraction) ([]models.LinkedEntity, []models.ProcessingError) {
	var mentions []mention
	for _, ex := range extractions {
		if ex.State != models.AttemptValid || ex.Payload == nil {
			continue
		}
		for _, e := range ex.Payload.Entities {
			if strings.TrimSpace(e.EntityValue) == "" {
				continue
			}
			mentions = append(mentions, mention{
				entity:     e,
				chunkIndex: ex.ChunkIndex,
				normalized: NormalizeEntityValue(e.EntityValue),
			})
		}
	}
	if len(mentions) == 0 {
		return nil, nil
	}

	// Canonical ordering makes clustering independent of input permutation.
	sort.Slice(mentions, func(i, j int) bool {
		if mentions[i].normalized != mentions[j].normalized {
			return mentions[i].normalized < mentions[j].normalized
		}
		if mentions[i].chunkIndex != mentions[j].chunkIndex {
			return mentions[i].chunkIndex < mentions[j].chunkIndex
		}
		return mentions[i].entity.EntityValue < mentions[j].entity.EntityValue
	})

	var absorbed []models.ProcessingError
	vectors := make(map[string][]float32)
	if l.embedder != nil {
		seen := make(map[string]bool)
		for _, m := range mentions {
			if seen[m.normalized] {
				continue
			}
			seen[m.normalized] = true
			vec, err := l.embedder.Embed(ctx, m.normalized)
			if err != nil {
				linkErr := &EntityLinkError{EntityValue: m.entity.EntityValue, Err: err}
				absorbed = append(absorbed, models.ProcessingError{
					Stage:      "entity_linking",
					ChunkIndex: m.chunkIndex,
					Code:       "entity_link_error",
					Message:    linkErr.Error(),
				})
				continue
			}
			vectors[m.normalized] = vec
		}
	}

	parent := make([]int, len(mentions))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// Smaller root wins so merges are deterministic.
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for i := 0; i < len(mentions); i++ {
		for j := i + 1; j < len(mentions); j++ {
			if !sameEntityType(mentions[i].entity.EntityType, mentions[j].entity.EntityType) {
				continue
			}
			if l.similarity(mentions[i], mentions[j], vectors) >= l.threshold {
				union(i, j)
			}
		}
	}

	clusters := make(map[int][]mention)
	for i, m := range mentions {
		root := find(i)
		clusters[root] = append(clusters[root], m)
	}

	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	linked := make([]models.LinkedEntity, 0, len(roots))
	for _, root := range roots {
		linked = append(linked, buildLinkedEntity(clusters[root]))
	}
	return linked, absorbed
}

// similarity blends embedding cosine with normalized edit-distance
// similarity. Identical normalized forms always match; one form containing
// the other counts as a full surface match when their lengths are close.
func (l *EntityLinker) similarity(a, b mention, vectors map[string][]float32) float64 {
	if a.normalized == b.normalized {
		return 1.0
	}
	surface := levenshtein.Similarity(a.normalized, b.normalized, nil)
	if containsForm(a.normalized, b.normalized) {
		surface = 1.0
	}

	va, okA := vectors[a.normalized]
	vb, okB := vectors[b.normalized]
	if !okA || !okB {
		return surface
	}
	cos := cosineSimilarity(va, vb)
	return l.embedWeight*cos + (1-l.embedWeight)*surface
}

func buildLinkedEntity(cluster []mention) models.LinkedEntity {
	canonical := cluster[0]
	maxConfidence := canonical.entity.ConfidenceScore
	variantSet := make(map[string]bool)
	chunkSet := make(map[int]bool)

	for _, m := range cluster {
		variantSet[m.entity.EntityValue] = true
		chunkSet[m.chunkIndex] = true
		if m.entity.ConfidenceScore > maxConfidence {
			maxConfidence = m.entity.ConfidenceScore
		}
		// Canonical form comes from the most confident mention; ties go to
		// the earliest chunk, then the lexicographically smallest value.
		if m.entity.ConfidenceScore > canonical.entity.ConfidenceScore {
			canonical = m
		} else if m.entity.ConfidenceScore == canonical.entity.ConfidenceScore {
			if m.chunkIndex < canonical.chunkIndex ||
				(m.chunkIndex == canonical.chunkIndex && m.entity.EntityValue < canonical.entity.EntityValue) {
				canonical = m
			}
		}
	}

	variants := make([]string, 0, len(variantSet))
	for v := range variantSet {
		variants = append(variants, v)
	}
	sort.Strings(variants)

	chunks := make([]int, 0, len(chunkSet))
	for c := range chunkSet {
		chunks = append(chunks, c)
	}
	sort.Ints(chunks)

	return models.LinkedEntity{
		ID:              uuid.NewString(),
		EntityType:      strings.ToLower(strings.TrimSpace(canonical.entity.EntityType)),
		CanonicalValue:  canonical.entity.EntityValue,
		Variants:        variants,
		ConfidenceScore: maxConfidence,
		ChunkIndices:    chunks,
		Occurrences:     len(cluster),
	}
}

func sameEntityType(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// containsForm reports whether one normalized form contains the other.
// Forms whose lengths differ by more than half the longer one are never
// considered the same entity.
func containsForm(a, b string) bool {
	longer, shorter := a, b
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	if shorter == "" || len(longer)-len(shorter) > len(longer)/2 {
		return false
	}
	return strings.Contains(longer, shorter)
}

var corporateSuffixes = []string{
	" incorporated", " corporation", " company", " limited",
	" corp", " inc", " llc", " ltd",
}

// NormalizeEntityValue lowercases, collapses whitespace and strips common
// corporate decorations so surface variants compare equal
func NormalizeEntityValue(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.Join(strings.Fields(normalized), " ")
	normalized = strings.TrimSuffix(normalized, ".")
	normalized = strings.TrimSuffix(normalized, ",")
	normalized = strings.TrimPrefix(normalized, "the ")
	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range corporateSuffixes {
			if strings.HasSuffix(normalized, suffix) {
				normalized = strings.TrimSpace(strings.TrimSuffix(normalized, suffix))
				stripped = true
			}
		}
	}
	return normalized
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
