package models

// LinkedEntity is a cluster of entity mentions merged across chunks.
// CanonicalValue is the surface form of the highest-confidence member;
// ConfidenceScore is the maximum over all members.
type LinkedEntity struct {
	ID              string   `bson:"id" json:"id"`
	EntityType      string   `bson:"entity_type" json:"entity_type"`
	CanonicalValue  string   `bson:"canonical_value" json:"canonical_value"`
	Variants        []string `bson:"variants" json:"variants"` // sorted distinct surface forms
	ConfidenceScore float64  `bson:"confidence_score" json:"confidence_score"`
	ChunkIndices    []int    `bson:"chunk_indices" json:"chunk_indices"` // sorted, deduplicated
	Occurrences     int      `bson:"occurrences" json:"occurrences"`
}
