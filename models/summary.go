package models

// Summary levels
const (
	SummaryLevelChunk   = "chunk"
	SummaryLevelSection = "section"
	SummaryLevelGlobal  = "global"
)

// Summary is one node of the chunk/section/global summary hierarchy
type Summary struct {
	Level           string  `bson:"level" json:"level"`
	Index           int     `bson:"index" json:"index"` // chunk or section index; 0 for global
	Text            string  `bson:"text" json:"text"`
	ConfidenceScore float64 `bson:"confidence_score" json:"confidence_score"`
	SourceChunks    []int   `bson:"source_chunks,omitempty" json:"source_chunks,omitempty"`
}
