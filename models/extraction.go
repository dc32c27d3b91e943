package models

// AttemptState tracks a chunk response through parse, validation and repair
type AttemptState string

const (
	AttemptDraft     AttemptState = "draft"
	AttemptParsing   AttemptState = "parsing"
	AttemptValid     AttemptState = "valid"
	AttemptInvalid   AttemptState = "invalid"
	AttemptRepairing AttemptState = "repairing"
	AttemptExhausted AttemptState = "exhausted"
)

// ExtractedEntity is a single entity reported by the model for one chunk
type ExtractedEntity struct {
	EntityType      string  `bson:"entity_type" json:"entity_type"`
	EntityValue     string  `bson:"entity_value" json:"entity_value"`
	ConfidenceScore float64 `bson:"confidence_score" json:"confidence_score"`
}

// NumericalValue is a number with its unit and surrounding context
type NumericalValue struct {
	Value   float64 `bson:"value" json:"value"`
	Unit    string  `bson:"unit,omitempty" json:"unit,omitempty"`
	Context string  `bson:"context,omitempty" json:"context,omitempty"`
}

// Risk is a risk statement identified in a chunk
type Risk struct {
	RiskType        string  `bson:"risk_type" json:"risk_type"`
	Description     string  `bson:"description" json:"description"`
	Severity        string  `bson:"severity" json:"severity"` // low, medium, high, critical
	ConfidenceScore float64 `bson:"confidence_score" json:"confidence_score"`
}

// ExtractionPayload is the structured payload expected from an extraction call
type ExtractionPayload struct {
	Entities        []ExtractedEntity `bson:"entities" json:"entities"`
	KeyPoints       []string          `bson:"key_points" json:"key_points"`
	Dates           []string          `bson:"dates" json:"dates"` // ISO 8601
	NumericalValues []NumericalValue  `bson:"numerical_values" json:"numerical_values"`
	Risks           []Risk            `bson:"risks" json:"risks"`
}

// ExtractionAttempt records one generate-parse-validate round for a chunk.
// Attempt 0 is the initial call; higher numbers are repairs.
type ExtractionAttempt struct {
	Number    int          `bson:"number" json:"number"`
	State     AttemptState `bson:"state" json:"state"`
	RawOutput string       `bson:"raw_output,omitempty" json:"raw_output,omitempty"`
	Errors    []string     `bson:"errors,omitempty" json:"errors,omitempty"`
}

// ChunkExtraction is the final outcome for one chunk after all repair rounds
type ChunkExtraction struct {
	ChunkIndex       int                 `bson:"chunk_index" json:"chunk_index"`
	State            AttemptState        `bson:"state" json:"state"` // valid or exhausted
	Payload          *ExtractionPayload  `bson:"payload,omitempty" json:"payload,omitempty"`
	Attempts         []ExtractionAttempt `bson:"attempts,omitempty" json:"attempts,omitempty"`
	RepairCount      int                 `bson:"repair_count" json:"repair_count"`
	TransportRetries int                 `bson:"transport_retries" json:"transport_retries"`
	Summary          string              `bson:"summary,omitempty" json:"summary,omitempty"`
	TokensUsed       int                 `bson:"tokens_used" json:"tokens_used"`
}
