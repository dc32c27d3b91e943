package models

// Anomaly severity levels
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityWeight maps a severity level to its scoring weight
func SeverityWeight(severity string) float64 {
	switch severity {
	case SeverityLow:
		return 0.3
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.8
	case SeverityCritical:
		return 1.0
	default:
		return 0.5
	}
}

// Anomaly detection sources
const (
	AnomalySourceRule       = "rule"
	AnomalySourceGenerative = "generative"
)

// Rule-based anomaly types
const (
	AnomalyDuplicateEntity   = "duplicate_entity"
	AnomalyDateInconsistency = "date_inconsistency"
	AnomalyNumericalOutlier  = "numerical_outlier"
)

// Anomaly is a single finding from the rule pass or the generative pass
type Anomaly struct {
	AnomalyType     string  `bson:"anomaly_type" json:"anomaly_type"`
	Description     string  `bson:"description" json:"description"`
	Severity        string  `bson:"severity" json:"severity"`
	ConfidenceScore float64 `bson:"confidence_score" json:"confidence_score"`
	Source          string  `bson:"source" json:"source"`
	ChunkIndex      int     `bson:"chunk_index,omitempty" json:"chunk_index,omitempty"`
}
