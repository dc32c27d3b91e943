package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel-backend/models"
)

func newTestDetector(t *testing.T) *AnomalyDetector {
	t.Helper()
	return NewAnomalyDetector(newTestValidator(t), NewPromptBuilder(), 0.4, 0)
}

func anomaliesOfType(anomalies []models.Anomaly, anomalyType string) []models.Anomaly {
	var out []models.Anomaly
	for _, a := range anomalies {
		if a.AnomalyType == anomalyType {
			out = append(out, a)
		}
	}
	return out
}

func TestDetectRulesDuplicateEntity(t *testing.T) {
	d := newTestDetector(t)
	entities := []models.LinkedEntity{
		{EntityType: "organization", CanonicalValue: "Jordan"},
		{EntityType: "person", CanonicalValue: "Jordan"},
		{EntityType: "location", CanonicalValue: "Paris"},
	}

	anomalies := d.DetectRules(nil, entities, time.Now())
	dupes := anomaliesOfType(anomalies, models.AnomalyDuplicateEntity)
	require.Len(t, dupes, 1)
	assert.Equal(t, models.SeverityMedium, dupes[0].Severity)
	assert.Equal(t, models.AnomalySourceRule, dupes[0].Source)
	assert.Contains(t, dupes[0].Description, "jordan")
	assert.Contains(t, dupes[0].Description, "organization, person")
}

func TestDetectRulesConflictingEntityValues(t *testing.T) {
	d := newTestDetector(t)
	entities := []models.LinkedEntity{
		{EntityType: "invoice_number", CanonicalValue: "INV-100"},
		{EntityType: "invoice_number", CanonicalValue: "INV-200"},
		{EntityType: "organization", CanonicalValue: "Acme Corp"},
	}

	anomalies := d.DetectRules(nil, entities, time.Now())
	dupes := anomaliesOfType(anomalies, models.AnomalyDuplicateEntity)
	require.Len(t, dupes, 1)
	assert.Contains(t, dupes[0].Description, "invoice_number")
	assert.Contains(t, dupes[0].Description, "INV-100, INV-200")
	assert.Equal(t, models.SeverityMedium, dupes[0].Severity)
	assert.Equal(t, -1, dupes[0].ChunkIndex)
}

func TestDetectRulesDateRangeInversion(t *testing.T) {
	d := newTestDetector(t)
	extractions := []models.ChunkExtraction{
		{
			ChunkIndex: 1,
			State:      models.AttemptValid,
			Payload: &models.ExtractionPayload{
				Entities: []models.ExtractedEntity{
					{EntityType: "contract_start_date", EntityValue: "2024-05-01"},
					{EntityType: "contract_end_date", EntityValue: "2024-01-01"},
					{EntityType: "lease_start_date", EntityValue: "2024-02-01"},
					{EntityType: "lease_end_date", EntityValue: "2024-12-31"},
					{EntityType: "organization", EntityValue: "Acme Corp"},
				},
			},
		},
	}

	anomalies := d.DetectRules(extractions, nil, time.Now())
	dates := anomaliesOfType(anomalies, models.AnomalyDateInconsistency)
	require.Len(t, dates, 1, "only the inverted range is flagged")
	assert.Contains(t, dates[0].Description, "contract_end_date 2024-01-01")
	assert.Contains(t, dates[0].Description, "contract_start_date 2024-05-01")
	assert.Equal(t, models.SeverityHigh, dates[0].Severity)
	assert.Equal(t, 1, dates[0].ChunkIndex)
}

func TestDetectRulesDates(t *testing.T) {
	d := newTestDetector(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	extractions := []models.ChunkExtraction{
		{
			ChunkIndex: 2,
			State:      models.AttemptValid,
			Payload: &models.ExtractionPayload{
				Dates: []string{"2024-05-01", "2024-13-45", "2099-01-01"},
			},
		},
	}

	anomalies := d.DetectRules(extractions, nil, now)
	dates := anomaliesOfType(anomalies, models.AnomalyDateInconsistency)
	require.Len(t, dates, 2)

	assert.Contains(t, dates[0].Description, "2024-13-45")
	assert.Equal(t, models.SeverityMedium, dates[0].Severity)
	assert.Equal(t, 2, dates[0].ChunkIndex)

	assert.Contains(t, dates[1].Description, "2099-01-01")
	assert.Equal(t, models.SeverityLow, dates[1].Severity)
}

func TestDetectRulesNumericalOutliers(t *testing.T) {
	d := newTestDetector(t)
	extractions := []models.ChunkExtraction{
		{
			ChunkIndex: 0,
			State:      models.AttemptValid,
			Payload: &models.ExtractionPayload{
				NumericalValues: []models.NumericalValue{
					{Value: 12500, Unit: "USD", Context: "monthly rent"},
					{Value: 2e10, Unit: "USD", Context: "reported revenue"},
					{Value: -500, Unit: "EUR", Context: "refund"},
					{Value: -40, Unit: "C", Context: "temperature"},
				},
			},
		},
	}

	anomalies := d.DetectRules(extractions, nil, time.Now())
	outliers := anomaliesOfType(anomalies, models.AnomalyNumericalOutlier)
	require.Len(t, outliers, 2)
	assert.Equal(t, models.SeverityHigh, outliers[0].Severity)
	assert.Equal(t, models.SeverityMedium, outliers[1].Severity)
	assert.Contains(t, outliers[1].Description, "negative monetary amount")
}

func TestDetectRulesPlausibleRangeConfigurable(t *testing.T) {
	d := NewAnomalyDetector(newTestValidator(t), NewPromptBuilder(), 0.4, 1000)
	extractions := []models.ChunkExtraction{
		{
			ChunkIndex: 0,
			State:      models.AttemptValid,
			Payload: &models.ExtractionPayload{
				NumericalValues: []models.NumericalValue{
					{Value: 5000, Unit: "USD", Context: "deposit"},
					{Value: 500, Unit: "USD", Context: "fee"},
				},
			},
		},
	}

	anomalies := d.DetectRules(extractions, nil, time.Now())
	outliers := anomaliesOfType(anomalies, models.AnomalyNumericalOutlier)
	require.Len(t, outliers, 1)
	assert.Contains(t, outliers[0].Description, "5000")
}

func TestDetectRulesIgnoresInvalidChunks(t *testing.T) {
	d := newTestDetector(t)
	extractions := []models.ChunkExtraction{
		{ChunkIndex: 0, State: models.AttemptExhausted},
	}
	assert.Empty(t, d.DetectRules(extractions, nil, time.Now()))
}

func TestDetectGenerativeGatedByConfidence(t *testing.T) {
	d := newTestDetector(t)
	called := false
	call := func(ctx context.Context, prompt string) (string, int, error) {
		called = true
		return "", 0, nil
	}

	anomalies, err := d.DetectGenerative(context.Background(), []models.LinkedEntity{{CanonicalValue: "Acme"}}, nil, 0.3, call)
	require.NoError(t, err)
	assert.Nil(t, anomalies)
	assert.False(t, called, "pass is skipped below the confidence floor")
}

func TestDetectGenerativeEmptyDigest(t *testing.T) {
	d := newTestDetector(t)
	called := false
	call := func(ctx context.Context, prompt string) (string, int, error) {
		called = true
		return "", 0, nil
	}

	anomalies, err := d.DetectGenerative(context.Background(), nil, nil, 0.9, call)
	require.NoError(t, err)
	assert.Nil(t, anomalies)
	assert.False(t, called)
}

func TestDetectGenerativeStampsFindings(t *testing.T) {
	d := newTestDetector(t)
	call := func(ctx context.Context, prompt string) (string, int, error) {
		return `{"anomalies": [{"anomaly_type": "contradiction", "description": "revenue figures disagree", "severity": "high", "confidence_score": 0.75}]}`, 20, nil
	}

	entities := []models.LinkedEntity{{EntityType: "organization", CanonicalValue: "Acme Corp", ConfidenceScore: 0.9}}
	anomalies, err := d.DetectGenerative(context.Background(), entities, nil, 0.8, call)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, models.AnomalySourceGenerative, anomalies[0].Source)
	assert.Equal(t, -1, anomalies[0].ChunkIndex)
	assert.Equal(t, "contradiction", anomalies[0].AnomalyType)
}

func TestDetectGenerativeInvalidResponse(t *testing.T) {
	d := newTestDetector(t)
	call := func(ctx context.Context, prompt string) (string, int, error) {
		return "I found nothing unusual.", 5, nil
	}

	entities := []models.LinkedEntity{{CanonicalValue: "Acme"}}
	_, err := d.DetectGenerative(context.Background(), entities, nil, 0.8, call)
	require.Error(t, err)
	var ae *AnomalyDetectionError
	assert.ErrorAs(t, err, &ae)
}

func TestDetectGenerativeCallFailure(t *testing.T) {
	d := newTestDetector(t)
	call := func(ctx context.Context, prompt string) (string, int, error) {
		return "", 0, errors.New("upstream down")
	}

	entities := []models.LinkedEntity{{CanonicalValue: "Acme"}}
	_, err := d.DetectGenerative(context.Background(), entities, nil, 0.8, call)
	require.Error(t, err)
	var ae *AnomalyDetectionError
	assert.ErrorAs(t, err, &ae)
}

func TestSeverityWeight(t *testing.T) {
	assert.Equal(t, 0.3, models.SeverityWeight(models.SeverityLow))
	assert.Equal(t, 0.5, models.SeverityWeight(models.SeverityMedium))
	assert.Equal(t, 0.8, models.SeverityWeight(models.SeverityHigh))
	assert.Equal(t, 1.0, models.SeverityWeight(models.SeverityCritical))
	assert.Equal(t, 0.5, models.SeverityWeight("unknown"))
}
