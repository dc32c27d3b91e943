package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"docintel-backend/models"
)

func TestExportResult(t *testing.T) {
	result := &models.DocumentResult{
		DocumentID:     "doc-1",
		Status:         models.StatusCompleted,
		Confidence:     0.82,
		ConfidenceBand: models.ConfidenceHigh,
		Entities: []models.LinkedEntity{
			{
				EntityType:      "organization",
				CanonicalValue:  "Acme Corp",
				Variants:        []string{"ACME", "Acme Corp"},
				ConfidenceScore: 0.9,
				ChunkIndices:    []int{0, 2},
				Occurrences:     2,
			},
		},
		Summaries: []models.Summary{
			{Level: models.SummaryLevelGlobal, Index: 0, Text: "executive summary", ConfidenceScore: 0.8},
		},
		Anomalies: []models.Anomaly{
			{AnomalyType: models.AnomalyDateInconsistency, Description: "bad date", Severity: models.SeverityMedium, ConfidenceScore: 0.95, Source: models.AnomalySourceRule, ChunkIndex: 1},
		},
		Metrics: models.ProcessingMetrics{
			ChunkCount:  3,
			ValidChunks: 3,
			Duration:    2 * time.Second,
		},
		CompletedAt: time.Now(),
	}

	buf, err := NewExportService().ExportResult(result)
	require.NoError(t, err)
	require.NotZero(t, buf.Len())

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Entities", "Summaries", "Anomalies", "Metrics"}, f.GetSheetList())

	value, err := f.GetCellValue("Entities", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", value)

	value, err = f.GetCellValue("Summaries", "C2")
	require.NoError(t, err)
	assert.Equal(t, "executive summary", value)

	value, err = f.GetCellValue("Metrics", "B1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", value)
}

func TestExportResultEmpty(t *testing.T) {
	buf, err := NewExportService().ExportResult(&models.DocumentResult{
		DocumentID: "doc-2",
		Status:     models.StatusCompleted,
	})
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}
