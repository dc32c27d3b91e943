package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"docintel-backend/models"
)

// ExportService renders a document result as an XLSX workbook with one
// sheet per result facet.
type ExportService struct{}

// NewExportService creates the exporter
func NewExportService() *ExportService {
	return &ExportService{}
}

// ExportResult builds the workbook and returns its bytes
func (e *ExportService) ExportResult(result *models.DocumentResult) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeEntitiesSheet(f, result); err != nil {
		return nil, err
	}
	if err := e.writeSummariesSheet(f, result); err != nil {
		return nil, err
	}
	if err := e.writeAnomaliesSheet(f, result); err != nil {
		return nil, err
	}
	if err := e.writeMetricsSheet(f, result); err != nil {
		return nil, err
	}

	// Drop the default sheet so Entities opens first.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	return f.WriteToBuffer()
}

func (e *ExportService) writeEntitiesSheet(f *excelize.File, result *models.DocumentResult) error {
	sheet := "Entities"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"Type", "Canonical Value", "Variants", "Confidence", "Chunks", "Occurrences"}
	if err := writeHeaderRow(f, sheet, headers); err != nil {
		return err
	}

	for i, entity := range result.Entities {
		row := i + 2
		values := []interface{}{
			entity.EntityType,
			entity.CanonicalValue,
			strings.Join(entity.Variants, ", "),
			entity.ConfidenceScore,
			joinInts(entity.ChunkIndices),
			entity.Occurrences,
		}
		if err := writeRow(f, sheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExportService) writeSummariesSheet(f *excelize.File, result *models.DocumentResult) error {
	sheet := "Summaries"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"Level", "Index", "Summary", "Confidence"}
	if err := writeHeaderRow(f, sheet, headers); err != nil {
		return err
	}

	for i, summary := range result.Summaries {
		row := i + 2
		values := []interface{}{summary.Level, summary.Index, summary.Text, summary.ConfidenceScore}
		if err := writeRow(f, sheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExportService) writeAnomaliesSheet(f *excelize.File, result *models.DocumentResult) error {
	sheet := "Anomalies"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"Type", "Description", "Severity", "Confidence", "Source", "Chunk"}
	if err := writeHeaderRow(f, sheet, headers); err != nil {
		return err
	}

	for i, anomaly := range result.Anomalies {
		row := i + 2
		chunk := ""
		if anomaly.ChunkIndex >= 0 {
			chunk = fmt.Sprintf("%d", anomaly.ChunkIndex)
		}
		values := []interface{}{
			anomaly.AnomalyType,
			anomaly.Description,
			anomaly.Severity,
			anomaly.ConfidenceScore,
			anomaly.Source,
			chunk,
		}
		if err := writeRow(f, sheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExportService) writeMetricsSheet(f *excelize.File, result *models.DocumentResult) error {
	sheet := "Metrics"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][]interface{}{
		{"Document ID", result.DocumentID},
		{"Status", result.Status},
		{"Confidence", result.Confidence},
		{"Confidence Band", result.ConfidenceBand},
		{"Chunks", result.Metrics.ChunkCount},
		{"Valid Chunks", result.Metrics.ValidChunks},
		{"Exhausted Chunks", result.Metrics.ExhaustedChunks},
		{"Generate Calls", result.Metrics.GenerateCalls},
		{"Repair Attempts", result.Metrics.RepairAttempts},
		{"Transport Retries", result.Metrics.TransportRetries},
		{"Tokens Used", result.Metrics.TokensUsed},
		{"Duration", result.Metrics.Duration.String()},
		{"Completed At", result.CompletedAt.Format("2006-01-02 15:04:05")},
	}
	for i, values := range rows {
		if err := writeRow(f, sheet, i+1, values); err != nil {
			return err
		}
	}
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) error {
	values := make([]interface{}, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	return writeRow(f, sheet, 1, values)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return err
		}
	}
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
