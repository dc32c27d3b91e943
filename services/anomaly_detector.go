package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"docintel-backend/models"
)

// AnomalyDetector runs a deterministic rule pass over extracted data and an
// optional generative review pass gated by document confidence.
type AnomalyDetector struct {
	validator       *Validator
	prompts         *PromptBuilder
	confidenceFloor float64 // generative pass skipped below this
	plausibleMax    float64 // absolute numeric magnitude considered plausible
}

// NewAnomalyDetector creates a detector with the given gating floor and
// plausible numeric range. plausibleMax of zero or less falls back to 1e10.
func NewAnomalyDetector(validator *Validator, prompts *PromptBuilder, confidenceFloor, plausibleMax float64) *AnomalyDetector {
	if plausibleMax <= 0 {
		plausibleMax = 1e10
	}
	return &AnomalyDetector{
		validator:       validator,
		prompts:         prompts,
		confidenceFloor: confidenceFloor,
		plausibleMax:    plausibleMax,
	}
}

// DetectRules runs the rule pass. It is pure and always runs regardless of
// document confidence.
func (d *AnomalyDetector) DetectRules(extractions []models.ChunkExtraction, entities []models.LinkedEntity, now time.Time) []models.Anomaly {
	var anomalies []models.Anomaly
	anomalies = append(anomalies, d.duplicateEntities(entities)...)
	anomalies = append(anomalies, d.conflictingEntityValues(entities)...)
	anomalies = append(anomalies, d.dateInconsistencies(extractions, now)...)
	anomalies = append(anomalies, d.dateRangeInversions(extractions)...)
	anomalies = append(anomalies, d.numericalOutliers(extractions)...)
	return anomalies
}

// conflictingEntityValues flags an entity type that carries more than one
// distinct value after linking
func (d *AnomalyDetector) conflictingEntityValues(entities []models.LinkedEntity) []models.Anomaly {
	values := make(map[string][]string)
	for _, e := range entities {
		values[e.EntityType] = append(values[e.EntityType], e.CanonicalValue)
	}

	types := make([]string, 0, len(values))
	for t := range values {
		types = append(types, t)
	}
	sort.Strings(types)

	var anomalies []models.Anomaly
	for _, t := range types {
		if len(values[t]) < 2 {
			continue
		}
		sort.Strings(values[t])
		anomalies = append(anomalies, models.Anomaly{
			AnomalyType:     models.AnomalyDuplicateEntity,
			Description:     fmt.Sprintf("entity type %q carries multiple different values: %s", t, strings.Join(values[t], ", ")),
			Severity:        models.SeverityMedium,
			ConfidenceScore: 0.7,
			Source:          models.AnomalySourceRule,
			ChunkIndex:      -1,
		})
	}
	return anomalies
}

// duplicateEntities flags a normalized value reported under multiple types
func (d *AnomalyDetector) duplicateEntities(entities []models.LinkedEntity) []models.Anomaly {
	types := make(map[string]map[string]bool)
	for _, e := range entities {
		key := NormalizeEntityValue(e.CanonicalValue)
		if types[key] == nil {
			types[key] = make(map[string]bool)
		}
		types[key][e.EntityType] = true
	}

	keys := make([]string, 0, len(types))
	for k := range types {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var anomalies []models.Anomaly
	for _, key := range keys {
		if len(types[key]) < 2 {
			continue
		}
		typeNames := make([]string, 0, len(types[key]))
		for t := range types[key] {
			typeNames = append(typeNames, t)
		}
		sort.Strings(typeNames)
		anomalies = append(anomalies, models.Anomaly{
			AnomalyType:     models.AnomalyDuplicateEntity,
			Description:     fmt.Sprintf("value %q reported under multiple entity types: %s", key, strings.Join(typeNames, ", ")),
			Severity:        models.SeverityMedium,
			ConfidenceScore: 0.9,
			Source:          models.AnomalySourceRule,
			ChunkIndex:      -1,
		})
	}
	return anomalies
}

// dateInconsistencies flags unparseable and far-future dates
func (d *AnomalyDetector) dateInconsistencies(extractions []models.ChunkExtraction, now time.Time) []models.Anomaly {
	var anomalies []models.Anomaly
	horizon := now.AddDate(10, 0, 0)
	for _, ex := range extractions {
		if ex.State != models.AttemptValid || ex.Payload == nil {
			continue
		}
		for _, raw := range ex.Payload.Dates {
			day := raw
			if len(day) > 10 {
				day = day[:10]
			}
			parsed, err := time.Parse("2006-01-02", day)
			if err != nil {
				anomalies = append(anomalies, models.Anomaly{
					AnomalyType:     models.AnomalyDateInconsistency,
					Description:     fmt.Sprintf("date %q is not a valid ISO 8601 date", raw),
					Severity:        models.SeverityMedium,
					ConfidenceScore: 0.95,
					Source:          models.AnomalySourceRule,
					ChunkIndex:      ex.ChunkIndex,
				})
				continue
			}
			if parsed.After(horizon) {
				anomalies = append(anomalies, models.Anomaly{
					AnomalyType:     models.AnomalyDateInconsistency,
					Description:     fmt.Sprintf("date %q is more than ten years in the future", raw),
					Severity:        models.SeverityLow,
					ConfidenceScore: 0.8,
					Source:          models.AnomalySourceRule,
					ChunkIndex:      ex.ChunkIndex,
				})
			}
		}
	}
	return anomalies
}

// dateRangeInversions flags entity pairs like contract_start_date and
// contract_end_date where the end precedes the start
func (d *AnomalyDetector) dateRangeInversions(extractions []models.ChunkExtraction) []models.Anomaly {
	var anomalies []models.Anomaly
	for _, ex := range extractions {
		if ex.State != models.AttemptValid || ex.Payload == nil {
			continue
		}

		dates := make(map[string]time.Time)
		for _, e := range ex.Payload.Entities {
			typ := strings.ToLower(strings.TrimSpace(e.EntityType))
			if parsed, err := time.Parse("2006-01-02", strings.TrimSpace(e.EntityValue)); err == nil {
				dates[typ] = parsed
			}
		}

		startTypes := make([]string, 0, len(dates))
		for typ := range dates {
			if strings.Contains(typ, "start") {
				startTypes = append(startTypes, typ)
			}
		}
		sort.Strings(startTypes)

		for _, typ := range startTypes {
			endType := strings.Replace(typ, "start", "end", 1)
			end, ok := dates[endType]
			if !ok || !end.Before(dates[typ]) {
				continue
			}
			anomalies = append(anomalies, models.Anomaly{
				AnomalyType:     models.AnomalyDateInconsistency,
				Description:     fmt.Sprintf("%s %s precedes %s %s", endType, end.Format("2006-01-02"), typ, dates[typ].Format("2006-01-02")),
				Severity:        models.SeverityHigh,
				ConfidenceScore: 0.9,
				Source:          models.AnomalySourceRule,
				ChunkIndex:      ex.ChunkIndex,
			})
		}
	}
	return anomalies
}

// numericalOutliers flags implausible magnitudes and negative amounts
func (d *AnomalyDetector) numericalOutliers(extractions []models.ChunkExtraction) []models.Anomaly {
	var anomalies []models.Anomaly
	for _, ex := range extractions {
		if ex.State != models.AttemptValid || ex.Payload == nil {
			continue
		}
		for _, nv := range ex.Payload.NumericalValues {
			abs := nv.Value
			if abs < 0 {
				abs = -abs
			}
			if abs > d.plausibleMax {
				anomalies = append(anomalies, models.Anomaly{
					AnomalyType:     models.AnomalyNumericalOutlier,
					Description:     fmt.Sprintf("value %g (%s) exceeds the plausible range", nv.Value, nv.Unit),
					Severity:        models.SeverityHigh,
					ConfidenceScore: 0.85,
					Source:          models.AnomalySourceRule,
					ChunkIndex:      ex.ChunkIndex,
				})
				continue
			}
			if nv.Value < 0 && isCurrency(nv.Unit) {
				anomalies = append(anomalies, models.Anomaly{
					AnomalyType:     models.AnomalyNumericalOutlier,
					Description:     fmt.Sprintf("negative monetary amount %g %s (%s)", nv.Value, nv.Unit, nv.Context),
					Severity:        models.SeverityMedium,
					ConfidenceScore: 0.8,
					Source:          models.AnomalySourceRule,
					ChunkIndex:      ex.ChunkIndex,
				})
			}
		}
	}
	return anomalies
}

// DetectGenerative runs the model-driven anomaly review over aggregated
// results. The pass is skipped entirely below the confidence floor; a failed
// pass returns an AnomalyDetectionError which callers absorb.
func (d *AnomalyDetector) DetectGenerative(ctx context.Context, entities []models.LinkedEntity, summaries []models.Summary, confidence float64, call CallFunc) ([]models.Anomaly, error) {
	if confidence < d.confidenceFloor {
		return nil, nil
	}

	digest := buildAnomalyDigest(entities, summaries)
	if digest == "" {
		return nil, nil
	}

	prompt, err := d.prompts.AnomalyPrompt(digest)
	if err != nil {
		return nil, &AnomalyDetectionError{Err: err}
	}

	raw, _, err := call(ctx, prompt)
	if err != nil {
		return nil, &AnomalyDetectionError{Err: err}
	}

	payload, violations := d.validator.ValidateAnomalies(raw)
	if payload == nil {
		return nil, &AnomalyDetectionError{Err: fmt.Errorf("invalid anomaly response: %s", strings.Join(violations, "; "))}
	}

	anomalies := make([]models.Anomaly, 0, len(payload.Anomalies))
	for _, a := range payload.Anomalies {
		a.Source = models.AnomalySourceGenerative
		a.ChunkIndex = -1
		anomalies = append(anomalies, a)
	}
	return anomalies, nil
}

func buildAnomalyDigest(entities []models.LinkedEntity, summaries []models.Summary) string {
	var b strings.Builder
	if len(entities) > 0 {
		b.WriteString("Entities:\n")
		for _, e := range entities {
			fmt.Fprintf(&b, "- %s: %s (confidence %.2f, chunks %v)\n", e.EntityType, e.CanonicalValue, e.ConfidenceScore, e.ChunkIndices)
		}
	}
	for _, s := range summaries {
		if s.Level == models.SummaryLevelGlobal {
			b.WriteString("\nDocument summary:\n")
			b.WriteString(s.Text)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func isCurrency(unit string) bool {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "USD", "EUR", "GBP", "JPY", "CHF", "CAD", "AUD", "$", "€", "£":
		return true
	}
	return false
}
