package services

import (
	"docintel-backend/models"
)

// ConfidenceWeights controls the blend of confidence signals. The weights
// are normalized by their sum, so any positive values work.
type ConfidenceWeights struct {
	ValidFraction     float64 // share of chunks that reached a valid payload
	RepairPenalty     float64 // penalty for repair rounds spent
	EntityConsistency float64 // cross-chunk corroboration of linked entities
	SelfReported      float64 // mean confidence reported inside payloads
}

// DefaultConfidenceWeights returns the standard blend
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		ValidFraction:     0.40,
		RepairPenalty:     0.25,
		EntityConsistency: 0.20,
		SelfReported:      0.15,
	}
}

// repairPenaltyPerRound is subtracted from the repair signal per repair used
const repairPenaltyPerRound = 0.2

// validFloor guarantees a document with at least one valid chunk always
// scores strictly above an all-exhausted document, which scores zero.
const validFloor = 0.05

// ConfidenceCalculator derives a document-level confidence in [0,1]
type ConfidenceCalculator struct {
	weights ConfidenceWeights
}

// NewConfidenceCalculator creates a calculator with the given weights;
// non-positive weight sets fall back to the defaults
func NewConfidenceCalculator(weights ConfidenceWeights) *ConfidenceCalculator {
	if weights.ValidFraction+weights.RepairPenalty+weights.EntityConsistency+weights.SelfReported <= 0 {
		weights = DefaultConfidenceWeights()
	}
	return &ConfidenceCalculator{weights: weights}
}

// DocumentConfidence scores a completed run. An all-exhausted document
// scores exactly zero; any document with a valid chunk scores at least
// validFloor.
func (cc *ConfidenceCalculator) DocumentConfidence(extractions []models.ChunkExtraction, entities []models.LinkedEntity) float64 {
	if len(extractions) == 0 {
		return 0
	}

	valid := 0
	totalRepairs := 0
	var selfSum float64
	selfCount := 0
	for _, ex := range extractions {
		if ex.State != models.AttemptValid {
			continue
		}
		valid++
		totalRepairs += ex.RepairCount
		if ex.Payload != nil {
			for _, e := range ex.Payload.Entities {
				selfSum += e.ConfidenceScore
				selfCount++
			}
			for _, r := range ex.Payload.Risks {
				selfSum += r.ConfidenceScore
				selfCount++
			}
		}
	}

	if valid == 0 {
		return 0
	}

	validFraction := float64(valid) / float64(len(extractions))

	repairScore := 1.0 - repairPenaltyPerRound*float64(totalRepairs)/float64(valid)
	if repairScore < 0 {
		repairScore = 0
	}

	// Neutral midpoint when a signal has no evidence either way.
	consistency := 0.5
	if len(entities) > 0 {
		corroborated := 0
		for _, e := range entities {
			if len(e.ChunkIndices) >= 2 {
				corroborated++
			}
		}
		consistency = float64(corroborated) / float64(len(entities))
	}

	selfReported := 0.5
	if selfCount > 0 {
		selfReported = selfSum / float64(selfCount)
	}

	w := cc.weights
	sum := w.ValidFraction + w.RepairPenalty + w.EntityConsistency + w.SelfReported
	score := (w.ValidFraction*validFraction +
		w.RepairPenalty*repairScore +
		w.EntityConsistency*consistency +
		w.SelfReported*selfReported) / sum

	return clamp01(max(score, validFloor))
}

// ChunkConfidence scores one chunk outcome, discounting repair rounds
func (cc *ConfidenceCalculator) ChunkConfidence(ex models.ChunkExtraction) float64 {
	if ex.State != models.AttemptValid {
		return 0
	}
	score := 1.0 - repairPenaltyPerRound*float64(ex.RepairCount)
	return clamp01(max(score, validFloor))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
