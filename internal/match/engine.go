// Package match implements the eligibility gate and scoring engine. Score is
// a pure function over its inputs: no I/O, no shared state, safe to run in
// parallel across (org, program) pairs.
package match

import (
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// Score evaluates one (org, program) pair. Gates run first, in order, and
// short-circuit: any failure yields score 0 with a specific blocked reason.
// Only when all gates pass are the weighted factors scored; their points sum
// to the final score and every point is traceable in FactorBreakdown.
func Score(org models.OrganizationProfile, program models.FundingProgram, profile *models.EligibilityProfile, cfg Config, now time.Time) models.MatchResult {
	result := models.MatchResult{
		ID:               uuid.New(),
		ProgramID:        program.ID,
		OrganizationID:   org.ID,
		ComputedAt:       now,
		ProgramUpdatedAt: program.UpdatedAt,
	}

	blocked, warnings := evaluateGates(org, program, profile, cfg)
	result.WarningReasons = warnings
	if len(blocked) > 0 {
		result.GatePassed = false
		result.BlockedReasons = blocked
		result.Score = 0
		return result
	}

	result.GatePassed = true
	result.FactorBreakdown = scoreFactors(org, program, profile, cfg, now)
	for _, f := range result.FactorBreakdown {
		result.Score += f.Points
	}
	return result
}
