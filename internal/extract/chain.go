package extract

import (
	"context"
	"log"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// Chain runs extractors in precedence order, each one seeing only the fields
// its predecessors left unresolved. A tier error is logged and the chain
// moves on; partial extraction beats none.
type Chain struct {
	tiers []Extractor
}

func NewChain(tiers ...Extractor) *Chain {
	return &Chain{tiers: tiers}
}

// Run extracts eligibility for a program into profile. Caller passes the
// existing profile on re-extraction so fields from higher tiers survive; a
// fresh program gets a zero-valued profile.
func (c *Chain) Run(ctx context.Context, program *models.FundingProgram, profile *models.EligibilityProfile, now time.Time) error {
	var firstErr error
	for _, tier := range c.tiers {
		unresolved := UnresolvedFields(profile)
		if len(unresolved) == 0 {
			break
		}
		resolved, err := tier.Extract(ctx, program, profile, unresolved)
		if err != nil {
			log.Printf("[extract] %s failed for program %s: %v", tier.Name(), program.ExternalID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(resolved) > 0 {
			log.Printf("[extract] %s resolved %d/%d fields for program %s", tier.Name(), len(resolved), len(unresolved), program.ExternalID)
		}
	}
	profile.ProgramID = program.ID
	profile.UpdatedAt = now
	// Deadline lives on the program, not the profile; only the rules tier
	// can place it, and never over a value the source API already supplied.
	if program.DeadlineAt == nil {
		if dl, ok := MatchDeadline(program.Title + "\n" + program.RawText); ok {
			program.DeadlineAt = &dl
		}
	}
	return firstErr
}

// RunEnrichment re-runs only the lower tiers over programs whose profiles
// still have gaps. Tier-1 output is already deterministic on the stored text,
// so repeating it buys nothing; the point is spending LLM budget and
// attachment parses on the backlog.
func (c *Chain) RunEnrichment(ctx context.Context, program *models.FundingProgram, profile *models.EligibilityProfile, now time.Time) (int, error) {
	var firstErr error
	total := 0
	for _, tier := range c.tiers {
		if _, isRules := tier.(*RuleExtractor); isRules {
			continue
		}
		unresolved := UnresolvedFields(profile)
		if len(unresolved) == 0 {
			break
		}
		resolved, err := tier.Extract(ctx, program, profile, unresolved)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += len(resolved)
	}
	if total > 0 {
		profile.UpdatedAt = now
	}
	return total, firstErr
}
