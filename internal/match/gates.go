package match

import (
	"fmt"
	"strings"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// gateResult is produced by one eligibility gate. A gate either blocks with
// a specific reason, passes cleanly, or passes with a warning when the
// program's profile lacks the data to decide.
type gateResult struct {
	blocked bool
	reason  string
	warning string
}

func pass() gateResult               { return gateResult{} }
func passWarn(w string) gateResult   { return gateResult{warning: w} }
func block(reason string) gateResult { return gateResult{blocked: true, reason: reason} }

// evaluateGates runs the eligibility gates in order and short-circuits on
// the first failure. Warnings from gates that passed before the failing one
// are still reported.
func evaluateGates(org models.OrganizationProfile, program models.FundingProgram, profile *models.EligibilityProfile, cfg Config) (blocked []string, warnings []string) {
	gates := []func() gateResult{
		func() gateResult { return gateOrgType(org, profile) },
		func() gateResult { return gateTRL(org, program, profile, cfg) },
		func() gateResult { return gateCertifications(org, profile) },
		func() gateResult { return gateStructure(org, profile) },
	}

	for _, gate := range gates {
		r := gate()
		if r.warning != "" {
			warnings = append(warnings, r.warning)
		}
		if r.blocked {
			blocked = append(blocked, r.reason)
			return blocked, warnings
		}
	}
	return nil, warnings
}

func gateOrgType(org models.OrganizationProfile, profile *models.EligibilityProfile) gateResult {
	if profile == nil || !profile.OrgTypes.IsSet() || len(profile.OrgTypes.Values) == 0 {
		return passWarn("program target organization types unspecified")
	}
	for _, t := range profile.OrgTypes.Values {
		if t == org.OrgType {
			return pass()
		}
	}
	return block(fmt.Sprintf("organization type %q not among program target types (지원대상 불일치)", org.OrgType))
}

func gateTRL(org models.OrganizationProfile, program models.FundingProgram, profile *models.EligibilityProfile, cfg Config) gateResult {
	if profile == nil || !profile.TRL.IsSet() || (profile.TRL.Min == nil && profile.TRL.Max == nil) {
		return passWarn("program TRL requirement unspecified")
	}

	tol := cfg.TRLToleranceActive
	if program.Status == models.ProgramExpired {
		tol = cfg.TRLToleranceExpired
	}

	lo, hi := trlBounds(profile.TRL)
	if org.TRL >= lo-tol && org.TRL <= hi+tol {
		return pass()
	}
	return block(fmt.Sprintf("TRL %d outside required range %d-%d (기술성숙도 미충족)", org.TRL, lo, hi))
}

func gateCertifications(org models.OrganizationProfile, profile *models.EligibilityProfile) gateResult {
	if profile == nil || !profile.RequiredCertifications.IsSet() || len(profile.RequiredCertifications.Values) == 0 {
		return pass()
	}

	held := make(map[string]bool, len(org.Certifications))
	for _, c := range org.Certifications {
		held[normalizeCert(c)] = true
	}
	for _, required := range profile.RequiredCertifications.Values {
		if !held[normalizeCert(required)] {
			return block(fmt.Sprintf("%s certification required but not held", required))
		}
	}
	return pass()
}

func gateStructure(org models.OrganizationProfile, profile *models.EligibilityProfile) gateResult {
	if profile == nil || !profile.Structures.IsSet() || len(profile.Structures.Allowed) == 0 {
		return pass()
	}
	for _, allowed := range profile.Structures.Allowed {
		if allowed == org.Structure {
			return pass()
		}
	}
	if org.Structure == models.StructureSoleProprietor {
		return block("corporate entities only; sole proprietors not eligible (법인사업자 한정)")
	}
	return block(fmt.Sprintf("business structure %q not eligible for this program", org.Structure))
}

// trlBounds resolves one-sided ranges: a missing min means 1, a missing max
// means 9 (the TRL scale is 1-9).
func trlBounds(f models.IntRangeField) (int, int) {
	lo, hi := 1, 9
	if f.Min != nil {
		lo = *f.Min
	}
	if f.Max != nil {
		hi = *f.Max
	}
	return lo, hi
}

func normalizeCert(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
