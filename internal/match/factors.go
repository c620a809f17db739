package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// Factor weights. They sum to 100.
const (
	maxIndustry   = 30
	maxTRL        = 20
	maxOrgType    = 20
	maxRnD        = 15
	maxDeadline   = 15
	relatedPoints = 15
	firstTimeRnD  = 7
)

func scoreFactors(org models.OrganizationProfile, program models.FundingProgram, profile *models.EligibilityProfile, cfg Config, now time.Time) []models.Factor {
	return []models.Factor{
		factorIndustry(org, profile, cfg),
		factorTRL(org, profile),
		factorOrgType(org, profile),
		factorRnD(org),
		factorDeadline(program, now),
	}
}

// factorIndustry awards full points for an exact keyword or sector match and
// partial points when the org's sector is adjacent in the taxonomy.
func factorIndustry(org models.OrganizationProfile, profile *models.EligibilityProfile, cfg Config) models.Factor {
	f := models.Factor{Code: "industry_alignment", Label: "Industry/keyword alignment", MaxPoints: maxIndustry}

	if profile == nil || !profile.IndustryKeywords.IsSet() || len(profile.IndustryKeywords.Values) == 0 {
		f.Points = 0
		f.Reason = "program lists no industry keywords"
		return f
	}

	orgTerms := map[string]bool{normalizeTerm(org.IndustrySector): true}
	for _, kw := range org.IndustryKeywords {
		orgTerms[normalizeTerm(kw)] = true
	}

	for _, kw := range profile.IndustryKeywords.Values {
		if orgTerms[normalizeTerm(kw)] {
			f.Points = maxIndustry
			f.Reason = fmt.Sprintf("exact keyword match on %q", kw)
			return f
		}
	}

	sector := normalizeTerm(org.IndustrySector)
	for _, related := range cfg.RelatedSectors[sector] {
		for _, kw := range profile.IndustryKeywords.Values {
			if normalizeTerm(kw) == related {
				f.Points = relatedPoints
				f.Reason = fmt.Sprintf("sector %q related to program keyword %q", org.IndustrySector, kw)
				return f
			}
		}
	}

	f.Points = 0
	f.Reason = "no keyword or sector overlap"
	return f
}

// factorTRL gives full points inside the program's TRL range and a graduated
// falloff of 6 points per level outside it (only reachable for expired
// programs, where the gate tolerance is wider).
func factorTRL(org models.OrganizationProfile, profile *models.EligibilityProfile) models.Factor {
	f := models.Factor{Code: "trl_fit", Label: "TRL compatibility", MaxPoints: maxTRL}

	if profile == nil || !profile.TRL.IsSet() || (profile.TRL.Min == nil && profile.TRL.Max == nil) {
		f.Points = maxTRL / 2
		f.Reason = "program TRL requirement unspecified; neutral credit"
		return f
	}

	lo, hi := trlBounds(profile.TRL)
	if org.TRL >= lo && org.TRL <= hi {
		f.Points = maxTRL
		f.Reason = fmt.Sprintf("TRL %d within required range %d-%d", org.TRL, lo, hi)
		return f
	}

	dist := lo - org.TRL
	if org.TRL > hi {
		dist = org.TRL - hi
	}
	points := maxTRL - 6*dist
	if points < 0 {
		points = 0
	}
	f.Points = points
	f.Reason = fmt.Sprintf("TRL %d is %d level(s) outside range %d-%d", org.TRL, dist, lo, hi)
	return f
}

func factorOrgType(org models.OrganizationProfile, profile *models.EligibilityProfile) models.Factor {
	f := models.Factor{Code: "org_type_match", Label: "Organization-type match", MaxPoints: maxOrgType}

	if profile == nil || !profile.OrgTypes.IsSet() || len(profile.OrgTypes.Values) == 0 {
		f.Points = maxOrgType / 2
		f.Reason = "program target types unspecified; neutral credit"
		return f
	}
	for _, t := range profile.OrgTypes.Values {
		if t == org.OrgType {
			f.Points = maxOrgType
			f.Reason = fmt.Sprintf("organization type %q is an exact program target", org.OrgType)
			return f
		}
	}
	// Unreachable when the org-type gate blocked; kept for expired-program
	// historical scoring where callers may skip gates.
	f.Points = 0
	f.Reason = "organization type not targeted"
	return f
}

func factorRnD(org models.OrganizationProfile) models.Factor {
	f := models.Factor{Code: "rnd_experience", Label: "R&D experience", MaxPoints: maxRnD}
	if org.HasRnDExperience {
		f.Points = maxRnD
		f.Reason = "prior national R&D project experience"
	} else {
		f.Points = firstTimeRnD
		f.Reason = "first-time applicant; partial credit"
	}
	return f
}

// factorDeadline rewards near-but-not-urgent deadlines: enough runway to
// prepare an application, not so distant that the match is speculative.
func factorDeadline(program models.FundingProgram, now time.Time) models.Factor {
	f := models.Factor{Code: "deadline_proximity", Label: "Deadline proximity", MaxPoints: maxDeadline}

	if program.DeadlineAt == nil {
		f.Points = 6
		f.Reason = "no deadline on record"
		return f
	}

	days := int(program.DeadlineAt.Sub(now).Hours() / 24)
	switch {
	case days < 0:
		f.Points = 0
		f.Reason = "deadline already passed"
	case days <= 3:
		f.Points = 5
		f.Reason = fmt.Sprintf("deadline in %d day(s): too urgent to prepare", days)
	case days <= 21:
		f.Points = maxDeadline
		f.Reason = fmt.Sprintf("deadline in %d days: near but workable", days)
	case days <= 45:
		f.Points = 11
		f.Reason = fmt.Sprintf("deadline in %d days", days)
	case days <= 90:
		f.Points = 8
		f.Reason = fmt.Sprintf("deadline in %d days", days)
	default:
		f.Points = 4
		f.Reason = fmt.Sprintf("deadline in %d days: far out", days)
	}
	return f
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
