package extract

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/paul828919/CONNECT-sub002/internal/ai"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

const maxLLMInputChars = 12000

// EligibilityModel is the slice of the AI client tier 2 needs.
type EligibilityModel interface {
	ExtractEligibility(ctx context.Context, title, url, text string) (*ai.ExtractedEligibility, error)
}

// LLMExtractor is the second tier. Model output is capped at MEDIUM
// confidence: the model infers from phrasing tier 1 could not anchor, so its
// answers are plausible rather than certain. When the call budget is
// exhausted or the model is unreachable, fields stay unresolved; that is an
// outcome, not a failure.
type LLMExtractor struct {
	model EligibilityModel
}

func NewLLMExtractor(model EligibilityModel) *LLMExtractor {
	return &LLMExtractor{model: model}
}

func (e *LLMExtractor) Name() string { return "tier2-llm" }

func (e *LLMExtractor) Extract(ctx context.Context, program *models.FundingProgram, profile *models.EligibilityProfile, unresolved FieldSet) (FieldSet, error) {
	if len(unresolved) == 0 {
		return nil, nil
	}
	text := program.RawText
	if len(text) > maxLLMInputChars {
		text = text[:maxLLMInputChars]
	}
	data, err := e.model.ExtractEligibility(ctx, program.Title, program.CanonicalURL, text)
	if err != nil {
		if errors.Is(err, ai.ErrBudgetExhausted) {
			log.Printf("[extract] LLM budget exhausted, leaving %d fields unresolved for program %s", len(unresolved), program.ExternalID)
			return nil, nil
		}
		return nil, err
	}
	return applyLLMResult(data, program, profile, unresolved), nil
}

func applyLLMResult(data *ai.ExtractedEligibility, program *models.FundingProgram, profile *models.EligibilityProfile, unresolved FieldSet) FieldSet {
	resolved := make(FieldSet)
	prov := func(verified bool) models.Provenance {
		c := models.ConfidenceMedium
		if verified {
			c = models.ConfidenceHigh
		}
		return models.Provenance{Source: models.SourceTier2, Confidence: c}
	}
	text := program.Title + "\n" + program.RawText

	if unresolved.Has(FieldOrgTypes) && len(data.OrgTypes) > 0 && canWrite(profile.OrgTypes.Provenance, models.SourceTier2) {
		types := normalizeOrgTypes(data.OrgTypes)
		if len(types) > 0 {
			profile.OrgTypes = models.OrgTypeField{Values: types, Provenance: prov(false)}
			resolved[FieldOrgTypes] = true
		}
	}
	if unresolved.Has(FieldRegions) && len(data.Regions) > 0 && canWrite(profile.Regions.Provenance, models.SourceTier2) {
		regions := normalizeRegions(data.Regions)
		if len(regions) > 0 {
			profile.Regions = models.StringListField{Values: regions, Provenance: prov(false)}
			resolved[FieldRegions] = true
		}
	}
	if unresolved.Has(FieldCompanyScales) && len(data.CompanyScales) > 0 && canWrite(profile.CompanyScales.Provenance, models.SourceTier2) {
		scales := normalizeScales(data.CompanyScales)
		if len(scales) > 0 {
			profile.CompanyScales = models.ScaleField{Values: scales, Provenance: prov(false)}
			resolved[FieldCompanyScales] = true
		}
	}
	// Numeric ranges the model claims get re-checked against the rule
	// patterns: a value the rules can re-find in the text is explicit, not
	// inferred, and keeps HIGH confidence.
	if unresolved.Has(FieldRevenue) && (data.RevenueMinKRW != nil || data.RevenueMaxKRW != nil) && canWrite(profile.RevenueKRW.Provenance, models.SourceTier2) {
		_, _, verified := MatchRevenue(text)
		profile.RevenueKRW = models.MoneyRangeField{MinKRW: data.RevenueMinKRW, MaxKRW: data.RevenueMaxKRW, Provenance: prov(verified)}
		resolved[FieldRevenue] = true
	}
	if unresolved.Has(FieldEmployees) && (data.EmployeesMin != nil || data.EmployeesMax != nil) && canWrite(profile.Employees.Provenance, models.SourceTier2) {
		_, _, verified := MatchEmployees(text)
		profile.Employees = models.IntRangeField{Min: data.EmployeesMin, Max: data.EmployeesMax, Provenance: prov(verified)}
		resolved[FieldEmployees] = true
	}
	if unresolved.Has(FieldBusinessAge) && (data.BusinessAgeMin != nil || data.BusinessAgeMax != nil) && canWrite(profile.BusinessAgeYears.Provenance, models.SourceTier2) {
		_, _, verified := MatchBusinessAge(text)
		profile.BusinessAgeYears = models.IntRangeField{Min: data.BusinessAgeMin, Max: data.BusinessAgeMax, Provenance: prov(verified)}
		resolved[FieldBusinessAge] = true
	}
	if unresolved.Has(FieldTRL) && (data.TRLMin != nil || data.TRLMax != nil) && canWrite(profile.TRL.Provenance, models.SourceTier2) {
		if validTRLBounds(data.TRLMin, data.TRLMax) {
			_, _, verified := MatchTRL(text)
			profile.TRL = models.IntRangeField{Min: data.TRLMin, Max: data.TRLMax, Provenance: prov(verified)}
			resolved[FieldTRL] = true
		}
	}
	if unresolved.Has(FieldCertifications) && len(data.Certifications) > 0 && canWrite(profile.RequiredCertifications.Provenance, models.SourceTier2) {
		profile.RequiredCertifications = models.StringListField{Values: data.Certifications, Provenance: prov(false)}
		resolved[FieldCertifications] = true
	}
	if unresolved.Has(FieldBudget) && data.BudgetKRW != nil && canWrite(profile.BudgetKRW.Provenance, models.SourceTier2) {
		profile.BudgetKRW = models.MoneyField{AmountKRW: data.BudgetKRW, Provenance: prov(false)}
		resolved[FieldBudget] = true
	}
	if unresolved.Has(FieldKeywords) && len(data.IndustryKeywords) > 0 && canWrite(profile.IndustryKeywords.Provenance, models.SourceTier2) {
		profile.IndustryKeywords = models.StringListField{Values: lowerAll(data.IndustryKeywords), Provenance: prov(false)}
		resolved[FieldKeywords] = true
	}
	if unresolved.Has(FieldStructures) && data.CorporateOnly && canWrite(profile.Structures.Provenance, models.SourceTier2) {
		profile.Structures = models.StructureField{
			Allowed:    []models.BusinessStructure{models.StructureCorporate},
			Provenance: prov(false),
		}
		resolved[FieldStructures] = true
	}
	return resolved
}

func validTRLBounds(min, max *int) bool {
	if min != nil && (*min < 1 || *min > 9) {
		return false
	}
	if max != nil && (*max < 1 || *max > 9) {
		return false
	}
	if min != nil && max != nil && *min > *max {
		return false
	}
	return true
}

var knownOrgTypes = map[string]models.OrgType{
	"sme":                models.OrgSME,
	"startup":            models.OrgStartup,
	"midsize":            models.OrgMidsize,
	"large_company":      models.OrgLargeCompany,
	"research_institute": models.OrgResearchInstitute,
	"university":         models.OrgUniversity,
	"nonprofit":          models.OrgNonprofit,
}

func normalizeOrgTypes(raw []string) []models.OrgType {
	var out []models.OrgType
	seen := make(map[models.OrgType]bool)
	for _, r := range raw {
		if t, ok := knownOrgTypes[lower(r)]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

var knownRegions = map[string]bool{
	"ALL": true, "SEOUL": true, "BUSAN": true, "DAEGU": true, "INCHEON": true,
	"GWANGJU": true, "DAEJEON": true, "ULSAN": true, "SEJONG": true,
	"GYEONGGI": true, "GANGWON": true, "CHUNGBUK": true, "CHUNGNAM": true,
	"JEONBUK": true, "JEONNAM": true, "GYEONGBUK": true, "GYEONGNAM": true,
	"JEJU": true,
}

func normalizeRegions(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range raw {
		code := upper(r)
		if knownRegions[code] && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := lower(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var knownScales = map[string]models.CompanyScale{
	"micro":  models.ScaleMicro,
	"small":  models.ScaleSmall,
	"medium": models.ScaleMedium,
	"large":  models.ScaleLarge,
}

func normalizeScales(raw []string) []models.CompanyScale {
	var out []models.CompanyScale
	seen := make(map[models.CompanyScale]bool)
	for _, r := range raw {
		if s, ok := knownScales[lower(r)]; ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
