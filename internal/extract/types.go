// Package extract implements the tiered eligibility-field extraction chain:
// deterministic rules first, language-model inference for what rules miss,
// attachment parsing as the last resort. Tiers are an ordered list of
// extractors, each consuming the unresolved-field set left by the previous
// one. A field no tier can resolve stays absent; nothing is fabricated.
package extract

import (
	"context"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// FieldKey identifies one eligibility-profile field for unresolved-set
// bookkeeping.
type FieldKey string

const (
	FieldOrgTypes       FieldKey = "org_types"
	FieldRegions        FieldKey = "regions"
	FieldCompanyScales  FieldKey = "company_scales"
	FieldRevenue        FieldKey = "revenue"
	FieldEmployees      FieldKey = "employees"
	FieldBusinessAge    FieldKey = "business_age"
	FieldTRL            FieldKey = "trl"
	FieldCertifications FieldKey = "certifications"
	FieldBudget         FieldKey = "budget"
	FieldKeywords       FieldKey = "keywords"
	FieldStructures     FieldKey = "structures"
)

// AllFields lists every extractable field, in a stable order.
var AllFields = []FieldKey{
	FieldOrgTypes, FieldRegions, FieldCompanyScales, FieldRevenue,
	FieldEmployees, FieldBusinessAge, FieldTRL, FieldCertifications,
	FieldBudget, FieldKeywords, FieldStructures,
}

// FieldSet is a set of field keys.
type FieldSet map[FieldKey]bool

func NewFieldSet(keys ...FieldKey) FieldSet {
	s := make(FieldSet, len(keys))
	for _, k := range keys {
		s[k] = true
	}
	return s
}

func (s FieldSet) Has(k FieldKey) bool { return s[k] }

// UnresolvedFields returns the fields of a profile that are still eligible
// for backfill: unset, or set with LOW confidence.
func UnresolvedFields(p *models.EligibilityProfile) FieldSet {
	s := make(FieldSet)
	check := func(key FieldKey, prov models.Provenance) {
		if !prov.Resolved() {
			s[key] = true
		}
	}
	check(FieldOrgTypes, p.OrgTypes.Provenance)
	check(FieldRegions, p.Regions.Provenance)
	check(FieldCompanyScales, p.CompanyScales.Provenance)
	check(FieldRevenue, p.RevenueKRW.Provenance)
	check(FieldEmployees, p.Employees.Provenance)
	check(FieldBusinessAge, p.BusinessAgeYears.Provenance)
	check(FieldTRL, p.TRL.Provenance)
	check(FieldCertifications, p.RequiredCertifications.Provenance)
	check(FieldBudget, p.BudgetKRW.Provenance)
	check(FieldKeywords, p.IndustryKeywords.Provenance)
	check(FieldStructures, p.Structures.Provenance)
	return s
}

// canWrite enforces the tier-precedence invariant: a field set by a
// higher-precedence source is never overwritten by a lower one. Equal or
// higher precedence may overwrite (re-extraction after content change), and
// anything may backfill an unset or LOW-confidence field.
func canWrite(existing models.Provenance, source models.FieldSource) bool {
	if !existing.Resolved() {
		return true
	}
	return models.SourceRank(source) >= models.SourceRank(existing.Source)
}

// Extractor is one tier of the chain. Extract fills the fields it can out
// of the requested unresolved set, stamping provenance, and returns the set
// of fields it resolved. Failing to resolve a field is never an error.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, program *models.FundingProgram, profile *models.EligibilityProfile, unresolved FieldSet) (FieldSet, error)
}
