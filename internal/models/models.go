package models

import (
	"time"

	"github.com/google/uuid"
)

// ProgramStatus is the lifecycle state of a funding program announcement.
type ProgramStatus string

const (
	ProgramActive  ProgramStatus = "active"
	ProgramExpired ProgramStatus = "expired"
)

// OrgType categorizes the kind of organization a program targets.
type OrgType string

const (
	OrgSME               OrgType = "sme"
	OrgStartup           OrgType = "startup"
	OrgMidsize           OrgType = "midsize"
	OrgLargeCompany      OrgType = "large_company"
	OrgResearchInstitute OrgType = "research_institute"
	OrgUniversity        OrgType = "university"
	OrgNonprofit         OrgType = "nonprofit"
)

// CompanyScale is the size category used by Korean program announcements
// (소기업/중기업/중견기업/대기업).
type CompanyScale string

const (
	ScaleMicro  CompanyScale = "micro"
	ScaleSmall  CompanyScale = "small"
	ScaleMedium CompanyScale = "medium"
	ScaleLarge  CompanyScale = "large"
)

// BusinessStructure distinguishes incorporated entities from sole proprietors
// (법인 vs 개인사업자).
type BusinessStructure string

const (
	StructureCorporate      BusinessStructure = "corporate"
	StructureSoleProprietor BusinessStructure = "sole_proprietor"
)

// FieldSource records which extraction stage produced a field value.
type FieldSource string

const (
	SourceAPI   FieldSource = "API"
	SourceTier1 FieldSource = "TIER1"
	SourceTier2 FieldSource = "TIER2"
	SourceTier3 FieldSource = "TIER3"
)

// SourceRank orders field sources by precedence. Higher wins; a value written
// by a higher-ranked source is never overwritten by a lower-ranked one.
func SourceRank(s FieldSource) int {
	switch s {
	case SourceAPI:
		return 4
	case SourceTier1:
		return 3
	case SourceTier2:
		return 2
	case SourceTier3:
		return 1
	}
	return 0
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Provenance tags an extracted field with its origin and confidence.
type Provenance struct {
	Source     FieldSource `json:"source,omitempty"`
	Confidence Confidence  `json:"confidence,omitempty"`
}

// IsSet reports whether any extraction stage has produced a value.
func (p Provenance) IsSet() bool {
	return p.Source != ""
}

// Resolved reports whether the field is settled enough that later tiers
// should leave it alone: set with at least MEDIUM confidence.
func (p Provenance) Resolved() bool {
	return p.IsSet() && p.Confidence != ConfidenceLow
}

type StringListField struct {
	Values []string `json:"values,omitempty"`
	Provenance
}

type OrgTypeField struct {
	Values []OrgType `json:"values,omitempty"`
	Provenance
}

type ScaleField struct {
	Values []CompanyScale `json:"values,omitempty"`
	Provenance
}

// IntRangeField is an inclusive bound pair; nil means unbounded on that side.
type IntRangeField struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
	Provenance
}

type MoneyRangeField struct {
	MinKRW *int64 `json:"min_krw,omitempty"`
	MaxKRW *int64 `json:"max_krw,omitempty"`
	Provenance
}

type MoneyField struct {
	AmountKRW *int64 `json:"amount_krw,omitempty"`
	Provenance
}

type StructureField struct {
	Allowed []BusinessStructure `json:"allowed,omitempty"`
	Provenance
}

// FundingProgram is one external agency announcement. Owned by the ingestion
// pipeline; the scoring engine reads it but never mutates it.
type FundingProgram struct {
	ID            uuid.UUID     `json:"id"`
	AgencyID      string        `json:"agency_id"`
	ExternalID    string        `json:"external_id"`
	Title         string        `json:"title"`
	RawText       string        `json:"raw_text"`
	SourceURL     string        `json:"source_url"`
	CanonicalURL  string        `json:"canonical_url"`
	AttachmentURL string        `json:"attachment_url,omitempty"`
	ContentHash   string        `json:"content_hash"`
	BodyHash      string        `json:"body_hash"`
	Status        ProgramStatus `json:"status"`
	AnnouncedAt   *time.Time    `json:"announced_at,omitempty"`
	DeadlineAt    *time.Time    `json:"deadline_at,omitempty"`
	ScrapedAt     time.Time     `json:"scraped_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// EligibilityProfile holds the structured fields extracted from a program's
// free text. Every field carries provenance; missing fields stay zero-valued
// with no source tag rather than being fabricated.
type EligibilityProfile struct {
	ProgramID              uuid.UUID       `json:"program_id"`
	OrgTypes               OrgTypeField    `json:"org_types"`
	Regions                StringListField `json:"regions"`
	CompanyScales          ScaleField      `json:"company_scales"`
	RevenueKRW             MoneyRangeField `json:"revenue_krw"`
	Employees              IntRangeField   `json:"employees"`
	BusinessAgeYears       IntRangeField   `json:"business_age_years"`
	TRL                    IntRangeField   `json:"trl"`
	RequiredCertifications StringListField `json:"required_certifications"`
	BudgetKRW              MoneyField      `json:"budget_krw"`
	IndustryKeywords       StringListField `json:"industry_keywords"`
	Structures             StructureField  `json:"structures"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// OrganizationProfile is the counterparty being matched. It is created and
// edited by the external profile-management service; read-only here.
type OrganizationProfile struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	OrgType          OrgType           `json:"org_type"`
	IndustrySector   string            `json:"industry_sector"`
	IndustryKeywords []string          `json:"industry_keywords"`
	TRL              int               `json:"trl"`
	AnnualRevenueKRW int64             `json:"annual_revenue_krw"`
	Employees        int               `json:"employees"`
	FoundedAt        time.Time         `json:"founded_at"`
	Certifications   []string          `json:"certifications"`
	Region           string            `json:"region"`
	HasRnDExperience bool              `json:"has_rnd_experience"`
	Structure        BusinessStructure `json:"structure"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// BusinessAgeYears derives the organization's age at the given instant.
func (o OrganizationProfile) BusinessAgeYears(now time.Time) int {
	if o.FoundedAt.IsZero() || now.Before(o.FoundedAt) {
		return 0
	}
	years := now.Year() - o.FoundedAt.Year()
	anniversary := o.FoundedAt.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}

// JobPriority orders scrape jobs in the work queue.
type JobPriority string

const (
	PriorityHigh     JobPriority = "high"
	PriorityStandard JobPriority = "standard"
)

// JobStatus is the lifecycle of a ScrapeJob. Terminal states are succeeded,
// dead_lettered and manual_review.
type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobRunning      JobStatus = "running"
	JobSucceeded    JobStatus = "succeeded"
	JobDeadLettered JobStatus = "dead_lettered"
	JobManualReview JobStatus = "manual_review"
)

// ScrapeJob is one unit of fetch work for a source. WindowKey dedupes
// re-triggers within the same scheduled window.
type ScrapeJob struct {
	ID          uuid.UUID   `json:"id"`
	SourceID    string      `json:"source_id"`
	Priority    JobPriority `json:"priority"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	NextRetryAt *time.Time  `json:"next_retry_at,omitempty"`
	Status      JobStatus   `json:"status"`
	WindowKey   string      `json:"window_key"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Factor is one scored component of a match. Points are traceable to the
// specific rule named in Reason.
type Factor struct {
	Code      string `json:"code"`
	Label     string `json:"label"`
	Points    int    `json:"points"`
	MaxPoints int    `json:"max_points"`
	Reason    string `json:"reason"`
}

// MatchResult is the output of the scoring engine for one (org, program)
// pair. It is always derivable; the persisted copy exists for analytics and
// caching, never as the source of truth.
type MatchResult struct {
	ID               uuid.UUID `json:"id"`
	ProgramID        uuid.UUID `json:"program_id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	Score            int       `json:"score"`
	GatePassed       bool      `json:"gate_passed"`
	BlockedReasons   []string  `json:"blocked_reasons,omitempty"`
	WarningReasons   []string  `json:"warning_reasons,omitempty"`
	FactorBreakdown  []Factor  `json:"factor_breakdown,omitempty"`
	ComputedAt       time.Time `json:"computed_at"`
	ProgramUpdatedAt time.Time `json:"program_updated_at"`
}

// SourceStatus is the operational snapshot exposed for dashboards.
type SourceStatus struct {
	SourceID        string     `json:"source_id"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	SuccessRate     float64    `json:"success_rate"`
	DeadLetterCount int        `json:"dead_letter_count"`
	ManualReview    int        `json:"manual_review_count"`
	SuspendedUntil  *time.Time `json:"suspended_until,omitempty"`
}
