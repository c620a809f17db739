package match

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

func intPtr(v int) *int { return &v }

func testOrg() models.OrganizationProfile {
	return models.OrganizationProfile{
		ID:               uuid.New(),
		Name:             "테크노바",
		OrgType:          models.OrgSME,
		IndustrySector:   "ai",
		IndustryKeywords: []string{"machine learning", "computer vision"},
		TRL:              7,
		Employees:        24,
		FoundedAt:        time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC),
		Certifications:   []string{"ISO-9001"},
		Region:           "BUSAN",
		HasRnDExperience: true,
		Structure:        models.StructureCorporate,
	}
}

func testProgram(deadline time.Time) models.FundingProgram {
	return models.FundingProgram{
		ID:         uuid.New(),
		AgencyID:   "smtech",
		ExternalID: "2026-0142",
		Title:      "중소기업 기술혁신개발사업",
		Status:     models.ProgramActive,
		DeadlineAt: &deadline,
		UpdatedAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testProfile() *models.EligibilityProfile {
	tier1 := models.Provenance{Source: models.SourceTier1, Confidence: models.ConfidenceHigh}
	return &models.EligibilityProfile{
		OrgTypes:         models.OrgTypeField{Values: []models.OrgType{models.OrgSME, models.OrgStartup}, Provenance: tier1},
		TRL:              models.IntRangeField{Min: intPtr(6), Max: intPtr(8), Provenance: tier1},
		IndustryKeywords: models.StringListField{Values: []string{"machine learning", "robotics"}, Provenance: tier1},
	}
}

// Program requires TRL 6-8, org TRL = 7, org type matches, no certs
// required: gates pass and the TRL factor awards full points.
func TestScore_TRLInRangeFullPoints(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	program := testProgram(now.AddDate(0, 0, 14))

	result := Score(testOrg(), program, testProfile(), DefaultConfig(), now)

	if !result.GatePassed {
		t.Fatalf("expected gates to pass, blocked: %v", result.BlockedReasons)
	}
	var trl *models.Factor
	for i := range result.FactorBreakdown {
		if result.FactorBreakdown[i].Code == "trl_fit" {
			trl = &result.FactorBreakdown[i]
		}
	}
	if trl == nil {
		t.Fatal("trl_fit factor missing from breakdown")
	}
	if trl.Points != 20 || trl.MaxPoints != 20 {
		t.Fatalf("expected 20/20 TRL points, got %d/%d", trl.Points, trl.MaxPoints)
	}
}

// Program requires a certification the org lacks: gate fails with a specific
// reason, score is zero.
func TestScore_MissingCertificationBlocks(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	profile := testProfile()
	profile.RequiredCertifications = models.StringListField{
		Values:     []string{"ISMS-P"},
		Provenance: models.Provenance{Source: models.SourceTier1, Confidence: models.ConfidenceHigh},
	}

	result := Score(testOrg(), testProgram(now.AddDate(0, 0, 14)), profile, DefaultConfig(), now)

	if result.GatePassed {
		t.Fatal("expected gate failure")
	}
	if result.Score != 0 {
		t.Fatalf("gate failure must zero the score, got %d", result.Score)
	}
	if len(result.BlockedReasons) != 1 {
		t.Fatalf("expected exactly one blocked reason, got %v", result.BlockedReasons)
	}
	if result.BlockedReasons[0] != "ISMS-P certification required but not held" {
		t.Fatalf("unexpected reason: %q", result.BlockedReasons[0])
	}
}

func TestScore_GateFailImpliesZeroAndReasons(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		mutate func(org *models.OrganizationProfile, profile *models.EligibilityProfile)
	}{
		{"org type mismatch", func(org *models.OrganizationProfile, _ *models.EligibilityProfile) {
			org.OrgType = models.OrgUniversity
		}},
		{"trl below range", func(org *models.OrganizationProfile, _ *models.EligibilityProfile) {
			org.TRL = 2
		}},
		{"sole proprietor restricted", func(org *models.OrganizationProfile, profile *models.EligibilityProfile) {
			org.Structure = models.StructureSoleProprietor
			profile.Structures = models.StructureField{
				Allowed:    []models.BusinessStructure{models.StructureCorporate},
				Provenance: models.Provenance{Source: models.SourceTier1, Confidence: models.ConfidenceHigh},
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			org := testOrg()
			profile := testProfile()
			tc.mutate(&org, profile)

			result := Score(org, testProgram(now.AddDate(0, 0, 14)), profile, DefaultConfig(), now)
			if result.GatePassed {
				t.Fatal("expected gate failure")
			}
			if result.Score != 0 {
				t.Fatalf("expected score 0, got %d", result.Score)
			}
			if len(result.BlockedReasons) == 0 {
				t.Fatal("blocked reasons must not be empty on gate failure")
			}
		})
	}
}

func TestScore_FactorSumEqualsScore(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	deadlines := []time.Time{
		now.AddDate(0, 0, 2),
		now.AddDate(0, 0, 14),
		now.AddDate(0, 0, 40),
		now.AddDate(0, 0, 200),
	}

	for _, deadline := range deadlines {
		result := Score(testOrg(), testProgram(deadline), testProfile(), DefaultConfig(), now)
		if !result.GatePassed {
			t.Fatalf("expected pass for deadline %s", deadline)
		}
		sum := 0
		maxSum := 0
		for _, f := range result.FactorBreakdown {
			sum += f.Points
			maxSum += f.MaxPoints
		}
		if sum != result.Score {
			t.Fatalf("factor sum %d != score %d", sum, result.Score)
		}
		if result.Score > 100 {
			t.Fatalf("score %d exceeds 100", result.Score)
		}
		if maxSum != 100 {
			t.Fatalf("factor max points sum to %d, want 100", maxSum)
		}
	}
}

// Expired programs get the wider TRL tolerance: an org three levels outside
// the range still passes the gate but loses TRL points gradually.
func TestScore_ExpiredProgramTRLTolerance(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	org := testOrg()
	org.TRL = 3 // range is 6-8

	program := testProgram(now.AddDate(0, 0, -30))
	program.Status = models.ProgramExpired

	result := Score(org, program, testProfile(), DefaultConfig(), now)
	if !result.GatePassed {
		t.Fatalf("expected expired-program tolerance to pass gate, blocked: %v", result.BlockedReasons)
	}

	for _, f := range result.FactorBreakdown {
		if f.Code == "trl_fit" && f.Points >= 20 {
			t.Fatalf("expected graduated TRL falloff, got %d points", f.Points)
		}
	}

	// Same org against the active program must be blocked outright.
	active := Score(org, testProgram(now.AddDate(0, 0, 14)), testProfile(), DefaultConfig(), now)
	if active.GatePassed {
		t.Fatal("active program must enforce strict TRL range")
	}
}

func TestScore_DeadlineProximityPrefersNearButNotUrgent(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	points := func(deadline time.Time) int {
		result := Score(testOrg(), testProgram(deadline), testProfile(), DefaultConfig(), now)
		for _, f := range result.FactorBreakdown {
			if f.Code == "deadline_proximity" {
				return f.Points
			}
		}
		t.Fatal("deadline factor missing")
		return 0
	}

	urgent := points(now.AddDate(0, 0, 2))
	near := points(now.AddDate(0, 0, 14))
	far := points(now.AddDate(0, 0, 120))

	if near <= urgent {
		t.Fatalf("near deadline (%d) should beat urgent deadline (%d)", near, urgent)
	}
	if near <= far {
		t.Fatalf("near deadline (%d) should beat distant deadline (%d)", near, far)
	}
}

func TestNarrative_BlockedMentionsReason(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	profile := testProfile()
	profile.RequiredCertifications = models.StringListField{
		Values:     []string{"ISMS-P"},
		Provenance: models.Provenance{Source: models.SourceTier1, Confidence: models.ConfidenceHigh},
	}

	result := Score(testOrg(), testProgram(now.AddDate(0, 0, 14)), profile, DefaultConfig(), now)
	text := Narrative(result, "중소기업 기술혁신개발사업")

	if !strings.Contains(text, "ISMS-P") {
		t.Fatalf("narrative must carry the blocking cause: %s", text)
	}
}

func TestFirstTimeApplicantPartialRnDCredit(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	org := testOrg()
	org.HasRnDExperience = false

	result := Score(org, testProgram(now.AddDate(0, 0, 14)), testProfile(), DefaultConfig(), now)
	for _, f := range result.FactorBreakdown {
		if f.Code == "rnd_experience" {
			if f.Points != 7 {
				t.Fatalf("expected 7 partial points for first-timer, got %d", f.Points)
			}
			return
		}
	}
	t.Fatal("rnd_experience factor missing")
}
