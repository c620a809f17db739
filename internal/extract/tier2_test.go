package extract

import (
	"testing"

	"github.com/paul828919/CONNECT-sub002/internal/ai"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

func TestLLMNumericRangesKeepHighWhenTextAnchorsThem(t *testing.T) {
	revMax := int64(10_000_000_000)
	empMax := 300
	ageMax := 7
	data := &ai.ExtractedEligibility{
		RevenueMaxKRW:  &revMax,
		EmployeesMax:   &empMax,
		BusinessAgeMax: &ageMax,
	}
	program := &models.FundingProgram{
		ExternalID: "KSTARTUP-2026-017",
		Title:      "창업도약패키지",
		RawText:    "신청자격: 매출액 100억 원 이하, 상시 근로자 300명 이하, 창업 후 7년 이내 기업",
	}

	var profile models.EligibilityProfile
	unresolved := NewFieldSet(FieldRevenue, FieldEmployees, FieldBusinessAge)
	resolved := applyLLMResult(data, program, &profile, unresolved)

	if len(resolved) != 3 {
		t.Fatalf("resolved %d fields, want 3: %v", len(resolved), resolved)
	}
	if profile.RevenueKRW.Confidence != models.ConfidenceHigh {
		t.Errorf("revenue confidence = %q, want HIGH for text-anchored value", profile.RevenueKRW.Confidence)
	}
	if profile.Employees.Confidence != models.ConfidenceHigh {
		t.Errorf("employees confidence = %q, want HIGH for text-anchored value", profile.Employees.Confidence)
	}
	if profile.BusinessAgeYears.Confidence != models.ConfidenceHigh {
		t.Errorf("business age confidence = %q, want HIGH for text-anchored value", profile.BusinessAgeYears.Confidence)
	}
	if profile.RevenueKRW.Source != models.SourceTier2 {
		t.Errorf("revenue source = %q, want TIER2", profile.RevenueKRW.Source)
	}
}

func TestLLMNumericRangesCappedMediumWithoutTextAnchor(t *testing.T) {
	revMax := int64(10_000_000_000)
	empMax := 300
	ageMax := 7
	trlMin := 4
	data := &ai.ExtractedEligibility{
		RevenueMaxKRW:  &revMax,
		EmployeesMax:   &empMax,
		BusinessAgeMax: &ageMax,
		TRLMin:         &trlMin,
	}
	program := &models.FundingProgram{
		ExternalID: "KSTARTUP-2026-018",
		Title:      "초기창업 사업화 지원",
		RawText:    "초기 창업기업의 사업화를 지원합니다. 세부 자격은 공고문 참조.",
	}

	var profile models.EligibilityProfile
	unresolved := NewFieldSet(FieldRevenue, FieldEmployees, FieldBusinessAge, FieldTRL)
	applyLLMResult(data, program, &profile, unresolved)

	for name, got := range map[string]models.Confidence{
		"revenue":      profile.RevenueKRW.Confidence,
		"employees":    profile.Employees.Confidence,
		"business age": profile.BusinessAgeYears.Confidence,
		"TRL":          profile.TRL.Confidence,
	} {
		if got != models.ConfidenceMedium {
			t.Errorf("%s confidence = %q, want MEDIUM for inferred value", name, got)
		}
	}
}
