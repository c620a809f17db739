package extract

import (
	"context"
	"testing"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/ai"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

type fakeModel struct {
	result *ai.ExtractedEligibility
	err    error
	calls  int
}

func (f *fakeModel) ExtractEligibility(_ context.Context, _, _, _ string) (*ai.ExtractedEligibility, error) {
	f.calls++
	return f.result, f.err
}

func testNow() time.Time {
	return time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
}

func TestChainLLMFillsWhatRulesMiss(t *testing.T) {
	// "부산광역시가 주관하는 ... 관할 기업" implies a regional restriction
	// without the anchored wording tier 1 keys on, so the rules tier leaves
	// regions unresolved and the model fills it at MEDIUM.
	program := &models.FundingProgram{
		ExternalID: "SMTECH-2026-001",
		Title:      "2026년 중소기업 기술혁신개발사업",
		RawText:    "신청자격: 중소기업. 부산광역시가 주관하는 사업으로 관할 기업이 대상입니다.",
	}
	model := &fakeModel{result: &ai.ExtractedEligibility{Regions: []string{"BUSAN"}}}
	chain := NewChain(NewRuleExtractor(), NewLLMExtractor(model))

	var profile models.EligibilityProfile
	if err := chain.Run(context.Background(), program, &profile, testNow()); err != nil {
		t.Fatalf("chain.Run: %v", err)
	}

	if profile.OrgTypes.Source != models.SourceTier1 {
		t.Errorf("org types source = %q, want TIER1", profile.OrgTypes.Source)
	}
	if got := profile.Regions.Values; len(got) != 1 || got[0] != "BUSAN" {
		t.Fatalf("regions = %v, want [BUSAN]", got)
	}
	if profile.Regions.Source != models.SourceTier2 {
		t.Errorf("regions source = %q, want TIER2", profile.Regions.Source)
	}
	if profile.Regions.Confidence != models.ConfidenceMedium {
		t.Errorf("regions confidence = %q, want MEDIUM", profile.Regions.Confidence)
	}
}

func TestChainLowerTierNeverOverwritesHigher(t *testing.T) {
	program := &models.FundingProgram{
		ExternalID: "KEIT-2026-042",
		Title:      "소재부품 기술개발",
		RawText:    "TRL 6~8 단계, 중소기업 대상",
	}
	// model answers for everything, including a conflicting TRL range
	trl2, trl9 := 2, 9
	model := &fakeModel{result: &ai.ExtractedEligibility{
		TRLMin:   &trl2,
		TRLMax:   &trl9,
		OrgTypes: []string{"university"},
		Regions:  []string{"SEOUL"},
	}}
	chain := NewChain(NewRuleExtractor(), NewLLMExtractor(model))

	var profile models.EligibilityProfile
	if err := chain.Run(context.Background(), program, &profile, testNow()); err != nil {
		t.Fatalf("chain.Run: %v", err)
	}

	if profile.TRL.Source != models.SourceTier1 {
		t.Fatalf("TRL source = %q, want TIER1 kept", profile.TRL.Source)
	}
	if *profile.TRL.Min != 6 || *profile.TRL.Max != 8 {
		t.Errorf("TRL = [%d,%d], want [6,8]", *profile.TRL.Min, *profile.TRL.Max)
	}
	if profile.OrgTypes.Source != models.SourceTier1 {
		t.Errorf("org types source = %q, want TIER1 kept", profile.OrgTypes.Source)
	}
	// the model may still backfill fields tier 1 had nothing for
	if profile.Regions.Source != models.SourceTier2 {
		t.Errorf("regions source = %q, want TIER2 backfill", profile.Regions.Source)
	}
}

func TestChainBudgetExhaustedLeavesFieldsUnresolved(t *testing.T) {
	program := &models.FundingProgram{
		ExternalID: "TIPA-2026-007",
		Title:      "창업성장 기술개발",
		RawText:    "혁신적인 기술을 보유한 기업을 찾습니다.",
	}
	model := &fakeModel{err: ai.ErrBudgetExhausted}
	chain := NewChain(NewRuleExtractor(), NewLLMExtractor(model))

	var profile models.EligibilityProfile
	if err := chain.Run(context.Background(), program, &profile, testNow()); err != nil {
		t.Fatalf("budget exhaustion must not surface as an error, got %v", err)
	}
	if profile.TRL.IsSet() || profile.Regions.IsSet() {
		t.Error("no tier produced values; fields must stay unset")
	}
}

func TestChainSkipsWhenEverythingResolved(t *testing.T) {
	min, max := 1, 9
	profile := models.EligibilityProfile{}
	prov := models.Provenance{Source: models.SourceAPI, Confidence: models.ConfidenceHigh}
	profile.OrgTypes = models.OrgTypeField{Values: []models.OrgType{models.OrgSME}, Provenance: prov}
	profile.Regions = models.StringListField{Values: []string{"ALL"}, Provenance: prov}
	profile.CompanyScales = models.ScaleField{Values: []models.CompanyScale{models.ScaleSmall}, Provenance: prov}
	profile.RevenueKRW = models.MoneyRangeField{Provenance: prov}
	profile.Employees = models.IntRangeField{Provenance: prov}
	profile.BusinessAgeYears = models.IntRangeField{Provenance: prov}
	profile.TRL = models.IntRangeField{Min: &min, Max: &max, Provenance: prov}
	profile.RequiredCertifications = models.StringListField{Provenance: prov}
	profile.BudgetKRW = models.MoneyField{Provenance: prov}
	profile.IndustryKeywords = models.StringListField{Values: []string{"ai"}, Provenance: prov}
	profile.Structures = models.StructureField{Provenance: prov}

	model := &fakeModel{result: &ai.ExtractedEligibility{}}
	chain := NewChain(NewRuleExtractor(), NewLLMExtractor(model))

	program := &models.FundingProgram{ExternalID: "X", Title: "t", RawText: "중소기업"}
	if err := chain.Run(context.Background(), program, &profile, testNow()); err != nil {
		t.Fatalf("chain.Run: %v", err)
	}
	if model.calls != 0 {
		t.Errorf("model called %d times for a fully resolved profile, want 0", model.calls)
	}
	if profile.OrgTypes.Source != models.SourceAPI {
		t.Errorf("API-sourced field overwritten: source = %q", profile.OrgTypes.Source)
	}
}

func TestChainSetsDeadlineFromText(t *testing.T) {
	program := &models.FundingProgram{
		ExternalID: "SMTECH-2026-009",
		Title:      "기술개발 지원사업 공고",
		RawText:    "접수마감: 2026.03.31 까지. 중소기업 대상.",
	}
	chain := NewChain(NewRuleExtractor())
	var profile models.EligibilityProfile
	if err := chain.Run(context.Background(), program, &profile, testNow()); err != nil {
		t.Fatalf("chain.Run: %v", err)
	}
	if program.DeadlineAt == nil {
		t.Fatal("expected deadline set from text")
	}
	if program.DeadlineAt.Month() != time.March || program.DeadlineAt.Day() != 31 {
		t.Errorf("deadline = %v, want March 31", program.DeadlineAt)
	}
}

func TestRunEnrichmentSkipsRulesTier(t *testing.T) {
	program := &models.FundingProgram{
		ExternalID: "KIAT-2026-015",
		Title:      "산업기술 혁신",
		RawText:    "유망 기업 지원",
	}
	budget := int64(300_000_000)
	model := &fakeModel{result: &ai.ExtractedEligibility{BudgetKRW: &budget}}
	chain := NewChain(NewRuleExtractor(), NewLLMExtractor(model))

	var profile models.EligibilityProfile
	n, err := chain.RunEnrichment(context.Background(), program, &profile, testNow())
	if err != nil {
		t.Fatalf("RunEnrichment: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one field enriched")
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1", model.calls)
	}
	if profile.BudgetKRW.AmountKRW == nil || *profile.BudgetKRW.AmountKRW != budget {
		t.Errorf("budget = %v, want %d", profile.BudgetKRW.AmountKRW, budget)
	}
}
