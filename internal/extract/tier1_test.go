package extract

import (
	"testing"
	"time"
)

func TestMatchTRL(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int
		max  int
		ok   bool
	}{
		{"range tilde", "기술성숙도(TRL) 기준 TRL 6~8 단계 과제", 6, 8, true},
		{"range dash", "TRL 4-6 수준의 기술", 4, 6, true},
		{"min only", "TRL 5단계 이상 보유 기업", 5, 0, true},
		{"max only", "TRL 3 이하 초기 기술", 0, 3, true},
		{"no mention", "중소기업 대상 지원사업", 0, 0, false},
		{"out of band", "TRL 0~8", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			min, max, ok := MatchTRL(tt.text)
			if ok != tt.ok {
				t.Fatalf("MatchTRL(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if !ok {
				return
			}
			if tt.min != 0 && (min == nil || *min != tt.min) {
				t.Errorf("min = %v, want %d", min, tt.min)
			}
			if tt.max != 0 && (max == nil || *max != tt.max) {
				t.Errorf("max = %v, want %d", max, tt.max)
			}
		})
	}
}

func TestMatchRevenue(t *testing.T) {
	min, max, ok := MatchRevenue("신청자격: 전년도 매출액 100억원 이하 중소기업")
	if !ok {
		t.Fatal("expected revenue match")
	}
	if min != nil {
		t.Errorf("min = %v, want nil", min)
	}
	if max == nil || *max != 10_000_000_000 {
		t.Errorf("max = %v, want 10000000000", max)
	}

	min, _, ok = MatchRevenue("매출 10억원 이상 기업")
	if !ok || min == nil || *min != 1_000_000_000 {
		t.Errorf("lower bound: min = %v, ok = %v", min, ok)
	}
}

func TestMatchEmployees(t *testing.T) {
	_, max, ok := MatchEmployees("상시근로자 수 300명 미만인 기업")
	if !ok || max == nil || *max != 300 {
		t.Fatalf("employees: max = %v, ok = %v", max, ok)
	}
}

func TestMatchBusinessAge(t *testing.T) {
	_, max, ok := MatchBusinessAge("창업 후 7년 이내 기업 대상")
	if !ok || max == nil || *max != 7 {
		t.Fatalf("business age: max = %v, ok = %v", max, ok)
	}
}

func TestMatchCertificationsRequiresContext(t *testing.T) {
	required := MatchCertifications("ISMS-P 인증 보유 기업만 신청 가능")
	if len(required) != 1 || required[0] != "ISMS-P" {
		t.Fatalf("required certs = %v, want [ISMS-P]", required)
	}

	// preference mentions (우대) do not gate eligibility
	preferred := MatchCertifications("이노비즈 인증 기업 우대")
	if len(preferred) != 0 {
		t.Fatalf("preferred-only certs = %v, want none", preferred)
	}

	bare := MatchCertifications("정보보호 관리체계(ISMS) 관련 기술 개발")
	if len(bare) != 0 {
		t.Fatalf("bare mention certs = %v, want none", bare)
	}
}

func TestMatchRegionsNeedsRestrictionContext(t *testing.T) {
	got := MatchRegions("부산 소재 중소기업을 대상으로 지원합니다")
	if len(got) != 1 || got[0] != "BUSAN" {
		t.Fatalf("regions = %v, want [BUSAN]", got)
	}

	// agency names contain region words but carry no restriction context
	got = MatchRegions("주관기관: 서울산업진흥원")
	if len(got) != 0 {
		t.Fatalf("agency name matched as region: %v", got)
	}
}

func TestMatchStructures(t *testing.T) {
	allowed, ok := MatchStructures("법인사업자만 신청 가능 (개인사업자 제외)")
	if !ok || len(allowed) != 1 || allowed[0] != "corporate" {
		t.Fatalf("structures = %v, ok = %v", allowed, ok)
	}

	_, ok = MatchStructures("중소기업 누구나 신청 가능")
	if ok {
		t.Fatal("expected no structure restriction")
	}
}

func TestMatchBudget(t *testing.T) {
	amount, ok := MatchBudget("지원규모: 과제당 최대 5억원 이내")
	if !ok || amount != 500_000_000 {
		t.Fatalf("budget = %d, ok = %v", amount, ok)
	}
}

func TestMatchDeadline(t *testing.T) {
	dl, ok := MatchDeadline("접수기간: 2026. 1. 5. ~ 2026. 2. 28. 18:00까지")
	if !ok {
		t.Fatal("expected deadline match")
	}
	want := time.Date(2026, 2, 28, 18, 0, 0, 0, seoulLoc)
	if !dl.Equal(want) {
		t.Errorf("deadline = %v, want %v", dl, want)
	}

	_, ok = MatchDeadline("2026년 신규과제 안내")
	if ok {
		t.Error("year-only mention should not produce a deadline")
	}
}

func TestMatchIndustryKeywords(t *testing.T) {
	got := MatchIndustryKeywords("인공지능 기반 의료기기 소프트웨어 개발 지원")
	want := map[string]bool{"ai": true, "medical": true, "software": true}
	if len(got) != len(want) {
		t.Fatalf("keywords = %v, want %v", got, want)
	}
	for _, k := range got {
		if !want[k] {
			t.Errorf("unexpected keyword %q", k)
		}
	}
}
