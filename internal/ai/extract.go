package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// ExtractedEligibility is the fixed extraction schema sent to the model. All
// fields are optional; absent means the model could not find the value.
type ExtractedEligibility struct {
	OrgTypes         []string `json:"org_types"`           // sme, startup, midsize, large_company, research_institute, university, nonprofit
	Regions          []string `json:"regions"`             // region codes, e.g. SEOUL, BUSAN, ALL
	CompanyScales    []string `json:"company_scales"`      // micro, small, medium, large
	RevenueMinKRW    *int64   `json:"revenue_min_krw"`
	RevenueMaxKRW    *int64   `json:"revenue_max_krw"`
	EmployeesMin     *int     `json:"employees_min"`
	EmployeesMax     *int     `json:"employees_max"`
	BusinessAgeMin   *int     `json:"business_age_min_years"`
	BusinessAgeMax   *int     `json:"business_age_max_years"`
	TRLMin           *int     `json:"trl_min"`
	TRLMax           *int     `json:"trl_max"`
	Certifications   []string `json:"required_certifications"`
	BudgetKRW        *int64   `json:"budget_krw"`
	IndustryKeywords []string `json:"industry_keywords"`
	CorporateOnly    bool     `json:"corporate_only"`
	DeadlineISO      string   `json:"deadline_iso"` // YYYY-MM-DD
}

// ExtractEligibility asks the model to fill the eligibility schema from
// announcement text. Text is expected to be pre-truncated by the caller.
func (c *Client) ExtractEligibility(ctx context.Context, title, url, text string) (*ExtractedEligibility, error) {
	prompt := fmt.Sprintf(`You are an analyst for Korean government funding programs. Extract eligibility criteria from the announcement below into JSON.

Input:
Title: %s
URL: %s
Text:
%s

Instructions:
1. org_types: which organization kinds may apply. Use only: sme, startup, midsize, large_company, research_institute, university, nonprofit.
2. regions: region codes for geographic restrictions (SEOUL, BUSAN, DAEGU, INCHEON, GWANGJU, DAEJEON, ULSAN, SEJONG, GYEONGGI, GANGWON, CHUNGBUK, CHUNGNAM, JEONBUK, JEONNAM, GYEONGBUK, GYEONGNAM, JEJU). Use ALL when nationwide.
3. revenue/employees/business_age bounds: numeric, only when explicitly stated. Revenue in KRW.
4. trl_min/trl_max: technology readiness level range (1-9) when stated.
5. required_certifications: certification names exactly as written (e.g. ISMS-P, ISO-9001, 벤처기업확인).
6. budget_krw: total or per-project support amount in KRW.
7. industry_keywords: 1-5 short lowercase sector tags (e.g. ai, bio, manufacturing).
8. corporate_only: true when sole proprietors (개인사업자) are excluded.
9. deadline_iso: application deadline as YYYY-MM-DD when present.
10. Omit any field you cannot find. Never guess values.

JSON Schema:
{
	"org_types": ["string"],
	"regions": ["string"],
	"company_scales": ["string"],
	"revenue_min_krw": number or null,
	"revenue_max_krw": number or null,
	"employees_min": number or null,
	"employees_max": number or null,
	"business_age_min_years": number or null,
	"business_age_max_years": number or null,
	"trl_min": number or null,
	"trl_max": number or null,
	"required_certifications": ["string"],
	"budget_krw": number or null,
	"industry_keywords": ["string"],
	"corporate_only": boolean,
	"deadline_iso": "YYYY-MM-DD or null"
}

Respond ONLY with the JSON object.`, title, url, text)

	// JSON mode first; fall back to text mode with robust object extraction
	// for models that ignore the format flag.
	resp, err := c.GenerateCompletion(ctx, prompt, true)
	if err == nil {
		if data, parseErr := parseEligibilityResponse(resp); parseErr == nil {
			return data, nil
		} else {
			log.Printf("[ai] JSON mode failed parsing: %v. Retrying with text mode...", parseErr)
		}
	} else if err == ErrBudgetExhausted {
		return nil, err
	} else {
		log.Printf("[ai] JSON mode generation failed: %v. Retrying with text mode...", err)
	}

	resp, err = c.GenerateCompletion(ctx, prompt, false)
	if err != nil {
		return nil, err
	}

	data, err := parseEligibilityResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LLM JSON after retry: %w", err)
	}
	return data, nil
}

func parseEligibilityResponse(resp string) (*ExtractedEligibility, error) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	if jsonStr, ok := extractFirstJSONObject(cleaned); ok {
		cleaned = jsonStr
	}

	var data ExtractedEligibility
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
