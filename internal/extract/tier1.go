package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// RuleExtractor is the deterministic first tier: anchored Korean and English
// patterns over the announcement title and body. Everything it emits is HIGH
// confidence; a pattern either matches or the field is left for later tiers.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

func (e *RuleExtractor) Name() string { return "tier1-rules" }

func (e *RuleExtractor) Extract(_ context.Context, program *models.FundingProgram, profile *models.EligibilityProfile, unresolved FieldSet) (FieldSet, error) {
	text := program.Title + "\n" + program.RawText
	return ApplyRules(text, profile, unresolved, models.SourceTier1), nil
}

// ApplyRules runs every tier-1 pattern over text and writes matches into the
// profile under the given source tag. Tier 3 reuses the same rules over
// attachment text, tagged TIER3. Returns the set of fields resolved.
func ApplyRules(text string, profile *models.EligibilityProfile, unresolved FieldSet, source models.FieldSource) FieldSet {
	prov := models.Provenance{Source: source, Confidence: models.ConfidenceHigh}
	resolved := make(FieldSet)

	if unresolved.Has(FieldRegions) {
		if regions := MatchRegions(text); len(regions) > 0 && canWrite(profile.Regions.Provenance, source) {
			profile.Regions = models.StringListField{Values: regions, Provenance: prov}
			resolved[FieldRegions] = true
		}
	}
	if unresolved.Has(FieldOrgTypes) {
		if types := MatchOrgTypes(text); len(types) > 0 && canWrite(profile.OrgTypes.Provenance, source) {
			profile.OrgTypes = models.OrgTypeField{Values: types, Provenance: prov}
			resolved[FieldOrgTypes] = true
		}
	}
	if unresolved.Has(FieldCompanyScales) {
		if scales := MatchScales(text); len(scales) > 0 && canWrite(profile.CompanyScales.Provenance, source) {
			profile.CompanyScales = models.ScaleField{Values: scales, Provenance: prov}
			resolved[FieldCompanyScales] = true
		}
	}
	if unresolved.Has(FieldRevenue) {
		if min, max, ok := MatchRevenue(text); ok && canWrite(profile.RevenueKRW.Provenance, source) {
			profile.RevenueKRW = models.MoneyRangeField{MinKRW: min, MaxKRW: max, Provenance: prov}
			resolved[FieldRevenue] = true
		}
	}
	if unresolved.Has(FieldEmployees) {
		if min, max, ok := MatchEmployees(text); ok && canWrite(profile.Employees.Provenance, source) {
			profile.Employees = models.IntRangeField{Min: min, Max: max, Provenance: prov}
			resolved[FieldEmployees] = true
		}
	}
	if unresolved.Has(FieldBusinessAge) {
		if min, max, ok := MatchBusinessAge(text); ok && canWrite(profile.BusinessAgeYears.Provenance, source) {
			profile.BusinessAgeYears = models.IntRangeField{Min: min, Max: max, Provenance: prov}
			resolved[FieldBusinessAge] = true
		}
	}
	if unresolved.Has(FieldTRL) {
		if min, max, ok := MatchTRL(text); ok && canWrite(profile.TRL.Provenance, source) {
			profile.TRL = models.IntRangeField{Min: min, Max: max, Provenance: prov}
			resolved[FieldTRL] = true
		}
	}
	if unresolved.Has(FieldCertifications) {
		if certs := MatchCertifications(text); len(certs) > 0 && canWrite(profile.RequiredCertifications.Provenance, source) {
			profile.RequiredCertifications = models.StringListField{Values: certs, Provenance: prov}
			resolved[FieldCertifications] = true
		}
	}
	if unresolved.Has(FieldBudget) {
		if amount, ok := MatchBudget(text); ok && canWrite(profile.BudgetKRW.Provenance, source) {
			profile.BudgetKRW = models.MoneyField{AmountKRW: &amount, Provenance: prov}
			resolved[FieldBudget] = true
		}
	}
	if unresolved.Has(FieldKeywords) {
		if kws := MatchIndustryKeywords(text); len(kws) > 0 && canWrite(profile.IndustryKeywords.Provenance, source) {
			profile.IndustryKeywords = models.StringListField{Values: kws, Provenance: prov}
			resolved[FieldKeywords] = true
		}
	}
	if unresolved.Has(FieldStructures) {
		if allowed, ok := MatchStructures(text); ok && canWrite(profile.Structures.Provenance, source) {
			profile.Structures = models.StructureField{Allowed: allowed, Provenance: prov}
			resolved[FieldStructures] = true
		}
	}
	return resolved
}

var regionTerms = []struct {
	term string
	code string
}{
	{"전국", "ALL"},
	{"서울", "SEOUL"}, {"부산", "BUSAN"}, {"대구", "DAEGU"}, {"인천", "INCHEON"},
	{"광주", "GWANGJU"}, {"대전", "DAEJEON"}, {"울산", "ULSAN"}, {"세종", "SEJONG"},
	{"경기", "GYEONGGI"}, {"강원", "GANGWON"}, {"충북", "CHUNGBUK"}, {"충남", "CHUNGNAM"},
	{"전북", "JEONBUK"}, {"전남", "JEONNAM"}, {"경북", "GYEONGBUK"}, {"경남", "GYEONGNAM"},
	{"제주", "JEJU"},
}

// Region mentions only count in restriction context ("부산 소재", "서울 지역
// 기업"); agency names and addresses routinely contain region words.
var regionCtx = regexp.MustCompile(`(소재|지역\s*(내\s*)?(기업|소재)|관내|본사.{0,6}(소재|위치)|사업장.{0,6}(소재|위치))`)

func MatchRegions(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, rt := range regionTerms {
		idx := strings.Index(text, rt.term)
		if idx < 0 || seen[rt.code] {
			continue
		}
		if rt.code == "ALL" {
			return []string{"ALL"}
		}
		// look at a short window after the mention for restriction context
		end := idx + len(rt.term) + 40
		if end > len(text) {
			end = len(text)
		}
		if regionCtx.MatchString(text[idx:end]) {
			seen[rt.code] = true
			out = append(out, rt.code)
		}
	}
	return out
}

var orgTypeTerms = []struct {
	term string
	typ  models.OrgType
}{
	{"중소기업", models.OrgSME},
	{"스타트업", models.OrgStartup},
	{"창업기업", models.OrgStartup},
	{"예비창업", models.OrgStartup},
	{"중견기업", models.OrgMidsize},
	{"대기업", models.OrgLargeCompany},
	{"연구기관", models.OrgResearchInstitute},
	{"출연(연)", models.OrgResearchInstitute},
	{"정부출연연구기관", models.OrgResearchInstitute},
	{"대학", models.OrgUniversity},
	{"비영리", models.OrgNonprofit},
}

func MatchOrgTypes(text string) []models.OrgType {
	var out []models.OrgType
	seen := make(map[models.OrgType]bool)
	for _, ot := range orgTypeTerms {
		if strings.Contains(text, ot.term) && !seen[ot.typ] {
			seen[ot.typ] = true
			out = append(out, ot.typ)
		}
	}
	return out
}

var scaleTerms = []struct {
	term  string
	scale models.CompanyScale
}{
	{"소상공인", models.ScaleMicro},
	{"소기업", models.ScaleSmall},
	{"중기업", models.ScaleMedium},
	{"중견기업", models.ScaleLarge},
	{"대기업", models.ScaleLarge},
}

func MatchScales(text string) []models.CompanyScale {
	var out []models.CompanyScale
	seen := make(map[models.CompanyScale]bool)
	for _, st := range scaleTerms {
		if strings.Contains(text, st.term) && !seen[st.scale] {
			seen[st.scale] = true
			out = append(out, st.scale)
		}
	}
	return out
}

var (
	revenueRe     = regexp.MustCompile(`매출(?:액)?\s*([\d,.]+)\s*(억|천만|백만)\s*원?\s*(이하|이내|미만|이상)`)
	employeesRe   = regexp.MustCompile(`(?:상시\s*근로자|상시\s*종업원|종업원|직원)\s*(?:수)?\s*([\d,]+)\s*(?:인|명)\s*(이상|이하|이내|미만)`)
	businessAgeRe = regexp.MustCompile(`(?:창업|설립)\s*(?:후)?\s*(\d+)\s*년\s*(이내|이하|미만|이상)`)
	trlRangeRe    = regexp.MustCompile(`TRL\s*(\d)\s*[~∼–-]\s*(\d)`)
	trlBoundRe    = regexp.MustCompile(`(?:TRL|기술성숙도)\s*(?:\(TRL\))?\s*(\d)\s*(?:단계)?\s*(이상|이하)`)
	budgetRe      = regexp.MustCompile(`(?:지원\s*금액|지원금|지원\s*규모|총\s*사업비|과제당|최대)\s*([\d,.]+)\s*(억|천만|백만)\s*원`)
)

func parseKoreanAmount(num, unit string) (int64, bool) {
	num = strings.ReplaceAll(num, ",", "")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	switch unit {
	case "억":
		return int64(f * 100_000_000), true
	case "천만":
		return int64(f * 10_000_000), true
	case "백만":
		return int64(f * 1_000_000), true
	}
	return int64(f), true
}

// MatchRevenue parses bounds like "매출액 100억원 이하". "미만" is treated as
// the inclusive bound one won lower, which is indistinguishable at this
// granularity.
func MatchRevenue(text string) (min, max *int64, ok bool) {
	m := revenueRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, false
	}
	amount, parsed := parseKoreanAmount(m[1], m[2])
	if !parsed {
		return nil, nil, false
	}
	if m[3] == "이상" {
		return &amount, nil, true
	}
	return nil, &amount, true
}

func MatchEmployees(text string) (min, max *int, ok bool) {
	m := employeesRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil, nil, false
	}
	if m[2] == "이상" {
		return &n, nil, true
	}
	return nil, &n, true
}

func MatchBusinessAge(text string) (min, max *int, ok bool) {
	m := businessAgeRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, nil, false
	}
	if m[2] == "이상" {
		return &n, nil, true
	}
	return nil, &n, true
}

func MatchTRL(text string) (min, max *int, ok bool) {
	if m := trlRangeRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if lo >= 1 && hi <= 9 && lo <= hi {
			return &lo, &hi, true
		}
	}
	if m := trlBoundRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 9 {
			return nil, nil, false
		}
		if m[2] == "이상" {
			return &n, nil, true
		}
		return nil, &n, true
	}
	return nil, nil, false
}

var certPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`ISMS-P`), "ISMS-P"},
	{regexp.MustCompile(`ISMS(?:[^-]|$)`), "ISMS"},
	{regexp.MustCompile(`ISO[\s-]?9001`), "ISO-9001"},
	{regexp.MustCompile(`ISO[\s-]?14001`), "ISO-14001"},
	{regexp.MustCompile(`ISO[\s-]?27001`), "ISO-27001"},
	{regexp.MustCompile(`GS\s*인증`), "GS인증"},
	{regexp.MustCompile(`이노비즈|INNO-?BIZ`), "이노비즈"},
	{regexp.MustCompile(`메인비즈|MAIN-?BIZ`), "메인비즈"},
	{regexp.MustCompile(`벤처기업\s*확인|벤처기업확인`), "벤처기업확인"},
	{regexp.MustCompile(`기업부설연구소`), "기업부설연구소"},
}

// Certification mentions must appear in a requirement context; announcements
// often list certifications as scoring preferences (우대) which do not gate.
var certRequireCtx = regexp.MustCompile(`(보유\s*(기업|필수)|필수|인증\s*기업(?:만|에\s*한)|취득\s*기업|보유한\s*기업)`)
var certPreferCtx = regexp.MustCompile(`우대`)

func MatchCertifications(text string) []string {
	var out []string
	for _, cp := range certPatterns {
		loc := cp.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		end := loc[1] + 60
		if end > len(text) {
			end = len(text)
		}
		window := text[loc[0]:end]
		if certRequireCtx.MatchString(window) && !certPreferCtx.MatchString(window) {
			out = append(out, cp.name)
		}
	}
	return out
}

func MatchBudget(text string) (int64, bool) {
	m := budgetRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseKoreanAmount(m[1], m[2])
}

var keywordTerms = []struct {
	term string
	tag  string
}{
	{"인공지능", "ai"}, {"AI", "ai"},
	{"빅데이터", "bigdata"},
	{"소프트웨어", "software"}, {"SW", "software"},
	{"바이오", "bio"},
	{"의료기기", "medical"}, {"디지털헬스", "medical"}, {"헬스케어", "medical"},
	{"반도체", "semiconductor"},
	{"이차전지", "battery"}, {"배터리", "battery"},
	{"수소", "hydrogen"},
	{"에너지", "energy"},
	{"환경", "environment"},
	{"소재", "materials"}, {"부품", "materials"},
	{"제조", "manufacturing"}, {"스마트공장", "smart_factory"}, {"스마트팩토리", "smart_factory"},
	{"로봇", "robotics"},
	{"콘텐츠", "contents"},
	{"핀테크", "fintech"},
	{"농식품", "agrifood"}, {"푸드테크", "agrifood"},
	{"정보통신", "ict"}, {"ICT", "ict"},
}

func MatchIndustryKeywords(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, kt := range keywordTerms {
		if strings.Contains(text, kt.term) && !seen[kt.tag] {
			seen[kt.tag] = true
			out = append(out, kt.tag)
		}
	}
	return out
}

var (
	corpOnlyRe = regexp.MustCompile(`개인\s*사업자\s*(?:는)?\s*제외|법인\s*사업자(?:만|에\s*한)|법인\s*기업(?:만|에\s*한)|법인에\s*한(?:함|하여)`)
	soleOkRe   = regexp.MustCompile(`개인\s*사업자\s*(?:포함|가능)`)
)

func MatchStructures(text string) ([]models.BusinessStructure, bool) {
	if corpOnlyRe.MatchString(text) {
		return []models.BusinessStructure{models.StructureCorporate}, true
	}
	if soleOkRe.MatchString(text) {
		return []models.BusinessStructure{models.StructureCorporate, models.StructureSoleProprietor}, true
	}
	return nil, false
}

var (
	deadlineDateRe = regexp.MustCompile(`(20\d{2})\s*[.\-/년]\s*(\d{1,2})\s*[.\-/월]\s*(\d{1,2})\s*일?`)
	deadlineCtxRe  = regexp.MustCompile(`(마감|접수\s*기간|신청\s*기한|접수\s*마감|까지)`)
)

// MatchDeadline finds an announcement deadline: the last date appearing in
// deadline context (접수 기간 ranges list the close date second). Times are
// normalized to 18:00 KST, the customary close-of-submissions hour.
func MatchDeadline(text string) (time.Time, bool) {
	var best time.Time
	found := false
	for _, loc := range deadlineDateRe.FindAllStringSubmatchIndex(text, -1) {
		start := loc[0] - 30
		if start < 0 {
			start = 0
		}
		end := loc[1] + 15
		if end > len(text) {
			end = len(text)
		}
		if !deadlineCtxRe.MatchString(text[start:end]) {
			continue
		}
		m := deadlineDateRe.FindStringSubmatch(text[loc[0]:loc[1]])
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		t := time.Date(year, time.Month(month), day, 18, 0, 0, 0, seoulLoc)
		if !found || t.After(best) {
			best = t
			found = true
		}
	}
	return best, found
}

var seoulLoc = mustLoadSeoul()

func mustLoadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}
