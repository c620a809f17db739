package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paul828919/CONNECT-sub002/internal/db"
	"github.com/paul828919/CONNECT-sub002/internal/events"
	"github.com/paul828919/CONNECT-sub002/internal/extract"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

var seoulLocation = loadSeoul()

func loadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Pipeline wires fetching, change detection, tiered extraction and
// persistence for one ingestion run.
type Pipeline struct {
	Store    *db.Store
	Fetcher  Fetcher
	Chain    *extract.Chain
	Hub      *events.Hub
	Registry *Registry
	Now      func() time.Time
}

func NewPipeline(pool *pgxpool.Pool, registry *Registry, fetcher Fetcher, chain *extract.Chain, hub *events.Hub) *Pipeline {
	return &Pipeline{
		Store:    db.NewStore(pool),
		Fetcher:  fetcher,
		Chain:    chain,
		Hub:      hub,
		Registry: registry,
		Now:      time.Now,
	}
}

// IngestSource runs the configured strategy for one source.
func (p *Pipeline) IngestSource(ctx context.Context, sourceID string) (IngestionStats, error) {
	config, err := p.Registry.Find(sourceID)
	if err != nil {
		return IngestionStats{}, err
	}
	strategy, err := GlobalStrategyFactory.Get(config.Strategy)
	if err != nil {
		return IngestionStats{}, fmt.Errorf("strategy %q not found for source %q", config.Strategy, sourceID)
	}

	log.Printf("[ingest] starting run for source %s (%s)", config.ID, config.Name)
	start := p.Now()
	stats, err := strategy.Run(ctx, *config, p)
	log.Printf("[ingest] source %s: found=%d saved=%d unchanged=%d errors=%d in %s",
		config.ID, stats.TotalFound, stats.TotalSaved, stats.TotalUnchanged, stats.Errors,
		p.Now().Sub(start).Round(time.Millisecond))
	return stats, err
}

// IngestAll runs every registered source, continuing past per-source errors.
func (p *Pipeline) IngestAll(ctx context.Context) (map[string]IngestionStats, error) {
	results := make(map[string]IngestionStats)
	for _, src := range p.Registry.Sources {
		stats, err := p.IngestSource(ctx, src.ID)
		if err != nil {
			log.Printf("[ingest] source %s failed: %v", src.ID, err)
			stats.Errors++
		}
		results[src.ID] = stats
	}
	return results, nil
}

// SaveAnnouncement is the per-item pipeline: normalize, detect change, and
// for NEW or UPDATED items run extraction and persist. UNCHANGED items cost
// one hash comparison and nothing else.
func (p *Pipeline) SaveAnnouncement(ctx context.Context, config SourceConfig, raw RawAnnouncement) (ChangeKind, error) {
	if strings.TrimSpace(raw.ExternalID) == "" {
		return ChangeUnchanged, fmt.Errorf("missing external id (url=%s, agency=%s)", raw.SourceURL, raw.AgencyID)
	}

	title := normalizeSpace(sanitizeUTF8(HTMLToText(raw.Title)))
	bodyHTML := SanitizeHTML(raw.BodyHTML)
	bodyText := HTMLToText(bodyHTML)
	canonical := CanonicalizeURL(raw.SourceURL)

	contentHash := ContentHash(raw.AgencyID, title, canonical)
	bodyHash := BodyHash(bodyText)

	existing, err := p.Store.GetProgramByExternalID(ctx, raw.AgencyID, raw.ExternalID)
	if err != nil && err != db.ErrNotFound {
		return ChangeUnchanged, fmt.Errorf("looking up %s/%s: %w", raw.AgencyID, raw.ExternalID, err)
	}

	var storedContent, storedBody string
	if existing != nil {
		storedContent, storedBody = existing.ContentHash, existing.BodyHash
	}
	change := DetectChange(storedContent, storedBody, contentHash, bodyHash)
	if change == ChangeUnchanged {
		return ChangeUnchanged, nil
	}

	now := p.Now()
	program := &models.FundingProgram{
		AgencyID:      raw.AgencyID,
		ExternalID:    raw.ExternalID,
		Title:         title,
		RawText:       bodyText,
		SourceURL:     raw.SourceURL,
		CanonicalURL:  canonical,
		AttachmentURL: raw.AttachmentURL,
		ContentHash:   contentHash,
		BodyHash:      bodyHash,
		Status:        models.ProgramActive,
		ScrapedAt:     now,
	}
	if t, ok := parseFeedDate(raw.AnnouncedRaw); ok {
		program.AnnouncedAt = &t
	}
	if t, ok := parseFeedDate(raw.DeadlineRaw); ok {
		// feed end dates are day-granular; submissions close at 18:00 KST
		t = time.Date(t.Year(), t.Month(), t.Day(), 18, 0, 0, 0, seoulLocation)
		program.DeadlineAt = &t
	}
	if program.DeadlineAt != nil && program.DeadlineAt.Before(now) {
		program.Status = models.ProgramExpired
	}

	// Profile carries over on UPDATED so fields from higher tiers survive;
	// fields whose underlying text changed get re-resolved because tier 1
	// re-runs at equal precedence.
	profile := &models.EligibilityProfile{}
	if existing != nil && change == ChangeUpdated {
		if prior, err := p.Store.GetEligibilityProfile(ctx, existing.ID); err == nil {
			profile = prior
		}
		if storedBody != bodyHash {
			resetRuleFields(profile)
		}
	}
	applyAPIEligibility(raw, profile)

	inserted, err := p.Store.UpsertProgram(ctx, program)
	if err != nil {
		return change, fmt.Errorf("upserting %s/%s: %w", raw.AgencyID, raw.ExternalID, err)
	}
	_ = inserted

	if p.Chain != nil {
		if err := p.Chain.Run(ctx, program, profile, now); err != nil {
			log.Printf("[ingest] extraction incomplete for %s/%s: %v", raw.AgencyID, raw.ExternalID, err)
		}
		// the chain may have found a deadline the feed did not carry
		if program.DeadlineAt != nil {
			if _, err := p.Store.UpsertProgram(ctx, program); err != nil {
				log.Printf("[ingest] deadline update failed for %s/%s: %v", raw.AgencyID, raw.ExternalID, err)
			}
		}
	}
	profile.ProgramID = program.ID
	profile.UpdatedAt = now
	if err := p.Store.SaveEligibilityProfile(ctx, profile); err != nil {
		return change, fmt.Errorf("saving profile for %s/%s: %w", raw.AgencyID, raw.ExternalID, err)
	}

	if p.Hub != nil {
		p.Hub.Publish(events.Event{Kind: events.ProgramUpdated, ProgramID: program.ID})
	}
	return change, nil
}

// resetRuleFields clears fields owned by the deterministic tiers so they are
// re-extracted from the changed text. API-sourced fields stay.
func resetRuleFields(p *models.EligibilityProfile) {
	clear := func(prov models.Provenance) bool {
		return prov.Source != models.SourceAPI
	}
	if clear(p.OrgTypes.Provenance) {
		p.OrgTypes = models.OrgTypeField{}
	}
	if clear(p.Regions.Provenance) {
		p.Regions = models.StringListField{}
	}
	if clear(p.CompanyScales.Provenance) {
		p.CompanyScales = models.ScaleField{}
	}
	if clear(p.RevenueKRW.Provenance) {
		p.RevenueKRW = models.MoneyRangeField{}
	}
	if clear(p.Employees.Provenance) {
		p.Employees = models.IntRangeField{}
	}
	if clear(p.BusinessAgeYears.Provenance) {
		p.BusinessAgeYears = models.IntRangeField{}
	}
	if clear(p.TRL.Provenance) {
		p.TRL = models.IntRangeField{}
	}
	if clear(p.RequiredCertifications.Provenance) {
		p.RequiredCertifications = models.StringListField{}
	}
	if clear(p.BudgetKRW.Provenance) {
		p.BudgetKRW = models.MoneyField{}
	}
	if clear(p.IndustryKeywords.Provenance) {
		p.IndustryKeywords = models.StringListField{}
	}
	if clear(p.Structures.Provenance) {
		p.Structures = models.StructureField{}
	}
}

// applyAPIEligibility stamps structured criteria the feed published directly.
// API provenance outranks every extraction tier.
func applyAPIEligibility(raw RawAnnouncement, profile *models.EligibilityProfile) {
	payload, ok := raw.Extra["api_eligibility"]
	if !ok || payload == "" {
		return
	}
	var elig feedEligibility
	if err := json.Unmarshal([]byte(payload), &elig); err != nil {
		log.Printf("[ingest] bad api_eligibility payload for %s/%s: %v", raw.AgencyID, raw.ExternalID, err)
		return
	}
	prov := models.Provenance{Source: models.SourceAPI, Confidence: models.ConfidenceHigh}
	if len(elig.OrgTypes) > 0 {
		var types []models.OrgType
		for _, t := range elig.OrgTypes {
			types = append(types, models.OrgType(strings.ToLower(t)))
		}
		profile.OrgTypes = models.OrgTypeField{Values: types, Provenance: prov}
	}
	if len(elig.Regions) > 0 {
		var regions []string
		for _, r := range elig.Regions {
			regions = append(regions, strings.ToUpper(r))
		}
		profile.Regions = models.StringListField{Values: regions, Provenance: prov}
	}
	if elig.TRLMin != nil || elig.TRLMax != nil {
		profile.TRL = models.IntRangeField{Min: elig.TRLMin, Max: elig.TRLMax, Provenance: prov}
	}
}

// EnrichmentStats summarizes a backlog enrichment pass.
type EnrichmentStats struct {
	ProgramsScanned int `json:"programs_scanned"`
	ProgramsFilled  int `json:"programs_filled"`
	FieldsResolved  int `json:"fields_resolved"`
}

// EnrichPrograms spends LLM budget and attachment parses on active programs
// whose profiles still have unresolved fields. Tier 1 is skipped; its output
// is already deterministic on the stored text.
func (p *Pipeline) EnrichPrograms(ctx context.Context, agencyID string, limit int) (EnrichmentStats, error) {
	stats := EnrichmentStats{}
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.Store.ListProgramsWithProfiles(ctx, models.ProgramActive, agencyID, limit)
	if err != nil {
		return stats, fmt.Errorf("listing enrichment candidates: %w", err)
	}

	for i := range rows {
		program := &rows[i].Program
		profile := rows[i].Profile
		if profile == nil {
			profile = &models.EligibilityProfile{ProgramID: program.ID}
		}
		if len(extract.UnresolvedFields(profile)) == 0 {
			continue
		}
		stats.ProgramsScanned++

		n, err := p.Chain.RunEnrichment(ctx, program, profile, p.Now())
		if err != nil {
			log.Printf("[enrich] program %s/%s: %v", program.AgencyID, program.ExternalID, err)
		}
		if n == 0 {
			continue
		}
		stats.FieldsResolved += n
		stats.ProgramsFilled++

		if err := p.Store.SaveEligibilityProfile(ctx, profile); err != nil {
			return stats, fmt.Errorf("saving enriched profile for %s: %w", program.ExternalID, err)
		}
		if p.Hub != nil {
			p.Hub.Publish(events.Event{Kind: events.ProgramUpdated, ProgramID: program.ID})
		}
	}
	return stats, nil
}

// ExpireSweep flips programs whose deadline has passed to expired and
// invalidates their cached matches.
func (p *Pipeline) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := p.Store.ExpireProgramsPastDeadline(ctx, p.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[ingest] expired %d programs past deadline", n)
		if p.Hub != nil {
			// program ids are not returned by the sweep; a broadcast
			// invalidation is the safe over-approximation
			p.Hub.Publish(events.Event{Kind: events.ProgramUpdated})
		}
	}
	return n, nil
}
