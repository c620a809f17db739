package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const programCols = `id, agency_id, external_id, title, raw_text, source_url, canonical_url,
	COALESCE(attachment_url, ''), content_hash, body_hash, status,
	announced_at, deadline_at, scraped_at, created_at, updated_at`

func scanProgram(scan func(dest ...interface{}) error) (models.FundingProgram, error) {
	var p models.FundingProgram
	err := scan(
		&p.ID, &p.AgencyID, &p.ExternalID, &p.Title, &p.RawText, &p.SourceURL, &p.CanonicalURL,
		&p.AttachmentURL, &p.ContentHash, &p.BodyHash, &p.Status,
		&p.AnnouncedAt, &p.DeadlineAt, &p.ScrapedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// UpsertProgram writes a program keyed by (agency_id, external_id), making
// repeated ingestion of the same announcement idempotent. Returns true when a
// new row was created. content_hash and scraped_at are always refreshed and
// retained even after the program expires.
func (s *Store) UpsertProgram(ctx context.Context, p *models.FundingProgram) (bool, error) {
	query := `
		INSERT INTO funding_programs (
			agency_id, external_id, title, raw_text, source_url, canonical_url,
			attachment_url, content_hash, body_hash, status,
			announced_at, deadline_at, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (agency_id, external_id) DO UPDATE SET
			updated_at = NOW(),
			title = EXCLUDED.title,
			raw_text = COALESCE(NULLIF(EXCLUDED.raw_text, ''), funding_programs.raw_text),
			source_url = EXCLUDED.source_url,
			canonical_url = EXCLUDED.canonical_url,
			attachment_url = COALESCE(EXCLUDED.attachment_url, funding_programs.attachment_url),
			content_hash = EXCLUDED.content_hash,
			body_hash = EXCLUDED.body_hash,
			status = EXCLUDED.status,
			announced_at = COALESCE(EXCLUDED.announced_at, funding_programs.announced_at),
			deadline_at = COALESCE(EXCLUDED.deadline_at, funding_programs.deadline_at),
			scraped_at = EXCLUDED.scraped_at
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		p.AgencyID, p.ExternalID, p.Title, p.RawText, p.SourceURL, p.CanonicalURL,
		nilIfEmpty(p.AttachmentURL), p.ContentHash, p.BodyHash, p.Status,
		p.AnnouncedAt, p.DeadlineAt, p.ScrapedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert program failed: %w", err)
	}
	return inserted, nil
}

func (s *Store) GetProgram(ctx context.Context, id uuid.UUID) (*models.FundingProgram, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM funding_programs WHERE id = $1", programCols), id)
	p, err := scanProgram(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get program failed: %w", err)
	}
	return &p, nil
}

func (s *Store) GetProgramByExternalID(ctx context.Context, agencyID, externalID string) (*models.FundingProgram, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM funding_programs WHERE agency_id = $1 AND external_id = $2", programCols),
		agencyID, externalID)
	p, err := scanProgram(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get program by external id failed: %w", err)
	}
	return &p, nil
}

// ExpireProgramsPastDeadline flips active programs whose deadline has passed.
// Rows keep their content_hash and scraped_at for audit.
func (s *Store) ExpireProgramsPastDeadline(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE funding_programs
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND deadline_at IS NOT NULL AND deadline_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire sweep failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListProgramsClosingWithin returns active programs whose deadline falls in
// (now, now+days]; used by the deadline-approaching notification sweep.
func (s *Store) ListProgramsClosingWithin(ctx context.Context, now time.Time, days int) ([]models.FundingProgram, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM funding_programs
		WHERE status = 'active' AND deadline_at > $1 AND deadline_at <= $2
		ORDER BY deadline_at ASC
	`, programCols), now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("closing-within query failed: %w", err)
	}
	defer rows.Close()

	var out []models.FundingProgram
	for rows.Next() {
		p, err := scanProgram(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("closing-within scan failed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SaveEligibilityProfile(ctx context.Context, prof *models.EligibilityProfile) error {
	payload, err := json.Marshal(prof)
	if err != nil {
		return fmt.Errorf("marshal eligibility profile: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO eligibility_profiles (program_id, fields, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (program_id) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = NOW()
	`, prof.ProgramID, string(payload))
	if err != nil {
		return fmt.Errorf("save eligibility profile failed: %w", err)
	}
	return nil
}

func (s *Store) GetEligibilityProfile(ctx context.Context, programID uuid.UUID) (*models.EligibilityProfile, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		"SELECT fields FROM eligibility_profiles WHERE program_id = $1", programID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get eligibility profile failed: %w", err)
	}

	var prof models.EligibilityProfile
	if err := json.Unmarshal(raw, &prof); err != nil {
		return nil, fmt.Errorf("decode eligibility profile: %w", err)
	}
	prof.ProgramID = programID
	return &prof, nil
}

// ProgramWithProfile pairs a program with its extracted eligibility fields.
// Profile may be nil when extraction has not produced one yet.
type ProgramWithProfile struct {
	Program models.FundingProgram
	Profile *models.EligibilityProfile
}

// ListProgramsWithProfiles returns programs of the given status joined with
// their eligibility profiles, newest update first. agencyID narrows to one
// source when non-empty.
func (s *Store) ListProgramsWithProfiles(ctx context.Context, status models.ProgramStatus, agencyID string, limit int) ([]ProgramWithProfile, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.agency_id, p.external_id, p.title, p.raw_text, p.source_url, p.canonical_url,
			COALESCE(p.attachment_url, ''), p.content_hash, p.body_hash, p.status,
			p.announced_at, p.deadline_at, p.scraped_at, p.created_at, p.updated_at,
			ep.fields
		FROM funding_programs p
		LEFT JOIN eligibility_profiles ep ON ep.program_id = p.id
		WHERE p.status = $1 AND ($2 = '' OR p.agency_id = $2)
		ORDER BY p.updated_at DESC
		LIMIT $3
	`, status, agencyID, limit)
	if err != nil {
		return nil, fmt.Errorf("programs-with-profiles query failed: %w", err)
	}
	defer rows.Close()

	var out []ProgramWithProfile
	for rows.Next() {
		var p models.FundingProgram
		var raw []byte
		if err := rows.Scan(
			&p.ID, &p.AgencyID, &p.ExternalID, &p.Title, &p.RawText, &p.SourceURL, &p.CanonicalURL,
			&p.AttachmentURL, &p.ContentHash, &p.BodyHash, &p.Status,
			&p.AnnouncedAt, &p.DeadlineAt, &p.ScrapedAt, &p.CreatedAt, &p.UpdatedAt,
			&raw,
		); err != nil {
			return nil, fmt.Errorf("programs-with-profiles scan failed: %w", err)
		}

		item := ProgramWithProfile{Program: p}
		if len(raw) > 0 {
			var prof models.EligibilityProfile
			if err := json.Unmarshal(raw, &prof); err == nil {
				prof.ProgramID = p.ID
				item.Profile = &prof
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// InsertScrapeJob enqueues one job per (source, window). Returns false when a
// job for the same window already exists, which makes scheduler re-triggers
// within a window no-ops.
func (s *Store) InsertScrapeJob(ctx context.Context, job *models.ScrapeJob) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_jobs (id, source_id, priority, max_attempts, status, window_key)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		ON CONFLICT (source_id, window_key) DO NOTHING
	`, job.ID, job.SourceID, job.Priority, job.MaxAttempts, job.WindowKey)
	if err != nil {
		return false, fmt.Errorf("insert scrape job failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const jobCols = `id, source_id, priority, attempts, max_attempts, next_retry_at,
	status, window_key, COALESCE(last_error, ''), created_at, updated_at`

func scanJob(scan func(dest ...interface{}) error) (models.ScrapeJob, error) {
	var j models.ScrapeJob
	err := scan(
		&j.ID, &j.SourceID, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.NextRetryAt,
		&j.Status, &j.WindowKey, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

// DuePendingJobs returns pending jobs whose retry window has arrived, high
// priority first, oldest first within a priority.
func (s *Store) DuePendingJobs(ctx context.Context, now time.Time, limit int) ([]models.ScrapeJob, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM scrape_jobs
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, created_at ASC
		LIMIT $2
	`, jobCols), now, limit)
	if err != nil {
		return nil, fmt.Errorf("due jobs query failed: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScrapeJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("due jobs scan failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkJobRunning transitions pending→running; returns false if another
// worker claimed the job first.
func (s *Store) MarkJobRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs SET status = 'running', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark job running failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RecordJobSuccess(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = 'succeeded', attempts = attempts + 1, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("record job success failed: %w", err)
	}
	return nil
}

// RecordJobFailure increments attempts and moves the job to the given status:
// pending (with next_retry_at) for retries, dead_lettered or manual_review
// for terminal failures.
func (s *Store) RecordJobFailure(ctx context.Context, id uuid.UUID, status models.JobStatus, lastError string, nextRetryAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = $2, attempts = attempts + 1, last_error = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, status, lastError, nextRetryAt)
	if err != nil {
		return fmt.Errorf("record job failure failed: %w", err)
	}
	return nil
}

func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]models.ScrapeJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM scrape_jobs ORDER BY updated_at DESC LIMIT $1", jobCols), limit)
	if err != nil {
		return nil, fmt.Errorf("recent jobs query failed: %w", err)
	}
	defer rows.Close()

	var jobs []models.ScrapeJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("recent jobs scan failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SourceStatus aggregates the operational snapshot for one source: last
// successful run, success rate over the trailing 30 days, dead-letter and
// manual-review backlog.
func (s *Store) SourceStatus(ctx context.Context, sourceID string) (models.SourceStatus, error) {
	status := models.SourceStatus{SourceID: sourceID}

	var succeeded, terminal, dead, manual int
	err := s.pool.QueryRow(ctx, `
		SELECT
			MAX(updated_at) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status IN ('succeeded', 'dead_lettered', 'manual_review')),
			COUNT(*) FILTER (WHERE status = 'dead_lettered'),
			COUNT(*) FILTER (WHERE status = 'manual_review')
		FROM scrape_jobs
		WHERE source_id = $1 AND created_at > NOW() - INTERVAL '30 days'
	`, sourceID).Scan(&status.LastRunAt, &succeeded, &terminal, &dead, &manual)
	if err != nil {
		return status, fmt.Errorf("source status query failed: %w", err)
	}

	if terminal > 0 {
		status.SuccessRate = float64(succeeded) / float64(terminal)
	}
	status.DeadLetterCount = dead
	status.ManualReview = manual
	return status, nil
}

// SaveMatchResult persists a computed result for analytics, including
// below-threshold results that listings suppress.
func (s *Store) SaveMatchResult(ctx context.Context, m *models.MatchResult) error {
	breakdown, err := json.Marshal(m.FactorBreakdown)
	if err != nil {
		return fmt.Errorf("marshal factor breakdown: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO match_results (
			program_id, organization_id, score, gate_passed,
			blocked_reasons, warning_reasons, factor_breakdown,
			computed_at, program_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
		ON CONFLICT (program_id, organization_id) DO UPDATE SET
			score = EXCLUDED.score,
			gate_passed = EXCLUDED.gate_passed,
			blocked_reasons = EXCLUDED.blocked_reasons,
			warning_reasons = EXCLUDED.warning_reasons,
			factor_breakdown = EXCLUDED.factor_breakdown,
			computed_at = EXCLUDED.computed_at,
			program_updated_at = EXCLUDED.program_updated_at
		RETURNING id
	`,
		m.ProgramID, m.OrganizationID, m.Score, m.GatePassed,
		m.BlockedReasons, m.WarningReasons, string(breakdown),
		m.ComputedAt, m.ProgramUpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("save match result failed: %w", err)
	}
	return nil
}

func (s *Store) GetMatchResult(ctx context.Context, id uuid.UUID) (*models.MatchResult, error) {
	var m models.MatchResult
	var breakdown []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, program_id, organization_id, score, gate_passed,
			blocked_reasons, warning_reasons, factor_breakdown,
			computed_at, program_updated_at
		FROM match_results WHERE id = $1
	`, id).Scan(
		&m.ID, &m.ProgramID, &m.OrganizationID, &m.Score, &m.GatePassed,
		&m.BlockedReasons, &m.WarningReasons, &breakdown,
		&m.ComputedAt, &m.ProgramUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match result failed: %w", err)
	}
	if len(breakdown) > 0 {
		_ = json.Unmarshal(breakdown, &m.FactorBreakdown)
	}
	return &m, nil
}

// nilIfEmpty returns nil for empty strings so NULL is stored in DB.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
