package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// PostgresGateway implements Gateway against a pgxpool connection pool,
// following the teacher's raw-SQL-over-pgxpool style
// (modules/jobs/repository/job_repository.go) rather than an ORM.
type PostgresGateway struct {
	pool   *pgxpool.Pool
	policy RetryPolicy
}

// NewPostgresGateway wires a Gateway against an already-connected pool.
func NewPostgresGateway(pool *pgxpool.Pool) *PostgresGateway {
	return &PostgresGateway{pool: pool, policy: DefaultRetryPolicy}
}

// withRetry retries fn while it returns a retryable *model.RepoError, up to
// the configured policy, per the connection-pool resilience note in
// SPEC_FULL.md §5 (no long transactions span phases; transient I/O errors
// are retried at the gateway, not by every caller).
func (g *PostgresGateway) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < g.policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var repoErr *model.RepoError
		if !errors.As(err, &repoErr) || !repoErr.Retryable() {
			return err
		}
		if attempt < g.policy.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.policy.Delay(attempt)):
			}
		}
	}
	return err
}

// classify maps a raw pgx/pgconn error into the RepoError taxonomy. Pool
// exhaustion, connection failures, and context deadlines are transient;
// everything else (constraint violations, bad SQL) is permanent.
func classify(rowID, detail string, err error) *model.RepoError {
	if err == nil {
		return nil
	}
	kind := model.RepoPermanent
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = model.RepoTransient
	case errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "53300"):
		kind = model.RepoTransient
	case errors.Is(err, pgx.ErrNoRows):
		kind = model.RepoPermanent
	}
	return &model.RepoError{Kind: kind, RowID: rowID, Detail: detail, Err: err}
}

func (g *PostgresGateway) Health(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

func (g *PostgresGateway) LoadActiveUsers(ctx context.Context) ([]model.User, error) {
	const query = `
		SELECT user_id, email, prefecture_code, city_code, age_group, gender,
		       preferred_categories, preferred_salary_min, preferred_work_styles,
		       experience_level, email_enabled, is_active
		FROM users
		WHERE is_active = true
	`
	var users []model.User
	err := g.withRetry(ctx, func() error {
		users = nil
		rows, err := g.pool.Query(ctx, query)
		if err != nil {
			return classify("", "load active users", err)
		}
		defer rows.Close()

		for rows.Next() {
			var u model.User
			var preferredCategories []int
			var preferredWorkStyles []string
			if err := rows.Scan(&u.UserID, &u.Email, &u.PrefectureCode, &u.CityCode, &u.AgeGroup,
				&u.Gender, &preferredCategories, &u.PreferredSalaryMin, &preferredWorkStyles,
				&u.ExperienceLevel, &u.EmailEnabled, &u.IsActive); err != nil {
				return classify("", "scan user row", err)
			}
			u.PreferredCategories = toSet(preferredCategories)
			u.PreferredWorkStyles = toStringSet(preferredWorkStyles)
			users = append(users, u)
		}
		if err := rows.Err(); err != nil {
			return classify("", "iterate active users", err)
		}
		return nil
	})
	return users, err
}

func (g *PostgresGateway) LoadUserProfile(ctx context.Context, userID int64) (*model.UserProfile, error) {
	const query = `
		SELECT user_id, applications, clicks, views, avg_salary, last_active,
		       preference_scores, category_interest, latent_factors, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`
	var profile *model.UserProfile
	err := g.withRetry(ctx, func() error {
		row := g.pool.QueryRow(ctx, query, userID)
		var p model.UserProfile
		var preferenceScores, categoryInterestJSON []byte
		if err := row.Scan(&p.UserID, &p.Behavior.Applications, &p.Behavior.Clicks, &p.Behavior.Views,
			&p.Behavior.AvgSalary, &p.Behavior.LastActive, &preferenceScores, &categoryInterestJSON,
			&p.LatentFactors, &p.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				profile = nil
				return nil
			}
			return classify(fmt.Sprintf("%d", userID), "load user profile", err)
		}
		if len(preferenceScores) > 0 {
			_ = json.Unmarshal(preferenceScores, &p.PreferenceScores)
		}
		if len(categoryInterestJSON) > 0 {
			_ = json.Unmarshal(categoryInterestJSON, &p.CategoryInterest)
		}
		profile = &p
		return nil
	})
	return profile, err
}

func (g *PostgresGateway) LoadCandidateJobs(ctx context.Context) ([]model.Job, error) {
	const query = `
		SELECT job_id, company_code, title, required_skills, preferred_skills,
		       category_code, prefecture_code, city_code, station_name, address,
		       salary_type, min_salary, max_salary, fee, features, posted_at, created_at
		FROM jobs
		WHERE posted_at >= now() - interval '30 days'
	`
	var jobs []model.Job
	err := g.withRetry(ctx, func() error {
		jobs = nil
		rows, err := g.pool.Query(ctx, query)
		if err != nil {
			return classify("", "load candidate jobs", err)
		}
		defer rows.Close()

		for rows.Next() {
			var j model.Job
			var salaryType string
			if err := rows.Scan(&j.JobID, &j.CompanyCode, &j.Title, &j.RequiredSkills, &j.PreferredSkills,
				&j.CategoryCode, &j.PrefectureCode, &j.CityCode, &j.StationName, &j.Address,
				&salaryType, &j.MinSalary, &j.MaxSalary, &j.Fee, &j.Features, &j.PostedAt, &j.CreatedAt); err != nil {
				return classify("", "scan job row", err)
			}
			j.SalaryType = model.SalaryType(salaryType)
			if j.MaxSalary != nil {
				j.HourlyEquivalent = model.HourlyEquivalentOf(j.SalaryType, *j.MaxSalary)
			} else if j.MinSalary != nil {
				j.HourlyEquivalent = model.HourlyEquivalentOf(j.SalaryType, *j.MinSalary)
			}
			jobs = append(jobs, j)
		}
		if err := rows.Err(); err != nil {
			return classify("", "iterate candidate jobs", err)
		}
		return nil
	})
	return jobs, err
}

func (g *PostgresGateway) LoadApplications(ctx context.Context, userID int64, sinceDays int) ([]model.Application, error) {
	const query = `
		SELECT user_id, company_code, applied_at, category_code, prefecture, salary
		FROM applications
		WHERE user_id = $1 AND applied_at >= now() - ($2 || ' days')::interval
	`
	var apps []model.Application
	err := g.withRetry(ctx, func() error {
		apps = nil
		rows, err := g.pool.Query(ctx, query, userID, sinceDays)
		if err != nil {
			return classify(fmt.Sprintf("%d", userID), "load applications", err)
		}
		defer rows.Close()

		for rows.Next() {
			var a model.Application
			if err := rows.Scan(&a.UserID, &a.CompanyCode, &a.AppliedAt, &a.CategoryCode, &a.Prefecture, &a.Salary); err != nil {
				// Malformed rows are ignored (logged upstream), not a failure.
				continue
			}
			apps = append(apps, a)
		}
		return rows.Err()
	})
	return apps, err
}

func (g *PostgresGateway) LoadPrefectureAdjacency(ctx context.Context) (map[string][]string, error) {
	const query = `SELECT pref_code, adjacent_prefectures FROM prefecture_adjacency`
	result := make(map[string][]string)
	err := g.withRetry(ctx, func() error {
		rows, err := g.pool.Query(ctx, query)
		if err != nil {
			return classify("", "load prefecture adjacency", err)
		}
		defer rows.Close()
		for rows.Next() {
			var pref string
			var adjacent []string
			if err := rows.Scan(&pref, &adjacent); err != nil {
				return classify("", "scan adjacency row", err)
			}
			result[pref] = adjacent
		}
		return rows.Err()
	})
	return result, err
}

func (g *PostgresGateway) LoadOccupationHierarchy(ctx context.Context) (map[int]int, error) {
	const query = `SELECT code, major_category_code FROM occupation_master`
	result := make(map[int]int)
	err := g.withRetry(ctx, func() error {
		rows, err := g.pool.Query(ctx, query)
		if err != nil {
			return classify("", "load occupation hierarchy", err)
		}
		defer rows.Close()
		for rows.Next() {
			var code, major int
			if err := rows.Scan(&code, &major); err != nil {
				return classify("", "scan occupation row", err)
			}
			result[code] = major
		}
		return rows.Err()
	})
	return result, err
}

func (g *PostgresGateway) LoadCompanyPopularity(ctx context.Context, companyCode string) (float64, error) {
	const query = `SELECT popularity_score FROM company_popularity WHERE company_code = $1`
	var popularity float64
	err := g.withRetry(ctx, func() error {
		row := g.pool.QueryRow(ctx, query, companyCode)
		if err := row.Scan(&popularity); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				popularity = 0
				return nil
			}
			return classify(companyCode, "load company popularity", err)
		}
		return nil
	})
	return popularity, err
}

func (g *PostgresGateway) UpsertJobs(ctx context.Context, jobs []model.Job) (int, error) {
	const query = `
		INSERT INTO jobs (job_id, company_code, title, required_skills, preferred_skills,
		                   category_code, prefecture_code, city_code, station_name, address,
		                   salary_type, min_salary, max_salary, fee, features, posted_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
		ON CONFLICT (job_id) DO UPDATE SET
			title = EXCLUDED.title, required_skills = EXCLUDED.required_skills,
			preferred_skills = EXCLUDED.preferred_skills, category_code = EXCLUDED.category_code,
			prefecture_code = EXCLUDED.prefecture_code, city_code = EXCLUDED.city_code,
			station_name = EXCLUDED.station_name, address = EXCLUDED.address,
			salary_type = EXCLUDED.salary_type, min_salary = EXCLUDED.min_salary,
			max_salary = EXCLUDED.max_salary, fee = EXCLUDED.fee, features = EXCLUDED.features,
			posted_at = EXCLUDED.posted_at
	`
	deduped := dedupeByJobID(jobs)
	err := g.withRetry(ctx, func() error {
		batch := &pgx.Batch{}
		for _, j := range deduped {
			batch.Queue(query, j.JobID, j.CompanyCode, j.Title, j.RequiredSkills, j.PreferredSkills,
				j.CategoryCode, j.PrefectureCode, j.CityCode, j.StationName, j.Address,
				string(j.SalaryType), j.MinSalary, j.MaxSalary, j.Fee, j.Features, j.PostedAt)
		}
		br := g.pool.SendBatch(ctx, batch)
		defer br.Close()
		for range deduped {
			if _, err := br.Exec(); err != nil {
				return classify("", "upsert jobs batch", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(deduped), nil
}

// dedupeByJobID keeps the last occurrence of each job_id, matching the
// CSV-ingestion dedup rule in spec §6 (there on external_id; here the
// repository already receives rows keyed by the resolved job_id).
func dedupeByJobID(jobs []model.Job) []model.Job {
	seen := make(map[int64]int, len(jobs))
	out := make([]model.Job, 0, len(jobs))
	for _, j := range jobs {
		if idx, ok := seen[j.JobID]; ok {
			out[idx] = j
			continue
		}
		seen[j.JobID] = len(out)
		out = append(out, j)
	}
	return out
}

func (g *PostgresGateway) UpsertMatchScores(ctx context.Context, batchID string, scores []model.MatchScore) error {
	const query = `
		INSERT INTO match_scores (batch_id, user_id, job_id, base_score, seo_score,
		                           personal_score, composite_score, components, bonuses, penalties)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (batch_id, user_id, job_id) DO UPDATE SET
			composite_score = EXCLUDED.composite_score
	`
	return g.withRetry(ctx, func() error {
		batch := &pgx.Batch{}
		for _, s := range scores {
			components, _ := json.Marshal(s.Components)
			bonuses, _ := json.Marshal(s.Bonuses)
			penalties, _ := json.Marshal(s.Penalties)
			batch.Queue(query, batchID, s.UserID, s.JobID, s.Base, s.SEO, s.Personal, s.Composite,
				components, bonuses, penalties)
		}
		br := g.pool.SendBatch(ctx, batch)
		defer br.Close()
		for range scores {
			if _, err := br.Exec(); err != nil {
				return classify("", "upsert match scores batch", err)
			}
		}
		return nil
	})
}

func (g *PostgresGateway) EnqueueEmails(ctx context.Context, batchID string, records []model.EmailRecord) error {
	const query = `
		INSERT INTO email_queue (batch_id, user_id, email, subject, body_text, body_html,
		                          scheduled_for, status, correlation_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (batch_id, user_id) DO UPDATE SET
			status = EXCLUDED.status, scheduled_for = EXCLUDED.scheduled_for
	`
	return g.withRetry(ctx, func() error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(query, batchID, r.UserID, r.Email, r.Subject, r.BodyText, r.BodyHTML,
				r.ScheduledFor, string(r.Status), r.CorrelationID)
		}
		br := g.pool.SendBatch(ctx, batch)
		defer br.Close()
		for range records {
			if _, err := br.Exec(); err != nil {
				return classify("", "enqueue emails batch", err)
			}
		}
		return nil
	})
}

func (g *PostgresGateway) SaveBatchRun(ctx context.Context, run *model.BatchRun) error {
	const query = `
		INSERT INTO batch_executions (batch_id, started_at, ended_at, status, processed, errors, error_summary)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (batch_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at, status = EXCLUDED.status,
			processed = EXCLUDED.processed, errors = EXCLUDED.errors, error_summary = EXCLUDED.error_summary
	`
	return g.withRetry(ctx, func() error {
		errorSummary, _ := json.Marshal(run.ErrorSummary)
		_, err := g.pool.Exec(ctx, query, run.BatchID, run.StartedAt, run.EndedAt, string(run.Status),
			run.Counters.Processed, run.Counters.Errors, errorSummary)
		if err != nil {
			return classify(run.BatchID, "save batch run", err)
		}
		return nil
	})
}

func (g *PostgresGateway) LoadBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error) {
	const query = `SELECT batch_id, started_at, ended_at, status, processed, errors, error_summary FROM batch_executions WHERE batch_id = $1`
	var run *model.BatchRun
	err := g.withRetry(ctx, func() error {
		var r model.BatchRun
		var statusStr string
		var errorSummary []byte
		row := g.pool.QueryRow(ctx, query, batchID)
		if err := row.Scan(&r.BatchID, &r.StartedAt, &r.EndedAt, &statusStr, &r.Counters.Processed, &r.Counters.Errors, &errorSummary); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				run = nil
				return nil
			}
			return classify(batchID, "load batch run", err)
		}
		r.Status = model.RunStatus(statusStr)
		r.ErrorSummary = map[string]int{}
		_ = json.Unmarshal(errorSummary, &r.ErrorSummary)
		run = &r
		return nil
	})
	return run, err
}

func (g *PostgresGateway) ListBatchRuns(ctx context.Context, status model.RunStatus) ([]model.BatchRun, error) {
	query := `SELECT batch_id, started_at, ended_at, status, processed, errors, error_summary FROM batch_executions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at DESC LIMIT 100`

	var runs []model.BatchRun
	err := g.withRetry(ctx, func() error {
		rows, err := g.pool.Query(ctx, query, args...)
		if err != nil {
			return classify("", "list batch runs", err)
		}
		defer rows.Close()

		runs = nil
		for rows.Next() {
			var r model.BatchRun
			var statusStr string
			var errorSummary []byte
			if err := rows.Scan(&r.BatchID, &r.StartedAt, &r.EndedAt, &statusStr, &r.Counters.Processed, &r.Counters.Errors, &errorSummary); err != nil {
				return classify("", "scan batch run row", err)
			}
			r.Status = model.RunStatus(statusStr)
			r.ErrorSummary = map[string]int{}
			_ = json.Unmarshal(errorSummary, &r.ErrorSummary)
			runs = append(runs, r)
		}
		return rows.Err()
	})
	return runs, err
}

func (g *PostgresGateway) CancelBatchRun(ctx context.Context, batchID string) error {
	const query = `UPDATE batch_executions SET status = $2 WHERE batch_id = $1 AND status IN ('PENDING','RUNNING')`
	return g.withRetry(ctx, func() error {
		tag, err := g.pool.Exec(ctx, query, batchID, string(model.RunCancelled))
		if err != nil {
			return classify(batchID, "cancel batch run", err)
		}
		if tag.RowsAffected() == 0 {
			return &model.RepoError{Kind: model.RepoPermanent, RowID: batchID, Detail: "batch run not found or not cancellable"}
		}
		return nil
	})
}

func (g *PostgresGateway) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	const query = `
		INSERT INTO checkpoints (batch_id, phase, at, payload)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (batch_id, phase) DO UPDATE SET at = EXCLUDED.at, payload = EXCLUDED.payload
	`
	return g.withRetry(ctx, func() error {
		_, err := g.pool.Exec(ctx, query, cp.BatchID, string(cp.Phase), cp.At, cp.Payload)
		if err != nil {
			return classify(cp.BatchID, "save checkpoint", err)
		}
		return nil
	})
}

func (g *PostgresGateway) LoadCheckpoint(ctx context.Context, batchID string, phase model.Phase) (*model.Checkpoint, error) {
	const query = `SELECT batch_id, phase, at, payload FROM checkpoints WHERE batch_id = $1 AND phase = $2`
	var cp *model.Checkpoint
	err := g.withRetry(ctx, func() error {
		var c model.Checkpoint
		var phaseStr string
		row := g.pool.QueryRow(ctx, query, batchID, string(phase))
		if err := row.Scan(&c.BatchID, &phaseStr, &c.At, &c.Payload); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				cp = nil
				return nil
			}
			return classify(batchID, "load checkpoint", err)
		}
		c.Phase = model.Phase(phaseStr)
		cp = &c
		return nil
	})
	return cp, err
}

func (g *PostgresGateway) RecordAlert(ctx context.Context, alert model.Alert) error {
	const query = `INSERT INTO alerts (batch_id, severity, message, timestamp) VALUES ($1,$2,$3,$4)`
	return g.withRetry(ctx, func() error {
		_, err := g.pool.Exec(ctx, query, alert.BatchID, string(alert.Severity), alert.Message, alert.Timestamp)
		if err != nil {
			return classify(alert.BatchID, "record alert", err)
		}
		return nil
	})
}

func toSet(ints []int) map[int]struct{} {
	if ints == nil {
		return nil
	}
	set := make(map[int]struct{}, len(ints))
	for _, v := range ints {
		set[v] = struct{}{}
	}
	return set
}

func toStringSet(strs []string) map[string]struct{} {
	if strs == nil {
		return nil
	}
	set := make(map[string]struct{}, len(strs))
	for _, v := range strs {
		set[v] = struct{}{}
	}
	return set
}
