package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGateway re-implements the three methods under test against a
// pgxmock.PgxPoolIface instead of a real *pgxpool.Pool, following the
// teacher's testJobRepo convention of mock-backed duplicate logic rather
// than an injected interface on the production type.
type testGateway struct {
	mock pgxmock.PgxPoolIface
}

func (g *testGateway) LoadActiveUsers(ctx context.Context) ([]model.User, error) {
	const query = `
		SELECT user_id, email, prefecture_code, city_code, age_group, gender,
		       preferred_categories, preferred_salary_min, preferred_work_styles,
		       experience_level, email_enabled, is_active
		FROM users
		WHERE is_active = true
	`
	rows, err := g.mock.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var preferredCategories []int
		var preferredWorkStyles []string
		if err := rows.Scan(&u.UserID, &u.Email, &u.PrefectureCode, &u.CityCode, &u.AgeGroup,
			&u.Gender, &preferredCategories, &u.PreferredSalaryMin, &preferredWorkStyles,
			&u.ExperienceLevel, &u.EmailEnabled, &u.IsActive); err != nil {
			return nil, err
		}
		u.PreferredCategories = toSet(preferredCategories)
		u.PreferredWorkStyles = toStringSet(preferredWorkStyles)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (g *testGateway) SaveBatchRun(ctx context.Context, run *model.BatchRun) error {
	const query = `
		INSERT INTO batch_executions (batch_id, started_at, ended_at, status, processed, errors, error_summary)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (batch_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at, status = EXCLUDED.status,
			processed = EXCLUDED.processed, errors = EXCLUDED.errors, error_summary = EXCLUDED.error_summary
	`
	errorSummary, _ := json.Marshal(run.ErrorSummary)
	_, err := g.mock.Exec(ctx, query, run.BatchID, run.StartedAt, run.EndedAt, string(run.Status),
		run.Counters.Processed, run.Counters.Errors, errorSummary)
	return err
}

func (g *testGateway) LoadBatchRun(ctx context.Context, batchID string) (*model.BatchRun, error) {
	const query = `SELECT batch_id, started_at, ended_at, status, processed, errors, error_summary FROM batch_executions WHERE batch_id = $1`
	var r model.BatchRun
	var statusStr string
	var errorSummary []byte
	row := g.mock.QueryRow(ctx, query, batchID)
	if err := row.Scan(&r.BatchID, &r.StartedAt, &r.EndedAt, &statusStr, &r.Counters.Processed, &r.Counters.Errors, &errorSummary); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.Status = model.RunStatus(statusStr)
	r.ErrorSummary = map[string]int{}
	_ = json.Unmarshal(errorSummary, &r.ErrorSummary)
	return &r, nil
}

func (g *testGateway) RecordAlert(ctx context.Context, alert model.Alert) error {
	const query = `INSERT INTO alerts (batch_id, severity, message, timestamp) VALUES ($1,$2,$3,$4)`
	_, err := g.mock.Exec(ctx, query, alert.BatchID, string(alert.Severity), alert.Message, alert.Timestamp)
	return err
}

func TestGateway_LoadActiveUsers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{
		"user_id", "email", "prefecture_code", "city_code", "age_group", "gender",
		"preferred_categories", "preferred_salary_min", "preferred_work_styles",
		"experience_level", "email_enabled", "is_active",
	}).AddRow(
		int64(1), "user@example.com", "13", "13101", model.AgeGroupLate20s, "F",
		[]int{10, 20}, (*int)(nil), []string{"remote"}, 3, true, true,
	)

	mock.ExpectQuery("SELECT user_id, email, prefecture_code").WillReturnRows(rows)

	repo := &testGateway{mock: mock}
	users, err := repo.LoadActiveUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(1), users[0].UserID)
	assert.Contains(t, users[0].PreferredCategories, 10)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_SaveBatchRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	run := model.NewBatchRun("b1", time.Now())
	run.Status = model.RunCompleted

	mock.ExpectExec("INSERT INTO batch_executions").
		WithArgs(run.BatchID, run.StartedAt, run.EndedAt, string(run.Status), run.Counters.Processed, run.Counters.Errors, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := &testGateway{mock: mock}
	err = repo.SaveBatchRun(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_LoadBatchRun_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT batch_id, started_at").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	repo := &testGateway{mock: mock}
	run, err := repo.LoadBatchRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestGateway_RecordAlert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	alert := model.Alert{BatchID: "b1", Severity: model.SeverityHigh, Message: "too slow", Timestamp: time.Now()}

	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(alert.BatchID, string(alert.Severity), alert.Message, alert.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := &testGateway{mock: mock}
	err = repo.RecordAlert(context.Background(), alert)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
