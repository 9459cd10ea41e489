package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
	"github.com/quizsprint/quizsprint/go/internal/sqlutil"
)

// Queries runs attempt SQL against a *sql.DB or *sql.Tx.
type Queries struct {
	db sqlutil.DBTX
}

func New(db sqlutil.DBTX) *Queries {
	return &Queries{db: db}
}

const attemptColumns = `
	id, round_id, user_id, email, phone, whatsapp_consent,
	status, paid, paid_at,
	current_question, question_times,
	device_fingerprint, ip_address, user_agent,
	session_started_at, question_started_at, paused_at, paused_duration, next_deadline,
	total_time, pre_payment_time, post_payment_time,
	suspicion_count, fraud_flags, fraudulent, winner,
	completed_at, created_at, updated_at`

func (q *Queries) CreateAttempt(ctx context.Context, req CreateAttemptRequest) (*models.Attempt, error) {
	const query = `
		INSERT INTO attempts (
			round_id, user_id, email, phone, whatsapp_consent,
			status, current_question, question_times, ip_address, user_agent,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING` + attemptColumns

	row := q.db.QueryRowContext(ctx, query,
		req.RoundID,
		req.UserID,
		req.Email,
		sqlutil.ToSqlString(req.Phone),
		req.WhatsAppConsent,
		models.AttemptStatusNotStarted,
		0,
		pq.Array([]int64{}),
		sqlutil.ToSqlString(req.Client.IPAddress),
		sqlutil.ToSqlString(req.Client.UserAgent),
	)
	att, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}
	return att, nil
}

func (q *Queries) GetAttempt(ctx context.Context, id int64) (*models.Attempt, error) {
	const query = `SELECT` + attemptColumns + ` FROM attempts WHERE id = $1`
	return q.getAttempt(ctx, query, id)
}

// GetAttemptForUpdate locks the row for the duration of the enclosing
// transaction. Every state transition reads through this.
func (q *Queries) GetAttemptForUpdate(ctx context.Context, id int64) (*models.Attempt, error) {
	const query = `SELECT` + attemptColumns + ` FROM attempts WHERE id = $1 FOR UPDATE`
	return q.getAttempt(ctx, query, id)
}

func (q *Queries) getAttempt(ctx context.Context, query string, id int64) (*models.Attempt, error) {
	att, err := scanAttempt(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return att, nil
}

// UpdateAttemptState writes back everything the timing state machine
// owns. Fraud marks and the winner flag belong to selection queries.
func (q *Queries) UpdateAttemptState(ctx context.Context, att *models.Attempt) error {
	const query = `
		UPDATE attempts SET
			status = $2,
			paid = $3,
			paid_at = $4,
			current_question = $5,
			question_times = $6,
			device_fingerprint = $7,
			ip_address = $8,
			user_agent = $9,
			session_started_at = $10,
			question_started_at = $11,
			paused_at = $12,
			paused_duration = $13,
			next_deadline = $14,
			total_time = $15,
			pre_payment_time = $16,
			post_payment_time = $17,
			suspicion_count = $18,
			completed_at = $19,
			updated_at = now()
		WHERE id = $1`

	_, err := q.db.ExecContext(ctx, query,
		att.ID,
		att.Status,
		att.Paid,
		sqlutil.ToSqlTime(att.PaidAt),
		att.CurrentQuestion,
		pq.Array(durationsToInt64(att.QuestionTimes)),
		sqlutil.ToSqlString(att.DeviceFingerprint),
		sqlutil.ToSqlString(att.IPAddress),
		sqlutil.ToSqlString(att.UserAgent),
		sqlutil.ToSqlTime(att.SessionStartedAt),
		sqlutil.ToSqlTime(att.QuestionStartedAt),
		sqlutil.ToSqlTime(att.PausedAt),
		int64(att.PausedDuration),
		sqlutil.ToSqlTime(att.NextDeadline),
		sqlutil.ToSqlDuration(att.TotalTime),
		sqlutil.ToSqlDuration(att.PrePaymentTime),
		sqlutil.ToSqlDuration(att.PostPaymentTime),
		att.SuspicionCount,
		sqlutil.ToSqlTime(att.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt state: %w", err)
	}
	return nil
}

func (q *Queries) MarkPaid(ctx context.Context, id int64, at time.Time) (*models.Attempt, error) {
	const query = `
		UPDATE attempts SET paid = true, paid_at = $2, updated_at = now()
		WHERE id = $1
		RETURNING` + attemptColumns

	att, err := scanAttempt(q.db.QueryRowContext(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to mark attempt paid: %w", err)
	}
	return att, nil
}

// FetchDueAttempts returns ids of running attempts whose deadline has
// passed, soonest first.
func (q *Queries) FetchDueAttempts(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const query = `
		SELECT id FROM attempts
		WHERE status = $1 AND next_deadline IS NOT NULL AND next_deadline <= $2
		ORDER BY next_deadline, id
		LIMIT $3`

	rows, err := q.db.QueryContext(ctx, query, models.AttemptStatusRunning, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due attempts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FetchUnfinalized returns ids of completed attempts in a round that
// have no total recorded yet.
func (q *Queries) FetchUnfinalized(ctx context.Context, roundID int64) ([]int64, error) {
	const query = `
		SELECT id FROM attempts
		WHERE round_id = $1 AND status = $2 AND total_time IS NULL
		ORDER BY id`

	rows, err := q.db.QueryContext(ctx, query, roundID, models.AttemptStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unfinalized attempts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FetchNextDeadline returns the soonest deadline across running
// attempts, or nil when nothing is scheduled.
func (q *Queries) FetchNextDeadline(ctx context.Context) (*time.Time, error) {
	const query = `
		SELECT MIN(next_deadline) FROM attempts
		WHERE status = $1 AND next_deadline IS NOT NULL`

	var deadline sql.NullTime
	if err := q.db.QueryRowContext(ctx, query, models.AttemptStatusRunning).Scan(&deadline); err != nil {
		return nil, fmt.Errorf("failed to fetch next deadline: %w", err)
	}
	return sqlutil.FromSqlTime(deadline), nil
}

// FetchEligibleForSelection returns a round's winner pool: paid,
// completed, fraud-free attempts with a finalized total, fastest first
// with id breaking exact ties.
func (q *Queries) FetchEligibleForSelection(ctx context.Context, roundID int64) ([]*models.Attempt, error) {
	const query = `
		SELECT` + attemptColumns + ` FROM attempts
		WHERE round_id = $1 AND paid AND status = $2 AND NOT fraudulent AND total_time IS NOT NULL
		ORDER BY total_time, id`

	return q.fetchAttempts(ctx, query, roundID, models.AttemptStatusCompleted)
}

// FetchPaidIncomplete returns paid attempts in a round that never
// completed the question sequence, for result notifications.
func (q *Queries) FetchPaidIncomplete(ctx context.Context, roundID int64) ([]*models.Attempt, error) {
	const query = `
		SELECT` + attemptColumns + ` FROM attempts
		WHERE round_id = $1 AND paid AND status <> $2
		ORDER BY id`

	return q.fetchAttempts(ctx, query, roundID, models.AttemptStatusCompleted)
}

func (q *Queries) fetchAttempts(ctx context.Context, query string, args ...interface{}) ([]*models.Attempt, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.Attempt
	for rows.Next() {
		att, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, att)
	}
	return attempts, rows.Err()
}

// MarkFraudulent sets the fraud flag and appends the tripped factors to
// the attempt's flag list. Selection persists these marks before its
// winner commit so they survive even when the commit aborts.
func (q *Queries) MarkFraudulent(ctx context.Context, id int64, factors []string) error {
	flags, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("failed to encode fraud factors: %w", err)
	}

	const query = `
		UPDATE attempts SET
			fraudulent = true,
			fraud_flags = COALESCE(fraud_flags, '[]'::jsonb) || $2::jsonb,
			updated_at = now()
		WHERE id = $1`

	if _, err := q.db.ExecContext(ctx, query, id, flags); err != nil {
		return fmt.Errorf("failed to mark attempt fraudulent: %w", err)
	}
	return nil
}

// ClearWinnerFlags unsets the winner flag across a round's attempts.
func (q *Queries) ClearWinnerFlags(ctx context.Context, roundID int64) error {
	const query = `UPDATE attempts SET winner = false, updated_at = now() WHERE round_id = $1 AND winner`
	if _, err := q.db.ExecContext(ctx, query, roundID); err != nil {
		return fmt.Errorf("failed to clear winner flags: %w", err)
	}
	return nil
}

// SetWinnerFlag marks one attempt as its round's winner.
func (q *Queries) SetWinnerFlag(ctx context.Context, id int64) error {
	const query = `UPDATE attempts SET winner = true, updated_at = now() WHERE id = $1`
	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to set winner flag: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(s scanner) (*models.Attempt, error) {
	var (
		att           models.Attempt
		phone         sql.NullString
		paidAt        sql.NullTime
		times         pq.Int64Array
		fingerprint   sql.NullString
		ipAddress     sql.NullString
		userAgent     sql.NullString
		sessionStart  sql.NullTime
		questionStart sql.NullTime
		pausedAt      sql.NullTime
		pausedDur     int64
		nextDeadline  sql.NullTime
		total         sql.NullInt64
		pre           sql.NullInt64
		post          sql.NullInt64
		flags         pqtype.NullRawMessage
		completedAt   sql.NullTime
	)
	err := s.Scan(
		&att.ID, &att.RoundID, &att.UserID, &att.Email, &phone, &att.WhatsAppConsent,
		&att.Status, &att.Paid, &paidAt,
		&att.CurrentQuestion, &times,
		&fingerprint, &ipAddress, &userAgent,
		&sessionStart, &questionStart, &pausedAt, &pausedDur, &nextDeadline,
		&total, &pre, &post,
		&att.SuspicionCount, &flags, &att.Fraudulent, &att.Winner,
		&completedAt, &att.CreatedAt, &att.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	att.Phone = sqlutil.FromSqlString(phone)
	att.PaidAt = sqlutil.FromSqlTime(paidAt)
	att.QuestionTimes = durationsFromInt64(times)
	att.DeviceFingerprint = sqlutil.FromSqlString(fingerprint)
	att.IPAddress = sqlutil.FromSqlString(ipAddress)
	att.UserAgent = sqlutil.FromSqlString(userAgent)
	att.SessionStartedAt = sqlutil.FromSqlTime(sessionStart)
	att.QuestionStartedAt = sqlutil.FromSqlTime(questionStart)
	att.PausedAt = sqlutil.FromSqlTime(pausedAt)
	att.PausedDuration = time.Duration(pausedDur)
	att.NextDeadline = sqlutil.FromSqlTime(nextDeadline)
	att.TotalTime = sqlutil.FromSqlDuration(total)
	att.PrePaymentTime = sqlutil.FromSqlDuration(pre)
	att.PostPaymentTime = sqlutil.FromSqlDuration(post)
	att.CompletedAt = sqlutil.FromSqlTime(completedAt)
	if flags.Valid {
		if err := json.Unmarshal(flags.RawMessage, &att.FraudFlags); err != nil {
			return nil, fmt.Errorf("failed to decode fraud flags: %w", err)
		}
	}
	return &att, nil
}

func durationsToInt64(ds []time.Duration) []int64 {
	out := make([]int64, len(ds))
	for i, d := range ds {
		out[i] = int64(d)
	}
	return out
}

func durationsFromInt64(ns []int64) []time.Duration {
	out := make([]time.Duration, len(ns))
	for i, n := range ns {
		out[i] = time.Duration(n)
	}
	return out
}

// TransitionFunc mutates a locked attempt and returns the events to
// commit alongside it.
type TransitionFunc func(att *models.Attempt) ([]outbox.EventInsert, error)

// Repository exposes attempt storage over a pool handle.
type Repository struct {
	db      *sql.DB
	queries *Queries
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:      db,
		queries: New(db),
	}
}

func (r *Repository) CreateAttempt(ctx context.Context, req CreateAttemptRequest) (*models.Attempt, error) {
	return r.queries.CreateAttempt(ctx, req)
}

func (r *Repository) GetAttempt(ctx context.Context, id int64) (*models.Attempt, error) {
	return r.queries.GetAttempt(ctx, id)
}

func (r *Repository) MarkPaid(ctx context.Context, id int64, at time.Time) (*models.Attempt, error) {
	return r.queries.MarkPaid(ctx, id, at)
}

func (r *Repository) FetchDueAttempts(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return r.queries.FetchDueAttempts(ctx, now, limit)
}

func (r *Repository) FetchNextDeadline(ctx context.Context) (*time.Time, error) {
	return r.queries.FetchNextDeadline(ctx)
}

func (r *Repository) FetchUnfinalized(ctx context.Context, roundID int64) ([]int64, error) {
	return r.queries.FetchUnfinalized(ctx, roundID)
}

// Transition loads the attempt under a row lock, applies fn, writes the
// result back and inserts fn's events, all in one transaction. The
// returned attempt reflects the committed state.
func (r *Repository) Transition(ctx context.Context, attemptID int64, fn TransitionFunc) (*models.Attempt, error) {
	var updated *models.Attempt
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *Queries { return New(tx) }, func(q *Queries) error {
		att, err := q.GetAttemptForUpdate(ctx, attemptID)
		if err != nil {
			return err
		}
		events, err := fn(att)
		if err != nil {
			return err
		}
		if err := q.UpdateAttemptState(ctx, att); err != nil {
			return err
		}
		ob := outbox.New(q.db)
		for _, ev := range events {
			if err := ob.InsertEvent(ctx, ev); err != nil {
				return err
			}
		}
		updated = att
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
