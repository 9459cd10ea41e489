package round

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/sqlutil"
)

// Queries runs round SQL against a *sql.DB or *sql.Tx.
type Queries struct {
	db sqlutil.DBTX
}

func New(db sqlutil.DBTX) *Queries {
	return &Queries{db: db}
}

const roundColumns = `
	id, status, settings, winner_attempt_id, selection_method,
	closes_at, completed_at, created_at, updated_at`

func (q *Queries) CreateRound(ctx context.Context, req CreateRoundRequest) (*models.Round, error) {
	settings, err := json.Marshal(req.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode round settings: %w", err)
	}

	const query = `
		INSERT INTO rounds (status, settings, closes_at, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING` + roundColumns

	row := q.db.QueryRowContext(ctx, query,
		models.RoundStatusOpen,
		settings,
		sqlutil.ToSqlTime(req.ClosesAt),
	)
	round, err := scanRound(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return round, nil
}

func (q *Queries) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	const query = `SELECT` + roundColumns + ` FROM rounds WHERE id = $1`

	round, err := scanRound(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// FetchRoundsDueForSelection returns open rounds whose close time has
// passed, oldest first. The sweep selects winners for these.
func (q *Queries) FetchRoundsDueForSelection(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const query = `
		SELECT id FROM rounds
		WHERE status = $1 AND closes_at IS NOT NULL AND closes_at <= $2
		ORDER BY closes_at, id
		LIMIT $3`

	rows, err := q.db.QueryContext(ctx, query, models.RoundStatusOpen, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rounds due for selection: %w", err)
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

// TryAssignWinner is the compare-and-swap at the heart of winner
// selection: it sets the winner, method, status and completion stamp in
// one statement that only matches while the round is open with no winner.
// Reports false when the swap lost, which callers resolve by returning
// the already-committed winner.
func (q *Queries) TryAssignWinner(ctx context.Context, roundID, attemptID int64, method models.SelectionMethod, at time.Time) (bool, error) {
	const query = `
		UPDATE rounds SET
			winner_attempt_id = $2,
			selection_method = $3,
			status = $4,
			completed_at = $5,
			updated_at = now()
		WHERE id = $1 AND winner_attempt_id IS NULL AND status = $6`

	res, err := q.db.ExecContext(ctx, query,
		roundID,
		attemptID,
		method,
		models.RoundStatusCompleted,
		at,
		models.RoundStatusOpen,
	)
	if err != nil {
		return false, fmt.Errorf("failed to assign round winner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read winner assignment result: %w", err)
	}
	return n == 1, nil
}

func (q *Queries) CancelRound(ctx context.Context, id int64) (*models.Round, error) {
	const query = `
		UPDATE rounds SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING` + roundColumns

	row := q.db.QueryRowContext(ctx, query, id, models.RoundStatusCancelled, models.RoundStatusOpen)
	round, err := scanRound(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to cancel round: %w", err)
	}
	return round, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(s scanner) (*models.Round, error) {
	var (
		round       models.Round
		settings    []byte
		winnerID    sql.NullInt64
		method      sql.NullString
		closesAt    sql.NullTime
		completedAt sql.NullTime
	)
	err := s.Scan(
		&round.ID, &round.Status, &settings, &winnerID, &method,
		&closesAt, &completedAt, &round.CreatedAt, &round.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(settings, &round.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode round settings: %w", err)
	}
	round.WinnerAttemptID = sqlutil.FromSqlInt64(winnerID)
	if method.Valid {
		m := models.SelectionMethod(method.String)
		round.SelectionMethod = &m
	}
	round.ClosesAt = sqlutil.FromSqlTime(closesAt)
	round.CompletedAt = sqlutil.FromSqlTime(completedAt)
	return &round, nil
}

// Repository exposes round storage over a pool handle.
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

func (r *Repository) CreateRound(ctx context.Context, req CreateRoundRequest) (*models.Round, error) {
	return r.queries.CreateRound(ctx, req)
}

func (r *Repository) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	return r.queries.GetRound(ctx, id)
}

func (r *Repository) FetchRoundsDueForSelection(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return r.queries.FetchRoundsDueForSelection(ctx, now, limit)
}

func (r *Repository) CancelRound(ctx context.Context, id int64) (*models.Round, error) {
	return r.queries.CancelRound(ctx, id)
}
