package selection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quizsprint/quizsprint/go/internal/attempt"
	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
	"github.com/quizsprint/quizsprint/go/internal/round"
	"github.com/quizsprint/quizsprint/go/internal/sqlutil"
)

// commitRetries caps serializable-conflict retries on the winner commit.
// A retry re-runs the compare-and-swap, so a lost race resolves to the
// committed winner rather than an error.
const commitRetries = 3

// errWinnerAlreadySet aborts the commit transaction when the
// compare-and-swap matches no row; the repository turns it into a
// conflict outcome instead of surfacing it.
var errWinnerAlreadySet = errors.New("round winner already set")

// Queries runs selection SQL against a *sql.DB or *sql.Tx. The claim
// token statements live here; attempts and rounds statements come from
// their owning packages bound to the same handle.
type Queries struct {
	db sqlutil.DBTX
}

func New(db sqlutil.DBTX) *Queries {
	return &Queries{db: db}
}

const claimTokenColumns = `id, round_id, attempt_id, token, expires_at, redeemed_at, created_at`

// InsertClaimToken creates the winner's claim secret. Run it on the
// commit transaction so a token exists exactly when a winner does.
func (q *Queries) InsertClaimToken(ctx context.Context, roundID, attemptID int64, token string, expiresAt time.Time) (*models.ClaimToken, error) {
	const query = `
		INSERT INTO claim_tokens (id, round_id, attempt_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING ` + claimTokenColumns

	row := q.db.QueryRowContext(ctx, query, uuid.New(), roundID, attemptID, token, expiresAt)
	ct, err := scanClaimToken(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert claim token: %w", err)
	}
	return ct, nil
}

func (q *Queries) GetClaimToken(ctx context.Context, token string) (*models.ClaimToken, error) {
	const query = `SELECT ` + claimTokenColumns + ` FROM claim_tokens WHERE token = $1`

	ct, err := scanClaimToken(q.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get claim token: %w", err)
	}
	return ct, nil
}

// RedeemClaimToken stamps the token redeemed if it has not been already.
// Reports false when another redeem got there first.
func (q *Queries) RedeemClaimToken(ctx context.Context, token string, at time.Time) (bool, error) {
	const query = `
		UPDATE claim_tokens SET redeemed_at = $2
		WHERE token = $1 AND redeemed_at IS NULL`

	res, err := q.db.ExecContext(ctx, query, token, at)
	if err != nil {
		return false, fmt.Errorf("failed to redeem claim token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read redeem result: %w", err)
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClaimToken(s scanner) (*models.ClaimToken, error) {
	var (
		ct         models.ClaimToken
		redeemedAt sql.NullTime
	)
	err := s.Scan(&ct.ID, &ct.RoundID, &ct.AttemptID, &ct.Token, &ct.ExpiresAt, &redeemedAt, &ct.CreatedAt)
	if err != nil {
		return nil, err
	}
	ct.RedeemedAt = sqlutil.FromSqlTime(redeemedAt)
	return &ct, nil
}

// Repository exposes selection storage over a pool handle.
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

func (r *Repository) FetchEligible(ctx context.Context, roundID int64) ([]*models.Attempt, error) {
	return attempt.New(r.db).FetchEligibleForSelection(ctx, roundID)
}

func (r *Repository) FetchPaidIncomplete(ctx context.Context, roundID int64) ([]*models.Attempt, error) {
	return attempt.New(r.db).FetchPaidIncomplete(ctx, roundID)
}

func (r *Repository) GetAttempt(ctx context.Context, id int64) (*models.Attempt, error) {
	return attempt.New(r.db).GetAttempt(ctx, id)
}

// MarkFraudulent persists a selection-screen verdict in its own
// transaction, before and independent of the winner commit.
func (r *Repository) MarkFraudulent(ctx context.Context, attemptID int64, factors []string) error {
	return attempt.New(r.db).MarkFraudulent(ctx, attemptID, factors)
}

func (r *Repository) GetClaim(ctx context.Context, token string) (*models.ClaimToken, error) {
	return r.queries.GetClaimToken(ctx, token)
}

func (r *Repository) RedeemClaim(ctx context.Context, token string, at time.Time) (bool, error) {
	return r.queries.RedeemClaimToken(ctx, token, at)
}

// CommitWinner runs the guarded winner commit, retrying serialization
// failures. A lost compare-and-swap rolls the transaction back and
// resolves to the winner the competing commit installed.
func (r *Repository) CommitWinner(ctx context.Context, req CommitWinnerRequest) (*CommitOutcome, error) {
	var lastErr error
	for try := 0; try <= commitRetries; try++ {
		out, err := r.tryCommitWinner(ctx, req)
		if err == nil {
			return out, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("winner commit kept conflicting after %d retries: %w", commitRetries, lastErr)
}

func (r *Repository) tryCommitWinner(ctx context.Context, req CommitWinnerRequest) (*CommitOutcome, error) {
	out := &CommitOutcome{WinnerAttemptID: req.AttemptID}

	err := sqlutil.RunSerializable(ctx, r.db, func(tx *sql.Tx) *Queries { return New(tx) }, func(q *Queries) error {
		ok, err := round.New(q.db).TryAssignWinner(ctx, req.RoundID, req.AttemptID, req.Method, req.Now)
		if err != nil {
			return err
		}
		if !ok {
			return errWinnerAlreadySet
		}

		attempts := attempt.New(q.db)
		if err := attempts.ClearWinnerFlags(ctx, req.RoundID); err != nil {
			return err
		}
		if err := attempts.SetWinnerFlag(ctx, req.AttemptID); err != nil {
			return err
		}

		token, err := q.InsertClaimToken(ctx, req.RoundID, req.AttemptID, req.Token, req.TokenExpires)
		if err != nil {
			return err
		}
		out.Token = token

		ob := outbox.New(q.db)
		for _, ev := range req.Events {
			if err := ob.InsertEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errWinnerAlreadySet) {
		rd, err := round.New(r.db).GetRound(ctx, req.RoundID)
		if err != nil {
			return nil, fmt.Errorf("failed to load round after winner conflict: %w", err)
		}
		out.Conflict = true
		out.Token = nil
		out.WinnerAttemptID = 0 // stays zero when the round closed without a winner
		if rd.WinnerAttemptID != nil {
			out.WinnerAttemptID = *rd.WinnerAttemptID
		}
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}
