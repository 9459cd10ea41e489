package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quizsprint/quizsprint/go/internal/sqlutil"
)

// NotifyChannel is the Postgres NOTIFY channel the insert query pings so
// the realtime listener can relay without waiting for the next poll.
const NotifyChannel = "quiz_outbox_events"

// ErrEventNotFound indicates the event is missing or already sent.
var ErrEventNotFound = errors.New("outbox event not found or already sent")

// Queries runs outbox SQL against a *sql.DB or *sql.Tx.
type Queries struct {
	db sqlutil.DBTX
}

func New(db sqlutil.DBTX) *Queries {
	return &Queries{db: db}
}

const outboxColumns = `id, round_id, attempt_id, event_type, payload, created_at, sent_at`

// InsertEvent writes one event row and notifies the listener channel in
// the same statement. Run it on the emitter's transaction.
func (q *Queries) InsertEvent(ctx context.Context, arg EventInsert) error {
	const query = `
		WITH ins AS (
			INSERT INTO outbox_events (id, round_id, attempt_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING id
		)
		SELECT pg_notify('` + NotifyChannel + `', id::text) FROM ins`

	var notified sql.NullString
	err := q.db.QueryRowContext(ctx, query,
		uuid.New(),
		arg.RoundID,
		sqlutil.ToSqlInt64(arg.AttemptID),
		arg.EventType,
		arg.Payload,
	).Scan(&notified)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", arg.EventType, err)
	}
	return nil
}

// FetchUnsentOutbox returns up to limit unsent events, oldest first,
// locking the rows so concurrent relays skip rather than block.
func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	const query = `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE sent_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		ev, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// FetchOutboxByID returns one unsent event, or ErrEventNotFound when it
// is missing or already relayed.
func (q *Queries) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	const query = `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE id = $1 AND sent_at IS NULL`

	row := q.db.QueryRowContext(ctx, query, id)
	ev, err := scanOutboxEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return ev, nil
}

// MarkOutboxSent stamps a single event as relayed.
func (q *Queries) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE outbox_events SET sent_at = now() WHERE id = $1 AND sent_at IS NULL`
	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

// MarkOutboxSentBatch stamps a batch of events as relayed.
func (q *Queries) MarkOutboxSentBatch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE outbox_events SET sent_at = now() WHERE id = ANY($1) AND sent_at IS NULL`
	if _, err := q.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark outbox events as sent: %w", err)
	}
	return nil
}

// CountPendingEvents reports the unsent backlog for health checks.
func (q *Queries) CountPendingEvents(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_events WHERE sent_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOutboxEvent(s scanner) (*OutboxEvent, error) {
	var (
		ev        OutboxEvent
		attemptID sql.NullInt64
		sentAt    sql.NullTime
	)
	if err := s.Scan(&ev.ID, &ev.RoundID, &attemptID, &ev.EventType, &ev.Payload, &ev.CreatedAt, &sentAt); err != nil {
		return nil, err
	}
	ev.AttemptID = sqlutil.FromSqlInt64(attemptID)
	ev.SentAt = sqlutil.FromSqlTime(sentAt)
	return &ev, nil
}

// Repository exposes the outbox to the relay workers over a pool handle.
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

func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	return r.queries.FetchUnsentOutbox(ctx, limit)
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	return r.queries.FetchOutboxByID(ctx, id)
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	return r.queries.MarkOutboxSent(ctx, id)
}

func (r *Repository) CountPendingEvents(ctx context.Context) (int, error) {
	return r.queries.CountPendingEvents(ctx)
}
