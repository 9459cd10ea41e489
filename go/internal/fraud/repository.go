package fraud

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
)

// HistoryConfig sets the lookback windows for the history snapshot.
type HistoryConfig struct {
	ReuseWindow     time.Duration
	ViolationWindow time.Duration
	RecentLimit     int
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		ReuseWindow:     24 * time.Hour,
		ViolationWindow: 7 * 24 * time.Hour,
		RecentLimit:     5,
	}
}

// HistoryRepository aggregates the behavioral record for one attempt out
// of the attempts table and the event log.
type HistoryRepository struct {
	db  *sql.DB
	cfg HistoryConfig
}

func NewHistoryRepository(db *sql.DB, cfg HistoryConfig) *HistoryRepository {
	return &HistoryRepository{db: db, cfg: cfg}
}

const ipAggregates = `
SELECT COUNT(*),
       COUNT(DISTINCT email),
       COUNT(*) FILTER (WHERE paid)
FROM attempts
WHERE ip_address = $1 AND created_at >= $2
`

const deviceAggregates = `
SELECT COUNT(*),
       COUNT(DISTINCT email),
       COUNT(*) FILTER (WHERE paid)
FROM attempts
WHERE device_fingerprint = $1 AND created_at >= $2
`

const emailWindowCount = `
SELECT COUNT(*) FROM attempts WHERE email = $1 AND created_at >= $2
`

const recentParticipations = `
SELECT created_at FROM attempts WHERE email = $1 ORDER BY created_at DESC LIMIT $2
`

const winPaidCounts = `
SELECT COUNT(*) FILTER (WHERE winner), COUNT(*) FROM attempts WHERE email = $1 AND paid
`

const violationCount = `
SELECT COUNT(*)
FROM outbox_events e
JOIN attempts a ON a.id = e.attempt_id
WHERE e.event_type = $1 AND a.ip_address = $2 AND e.created_at >= $3
`

// Snapshot gathers the history around att as of now. Counts include the
// attempt itself where it matches, which is what the thresholds assume.
func (r *HistoryRepository) Snapshot(ctx context.Context, att *models.Attempt, now time.Time) (History, error) {
	var h History
	reuseSince := now.Add(-r.cfg.ReuseWindow)

	if att.IPAddress != "" {
		row := r.db.QueryRowContext(ctx, ipAggregates, att.IPAddress, reuseSince)
		if err := row.Scan(&h.IPCount24h, &h.DistinctEmailsFromIP, &h.PaidIPCount24h); err != nil {
			return History{}, fmt.Errorf("failed to aggregate ip history: %w", err)
		}

		violationSince := now.Add(-r.cfg.ViolationWindow)
		row = r.db.QueryRowContext(ctx, violationCount, outbox.EventTypeIntegrityViolation, att.IPAddress, violationSince)
		if err := row.Scan(&h.SecurityViolations7d); err != nil {
			return History{}, fmt.Errorf("failed to count violations: %w", err)
		}
	}

	if att.DeviceFingerprint != "" {
		row := r.db.QueryRowContext(ctx, deviceAggregates, att.DeviceFingerprint, reuseSince)
		if err := row.Scan(&h.DeviceCount24h, &h.DistinctEmailsFromDevice, &h.PaidDeviceCount24h); err != nil {
			return History{}, fmt.Errorf("failed to aggregate device history: %w", err)
		}
	}

	row := r.db.QueryRowContext(ctx, emailWindowCount, att.Email, reuseSince)
	if err := row.Scan(&h.EmailCount24h); err != nil {
		return History{}, fmt.Errorf("failed to count daily participations: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, recentParticipations, att.Email, r.cfg.RecentLimit)
	if err != nil {
		return History{}, fmt.Errorf("failed to fetch recent participations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return History{}, fmt.Errorf("failed to scan participation time: %w", err)
		}
		h.RecentParticipations = append(h.RecentParticipations, t)
	}
	if err := rows.Err(); err != nil {
		return History{}, fmt.Errorf("failed to iterate participations: %w", err)
	}

	row = r.db.QueryRowContext(ctx, winPaidCounts, att.Email)
	if err := row.Scan(&h.WinCount, &h.PaidCount); err != nil {
		return History{}, fmt.Errorf("failed to count wins: %w", err)
	}

	return h, nil
}
