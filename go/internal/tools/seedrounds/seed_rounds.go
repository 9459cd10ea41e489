package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizsprint/quizsprint/go/internal/dbconfig"
	"github.com/quizsprint/quizsprint/go/internal/models"
)

const demoRoundID = int64(1)

// demoAttempt is an inline fixture; totals and payment timestamps are
// derived from it at insert time.
type demoAttempt struct {
	ID            int64
	UserID        uuid.UUID
	Email         string
	Phone         *string
	Consent       bool
	Status        models.AttemptStatus
	Paid          bool
	Fingerprint   string
	IP            string
	QuestionTimes []time.Duration
	Suspicion     int32
}

func strptr(s string) *string { return &s }

func main() {
	ctx := context.Background()
	now := time.Now().UTC()

	// 1) Connect to DB
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Seed a demo round
	settings, err := json.Marshal(models.RoundSettings{
		QuestionCount:     5,
		FreeQuestionCount: 2,
		Prize:             "demo prize",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal settings: %v\n", err)
		os.Exit(1)
	}

	roundsTotal, roundsInserted, roundsSkipped, roundsErrs := 1, 0, 0, 0
	tag, err := pool.Exec(ctx, `
        INSERT INTO rounds (
          id, status, settings, closes_at, created_at, updated_at
        ) VALUES ($1,$2,$3,$4,$5,$5)
        ON CONFLICT (id) DO NOTHING
    `, demoRoundID, models.RoundStatusOpen, settings, now.Add(24*time.Hour), now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed round: %v\n", err)
		roundsErrs++
	} else if tag.RowsAffected() == 1 {
		roundsInserted++
	} else {
		roundsSkipped++
	}

	// 3) Seed attempts in the states selection cares about: a mid-pack
	// finisher, an exact-tie pair, an unpaid finisher, a paid attempt
	// still running, and one fast enough to trip the selection screen.
	attempts := []demoAttempt{
		{
			ID: 1, UserID: uuid.MustParse("00000000-0000-0000-0000-000000000101"), Email: "alice@example.com", Phone: strptr("+15550100"), Consent: true,
			Status: models.AttemptStatusCompleted, Paid: true,
			Fingerprint: "fp-alice-chrome", IP: "203.0.113.10",
			QuestionTimes: []time.Duration{
				8300 * time.Millisecond, 10100 * time.Millisecond, 9400 * time.Millisecond,
				9900 * time.Millisecond, 9500 * time.Millisecond,
			},
		},
		{
			ID: 2, UserID: uuid.MustParse("00000000-0000-0000-0000-000000000102"), Email: "bob@example.com", Phone: strptr("+15550101"),
			Status: models.AttemptStatusCompleted, Paid: true,
			Fingerprint: "fp-bob-firefox", IP: "203.0.113.11",
			QuestionTimes: []time.Duration{
				9 * time.Second, 9 * time.Second, 9 * time.Second,
				9 * time.Second, 9 * time.Second,
			},
		},
		{
			// Ties with bob inside the tie window; the lower id wins.
			ID: 3, UserID: uuid.MustParse("00000000-0000-0000-0000-000000000103"), Email: "carol@example.com",
			Status: models.AttemptStatusCompleted, Paid: true,
			Fingerprint: "fp-carol-safari", IP: "203.0.113.12",
			QuestionTimes: []time.Duration{
				9 * time.Second, 9 * time.Second, 9 * time.Second,
				9 * time.Second, 9*time.Second + 500*time.Nanosecond,
			},
		},
		{
			ID: 4, UserID: uuid.MustParse("00000000-0000-0000-0000-000000000104"), Email: "dave@example.com",
			Status: models.AttemptStatusCompleted, Paid: false,
			Fingerprint: "fp-dave-chrome", IP: "203.0.113.13",
			QuestionTimes: []time.Duration{
				9100 * time.Millisecond, 9800 * time.Millisecond, 10200 * time.Millisecond,
				9600 * time.Millisecond, 9300 * time.Millisecond,
			},
		},
		{
			ID: 5, UserID: uuid.MustParse("00000000-0000-0000-0000-000000000105"), Email: "erin@example.com", Phone: strptr("+15550104"), Consent: true,
			Status: models.AttemptStatusRunning, Paid: true,
			Fingerprint: "fp-erin-chrome", IP: "203.0.113.14",
			QuestionTimes: []time.Duration{
				9200 * time.Millisecond, 9700 * time.Millisecond,
			},
		},
		{
			ID: 6, UserID: uuid.MustParse("00000000-0000-0000-0000-000000000106"), Email: "frank@example.com",
			Status: models.AttemptStatusCompleted, Paid: true,
			Fingerprint: "fp-frank-headless", IP: "198.51.100.7",
			QuestionTimes: []time.Duration{
				3600 * time.Millisecond, 3600 * time.Millisecond, 3600 * time.Millisecond,
				3600 * time.Millisecond, 3600 * time.Millisecond,
			},
			Suspicion: 2,
		},
	}

	total, inserted, skipped, errs := len(attempts), 0, 0, 0
	for _, a := range attempts {
		times := make([]int64, len(a.QuestionTimes))
		var sum int64
		for i, d := range a.QuestionTimes {
			times[i] = int64(d)
			sum += int64(d)
		}

		var (
			totalTime, preTime, postTime *int64
			completedAt                  *time.Time
			questionStartedAt            *time.Time
			nextDeadline                 *time.Time
			paidAt                       *time.Time
		)
		sessionStartedAt := now.Add(-time.Hour)
		if a.Paid {
			t := now.Add(-30 * time.Minute)
			paidAt = &t
		}
		switch a.Status {
		case models.AttemptStatusCompleted:
			var pre int64
			for _, n := range times[:2] {
				pre += n
			}
			post := sum - pre
			totalTime, preTime, postTime = &sum, &pre, &post
			t := now.Add(-15 * time.Minute)
			completedAt = &t
		case models.AttemptStatusRunning:
			questionStartedAt = &now
			t := now.Add(60 * time.Second)
			nextDeadline = &t
		}

		tag, err := pool.Exec(ctx, `
            INSERT INTO attempts (
              id, round_id, user_id, email, phone, whatsapp_consent,
              status, paid, paid_at,
              current_question, question_times,
              device_fingerprint, ip_address, user_agent,
              session_started_at, question_started_at, paused_duration, next_deadline,
              total_time, pre_payment_time, post_payment_time,
              suspicion_count, completed_at, created_at, updated_at
            ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$24)
            ON CONFLICT (id) DO NOTHING
        `,
			a.ID, demoRoundID, a.UserID, a.Email, a.Phone, a.Consent,
			a.Status, a.Paid, paidAt,
			len(times)+1, times,
			a.Fingerprint, a.IP, "seedrounds/dev",
			sessionStartedAt, questionStartedAt, 0, nextDeadline,
			totalTime, preTime, postTime,
			a.Suspicion, completedAt, now,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed attempt %d: %v\n", a.ID, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Keep the serial counters ahead of the fixed demo ids.
	for _, q := range []string{
		`SELECT setval('rounds_id_seq', (SELECT COALESCE(MAX(id), 1) FROM rounds))`,
		`SELECT setval('attempts_id_seq', (SELECT COALESCE(MAX(id), 1) FROM attempts))`,
	} {
		if _, err := pool.Exec(ctx, q); err != nil {
			fmt.Fprintf(os.Stderr, "bump sequence: %v\n", err)
		}
	}

	fmt.Printf(
		"Rounds seed: total=%d inserted=%d skipped=%d errors=%d\n",
		roundsTotal, roundsInserted, roundsSkipped, roundsErrs,
	)
	fmt.Printf(
		"Attempts seed: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs,
	)
}
