package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/events"
	"github.com/quizsprint/quizsprint/go/internal/fraud"
	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/notify"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
)

// Store defines what the selection app needs from the repository.
type Store interface {
	FetchEligible(ctx context.Context, roundID int64) ([]*models.Attempt, error)
	FetchPaidIncomplete(ctx context.Context, roundID int64) ([]*models.Attempt, error)
	GetAttempt(ctx context.Context, id int64) (*models.Attempt, error)
	MarkFraudulent(ctx context.Context, attemptID int64, factors []string) error
	CommitWinner(ctx context.Context, req CommitWinnerRequest) (*CommitOutcome, error)
	GetClaim(ctx context.Context, token string) (*models.ClaimToken, error)
	RedeemClaim(ctx context.Context, token string, at time.Time) (bool, error)
}

// RoundGetter supplies the round under selection.
type RoundGetter interface {
	GetRound(ctx context.Context, id int64) (*models.Round, error)
}

// Screener runs the selection-time fraud re-screen for one attempt.
type Screener interface {
	ScreenAttempt(ctx context.Context, att *models.Attempt) (fraud.ScreenResult, error)
}

// Finalizer backfills totals for completed-but-unfinalized attempts so
// the eligibility query sees every finisher.
type Finalizer interface {
	FinalizePending(ctx context.Context, roundID int64) error
}

// App selects round winners: it screens the eligible pool, applies the
// selection method, commits the winner behind the round's
// compare-and-swap and emits the notification jobs.
type App struct {
	store     Store
	rounds    RoundGetter
	screener  Screener
	finalizer Finalizer
	queue     notify.Queue
	clock     clockwork.Clock
	cfg       Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewApp creates a selection App. rng drives the Random method; pass a
// seeded source in tests for reproducible draws.
func NewApp(store Store, rounds RoundGetter, screener Screener, finalizer Finalizer, queue notify.Queue, clock clockwork.Clock, cfg Config, rng *rand.Rand) *App {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &App{
		store:     store,
		rounds:    rounds,
		screener:  screener,
		finalizer: finalizer,
		queue:     queue,
		clock:     clock,
		cfg:       cfg,
		rng:       rng,
	}
}

// Select chooses and commits a winner for the round. A missing round is
// an error; an empty eligible pool is a Result with no winner. When a
// winner was already committed (by an earlier call or a concurrent one)
// the existing winner comes back unchanged with AlreadyDecided set.
func (a *App) Select(ctx context.Context, roundID int64, method models.SelectionMethod) (*Result, error) {
	if method == models.SelectionMethodManual {
		return nil, ErrManualWinnerRequired
	}

	rd, err := a.rounds.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if rd.WinnerAttemptID != nil {
		return a.existingWinner(ctx, rd)
	}
	if rd.Status != models.RoundStatusOpen {
		log.Info().
			Int64("round_id", roundID).
			Str("status", string(rd.Status)).
			Msg("round not open, nothing to select")
		return &Result{Round: rd, Method: method}, nil
	}

	// Late completions still need totals before the eligibility query.
	if err := a.finalizer.FinalizePending(ctx, roundID); err != nil {
		return nil, fmt.Errorf("failed to finalize pending attempts: %w", err)
	}

	eligible, err := a.store.FetchEligible(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		log.Info().Int64("round_id", roundID).Msg("no eligible attempts, round stays open")
		return &Result{Round: rd, Method: method}, nil
	}

	kept, excluded, err := a.screenEligible(ctx, eligible)
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		log.Warn().
			Int64("round_id", roundID).
			Int("excluded", excluded).
			Msg("selection screen excluded every eligible attempt")
		return &Result{Round: rd, Method: method, ExcludedCount: excluded}, nil
	}

	var chosen *models.Attempt
	switch method {
	case models.SelectionMethodFastestTime:
		chosen = pickFastest(kept)
	case models.SelectionMethodRandom:
		chosen = kept[a.intn(len(kept))]
	default:
		return nil, fmt.Errorf("unsupported selection method %q", method)
	}

	return a.commit(ctx, rd, chosen, kept, method, excluded)
}

// CommitManual installs an admin-supplied winner through the same
// guarded commit as automatic selection. The attempt must pass the
// eligibility bar; the re-screen is the admin's call to skip.
func (a *App) CommitManual(ctx context.Context, roundID, attemptID int64) (*Result, error) {
	rd, err := a.rounds.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if rd.WinnerAttemptID != nil {
		return a.existingWinner(ctx, rd)
	}

	att, err := a.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if att.RoundID != roundID {
		return nil, fmt.Errorf("%w: attempt %d belongs to round %d", ErrAttemptNotEligible, attemptID, att.RoundID)
	}
	if !att.Paid || att.Status != models.AttemptStatusCompleted || att.Fraudulent || att.TotalTime == nil {
		return nil, fmt.Errorf("%w: attempt %d", ErrAttemptNotEligible, attemptID)
	}

	return a.commit(ctx, rd, att, []*models.Attempt{att}, models.SelectionMethodManual, 0)
}

// RedeemClaim validates and burns a winner's claim token.
func (a *App) RedeemClaim(ctx context.Context, token string) (*models.ClaimToken, error) {
	ct, err := a.store.GetClaim(ctx, token)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	if ct.RedeemedAt != nil {
		return nil, ErrTokenRedeemed
	}
	if now.After(ct.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	ok, err := a.store.RedeemClaim(ctx, token, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenRedeemed // lost a race with another redeem
	}

	log.Info().
		Int64("round_id", ct.RoundID).
		Int64("attempt_id", ct.AttemptID).
		Msg("claim token redeemed")
	ct.RedeemedAt = &now
	return ct, nil
}

// screenEligible re-checks each eligible attempt with the stricter
// selection-time heuristic. Marks persist immediately, so an attempt
// screened out here stays out even if this selection never commits.
func (a *App) screenEligible(ctx context.Context, eligible []*models.Attempt) ([]*models.Attempt, int, error) {
	kept := make([]*models.Attempt, 0, len(eligible))
	excluded := 0
	for _, att := range eligible {
		res, err := a.screener.ScreenAttempt(ctx, att)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to screen attempt %d: %w", att.ID, err)
		}
		if !res.Fraudulent {
			kept = append(kept, att)
			continue
		}
		if err := a.store.MarkFraudulent(ctx, att.ID, res.Factors); err != nil {
			return nil, 0, fmt.Errorf("failed to persist fraud mark for attempt %d: %w", att.ID, err)
		}
		log.Warn().
			Int64("attempt_id", att.ID).
			Strs("factors", res.Factors).
			Msg("attempt excluded by selection screen")
		excluded++
	}
	return kept, excluded, nil
}

func (a *App) commit(ctx context.Context, rd *models.Round, chosen *models.Attempt, eligible []*models.Attempt, method models.SelectionMethod, excluded int) (*Result, error) {
	now := a.clock.Now()
	token, err := generateClaimToken()
	if err != nil {
		return nil, err
	}

	evs, err := commitEvents(rd, chosen, method, len(eligible), now)
	if err != nil {
		return nil, err
	}

	outcome, err := a.store.CommitWinner(ctx, CommitWinnerRequest{
		RoundID:      rd.ID,
		AttemptID:    chosen.ID,
		Method:       method,
		Token:        token,
		TokenExpires: now.Add(a.cfg.ClaimTokenTTL),
		Now:          now,
		Events:       evs,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Conflict {
		// A concurrent selection won; return its winner and write nothing.
		log.Info().
			Int64("round_id", rd.ID).
			Int64("winner_attempt_id", outcome.WinnerAttemptID).
			Msg("winner already committed by a concurrent selection")
		fresh, err := a.rounds.GetRound(ctx, rd.ID)
		if err != nil {
			return nil, err
		}
		return a.existingWinner(ctx, fresh)
	}

	log.Info().
		Int64("round_id", rd.ID).
		Int64("attempt_id", chosen.ID).
		Str("method", string(method)).
		Int("eligible", len(eligible)).
		Int("excluded", excluded).
		Msg("winner committed")

	a.enqueueNotifications(ctx, rd, chosen, eligible, outcome.Token, now)

	winner, err := a.store.GetAttempt(ctx, chosen.ID)
	if err != nil {
		return nil, err
	}
	fresh, err := a.rounds.GetRound(ctx, rd.ID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Round:         fresh,
		Winner:        winner,
		Method:        method,
		EligibleCount: len(eligible),
		ExcludedCount: excluded,
		Token:         outcome.Token,
	}, nil
}

func (a *App) existingWinner(ctx context.Context, rd *models.Round) (*Result, error) {
	res := &Result{Round: rd, AlreadyDecided: true}
	if rd.SelectionMethod != nil {
		res.Method = *rd.SelectionMethod
	}
	if rd.WinnerAttemptID == nil {
		return res, nil
	}
	att, err := a.store.GetAttempt(ctx, *rd.WinnerAttemptID)
	if err != nil {
		return nil, err
	}
	res.Winner = att
	return res, nil
}

// enqueueNotifications hands the result jobs to the queue: the winner
// job, a loser job per losing finalist and per paid-but-incomplete
// attempt. Fire-and-forget; enqueue failures are the queue's problem
// and never unwind a committed winner.
func (a *App) enqueueNotifications(ctx context.Context, rd *models.Round, winner *models.Attempt, eligible []*models.Attempt, token *models.ClaimToken, now time.Time) {
	jobs := notify.WinnerJobs(winner, rd, token, now)
	for _, att := range eligible {
		if att.ID == winner.ID {
			continue
		}
		jobs = append(jobs, notify.LoserJobs(att, rd, now)...)
	}

	incomplete, err := a.store.FetchPaidIncomplete(ctx, rd.ID)
	if err != nil {
		log.Error().Err(err).Int64("round_id", rd.ID).Msg("failed to fetch paid incomplete attempts for notification")
	} else {
		for _, att := range incomplete {
			jobs = append(jobs, notify.LoserJobs(att, rd, now)...)
		}
	}

	for _, job := range jobs {
		if err := a.queue.Enqueue(ctx, job); err != nil {
			log.Error().
				Err(err).
				Str("job_id", job.ID.String()).
				Str("template", job.Template).
				Str("channel", string(job.Channel)).
				Msg("failed to enqueue notification job")
		}
	}
}

func (a *App) intn(n int) int {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return a.rng.Intn(n)
}

// pickFastest returns the fastest attempt, treating totals within
// tieWindow of the minimum as the same time and breaking the tie with
// the lowest id.
func pickFastest(eligible []*models.Attempt) *models.Attempt {
	sorted := make([]*models.Attempt, len(eligible))
	copy(sorted, eligible)
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := *sorted[i].TotalTime, *sorted[j].TotalTime
		if ti != tj {
			return ti < tj
		}
		return sorted[i].ID < sorted[j].ID
	})

	best := sorted[0]
	min := *best.TotalTime
	for _, att := range sorted[1:] {
		if *att.TotalTime-min >= tieWindow {
			break
		}
		if att.ID < best.ID {
			best = att
		}
	}
	return best
}

func commitEvents(rd *models.Round, chosen *models.Attempt, method models.SelectionMethod, eligibleCount int, now time.Time) ([]outbox.EventInsert, error) {
	var totalMs int64
	if chosen.TotalTime != nil {
		totalMs = chosen.TotalTime.Milliseconds()
	}

	winnerPayload, err := json.Marshal(events.WinnerSelectedPayload{
		RoundID:     rd.ID,
		AttemptID:   chosen.ID,
		Method:      string(method),
		TotalTimeMs: totalMs,
		SelectedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal WinnerSelected payload: %w", err)
	}

	winnerID := chosen.ID
	roundPayload, err := json.Marshal(events.RoundCompletedPayload{
		RoundID:         rd.ID,
		WinnerAttemptID: &winnerID,
		Method:          string(method),
		EligibleCount:   eligibleCount,
		CompletedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RoundCompleted payload: %w", err)
	}

	attemptID := chosen.ID
	return []outbox.EventInsert{
		{
			RoundID:   rd.ID,
			AttemptID: &attemptID,
			EventType: outbox.EventTypeWinnerSelected,
			Payload:   winnerPayload,
		},
		{
			RoundID:   rd.ID,
			EventType: outbox.EventTypeRoundCompleted,
			Payload:   roundPayload,
		},
	}, nil
}
