package attempt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/events"
	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
)

// AttemptRepository defines what the attempt app layer needs from the repository
type AttemptRepository interface {
	CreateAttempt(ctx context.Context, req CreateAttemptRequest) (*models.Attempt, error)
	GetAttempt(ctx context.Context, id int64) (*models.Attempt, error)
	MarkPaid(ctx context.Context, id int64, at time.Time) (*models.Attempt, error)
	FetchDueAttempts(ctx context.Context, now time.Time, limit int) ([]int64, error)
	FetchNextDeadline(ctx context.Context) (*time.Time, error)
	FetchUnfinalized(ctx context.Context, roundID int64) ([]int64, error)
	Transition(ctx context.Context, attemptID int64, fn TransitionFunc) (*models.Attempt, error)
}

// RoundGetter supplies the round a timing decision applies to.
type RoundGetter interface {
	GetRound(ctx context.Context, id int64) (*models.Round, error)
}

// App drives the per-attempt timing state machine.
type App struct {
	repo   AttemptRepository
	rounds RoundGetter
	clock  clockwork.Clock
	cfg    TimingConfig
}

// NewApp creates a new attempt App
func NewApp(repo AttemptRepository, rounds RoundGetter, clock clockwork.Clock, cfg TimingConfig) *App {
	return &App{
		repo:   repo,
		rounds: rounds,
		clock:  clock,
		cfg:    cfg,
	}
}

// CreateAttempt registers a participant in an open round.
func (a *App) CreateAttempt(ctx context.Context, req CreateAttemptRequest) (*models.Attempt, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	round, err := a.rounds.GetRound(ctx, req.RoundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	if round.Status != models.RoundStatusOpen {
		return nil, fmt.Errorf("%w: round %d is %s", ErrStateViolation, round.ID, round.Status)
	}

	att, err := a.repo.CreateAttempt(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("attempt_id", att.ID).
		Int64("round_id", att.RoundID).
		Msg("attempt created")
	return att, nil
}

// GetAttempt retrieves an attempt by ID
func (a *App) GetAttempt(ctx context.Context, id int64) (*models.Attempt, error) {
	return a.repo.GetAttempt(ctx, id)
}

// MarkPaid records the external payment confirmation for an attempt.
func (a *App) MarkPaid(ctx context.Context, id int64) (*models.Attempt, error) {
	att, err := a.repo.MarkPaid(ctx, id, a.clock.Now())
	if err != nil {
		return nil, err
	}
	log.Info().Int64("attempt_id", id).Msg("attempt marked paid")
	return att, nil
}

// Start begins timing. Valid only from NOT_STARTED; captures the
// device-continuity fingerprint from the initiating request.
func (a *App) Start(ctx context.Context, attemptID int64, firstQuestion int, client models.ClientInfo) (*models.Attempt, error) {
	if firstQuestion <= 0 {
		return nil, fmt.Errorf("%w: first question index must be positive", ErrStateViolation)
	}
	round, err := a.roundFor(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	timeout := a.cfg.effectiveTimeout(round.Settings)

	updated, err := a.repo.Transition(ctx, attemptID, func(att *models.Attempt) ([]outbox.EventInsert, error) {
		if att.Status != models.AttemptStatusNotStarted {
			return nil, fmt.Errorf("%w: cannot start attempt in status %s", ErrStateViolation, att.Status)
		}

		now := a.clock.Now()
		deadline := now.Add(timeout)
		att.Status = models.AttemptStatusRunning
		att.SessionStartedAt = &now
		att.QuestionStartedAt = &now
		att.CurrentQuestion = firstQuestion
		att.PausedDuration = 0
		att.PausedAt = nil
		att.NextDeadline = &deadline
		att.DeviceFingerprint = client.Fingerprint()
		if client.IPAddress != "" {
			att.IPAddress = client.IPAddress
		}
		if client.UserAgent != "" {
			att.UserAgent = client.UserAgent
		}

		ev, err := eventInsert(att, outbox.EventTypeAttemptStarted, events.AttemptStartedPayload{
			AttemptID:     att.ID,
			RoundID:       att.RoundID,
			UserID:        att.UserID.String(),
			QuestionCount: round.Settings.QuestionCount,
			StartedAt:     now,
			TimeoutAt:     deadline,
		})
		if err != nil {
			return nil, err
		}
		return []outbox.EventInsert{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("attempt_id", attemptID).
		Int("first_question", firstQuestion).
		Dur("question_timeout", timeout).
		Msg("attempt started")
	return updated, nil
}

type completeOutcome int

const (
	outcomeAdvanced completeOutcome = iota
	outcomeCompleted
	outcomeSuspicion
	outcomeTimedOut
)

// CompleteQuestion records an answer for the current question. The
// answer content is judged upstream; the engine owns only its timing.
// A sub-minimum answer persists a suspicion mark and returns
// ErrFraudSuspicion without advancing; an over-budget answer marks the
// attempt TIMED_OUT and returns ErrTimeoutExceeded.
func (a *App) CompleteQuestion(ctx context.Context, attemptID int64, questionIndex int, answer string) (*models.Attempt, error) {
	_ = answer

	round, err := a.roundFor(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	timeout := a.cfg.effectiveTimeout(round.Settings)
	minAnswer := a.cfg.effectiveMinAnswer(round.Settings)

	outcome := outcomeAdvanced
	updated, err := a.repo.Transition(ctx, attemptID, func(att *models.Attempt) ([]outbox.EventInsert, error) {
		if att.Status != models.AttemptStatusRunning {
			return nil, fmt.Errorf("%w: cannot complete question in status %s", ErrStateViolation, att.Status)
		}
		if questionIndex != att.CurrentQuestion {
			return nil, fmt.Errorf("%w: expected question %d, got %d", ErrStateViolation, att.CurrentQuestion, questionIndex)
		}
		if att.QuestionStartedAt == nil {
			return nil, fmt.Errorf("%w: attempt has no question start time", ErrStateViolation)
		}

		now := a.clock.Now()
		elapsed := now.Sub(*att.QuestionStartedAt) - att.PausedDuration
		if elapsed < 0 {
			elapsed = 0
		}

		if elapsed < minAnswer {
			att.SuspicionCount++
			outcome = outcomeSuspicion
			ev, err := eventInsert(att, outbox.EventTypeSuspicionRaised, events.SuspicionRaisedPayload{
				AttemptID:      att.ID,
				RoundID:        att.RoundID,
				QuestionIndex:  questionIndex,
				ElapsedMs:      elapsed.Milliseconds(),
				SuspicionCount: att.SuspicionCount,
				RaisedAt:       now,
			})
			if err != nil {
				return nil, err
			}
			return []outbox.EventInsert{ev}, nil
		}

		if elapsed > timeout {
			outcome = outcomeTimedOut
			ev, err := applyTimeout(att, now)
			if err != nil {
				return nil, err
			}
			return []outbox.EventInsert{ev}, nil
		}

		att.QuestionTimes = append(att.QuestionTimes, elapsed)
		att.PausedDuration = 0
		att.CurrentQuestion++

		ev, err := eventInsert(att, outbox.EventTypeQuestionCompleted, events.QuestionCompletedPayload{
			AttemptID:     att.ID,
			RoundID:       att.RoundID,
			QuestionIndex: questionIndex,
			ElapsedMs:     elapsed.Milliseconds(),
			CompletedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		inserts := []outbox.EventInsert{ev}

		if att.CurrentQuestion > round.Settings.QuestionCount {
			att.Status = models.AttemptStatusCompleted
			att.CompletedAt = &now
			att.QuestionStartedAt = nil
			att.NextDeadline = nil
			outcome = outcomeCompleted

			done, err := eventInsert(att, outbox.EventTypeAttemptCompleted, events.AttemptCompletedPayload{
				AttemptID:     att.ID,
				RoundID:       att.RoundID,
				QuestionCount: len(att.QuestionTimes),
				CompletedAt:   now,
			})
			if err != nil {
				return nil, err
			}
			inserts = append(inserts, done)
		} else {
			questionStart := now
			deadline := now.Add(timeout)
			att.QuestionStartedAt = &questionStart
			att.NextDeadline = &deadline
		}
		return inserts, nil
	})
	if err != nil {
		return nil, err
	}

	switch outcome {
	case outcomeSuspicion:
		log.Warn().
			Int64("attempt_id", attemptID).
			Int("question_index", questionIndex).
			Int("suspicion_count", updated.SuspicionCount).
			Msg("answer faster than minimum, suspicion recorded")
		return updated, ErrFraudSuspicion
	case outcomeTimedOut:
		log.Info().
			Int64("attempt_id", attemptID).
			Int("question_index", questionIndex).
			Msg("attempt timed out on submission")
		return updated, ErrTimeoutExceeded
	case outcomeCompleted:
		log.Info().
			Int64("attempt_id", attemptID).
			Int("questions", len(updated.QuestionTimes)).
			Msg("attempt completed all questions")
	}
	return updated, nil
}

// Pause stops the question clock, used when the participant is diverted
// to payment. Valid only from RUNNING.
func (a *App) Pause(ctx context.Context, attemptID int64) (*models.Attempt, error) {
	updated, err := a.repo.Transition(ctx, attemptID, func(att *models.Attempt) ([]outbox.EventInsert, error) {
		if att.Status != models.AttemptStatusRunning {
			return nil, fmt.Errorf("%w: cannot pause attempt in status %s", ErrStateViolation, att.Status)
		}

		now := a.clock.Now()
		att.Status = models.AttemptStatusPaused
		att.PausedAt = &now
		att.NextDeadline = nil // paused attempts may wait indefinitely

		ev, err := eventInsert(att, outbox.EventTypeAttemptPaused, events.AttemptPausedPayload{
			AttemptID: att.ID,
			RoundID:   att.RoundID,
			PausedAt:  now,
		})
		if err != nil {
			return nil, err
		}
		return []outbox.EventInsert{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("attempt_id", attemptID).Msg("attempt paused")
	return updated, nil
}

// Resume restarts the question clock after a pause. The resuming
// request's fingerprint must match the one captured at Start; a
// mismatch persists a security event, leaves the attempt PAUSED and
// returns ErrIntegrityViolation.
func (a *App) Resume(ctx context.Context, attemptID int64, client models.ClientInfo) (*models.Attempt, error) {
	round, err := a.roundFor(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	timeout := a.cfg.effectiveTimeout(round.Settings)

	violation := false
	updated, err := a.repo.Transition(ctx, attemptID, func(att *models.Attempt) ([]outbox.EventInsert, error) {
		if att.Status != models.AttemptStatusPaused {
			return nil, fmt.Errorf("%w: cannot resume attempt in status %s", ErrStateViolation, att.Status)
		}
		if att.PausedAt == nil || att.QuestionStartedAt == nil {
			return nil, fmt.Errorf("%w: paused attempt is missing timing state", ErrStateViolation)
		}

		now := a.clock.Now()
		presented := client.Fingerprint()
		if presented != att.DeviceFingerprint {
			violation = true
			ev, err := eventInsert(att, outbox.EventTypeIntegrityViolation, events.IntegrityViolationPayload{
				AttemptID:       att.ID,
				RoundID:         att.RoundID,
				Reason:          "FINGERPRINT_MISMATCH",
				ExpectedPrefix:  fingerprintPrefix(att.DeviceFingerprint),
				PresentedPrefix: fingerprintPrefix(presented),
				OccurredAt:      now,
			})
			if err != nil {
				return nil, err
			}
			// Attempt stays PAUSED; only the security event commits.
			return []outbox.EventInsert{ev}, nil
		}

		pausedFor := now.Sub(*att.PausedAt)
		if pausedFor < 0 {
			pausedFor = 0
		}
		att.PausedDuration += pausedFor
		att.PausedAt = nil
		att.Status = models.AttemptStatusRunning
		deadline := att.QuestionStartedAt.Add(att.PausedDuration + timeout)
		att.NextDeadline = &deadline

		ev, err := eventInsert(att, outbox.EventTypeAttemptResumed, events.AttemptResumedPayload{
			AttemptID:   att.ID,
			RoundID:     att.RoundID,
			ResumedAt:   now,
			PausedForMs: pausedFor.Milliseconds(),
		})
		if err != nil {
			return nil, err
		}
		return []outbox.EventInsert{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	if violation {
		log.Warn().
			Int64("attempt_id", attemptID).
			Str("expected_prefix", fingerprintPrefix(updated.DeviceFingerprint)).
			Str("presented_prefix", fingerprintPrefix(client.Fingerprint())).
			Msg("device continuity check failed on resume")
		return updated, ErrIntegrityViolation
	}

	log.Info().
		Int64("attempt_id", attemptID).
		Dur("paused_total", updated.PausedDuration).
		Msg("attempt resumed")
	return updated, nil
}

// CheckTimeout is the idempotent sweep hook: if the attempt is running
// and over budget it performs the timed-out transition, otherwise it
// reports false and changes nothing.
func (a *App) CheckTimeout(ctx context.Context, attemptID int64) (bool, error) {
	att, err := a.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return false, err
	}
	if att.Status != models.AttemptStatusRunning || att.QuestionStartedAt == nil {
		return false, nil
	}

	round, err := a.rounds.GetRound(ctx, att.RoundID)
	if err != nil {
		return false, fmt.Errorf("failed to load round: %w", err)
	}
	timeout := a.cfg.effectiveTimeout(round.Settings)
	if a.clock.Now().Sub(*att.QuestionStartedAt)-att.PausedDuration <= timeout {
		return false, nil
	}

	timedOut := false
	_, err = a.repo.Transition(ctx, attemptID, func(att *models.Attempt) ([]outbox.EventInsert, error) {
		if att.Status != models.AttemptStatusRunning || att.QuestionStartedAt == nil {
			return nil, nil
		}
		now := a.clock.Now()
		if now.Sub(*att.QuestionStartedAt)-att.PausedDuration <= timeout {
			return nil, nil
		}
		timedOut = true
		ev, err := applyTimeout(att, now)
		if err != nil {
			return nil, err
		}
		return []outbox.EventInsert{ev}, nil
	})
	if err != nil {
		return false, err
	}

	if timedOut {
		log.Info().Int64("attempt_id", attemptID).Msg("attempt timed out by sweep")
	}
	return timedOut, nil
}

// Finalize computes total, pre-payment and post-payment times from the
// recorded list and discards transient timing state. Valid only from
// COMPLETED; a second call is a no-op.
func (a *App) Finalize(ctx context.Context, attemptID int64) (*models.Attempt, error) {
	round, err := a.roundFor(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	updated, err := a.repo.Transition(ctx, attemptID, func(att *models.Attempt) ([]outbox.EventInsert, error) {
		if att.Status != models.AttemptStatusCompleted {
			return nil, fmt.Errorf("%w: cannot finalize attempt in status %s", ErrStateViolation, att.Status)
		}
		if att.TotalTime != nil {
			return nil, nil // already finalized
		}

		now := a.clock.Now()
		var total time.Duration
		for _, d := range att.QuestionTimes {
			total += d
		}
		free := round.Settings.FreeQuestionCount
		if free > len(att.QuestionTimes) {
			free = len(att.QuestionTimes)
		}
		var pre time.Duration
		for _, d := range att.QuestionTimes[:free] {
			pre += d
		}
		post := total - pre

		att.TotalTime = &total
		att.PrePaymentTime = &pre
		att.PostPaymentTime = &post
		att.QuestionStartedAt = nil
		att.PausedAt = nil
		att.PausedDuration = 0
		att.NextDeadline = nil

		ev, err := eventInsert(att, outbox.EventTypeAttemptFinalized, events.AttemptFinalizedPayload{
			AttemptID:     att.ID,
			RoundID:       att.RoundID,
			TotalTimeMs:   total.Milliseconds(),
			PrePaymentMs:  pre.Milliseconds(),
			PostPaymentMs: post.Milliseconds(),
			FinalizedAt:   now,
		})
		if err != nil {
			return nil, err
		}
		return []outbox.EventInsert{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("attempt_id", attemptID).
		Msg("attempt finalized")
	return updated, nil
}

// FinalizePending finalizes every completed-but-unfinalized attempt in
// a round. Selection runs this before its eligibility query so late
// completions still carry totals.
func (a *App) FinalizePending(ctx context.Context, roundID int64) error {
	ids, err := a.repo.FetchUnfinalized(ctx, roundID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := a.Finalize(ctx, id); err != nil {
			return fmt.Errorf("failed to finalize attempt %d: %w", id, err)
		}
	}
	return nil
}

// DueAttempts returns running attempts whose deadline has passed.
func (a *App) DueAttempts(ctx context.Context, limit int) ([]int64, error) {
	return a.repo.FetchDueAttempts(ctx, a.clock.Now(), limit)
}

// NextDeadline returns the soonest deadline across running attempts.
func (a *App) NextDeadline(ctx context.Context) (*time.Time, error) {
	return a.repo.FetchNextDeadline(ctx)
}

func (a *App) roundFor(ctx context.Context, attemptID int64) (*models.Round, error) {
	att, err := a.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	round, err := a.rounds.GetRound(ctx, att.RoundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	return round, nil
}

// applyTimeout performs the shared timed-out transition.
func applyTimeout(att *models.Attempt, now time.Time) (outbox.EventInsert, error) {
	att.Status = models.AttemptStatusTimedOut
	att.NextDeadline = nil
	return eventInsert(att, outbox.EventTypeAttemptTimedOut, events.AttemptTimedOutPayload{
		AttemptID:     att.ID,
		RoundID:       att.RoundID,
		QuestionIndex: att.CurrentQuestion,
		TimedOutAt:    now,
	})
}

func eventInsert(att *models.Attempt, eventType string, payload interface{}) (outbox.EventInsert, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return outbox.EventInsert{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	attemptID := att.ID
	return outbox.EventInsert{
		RoundID:   att.RoundID,
		AttemptID: &attemptID,
		EventType: eventType,
		Payload:   data,
	}, nil
}

func fingerprintPrefix(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
