package round

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// RoundRepository defines what the round app layer needs from the repository
type RoundRepository interface {
	CreateRound(ctx context.Context, req CreateRoundRequest) (*models.Round, error)
	GetRound(ctx context.Context, id int64) (*models.Round, error)
	FetchRoundsDueForSelection(ctx context.Context, now time.Time, limit int) ([]int64, error)
	CancelRound(ctx context.Context, id int64) (*models.Round, error)
}

// App handles round lifecycle business logic
type App struct {
	repo  RoundRepository
	clock clockwork.Clock
}

// NewApp creates a new round App
func NewApp(repo RoundRepository, clock clockwork.Clock) *App {
	return &App{
		repo:  repo,
		clock: clock,
	}
}

// CreateRound opens a new competition round.
func (a *App) CreateRound(ctx context.Context, req CreateRoundRequest) (*models.Round, error) {
	if err := validateSettings(req.Settings); err != nil {
		return nil, err
	}
	if req.ClosesAt != nil && !req.ClosesAt.After(a.clock.Now()) {
		return nil, fmt.Errorf("closes_at must be in the future")
	}

	round, err := a.repo.CreateRound(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("round_id", round.ID).
		Int("question_count", round.Settings.QuestionCount).
		Int("free_question_count", round.Settings.FreeQuestionCount).
		Msg("round created")
	return round, nil
}

// GetRound retrieves a round by ID
func (a *App) GetRound(ctx context.Context, id int64) (*models.Round, error) {
	return a.repo.GetRound(ctx, id)
}

// DueRounds returns open rounds whose close time has passed.
func (a *App) DueRounds(ctx context.Context, limit int) ([]int64, error) {
	return a.repo.FetchRoundsDueForSelection(ctx, a.clock.Now(), limit)
}

// CancelRound closes an open round without a winner.
func (a *App) CancelRound(ctx context.Context, id int64) (*models.Round, error) {
	round, err := a.repo.CancelRound(ctx, id)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("round_id", id).Msg("round cancelled")
	return round, nil
}

func validateSettings(s models.RoundSettings) error {
	if s.QuestionCount <= 0 {
		return fmt.Errorf("question_count must be positive")
	}
	if s.FreeQuestionCount < 0 || s.FreeQuestionCount > s.QuestionCount {
		return fmt.Errorf("free_question_count must be between 0 and question_count")
	}
	if s.QuestionTimeoutSec < 0 {
		return fmt.Errorf("question_timeout_sec must not be negative")
	}
	if s.MinAnswerTimeMs < 0 {
		return fmt.Errorf("min_answer_time_ms must not be negative")
	}
	return nil
}
