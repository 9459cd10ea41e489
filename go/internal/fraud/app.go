package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// HistorySource provides the behavioral snapshot the pure scoring
// functions consume.
type HistorySource interface {
	Snapshot(ctx context.Context, att *models.Attempt, now time.Time) (History, error)
}

// App ties the pure scorer and screen to their data source.
type App struct {
	history HistorySource
	proxies *ProxyMatcher
	clock   clockwork.Clock
	th      Thresholds
	screen  ScreenConfig
}

func NewApp(history HistorySource, proxies *ProxyMatcher, clock clockwork.Clock, th Thresholds, screen ScreenConfig) *App {
	return &App{
		history: history,
		proxies: proxies,
		clock:   clock,
		th:      th,
		screen:  screen,
	}
}

// AssessAttempt scores one attempt against its current history.
func (a *App) AssessAttempt(ctx context.Context, att *models.Attempt) (models.FraudAssessment, error) {
	now := a.clock.Now()
	h, err := a.history.Snapshot(ctx, att, now)
	if err != nil {
		return models.FraudAssessment{}, fmt.Errorf("failed to snapshot history for attempt %d: %w", att.ID, err)
	}
	h.IPIsProxy = a.proxies.Match(att.IPAddress)

	assessment := Assess(att, h, a.th)
	assessment.AssessedAt = now
	if assessment.Recommendation == models.RecommendationBlock {
		log.Warn().
			Int64("attemptId", att.ID).
			Float64("score", assessment.Score).
			Strs("flags", assessment.Flags).
			Msg("fraud scorer recommends block")
	}
	return assessment, nil
}

// ScreenAttempt runs the selection-time re-screen for one finalized attempt.
func (a *App) ScreenAttempt(ctx context.Context, att *models.Attempt) (ScreenResult, error) {
	h, err := a.history.Snapshot(ctx, att, a.clock.Now())
	if err != nil {
		return ScreenResult{}, fmt.Errorf("failed to snapshot history for attempt %d: %w", att.ID, err)
	}
	return Screen(att, h, a.screen), nil
}
