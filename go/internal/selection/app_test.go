package selection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quizsprint/quizsprint/go/internal/fraud"
	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
)

// fakeBackend implements Store and RoundGetter over in-memory maps with
// the same compare-and-swap the SQL repository provides: the first
// winner commit wins, later ones report a conflict.
type fakeBackend struct {
	mu       sync.Mutex
	rounds   map[int64]*models.Round
	attempts map[int64]*models.Attempt
	claims   map[string]*models.ClaimToken
	events   []outbox.EventInsert

	commitErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rounds:   make(map[int64]*models.Round),
		attempts: make(map[int64]*models.Attempt),
		claims:   make(map[string]*models.ClaimToken),
	}
}

func cloneAttempt(att *models.Attempt) *models.Attempt {
	c := *att
	c.QuestionTimes = append([]time.Duration(nil), att.QuestionTimes...)
	c.FraudFlags = append([]string(nil), att.FraudFlags...)
	return &c
}

func cloneRound(rd *models.Round) *models.Round {
	c := *rd
	return &c
}

func (b *fakeBackend) GetRound(_ context.Context, id int64) (*models.Round, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rd, ok := b.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %d not found", id)
	}
	return cloneRound(rd), nil
}

func (b *fakeBackend) FetchEligible(_ context.Context, roundID int64) ([]*models.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Attempt
	for _, att := range b.attempts {
		if att.RoundID == roundID && att.Paid && att.Status == models.AttemptStatusCompleted &&
			!att.Fraudulent && att.TotalTime != nil {
			out = append(out, cloneAttempt(att))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].TotalTime != *out[j].TotalTime {
			return *out[i].TotalTime < *out[j].TotalTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *fakeBackend) FetchPaidIncomplete(_ context.Context, roundID int64) ([]*models.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Attempt
	for _, att := range b.attempts {
		if att.RoundID == roundID && att.Paid && att.Status != models.AttemptStatusCompleted {
			out = append(out, cloneAttempt(att))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) GetAttempt(_ context.Context, id int64) (*models.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	att, ok := b.attempts[id]
	if !ok {
		return nil, fmt.Errorf("attempt %d not found", id)
	}
	return cloneAttempt(att), nil
}

func (b *fakeBackend) MarkFraudulent(_ context.Context, attemptID int64, factors []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	att, ok := b.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attempt %d not found", attemptID)
	}
	att.Fraudulent = true
	att.FraudFlags = append(att.FraudFlags, factors...)
	return nil
}

func (b *fakeBackend) CommitWinner(_ context.Context, req CommitWinnerRequest) (*CommitOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.commitErr != nil {
		return nil, b.commitErr
	}
	rd, ok := b.rounds[req.RoundID]
	if !ok {
		return nil, fmt.Errorf("round %d not found", req.RoundID)
	}
	if rd.WinnerAttemptID != nil {
		return &CommitOutcome{Conflict: true, WinnerAttemptID: *rd.WinnerAttemptID}, nil
	}

	winnerID := req.AttemptID
	method := req.Method
	completedAt := req.Now
	rd.WinnerAttemptID = &winnerID
	rd.SelectionMethod = &method
	rd.Status = models.RoundStatusCompleted
	rd.CompletedAt = &completedAt
	if att, ok := b.attempts[req.AttemptID]; ok {
		att.Winner = true
	}

	token := &models.ClaimToken{
		ID:        uuid.New(),
		RoundID:   req.RoundID,
		AttemptID: req.AttemptID,
		Token:     req.Token,
		ExpiresAt: req.TokenExpires,
		CreatedAt: req.Now,
	}
	b.claims[req.Token] = token
	b.events = append(b.events, req.Events...)
	return &CommitOutcome{WinnerAttemptID: winnerID, Token: token}, nil
}

func (b *fakeBackend) GetClaim(_ context.Context, token string) (*models.ClaimToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ct, ok := b.claims[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	c := *ct
	return &c, nil
}

func (b *fakeBackend) RedeemClaim(_ context.Context, token string, at time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ct, ok := b.claims[token]
	if !ok {
		return false, ErrTokenNotFound
	}
	if ct.RedeemedAt != nil {
		return false, nil
	}
	redeemed := at
	ct.RedeemedAt = &redeemed
	return true, nil
}

func (b *fakeBackend) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.EventType
	}
	return out
}

type fakeScreener struct {
	mu         sync.Mutex
	fraudulent map[int64][]string
	err        error
	screened   []int64
}

func (f *fakeScreener) ScreenAttempt(_ context.Context, att *models.Attempt) (fraud.ScreenResult, error) {
	f.mu.Lock()
	f.screened = append(f.screened, att.ID)
	f.mu.Unlock()
	if f.err != nil {
		return fraud.ScreenResult{}, f.err
	}
	if factors, ok := f.fraudulent[att.ID]; ok {
		return fraud.ScreenResult{Factors: factors, Fraudulent: true}, nil
	}
	return fraud.ScreenResult{}, nil
}

type fakeFinalizer struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (f *fakeFinalizer) FinalizePending(_ context.Context, roundID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, roundID)
	return nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []models.NotificationJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job models.NotificationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) byTemplate(template string) []models.NotificationJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.NotificationJob
	for _, j := range q.jobs {
		if j.Template == template {
			out = append(out, j)
		}
	}
	return out
}

type selectionFixture struct {
	app       *App
	backend   *fakeBackend
	screener  *fakeScreener
	finalizer *fakeFinalizer
	queue     *fakeQueue
	clock     *clockwork.FakeClock
}

func newSelectionFixture(t *testing.T) *selectionFixture {
	t.Helper()
	backend := newFakeBackend()
	backend.rounds[1] = &models.Round{
		ID:       1,
		Status:   models.RoundStatusOpen,
		Settings: models.RoundSettings{QuestionCount: 5, FreeQuestionCount: 2, Prize: "prize"},
	}
	screener := &fakeScreener{fraudulent: make(map[int64][]string)}
	finalizer := &fakeFinalizer{}
	queue := &fakeQueue{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	app := NewApp(backend, backend, screener, finalizer, queue, clock,
		Config{ClaimTokenTTL: 72 * time.Hour}, rand.New(rand.NewSource(1)))
	return &selectionFixture{
		app:       app,
		backend:   backend,
		screener:  screener,
		finalizer: finalizer,
		queue:     queue,
		clock:     clock,
	}
}

func finishedAttempt(id int64, total time.Duration) *models.Attempt {
	return &models.Attempt{
		ID:        id,
		RoundID:   1,
		Email:     fmt.Sprintf("p%d@example.com", id),
		Status:    models.AttemptStatusCompleted,
		Paid:      true,
		TotalTime: &total,
	}
}

func (f *selectionFixture) add(atts ...*models.Attempt) {
	for _, att := range atts {
		f.backend.attempts[att.ID] = att
	}
}

func TestSelectFastestTime(t *testing.T) {
	f := newSelectionFixture(t)
	winner := finishedAttempt(2, 45*time.Second)
	winner.Phone = "+15550101"
	winner.WhatsAppConsent = true
	f.add(
		finishedAttempt(1, 47200*time.Millisecond),
		winner,
		finishedAttempt(4, 48*time.Second),
		&models.Attempt{ID: 5, RoundID: 1, Email: "p5@example.com", Status: models.AttemptStatusRunning, Paid: true},
	)

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Winner == nil || res.Winner.ID != 2 {
		t.Fatalf("winner = %+v, want attempt 2", res.Winner)
	}
	if !res.Winner.Winner {
		t.Error("winner flag not set on the chosen attempt")
	}
	if res.AlreadyDecided {
		t.Error("fresh selection reported as already decided")
	}
	if res.EligibleCount != 3 {
		t.Errorf("eligible = %d, want 3", res.EligibleCount)
	}
	if res.Round.Status != models.RoundStatusCompleted {
		t.Errorf("round status = %s, want %s", res.Round.Status, models.RoundStatusCompleted)
	}
	if res.Round.WinnerAttemptID == nil || *res.Round.WinnerAttemptID != 2 {
		t.Error("round does not record the winner attempt")
	}
	if res.Round.SelectionMethod == nil || *res.Round.SelectionMethod != models.SelectionMethodFastestTime {
		t.Error("round does not record the selection method")
	}
	if res.Token == nil {
		t.Fatal("no claim token issued")
	}
	if want := f.clock.Now().Add(72 * time.Hour); !res.Token.ExpiresAt.Equal(want) {
		t.Errorf("token expires at %v, want %v", res.Token.ExpiresAt, want)
	}

	if got := f.backend.eventTypes(); len(got) != 2 ||
		got[0] != outbox.EventTypeWinnerSelected || got[1] != outbox.EventTypeRoundCompleted {
		t.Errorf("events = %v, want [WinnerSelected RoundCompleted]", got)
	}

	// Winner gets email and WhatsApp; the two losing finalists and the
	// paid-incomplete attempt each get a result email.
	winnerJobs := f.queue.byTemplate("round_winner")
	if len(winnerJobs) != 2 {
		t.Fatalf("winner jobs = %d, want 2", len(winnerJobs))
	}
	for _, job := range winnerJobs {
		if job.Variables["claim_token"] != res.Token.Token {
			t.Error("winner job missing the claim token")
		}
	}
	loserJobs := f.queue.byTemplate("round_result")
	if len(loserJobs) != 3 {
		t.Fatalf("loser jobs = %d, want 3", len(loserJobs))
	}
	for _, job := range loserJobs {
		if job.Channel != models.NotificationChannelEmail {
			t.Errorf("loser job channel = %s, want EMAIL", job.Channel)
		}
	}

	if len(f.finalizer.calls) != 1 || f.finalizer.calls[0] != 1 {
		t.Errorf("finalize calls = %v, want [1]", f.finalizer.calls)
	}
}

func TestSelectTieBreak(t *testing.T) {
	tests := []struct {
		name   string
		totals map[int64]time.Duration
		want   int64
	}{
		{
			name:   "exact tie goes to the lower id",
			totals: map[int64]time.Duration{10: 45 * time.Second, 11: 45 * time.Second},
			want:   10,
		},
		{
			name: "sub-microsecond gap is a tie",
			totals: map[int64]time.Duration{
				10: 45*time.Second + 500*time.Nanosecond,
				11: 45 * time.Second,
			},
			want: 10,
		},
		{
			name: "a full microsecond is a win",
			totals: map[int64]time.Duration{
				10: 45*time.Second + time.Microsecond,
				11: 45 * time.Second,
			},
			want: 11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSelectionFixture(t)
			for id, total := range tt.totals {
				f.add(finishedAttempt(id, total))
			}

			res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if res.Winner == nil || res.Winner.ID != tt.want {
				t.Errorf("winner = %+v, want attempt %d", res.Winner, tt.want)
			}
		})
	}
}

func TestSelectRandom(t *testing.T) {
	f := newSelectionFixture(t)
	pool := map[int64]bool{1: true, 2: true, 3: true}
	for id := range pool {
		f.add(finishedAttempt(id, time.Duration(40+id)*time.Second))
	}

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodRandom)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Winner == nil || !pool[res.Winner.ID] {
		t.Fatalf("winner = %+v, want one of the pool", res.Winner)
	}
	if res.Round.Status != models.RoundStatusCompleted {
		t.Errorf("round status = %s, want %s", res.Round.Status, models.RoundStatusCompleted)
	}
}

func TestSelectManualMethodNeedsExplicitWinner(t *testing.T) {
	f := newSelectionFixture(t)
	if _, err := f.app.Select(context.Background(), 1, models.SelectionMethodManual); !errors.Is(err, ErrManualWinnerRequired) {
		t.Errorf("err = %v, want ErrManualWinnerRequired", err)
	}
}

func TestSelectEmptyPool(t *testing.T) {
	f := newSelectionFixture(t)

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Winner != nil {
		t.Errorf("winner = %+v, want none", res.Winner)
	}
	if res.Round.Status != models.RoundStatusOpen {
		t.Errorf("round status = %s, want to stay %s", res.Round.Status, models.RoundStatusOpen)
	}
	if len(f.backend.eventTypes()) != 0 {
		t.Error("events written without a winner")
	}
	if len(f.queue.jobs) != 0 {
		t.Error("notifications enqueued without a winner")
	}
}

func TestSelectAllExcluded(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(finishedAttempt(1, 18*time.Second), finishedAttempt(2, 19*time.Second))
	f.screener.fraudulent[1] = []string{fraud.FactorTotalFloor, fraud.FactorLowVariance}
	f.screener.fraudulent[2] = []string{fraud.FactorTotalFloor, fraud.FactorAvgFloor}

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Winner != nil {
		t.Errorf("winner = %+v, want none", res.Winner)
	}
	if res.ExcludedCount != 2 {
		t.Errorf("excluded = %d, want 2", res.ExcludedCount)
	}
	for _, id := range []int64{1, 2} {
		att := f.backend.attempts[id]
		if !att.Fraudulent {
			t.Errorf("attempt %d not marked fraudulent", id)
		}
		if len(att.FraudFlags) == 0 {
			t.Errorf("attempt %d has no persisted factors", id)
		}
	}
	if res.Round.Status != models.RoundStatusOpen {
		t.Errorf("round status = %s, want to stay %s", res.Round.Status, models.RoundStatusOpen)
	}
}

func TestSelectScreenExcludesFastest(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(
		finishedAttempt(6, 18*time.Second),
		finishedAttempt(2, 45*time.Second),
		finishedAttempt(1, 47*time.Second),
	)
	f.screener.fraudulent[6] = []string{fraud.FactorTotalFloor, fraud.FactorLowVariance}

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Winner == nil || res.Winner.ID != 2 {
		t.Fatalf("winner = %+v, want attempt 2", res.Winner)
	}
	if res.ExcludedCount != 1 {
		t.Errorf("excluded = %d, want 1", res.ExcludedCount)
	}
	if !f.backend.attempts[6].Fraudulent {
		t.Error("screened attempt not marked fraudulent")
	}
}

func TestSelectMarksSurviveCommitFailure(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(finishedAttempt(6, 18*time.Second), finishedAttempt(2, 45*time.Second))
	f.screener.fraudulent[6] = []string{fraud.FactorTotalFloor, fraud.FactorLowVariance}
	f.backend.commitErr = errors.New("serialization failure")

	if _, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime); err == nil {
		t.Fatal("expected commit error")
	}
	if !f.backend.attempts[6].Fraudulent {
		t.Fatal("fraud mark rolled back with the failed commit")
	}

	// The retry sees the mark already persisted: attempt 6 never
	// re-enters the pool.
	f.backend.commitErr = nil
	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select retry: %v", err)
	}
	if res.Winner == nil || res.Winner.ID != 2 {
		t.Fatalf("winner = %+v, want attempt 2", res.Winner)
	}
	if res.EligibleCount != 1 {
		t.Errorf("eligible = %d, want 1 (marked attempt filtered by the query)", res.EligibleCount)
	}
	if res.ExcludedCount != 0 {
		t.Errorf("excluded = %d, want 0 on retry", res.ExcludedCount)
	}
}

func TestSelectAlreadyDecided(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(finishedAttempt(3, 45*time.Second))
	if _, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime); err != nil {
		t.Fatalf("first Select: %v", err)
	}
	events := len(f.backend.eventTypes())
	jobs := len(f.queue.jobs)

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodRandom)
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}
	if !res.AlreadyDecided {
		t.Error("second selection not reported as already decided")
	}
	if res.Winner == nil || res.Winner.ID != 3 {
		t.Errorf("winner = %+v, want the committed attempt 3", res.Winner)
	}
	if res.Method != models.SelectionMethodFastestTime {
		t.Errorf("method = %s, want the committed %s", res.Method, models.SelectionMethodFastestTime)
	}
	if got := len(f.backend.eventTypes()); got != events {
		t.Errorf("events grew from %d to %d on a decided round", events, got)
	}
	if got := len(f.queue.jobs); got != jobs {
		t.Errorf("jobs grew from %d to %d on a decided round", jobs, got)
	}
}

func TestSelectRoundNotOpen(t *testing.T) {
	f := newSelectionFixture(t)
	f.backend.rounds[1].Status = models.RoundStatusCancelled
	f.add(finishedAttempt(1, 45*time.Second))

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Winner != nil {
		t.Errorf("winner = %+v, want none on a cancelled round", res.Winner)
	}
	if len(f.finalizer.calls) != 0 {
		t.Error("finalize ran on a cancelled round")
	}
}

func TestSelectConcurrent(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(
		finishedAttempt(1, 47*time.Second),
		finishedAttempt(2, 45*time.Second),
		finishedAttempt(3, 48*time.Second),
	)

	const callers = 8
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
		}(i)
	}
	wg.Wait()

	committed := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Winner == nil || results[i].Winner.ID != 2 {
			t.Fatalf("caller %d winner = %+v, want attempt 2", i, results[i].Winner)
		}
		if !results[i].AlreadyDecided {
			committed++
		}
	}
	if committed != 1 {
		t.Errorf("committed selections = %d, want exactly 1", committed)
	}
	if got := f.backend.eventTypes(); len(got) != 2 {
		t.Errorf("events = %v, want one commit's worth", got)
	}
}

func TestSelectNotificationFailuresDoNotUnwind(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(finishedAttempt(1, 45*time.Second), finishedAttempt(2, 46*time.Second))
	f.queue.err = errors.New("broker unavailable")

	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Winner == nil || res.Winner.ID != 1 {
		t.Fatalf("winner = %+v, want attempt 1", res.Winner)
	}
	if res.Round.Status != models.RoundStatusCompleted {
		t.Error("round not completed when notifications failed")
	}
}

func TestCommitManual(t *testing.T) {
	newFixtureWithAttempt := func(t *testing.T, mutate func(att *models.Attempt)) (*selectionFixture, *models.Attempt) {
		t.Helper()
		f := newSelectionFixture(t)
		att := finishedAttempt(7, 52*time.Second)
		if mutate != nil {
			mutate(att)
		}
		f.add(att)
		return f, att
	}

	t.Run("commits an eligible attempt", func(t *testing.T) {
		f, att := newFixtureWithAttempt(t, nil)
		res, err := f.app.CommitManual(context.Background(), 1, att.ID)
		if err != nil {
			t.Fatalf("CommitManual: %v", err)
		}
		if res.Winner == nil || res.Winner.ID != att.ID {
			t.Fatalf("winner = %+v, want attempt %d", res.Winner, att.ID)
		}
		if res.Method != models.SelectionMethodManual {
			t.Errorf("method = %s, want %s", res.Method, models.SelectionMethodManual)
		}
		if res.Token == nil {
			t.Error("manual commit issued no claim token")
		}
	})

	t.Run("rejects an attempt from another round", func(t *testing.T) {
		f, att := newFixtureWithAttempt(t, func(att *models.Attempt) { att.RoundID = 9 })
		if _, err := f.app.CommitManual(context.Background(), 1, att.ID); !errors.Is(err, ErrAttemptNotEligible) {
			t.Errorf("err = %v, want ErrAttemptNotEligible", err)
		}
	})

	t.Run("rejects unpaid", func(t *testing.T) {
		f, att := newFixtureWithAttempt(t, func(att *models.Attempt) { att.Paid = false })
		if _, err := f.app.CommitManual(context.Background(), 1, att.ID); !errors.Is(err, ErrAttemptNotEligible) {
			t.Errorf("err = %v, want ErrAttemptNotEligible", err)
		}
	})

	t.Run("rejects incomplete", func(t *testing.T) {
		f, att := newFixtureWithAttempt(t, func(att *models.Attempt) { att.Status = models.AttemptStatusTimedOut })
		if _, err := f.app.CommitManual(context.Background(), 1, att.ID); !errors.Is(err, ErrAttemptNotEligible) {
			t.Errorf("err = %v, want ErrAttemptNotEligible", err)
		}
	})

	t.Run("rejects fraudulent", func(t *testing.T) {
		f, att := newFixtureWithAttempt(t, func(att *models.Attempt) { att.Fraudulent = true })
		if _, err := f.app.CommitManual(context.Background(), 1, att.ID); !errors.Is(err, ErrAttemptNotEligible) {
			t.Errorf("err = %v, want ErrAttemptNotEligible", err)
		}
	})

	t.Run("rejects unfinalized", func(t *testing.T) {
		f, att := newFixtureWithAttempt(t, func(att *models.Attempt) { att.TotalTime = nil })
		if _, err := f.app.CommitManual(context.Background(), 1, att.ID); !errors.Is(err, ErrAttemptNotEligible) {
			t.Errorf("err = %v, want ErrAttemptNotEligible", err)
		}
	})

	t.Run("returns the existing winner on a decided round", func(t *testing.T) {
		f, att := newFixtureWithAttempt(t, nil)
		other := finishedAttempt(8, 60*time.Second)
		f.add(other)
		if _, err := f.app.CommitManual(context.Background(), 1, att.ID); err != nil {
			t.Fatalf("first CommitManual: %v", err)
		}
		res, err := f.app.CommitManual(context.Background(), 1, other.ID)
		if err != nil {
			t.Fatalf("second CommitManual: %v", err)
		}
		if !res.AlreadyDecided {
			t.Error("second manual commit not reported as already decided")
		}
		if res.Winner == nil || res.Winner.ID != att.ID {
			t.Errorf("winner = %+v, want the first attempt %d", res.Winner, att.ID)
		}
	})
}

func TestRedeemClaim(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(finishedAttempt(1, 45*time.Second))
	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	token := res.Token.Token

	t.Run("unknown token", func(t *testing.T) {
		if _, err := f.app.RedeemClaim(context.Background(), "deadbeef"); !errors.Is(err, ErrTokenNotFound) {
			t.Errorf("err = %v, want ErrTokenNotFound", err)
		}
	})

	t.Run("valid redeem burns the token", func(t *testing.T) {
		ct, err := f.app.RedeemClaim(context.Background(), token)
		if err != nil {
			t.Fatalf("RedeemClaim: %v", err)
		}
		if ct.RedeemedAt == nil || !ct.RedeemedAt.Equal(f.clock.Now()) {
			t.Errorf("redeemed at = %v, want %v", ct.RedeemedAt, f.clock.Now())
		}
	})

	t.Run("replay is rejected", func(t *testing.T) {
		if _, err := f.app.RedeemClaim(context.Background(), token); !errors.Is(err, ErrTokenRedeemed) {
			t.Errorf("err = %v, want ErrTokenRedeemed", err)
		}
	})
}

func TestRedeemClaimExpired(t *testing.T) {
	f := newSelectionFixture(t)
	f.add(finishedAttempt(1, 45*time.Second))
	res, err := f.app.Select(context.Background(), 1, models.SelectionMethodFastestTime)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	f.clock.Advance(72*time.Hour + time.Second)
	if _, err := f.app.RedeemClaim(context.Background(), res.Token.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestPickFastest(t *testing.T) {
	mk := func(id int64, total time.Duration) *models.Attempt {
		return finishedAttempt(id, total)
	}

	tests := []struct {
		name string
		pool []*models.Attempt
		want int64
	}{
		{
			name: "strictly fastest wins",
			pool: []*models.Attempt{mk(1, 47*time.Second), mk(2, 45*time.Second), mk(3, 46*time.Second)},
			want: 2,
		},
		{
			name: "single candidate",
			pool: []*models.Attempt{mk(9, 45*time.Second)},
			want: 9,
		},
		{
			name: "three-way tie picks the lowest id",
			pool: []*models.Attempt{
				mk(12, 45*time.Second),
				mk(10, 45*time.Second+900*time.Nanosecond),
				mk(11, 45*time.Second+100*time.Nanosecond),
			},
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickFastest(tt.pool); got.ID != tt.want {
				t.Errorf("pickFastest = attempt %d, want %d", got.ID, tt.want)
			}
		})
	}
}
