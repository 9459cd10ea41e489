package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

type fakeHistory struct {
	history History
	err     error
}

func (f *fakeHistory) Snapshot(_ context.Context, _ *models.Attempt, _ time.Time) (History, error) {
	return f.history, f.err
}

func mustMatcher(t *testing.T, cidrs []string) *ProxyMatcher {
	t.Helper()
	m, err := NewProxyMatcher(cidrs)
	if err != nil {
		t.Fatalf("NewProxyMatcher: %v", err)
	}
	return m
}

func TestAssessAttemptStampsAndMergesProxy(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	app := NewApp(
		&fakeHistory{history: History{SecurityViolations7d: 1}},
		mustMatcher(t, []string{"198.51.100.0/24"}),
		clock,
		DefaultThresholds(),
		DefaultScreenConfig(),
	)

	att := &models.Attempt{ID: 7, IPAddress: "198.51.100.44"}
	got, err := app.AssessAttempt(context.Background(), att)
	if err != nil {
		t.Fatalf("AssessAttempt: %v", err)
	}
	if !got.AssessedAt.Equal(clock.Now()) {
		t.Errorf("assessed at = %v, want %v", got.AssessedAt, clock.Now())
	}

	found := false
	for _, f := range got.Flags {
		if f == FlagProxyIP {
			found = true
		}
	}
	if !found {
		t.Errorf("flags = %v, want %s included", got.Flags, FlagProxyIP)
	}
}

func TestAssessAttemptPropagatesSnapshotError(t *testing.T) {
	wantErr := errors.New("history store down")
	app := NewApp(
		&fakeHistory{err: wantErr},
		mustMatcher(t, nil),
		clockwork.NewFakeClock(),
		DefaultThresholds(),
		DefaultScreenConfig(),
	)

	if _, err := app.AssessAttempt(context.Background(), &models.Attempt{ID: 1}); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestScreenAttempt(t *testing.T) {
	app := NewApp(
		&fakeHistory{history: History{PaidIPCount24h: 5, PaidDeviceCount24h: 5}},
		mustMatcher(t, nil),
		clockwork.NewFakeClock(),
		DefaultThresholds(),
		DefaultScreenConfig(),
	)

	res, err := app.ScreenAttempt(context.Background(), &models.Attempt{ID: 9})
	if err != nil {
		t.Fatalf("ScreenAttempt: %v", err)
	}
	if !res.Fraudulent {
		t.Errorf("result = %+v, want fraudulent on paid reuse across ip and device", res)
	}
}
