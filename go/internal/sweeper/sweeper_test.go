package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/selection"
)

// fakeAttempts scripts the deadline and due-batch sequences: each call
// consumes the next entry, and an exhausted script answers "nothing
// due" so the sweeper settles into its idle wait.
type fakeAttempts struct {
	mu        sync.Mutex
	deadlines []*time.Time
	due       [][]int64
	calls     map[int64]int

	ndCh    chan struct{} // pinged on every NextDeadline call
	checked chan int64    // receives ids as CheckTimeout finishes
	gate    chan struct{} // when set, CheckTimeout blocks until closed
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		calls:   make(map[int64]int),
		ndCh:    make(chan struct{}, 64),
		checked: make(chan int64, 64),
	}
}

func (f *fakeAttempts) NextDeadline(context.Context) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case f.ndCh <- struct{}{}:
	default:
	}
	if len(f.deadlines) == 0 {
		return nil, nil
	}
	d := f.deadlines[0]
	f.deadlines = f.deadlines[1:]
	return d, nil
}

func (f *fakeAttempts) DueAttempts(context.Context, int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.due) == 0 {
		return nil, nil
	}
	batch := f.due[0]
	f.due = f.due[1:]
	return batch, nil
}

func (f *fakeAttempts) CheckTimeout(_ context.Context, attemptID int64) (bool, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls[attemptID]++
	f.mu.Unlock()
	f.checked <- attemptID
	return true, nil
}

func (f *fakeAttempts) timeoutCalls(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeRoundSource struct {
	mu  sync.Mutex
	due []int64
	err error
}

func (f *fakeRoundSource) DueRounds(context.Context, int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := f.due
	f.due = nil
	return out, nil
}

type fakeSelector struct {
	mu      sync.Mutex
	results map[int64]*selection.Result
	errs    map[int64]error
	calls   []int64
	methods []models.SelectionMethod
}

func (f *fakeSelector) Select(_ context.Context, roundID int64, method models.SelectionMethod) (*selection.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, roundID)
	f.methods = append(f.methods, method)
	if err := f.errs[roundID]; err != nil {
		return nil, err
	}
	if res := f.results[roundID]; res != nil {
		return res, nil
	}
	return &selection.Result{}, nil
}

func testConfig() Config {
	return Config{
		Workers:            1,
		BatchSize:          25,
		IdlePoll:           time.Hour,
		RoundSweepInterval: time.Hour,
		SelectionMethod:    models.SelectionMethodFastestTime,
	}
}

func startSweeper(t *testing.T, s *Sweeper) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("sweeper did not shut down")
		}
	}
}

func waitChecked(t *testing.T, f *fakeAttempts, want int64) {
	t.Helper()
	select {
	case got := <-f.checked:
		if got != want {
			t.Fatalf("timed out attempt %d, want %d", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("attempt %d never timed out", want)
	}
}

func TestSweeperFiresDueDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	attempts := newFakeAttempts()
	now := clock.Now()
	attempts.deadlines = []*time.Time{&now}
	attempts.due = [][]int64{{42}}

	s := New(attempts, &fakeRoundSource{}, &fakeSelector{}, clock, testConfig())
	stop := startSweeper(t, s)
	defer stop()

	waitChecked(t, attempts, 42)
	if got := attempts.timeoutCalls(42); got != 1 {
		t.Errorf("timeout calls = %d, want 1", got)
	}
}

func TestSweeperWaitsForFutureDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	attempts := newFakeAttempts()
	deadline := clock.Now().Add(60 * time.Second)
	attempts.deadlines = []*time.Time{&deadline, &deadline}
	attempts.due = [][]int64{{}, {42}}

	s := New(attempts, &fakeRoundSource{}, &fakeSelector{}, clock, testConfig())
	stop := startSweeper(t, s)
	defer stop()

	// Wait until the scheduler timer and the round ticker are armed,
	// then jump past the deadline.
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 2); err != nil {
		t.Fatalf("sweeper never armed its timer: %v", err)
	}
	clock.Advance(61 * time.Second)

	waitChecked(t, attempts, 42)
}

func TestSweeperSkipsInFlightAttempts(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	attempts := newFakeAttempts()
	now := clock.Now()
	attempts.deadlines = []*time.Time{&now, &now}
	attempts.due = [][]int64{{42}, {42}}
	attempts.gate = make(chan struct{})

	s := New(attempts, &fakeRoundSource{}, &fakeSelector{}, clock, testConfig())
	stop := startSweeper(t, s)
	defer stop()

	// Both batches pass through the scheduler while the single worker
	// still holds the attempt; the second sighting must be dropped, not
	// requeued. The third deadline poll means both batches are behind us.
	for i := 0; i < 3; i++ {
		select {
		case <-attempts.ndCh:
		case <-time.After(5 * time.Second):
			t.Fatal("sweeper stalled before draining its batches")
		}
	}
	close(attempts.gate)

	waitChecked(t, attempts, 42)
	select {
	case id := <-attempts.checked:
		t.Fatalf("attempt %d timed out twice", id)
	case <-time.After(200 * time.Millisecond):
	}
	if got := attempts.timeoutCalls(42); got != 1 {
		t.Errorf("timeout calls = %d, want 1", got)
	}
}

func TestSweeperWakeInterruptsIdle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	attempts := newFakeAttempts() // empty scripts: always idle

	s := New(attempts, &fakeRoundSource{}, &fakeSelector{}, clock, testConfig())
	stop := startSweeper(t, s)
	defer stop()

	// Let the startup polls settle into the idle wait.
	for settled := false; !settled; {
		select {
		case <-attempts.ndCh:
		case <-time.After(250 * time.Millisecond):
			settled = true
		}
	}

	s.Wake()
	select {
	case <-attempts.ndCh:
	case <-time.After(5 * time.Second):
		t.Fatal("wake did not trigger a deadline poll")
	}
}

func TestSweepRounds(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	rounds := &fakeRoundSource{due: []int64{1, 2, 3}}
	winner := &models.Attempt{ID: 9, RoundID: 1}
	sel := &fakeSelector{
		results: map[int64]*selection.Result{
			1: {Winner: winner},
			2: {AlreadyDecided: true},
		},
		errs: map[int64]error{3: errors.New("selection broke")},
	}

	s := New(newFakeAttempts(), rounds, sel, clock, testConfig())
	s.sweepRounds(context.Background())

	if len(sel.calls) != 3 {
		t.Fatalf("select calls = %v, want all three due rounds", sel.calls)
	}
	for i, roundID := range []int64{1, 2, 3} {
		if sel.calls[i] != roundID {
			t.Errorf("call %d = round %d, want %d", i, sel.calls[i], roundID)
		}
		if sel.methods[i] != models.SelectionMethodFastestTime {
			t.Errorf("call %d method = %s, want %s", i, sel.methods[i], models.SelectionMethodFastestTime)
		}
	}
}

func TestSweepRoundsSourceError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	rounds := &fakeRoundSource{err: errors.New("database gone")}
	sel := &fakeSelector{}

	s := New(newFakeAttempts(), rounds, sel, clock, testConfig())
	s.sweepRounds(context.Background())

	if len(sel.calls) != 0 {
		t.Errorf("select calls = %v, want none", sel.calls)
	}
}
