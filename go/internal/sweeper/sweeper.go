package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/selection"
)

// TimeoutChecker is what the sweeper needs from the attempt app.
type TimeoutChecker interface {
	CheckTimeout(ctx context.Context, attemptID int64) (bool, error)
	DueAttempts(ctx context.Context, limit int) ([]int64, error)
	NextDeadline(ctx context.Context) (*time.Time, error)
}

// RoundSource lists rounds whose closing time has passed.
type RoundSource interface {
	DueRounds(ctx context.Context, limit int) ([]int64, error)
}

// Selector commits winners for due rounds.
type Selector interface {
	Select(ctx context.Context, roundID int64, method models.SelectionMethod) (*selection.Result, error)
}

// Config tunes the sweep loops.
type Config struct {
	Workers            int
	BatchSize          int
	IdlePoll           time.Duration
	RoundSweepInterval time.Duration
	SelectionMethod    models.SelectionMethod
}

func DefaultConfig() Config {
	return Config{
		Workers:            4,
		BatchSize:          25,
		IdlePoll:           5 * time.Second,
		RoundSweepInterval: 30 * time.Second,
		SelectionMethod:    models.SelectionMethodFastestTime,
	}
}

// Sweeper enforces deadlines the clients stopped cooperating with: it
// sleeps until the soonest attempt deadline and times out the overdue
// batch through a worker pool, and on a slower cadence it closes rounds
// whose closing time has passed by running winner selection.
type Sweeper struct {
	attempts   TimeoutChecker
	rounds     RoundSource
	selector   Selector
	config     Config
	clock      clockwork.Clock
	wakeCh     chan struct{}
	instanceID string

	workCh chan int64

	// Track in-flight work so a deadline poll cannot double-queue an
	// attempt a worker is still holding.
	inFlight   map[int64]bool
	inFlightMu sync.Mutex
}

func New(attempts TimeoutChecker, rounds RoundSource, selector Selector, clock clockwork.Clock, cfg Config) *Sweeper {
	return &Sweeper{
		attempts:   attempts,
		rounds:     rounds,
		selector:   selector,
		config:     cfg,
		clock:      clock,
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8], // short ID for logging
		workCh:     make(chan int64, cfg.Workers*2),
		inFlight:   make(map[int64]bool),
	}
}

// Wake nudges the scheduler without blocking, used when a new deadline
// may be sooner than the one it is sleeping on.
func (s *Sweeper) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled, sleeping until the next attempt
// deadline and firing timeouts. It also owns the round sweep ticker and
// the timeout worker pool.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().
		Str("instance", s.instanceID).
		Int("workers", s.config.Workers).
		Msg("sweeper started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	wg.Add(1)
	go s.roundSweepLoop(workerCtx, &wg)

	defer func() {
		log.Info().Str("instance", s.instanceID).Msg("shutting down sweeper workers")
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("all sweeper workers shut down")
	}()

	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	retryCount := 0
	const maxRetries = 3

	for {
		select {
		case <-s.wakeCh:
			log.Debug().Str("instance", s.instanceID).Msg("drained wake channel")
		default:
		}

		deadline, err := s.attempts.NextDeadline(ctx)
		if err != nil {
			retryCount++
			if retryCount <= maxRetries {
				log.Error().
					Err(err).
					Int("retry", retryCount).
					Str("instance", s.instanceID).
					Msg("error fetching next deadline, retrying")
				timer.Reset(time.Second * time.Duration(retryCount))
				select {
				case <-timer.Chan():
					continue
				case <-ctx.Done():
					return nil
				}
			}
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error fetching next deadline after retries")
			return err
		}
		retryCount = 0

		if deadline == nil {
			// No running attempts; idle until poll or wake.
			timer.Reset(s.config.IdlePoll)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				log.Info().Str("instance", s.instanceID).Msg("shutdown during idle")
				return nil
			case <-s.wakeCh:
				log.Debug().Str("instance", s.instanceID).Msg("woken up from idle")
				continue
			}
		}

		wait := deadline.Sub(s.clock.Now())
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
				log.Debug().Str("instance", s.instanceID).Msg("timer fired, fetching due attempts")
			case <-ctx.Done():
				log.Info().Str("instance", s.instanceID).Msg("shutdown during wait")
				return nil
			case <-s.wakeCh:
				log.Debug().Str("instance", s.instanceID).Msg("woken up early, new sooner deadline")
				continue
			}
		}

		due, err := s.attempts.DueAttempts(ctx, s.config.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error fetching due attempts")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if len(due) == 0 {
			continue
		}

		log.Info().
			Int("count_due", len(due)).
			Int("batch_size", s.config.BatchSize).
			Str("instance", s.instanceID).
			Msg("processing due attempts")

		for _, attemptID := range due {
			s.inFlightMu.Lock()
			if s.inFlight[attemptID] {
				s.inFlightMu.Unlock()
				log.Debug().Int64("attempt_id", attemptID).Str("instance", s.instanceID).Msg("skipping attempt already in flight")
				continue
			}
			s.inFlight[attemptID] = true
			s.inFlightMu.Unlock()

			select {
			case <-ctx.Done():
				s.inFlightMu.Lock()
				delete(s.inFlight, attemptID)
				s.inFlightMu.Unlock()
				log.Info().Str("instance", s.instanceID).Msg("shutdown while queueing timeouts")
				return nil
			case s.workCh <- attemptID:
				log.Debug().Int64("attempt_id", attemptID).Str("instance", s.instanceID).Msg("queued timeout for worker")
			}
		}
	}
}

// worker processes attempt timeouts from the work channel.
func (s *Sweeper) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Info().
		Str("instance", s.instanceID).
		Int("worker_id", workerID).
		Msg("sweeper worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("instance", s.instanceID).
				Int("worker_id", workerID).
				Msg("sweeper worker shutting down")
			return
		case attemptID, ok := <-s.workCh:
			if !ok {
				log.Info().
					Str("instance", s.instanceID).
					Int("worker_id", workerID).
					Msg("work channel closed, sweeper worker shutting down")
				return
			}

			timedOut, err := s.attempts.CheckTimeout(ctx, attemptID)
			if err != nil {
				log.Error().
					Err(err).
					Int64("attempt_id", attemptID).
					Str("instance", s.instanceID).
					Int("worker_id", workerID).
					Msg("timeout check failed")
			} else if timedOut {
				log.Info().
					Int64("attempt_id", attemptID).
					Str("instance", s.instanceID).
					Int("worker_id", workerID).
					Msg("attempt timed out by sweep")
			}

			s.inFlightMu.Lock()
			delete(s.inFlight, attemptID)
			s.inFlightMu.Unlock()
		}
	}
}

// roundSweepLoop closes rounds whose closing time has passed by running
// winner selection with the configured default method.
func (s *Sweeper) roundSweepLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := s.clock.NewTicker(s.config.RoundSweepInterval)
	defer ticker.Stop()

	log.Info().
		Str("instance", s.instanceID).
		Dur("interval", s.config.RoundSweepInterval).
		Str("method", string(s.config.SelectionMethod)).
		Msg("round sweep started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", s.instanceID).Msg("round sweep shutting down")
			return
		case <-ticker.Chan():
			s.sweepRounds(ctx)
		}
	}
}

func (s *Sweeper) sweepRounds(ctx context.Context) {
	due, err := s.rounds.DueRounds(ctx, s.config.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("instance", s.instanceID).Msg("error fetching due rounds")
		return
	}

	for _, roundID := range due {
		res, err := s.selector.Select(ctx, roundID, s.config.SelectionMethod)
		if err != nil {
			log.Error().
				Err(err).
				Int64("round_id", roundID).
				Str("instance", s.instanceID).
				Msg("round sweep selection failed")
			continue
		}

		switch {
		case res.AlreadyDecided:
			log.Debug().
				Int64("round_id", roundID).
				Str("instance", s.instanceID).
				Msg("round already decided")
		case res.Winner == nil:
			log.Info().
				Int64("round_id", roundID).
				Int("excluded", res.ExcludedCount).
				Str("instance", s.instanceID).
				Msg("round swept without a winner")
		default:
			log.Info().
				Int64("round_id", roundID).
				Int64("attempt_id", res.Winner.ID).
				Str("instance", s.instanceID).
				Msg("round closed by sweep")
		}
	}
}
