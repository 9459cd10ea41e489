package main

import (
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/quizsprint/quizsprint/go/internal/attempt"
	"github.com/quizsprint/quizsprint/go/internal/config"
	"github.com/quizsprint/quizsprint/go/internal/fraud"
	"github.com/quizsprint/quizsprint/go/internal/models"
	"github.com/quizsprint/quizsprint/go/internal/notify"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
	"github.com/quizsprint/quizsprint/go/internal/round"
	"github.com/quizsprint/quizsprint/go/internal/selection"
	"github.com/quizsprint/quizsprint/go/internal/sweeper"
)

type engine struct {
	attempts *attempt.App
	rounds   *round.App
	fraud    *fraud.App
	selector *selection.App
	clock    clockwork.Clock
}

func buildEngine(database *sql.DB, nc *nats.Conn, clock clockwork.Clock, cfg *config.Config) (*engine, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer

	// Rounds
	roundRepo := round.NewRepository(database)
	roundApp := round.NewApp(roundRepo, clock)

	// Attempts (timing state machine)
	attemptRepo := attempt.NewRepository(database)
	attemptApp := attempt.NewApp(attemptRepo, roundApp, clock, attempt.TimingConfig{
		QuestionTimeout: cfg.Timing.QuestionTimeout(),
		MinAnswerTime:   cfg.Timing.MinAnswerTime(),
	})

	// Fraud scoring and the selection-time screen
	proxies, err := fraud.NewProxyMatcher(cfg.Fraud.ProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse proxy CIDRs: %w", err)
	}
	historyRepo := fraud.NewHistoryRepository(database, fraud.DefaultHistoryConfig())
	fraudApp := fraud.NewApp(historyRepo, proxies, clock,
		fraud.Thresholds{
			MaxSameIP24h:           cfg.Fraud.MaxSameIP24h,
			MaxSameDevice24h:       cfg.Fraud.MaxSameDevice24h,
			MaxDailyParticipations: cfg.Fraud.MaxDailyParticipations,
			WinRateThreshold:       cfg.Fraud.WinRateThreshold,
			AutomationDeviceCount:  cfg.Fraud.AutomationDeviceCount,
		},
		fraud.ScreenConfig{
			MinTotalTime:         cfg.Fraud.Screen.MinTotalTime(),
			MinAvgQuestionTime:   cfg.Fraud.Screen.MinAvgQuestionTime(),
			MinTimeVariance:      cfg.Fraud.Screen.MinTimeVariance,
			MaxFactors:           cfg.Fraud.Screen.MaxFactors,
			MaxSameIPPaid24h:     cfg.Fraud.Screen.MaxSameIPPaid24h,
			MaxSameDevicePaid24h: cfg.Fraud.Screen.MaxSameDevicePaid24h,
		})

	// Notification queue
	queue, err := notify.NewJetStreamQueueWithConn(nc, notifyStreamConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create notify queue: %w", err)
	}

	// Winner selection
	selRepo := selection.NewRepository(database)
	selApp := selection.NewApp(selRepo, roundApp, fraudApp, attemptApp, queue, clock,
		selection.Config{ClaimTokenTTL: cfg.Selection.ClaimTokenTTL()}, nil)

	return &engine{
		attempts: attemptApp,
		rounds:   roundApp,
		fraud:    fraudApp,
		selector: selApp,
		clock:    clock,
	}, nil
}

func eventStreamConfig(cfg *config.Config) outbox.JetStreamConfig {
	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATS.URL
	jsCfg.StreamName = cfg.NATS.EventStream
	jsCfg.SubjectPrefix = cfg.NATS.EventSubjectPrefix
	return jsCfg
}

func notifyStreamConfig(cfg *config.Config) notify.JetStreamConfig {
	nCfg := notify.DefaultJetStreamConfig()
	nCfg.URL = cfg.NATS.URL
	nCfg.StreamName = cfg.NATS.NotifyStream
	nCfg.SubjectPrefix = cfg.NATS.NotifySubjectPrefix
	return nCfg
}

func workerConfig(cfg *config.Config) outbox.WorkerConfig {
	wCfg := outbox.DefaultWorkerConfig()
	wCfg.PollInterval = cfg.Outbox.PollInterval()
	wCfg.BatchSize = int32(cfg.Outbox.BatchSize)
	wCfg.MaxRetries = cfg.Outbox.MaxRetries
	wCfg.RetryDelay = cfg.Outbox.RetryDelay()
	return wCfg
}

func listenerConfig(cfg *config.Config, dsn string) outbox.ListenerConfig {
	lCfg := outbox.DefaultListenerConfig()
	lCfg.DatabaseURL = dsn
	lCfg.BatchSize = int32(cfg.Outbox.BatchSize)
	lCfg.MaxRetries = cfg.Outbox.MaxRetries
	return lCfg
}

func sweeperConfig(cfg *config.Config) sweeper.Config {
	sCfg := sweeper.DefaultConfig()
	sCfg.Workers = cfg.Sweeper.Workers
	sCfg.BatchSize = cfg.Sweeper.BatchSize
	sCfg.RoundSweepInterval = cfg.Sweeper.RoundSweepInterval()
	sCfg.SelectionMethod = models.SelectionMethod(cfg.Selection.DefaultMethod)
	return sCfg
}

func consumerConfig(cfg *config.Config) sweeper.ConsumerConfig {
	cCfg := sweeper.DefaultConsumerConfig()
	cCfg.URL = cfg.NATS.URL
	cCfg.StreamName = cfg.NATS.EventStream
	cCfg.SubjectPrefix = cfg.NATS.EventSubjectPrefix
	return cCfg
}
