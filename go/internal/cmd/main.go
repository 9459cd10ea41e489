package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/config"
	"github.com/quizsprint/quizsprint/go/internal/dbconfig"
	"github.com/quizsprint/quizsprint/go/internal/outbox"
	"github.com/quizsprint/quizsprint/go/internal/sweeper"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(logLevel())

	cfg, err := config.Load(os.Getenv("ENGINE_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	dsn := dbCfg.DSN()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")

	nc, err := nats.Connect(cfg.NATS.URL, natsOptions()...)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer nc.Close()
	log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")

	publisher, err := outbox.NewJetStreamPublisherWithConn(nc, eventStreamConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 4)

	// Relay: LISTEN/NOTIFY by default, plain polling when asked.
	var relay outbox.Relay
	switch mode := getEnv("OUTBOX_RELAY_MODE", "listen"); mode {
	case "poll":
		worker := outbox.NewWorker(db, publisher, workerConfig(cfg))
		if err := worker.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start outbox worker")
		}
		defer func() {
			if err := worker.Stop(); err != nil {
				log.Error().Err(err).Msg("stop outbox worker")
			}
		}()
		relay = worker
	case "listen":
		listener, err := outbox.NewListener(db, publisher, listenerConfig(cfg, dsn))
		if err != nil {
			log.Fatal().Err(err).Msg("create outbox listener")
		}
		go func() {
			errCh <- listener.Start(ctx)
		}()
		relay = listener
	default:
		log.Fatal().Str("mode", mode).Msg("unknown OUTBOX_RELAY_MODE")
	}

	engine, err := buildEngine(db, nc, clockwork.NewRealClock(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	sw := sweeper.New(engine.attempts, engine.rounds, engine.selector, engine.clock, sweeperConfig(cfg))
	go func() {
		errCh <- sw.Run(ctx)
	}()

	consumer, err := sweeper.NewConsumerWithConn(sw, nc, consumerConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("create sweeper consumer")
	}
	go func() {
		errCh <- consumer.Run(ctx)
	}()

	checker := outbox.NewHealthChecker(relay, db, nc, 5*time.Minute)
	mux := http.NewServeMux()
	mux.Handle("/health", checker)

	server := &http.Server{
		Addr:         cfg.Health.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("health server shutdown failed")
		}
		// Give the sweeper workers time to drain in-flight timeouts.
		time.Sleep(2 * time.Second)
		log.Info().Msg("graceful shutdown complete")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("engine component exited unexpectedly")
		}
	}
}

func logLevel() zerolog.Level {
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}

func natsOptions() []nats.Option {
	return []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
