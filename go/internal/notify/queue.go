package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// Queue is the engine's hand-off point for notification jobs. Delivery
// transports (SMTP, WhatsApp API) consume the queue outside this module;
// the contract is fire-and-forget with at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, job models.NotificationJob) error
}

// JetStreamConfig locates the notification job stream.
type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	Replicas        int
	DuplicateWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "QUIZ_NOTIFY",
		SubjectPrefix:   "notify.jobs",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          3 * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// JetStreamQueue publishes jobs to notify.jobs.<channel> subjects. Job IDs
// double as JetStream message IDs so a redelivered enqueue stays one job.
type JetStreamQueue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamQueue(cfg JetStreamConfig) (*JetStreamQueue, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	q := &JetStreamQueue{nc: nc, js: js, config: cfg}

	if err := q.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return q, nil
}

// NewJetStreamQueueWithConn reuses an existing NATS connection, as the
// daemon does when the outbox publisher already holds one.
func NewJetStreamQueueWithConn(nc *nats.Conn, cfg JetStreamConfig) (*JetStreamQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	q := &JetStreamQueue{nc: nc, js: js, config: cfg}
	if err := q.ensureStream(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return q, nil
}

func (q *JetStreamQueue) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        q.config.StreamName,
		Description: "Notification jobs awaiting delivery workers",
		Subjects:    []string{fmt.Sprintf("%s.>", q.config.SubjectPrefix)},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      q.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    q.config.Replicas,
		Duplicates:  q.config.DuplicateWindow,
	}

	if _, err := q.js.Stream(ctx, q.config.StreamName); err != nil {
		if _, err = q.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", q.config.StreamName).
			Msg("created notification job stream")
	}
	return nil
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, job models.NotificationJob) error {
	subject := fmt.Sprintf("%s.%s", q.config.SubjectPrefix, strings.ToLower(string(job.Channel)))

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal notification job: %w", err)
	}

	_, err = q.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Job-ID":   []string{job.ID.String()},
			"Channel":  []string{string(job.Channel)},
			"Template": []string{job.Template},
		},
	},
		jetstream.WithMsgID(job.ID.String()),
		jetstream.WithExpectStream(q.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish notification job: %w", err)
	}

	log.Debug().
		Str("job_id", job.ID.String()).
		Str("subject", subject).
		Str("template", job.Template).
		Msg("notification job enqueued")

	return nil
}

func (q *JetStreamQueue) Close() error {
	if q.nc != nil {
		q.nc.Close()
	}
	return nil
}
