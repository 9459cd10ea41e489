package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/quizsprint/quizsprint/go/internal/outbox"
)

// ConsumerConfig locates the engine event stream the sweeper listens to.
type ConsumerConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	ConsumerName  string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "QUIZ_EVENTS",
		SubjectPrefix: "quiz.events",
		ConsumerName:  "quiz-sweeper",
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		MaxAckPending: 256,
	}
}

// domainEvent is the relay envelope as published to JetStream.
type domainEvent struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RoundID   int64           `json:"roundId"`
	AttemptID *int64          `json:"attemptId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Consumer subscribes to the engine event stream and wakes the sweeper
// whenever an event implies a new, possibly sooner, deadline. Deadlines
// themselves live in the database; the stream only trims latency, so
// the consumer starts from new messages and leaves replay to the poll.
type Consumer struct {
	sweeper  *Sweeper
	nc       *nats.Conn
	ownsConn bool
	consumer jetstream.Consumer
	cfg      ConsumerConfig
}

func NewConsumer(sweeper *Sweeper, cfg ConsumerConfig) (*Consumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
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

	c := &Consumer{sweeper: sweeper, nc: nc, ownsConn: true, cfg: cfg}
	if err := c.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// NewConsumerWithConn reuses an existing NATS connection; the caller
// keeps ownership.
func NewConsumerWithConn(sweeper *Sweeper, nc *nats.Conn, cfg ConsumerConfig) (*Consumer, error) {
	c := &Consumer{sweeper: sweeper, nc: nc, cfg: cfg}
	if err := c.ensureConsumer(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context) error {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, c.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          c.cfg.ConsumerName,
		Durable:       c.cfg.ConsumerName,
		Description:   "Sweeper wake-up consumer for engine events",
		FilterSubject: fmt.Sprintf("%s.>", c.cfg.SubjectPrefix),
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.cfg.MaxDeliver,
		AckWait:       c.cfg.AckWait,
		MaxAckPending: c.cfg.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, c.cfg.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Str("consumer", c.cfg.ConsumerName).Msg("created JetStream consumer for sweeper")
	} else {
		log.Info().Str("consumer", c.cfg.ConsumerName).Msg("using existing JetStream consumer for sweeper")
	}

	c.consumer = consumer
	return nil
}

// Run consumes events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		c.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().
		Str("stream", c.cfg.StreamName).
		Str("consumer", c.cfg.ConsumerName).
		Msg("sweeper consumer started")

	<-ctx.Done()
	log.Info().Msg("sweeper consumer shutting down")
	return nil
}

func (c *Consumer) handle(msg jetstream.Msg) {
	var event domainEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to unmarshal event")
		msg.Term()
		return
	}

	switch event.EventType {
	case outbox.EventTypeAttemptStarted,
		outbox.EventTypeQuestionCompleted,
		outbox.EventTypeAttemptResumed:
		// Each of these arms a new question deadline.
		log.Debug().
			Str("event_type", event.EventType).
			Int64("round_id", event.RoundID).
			Msg("deadline-bearing event, waking sweeper")
		c.sweeper.Wake()
	}

	if err := msg.Ack(); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to ack event")
	}
}

func (c *Consumer) Close() error {
	if c.ownsConn && c.nc != nil {
		c.nc.Close()
	}
	return nil
}
