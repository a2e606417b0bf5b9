// Package auditsink publishes tenantauth audit events to Kafka.
//
// The sink sits behind the engine's audit dispatcher, so Emit runs on the
// dispatcher goroutine and never on a request path. A circuit breaker stops
// the sink from stalling that goroutine on every event while the brokers are
// down; rejected events are counted and dropped.
package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"

	"github.com/MrEthical07/tenantauth"
)

// BreakerConfig tunes the circuit breaker guarding the writer.
type BreakerConfig struct {
	// MaxRequests is the number of trial writes allowed while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts periodically. 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MinRequests is the sample size before FailureRatio is evaluated.
	MinRequests  uint32
	FailureRatio float64
}

// KafkaConfig configures NewKafkaSink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	// WriteTimeout bounds a single publish.
	WriteTimeout time.Duration
	Breaker      BreakerConfig
}

// DefaultKafkaConfig returns defaults for the given brokers and topic.
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		Topic:        topic,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:  1,
			Interval:     60 * time.Second,
			Timeout:      30 * time.Second,
			MinRequests:  5,
			FailureRatio: 0.5,
		},
	}
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Stats are cumulative sink counters.
type Stats struct {
	Published uint64
	Failed    uint64
	Rejected  uint64
}

// KafkaSink implements tenantauth.AuditSink.
type KafkaSink struct {
	writer       messageWriter
	topic        string
	brokers      []string
	writeTimeout time.Duration
	breaker      *gobreaker.CircuitBreaker[struct{}]
	logger       *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

var _ tenantauth.AuditSink = (*KafkaSink)(nil)

// NewKafkaSink builds a sink around a synchronous kafka-go writer.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("auditsink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("auditsink: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaSink(w, cfg, logger), nil
}

func newKafkaSink(w messageWriter, cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &KafkaSink{
		writer:       w,
		topic:        cfg.Topic,
		brokers:      cfg.Brokers,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
	}

	bc := cfg.Breaker
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "tenantauth-audit-kafka",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("audit sink breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return s
}

// message encodes event as a Kafka message keyed by tenant, so one tenant's
// events stay ordered within a partition.
func message(event tenantauth.AuditEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal audit event: %w", err)
	}
	key := event.TenantID
	if key == "" {
		key = event.PrincipalID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if event.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(event.CorrelationID)})
	}
	return msg, nil
}

// Emit publishes event. Failures are logged and counted, never returned.
func (s *KafkaSink) Emit(ctx context.Context, event tenantauth.AuditEvent) {
	msg, err := message(event)
	if err != nil {
		s.failed.Add(1)
		s.logger.ErrorContext(ctx, "audit event dropped", slog.String("event_type", event.EventType), slog.Any("error", err))
		return
	}

	wctx := context.WithoutCancel(ctx)
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, s.writeTimeout)
		defer cancel()
	}

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.writer.WriteMessages(wctx, msg)
	})
	switch {
	case err == nil:
		s.published.Add(1)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
		s.logger.ErrorContext(ctx, "audit publish failed",
			slog.String("topic", s.topic),
			slog.String("event_type", event.EventType),
			slog.Any("error", err),
		)
	}
}

// Stats returns the cumulative counters.
func (s *KafkaSink) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Failed:    s.failed.Load(),
		Rejected:  s.rejected.Load(),
	}
}

// State reports the breaker state.
func (s *KafkaSink) State() gobreaker.State {
	return s.breaker.State()
}

// Ping dials the configured brokers and succeeds when one answers.
func (s *KafkaSink) Ping(ctx context.Context) error {
	if len(s.brokers) == 0 {
		return errors.New("auditsink: no brokers configured")
	}
	var lastErr error
	for _, addr := range s.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("auditsink: all brokers unreachable: %w", lastErr)
}

// Close flushes and closes the writer. Close the engine first so the
// dispatcher has drained.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
