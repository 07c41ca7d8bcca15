package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jamesrupertball/tempest-weather-airport/internal/metrics"
)

// Reasons a frame ends up in the dead letter topic.
const (
	ReasonDecode  = "decode"
	ReasonStorage = "storage"
)

// Publisher receives frames the pipeline could not decode or store.
type Publisher interface {
	Publish(ctx context.Context, reason string, key string, raw []byte, cause error) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, []byte, error) error { return nil }
func (Nop) Close() error                                                 { return nil }

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultPublishTimeout bounds a single Publish so a slow or unreachable
// broker cannot hold up the caller.
const DefaultPublishTimeout = 2 * time.Second

// KafkaPublisher writes dead letters as JSON envelopes to a Kafka topic.
type KafkaPublisher struct {
	w       messageWriter
	now     func() time.Time
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    10,
			BatchTimeout: 5 * time.Millisecond, // flush single letters right away
			WriteTimeout: DefaultPublishTimeout,
			MaxAttempts:  3,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
		now:     time.Now,
		timeout: DefaultPublishTimeout,
	}
}

type envelope struct {
	Reason     string          `json:"reason"`
	Error      string          `json:"error,omitempty"`
	Original   json.RawMessage `json:"original"`
	ReceivedAt string          `json:"receivedAt"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, reason string, key string, raw []byte, cause error) error {
	env := envelope{
		Reason:     reason,
		Original:   original(raw),
		ReceivedAt: p.now().UTC().Format(time.RFC3339Nano),
	}
	if cause != nil {
		env.Error = cause.Error()
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}

	timeout := p.timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   buf,
		Headers: []kafka.Header{{Key: "reason", Value: []byte(reason)}},
	}); err != nil {
		return err
	}
	metrics.DeadLetters.WithLabelValues(reason).Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// original keeps valid JSON as-is and quotes anything else.
func original(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
