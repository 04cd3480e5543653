package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/segmentio/kafka-go"
)

const DefaultKafkaTopic = "payments.webhook.audit"

// MessageWriter is the subset of kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records as JSON keyed by provider and event id, so all
// deliveries of one event land on the same partition.
type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaSink creates an async writer for brokers/topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Errorf("[Audit] kafka delivery of %d record(s) failed: %v", len(messages), err)
			}
		},
	}
	return NewKafkaSinkWithWriter(w)
}

// NewKafkaSinkWithWriter allows injecting a test writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 2 * time.Second}
}

// NewKafkaSinkFromEnv returns nil when AUDIT_KAFKA_BROKERS is unset.
func NewKafkaSinkFromEnv() *KafkaSink {
	brokers := env.GetEnvList("AUDIT_KAFKA_BROKERS")
	if len(brokers) == 0 {
		return nil
	}
	topic := strings.TrimSpace(env.GetEnv("AUDIT_KAFKA_TOPIC", DefaultKafkaTopic))
	log.Infof("[Audit] publishing webhook audit records to kafka topic %s", topic)
	return NewKafkaSink(brokers, topic)
}

func (s *KafkaSink) Record(ctx context.Context, rec Record) {
	value, err := json.Marshal(rec)
	if err != nil {
		log.Errorf("[Audit] marshal record %s: %v", rec.ID, err)
		return
	}

	// Detached from the request context so a finished request does not cancel the write.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(rec.Provider + ":" + rec.ProviderEventID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "record-id", Value: []byte(rec.ID)},
		},
		Time: rec.ReceivedAt,
	}
	if err := s.writer.WriteMessages(wctx, msg); err != nil {
		log.Errorf("[Audit] kafka write for %s failed: %v", rec.ID, err)
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
