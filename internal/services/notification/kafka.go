package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes notifications as JSON, keyed by user so one user's
// events stay ordered within a partition.
type KafkaEmitter struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		timeout: 5 * time.Second,
	}
}

// Emit runs detached from the request's cancellation; the commit it reports
// has already happened.
func (e *KafkaEmitter) Emit(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	err = e.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(n.UserID), 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(n.Event)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", n.Reference, err)
	}
	return nil
}

func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
