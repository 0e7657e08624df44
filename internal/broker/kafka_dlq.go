package broker

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/site-bot/config"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

// DLQPayload keeps a failed extraction task replayable.
type DLQPayload struct {
	Service     string    `json:"service"`
	ValueBase64 string    `json:"value_base64"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
}

type KafkaDLQClient struct {
	kafkaWriter *kafka.Writer
	serviceName string
	topic       string
}

func NewKafkaDLQ(serviceName string, cfg *config.ProducerConfig) *KafkaDLQClient {
	return &KafkaDLQClient{
		kafkaWriter: newWriter(cfg, cfg.DeadLetterTopicName),
		serviceName: serviceName,
		topic:       cfg.DeadLetterTopicName,
	}
}

func (d *KafkaDLQClient) SendToDLQ(ctx context.Context, value []byte, cause error) {
	body, err := EncodeDLQMessage(d.serviceName, value, cause, time.Now().UTC())
	if err != nil {
		slog.Error("failed to encode dlq message.", slog.String("err", err.Error()))
		return
	}
	if err := d.kafkaWriter.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		slog.Error("failed to send message to dlq.", slog.String("topic", d.topic),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("message sent to dlq.", slog.String("topic", d.topic))
}

func (d *KafkaDLQClient) Close() {
	if err := d.kafkaWriter.Close(); err != nil {
		slog.Error("failed to close dlq writer.", slog.String("err", err.Error()))
	}
}

func EncodeDLQMessage(service string, value []byte, cause error, failedAt time.Time) ([]byte, error) {
	payload := DLQPayload{
		Service:     service,
		ValueBase64: base64.StdEncoding.EncodeToString(value),
		FailedAt:    failedAt,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}

	b, err := jsoniter.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dlq payload: %w", err)
	}
	return b, nil
}
