package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

const (
	// StreamName is the name of the chat telemetry stream.
	StreamName = "CHAT_TELEMETRY"

	// SubjectPrefix is the prefix for all telemetry subjects.
	SubjectPrefix = "chat.telemetry"
)

// Publisher is the subset of JetStream the stream manager publishes through.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	js  jetstream.JetStream
	pub Publisher
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	js := client.JetStream()
	return &StreamManager{js: js, pub: js}
}

// NewPublishOnly creates a stream manager that can publish but not manage
// streams.
func NewPublishOnly(pub Publisher) *StreamManager {
	return &StreamManager{pub: pub}
}

// EnsureStream ensures the telemetry stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	if m.js == nil {
		return fmt.Errorf("nats: stream management unavailable")
	}

	if _, err := m.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat gateway admission and completion telemetry",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// TelemetrySubject returns the subject for a telemetry event type.
func TelemetrySubject(event model.TelemetryEventType) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, event)
}

// PublishTelemetry publishes a telemetry event. The event id doubles as the
// JetStream message id so redeliveries are deduplicated.
func (m *StreamManager) PublishTelemetry(ctx context.Context, event *model.TelemetryEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal telemetry event: %w", err)
	}

	var opts []jetstream.PublishOpt
	if event.ID != "" {
		opts = append(opts, jetstream.WithMsgID(event.ID))
	}

	ack, err := m.pub.Publish(ctx, TelemetrySubject(event.Event), data, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to publish telemetry event: %w", err)
	}
	return ack.Sequence, nil
}
