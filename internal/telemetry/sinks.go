package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-gateway/internal/model"
	"github.com/capitalize-ai/chat-gateway/internal/nats"
	"github.com/capitalize-ai/chat-gateway/pkg/logger"
)

// SinkType names a telemetry destination.
type SinkType string

const (
	SinkLog      SinkType = "log"
	SinkNATS     SinkType = "nats"
	SinkSupabase SinkType = "supabase"
	SinkNone     SinkType = "none"
)

// ErrInvalidSinkType is returned for an unknown sink type.
var ErrInvalidSinkType = errors.New("telemetry: invalid sink type")

// LogSink writes events as structured log lines.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Name implements Sink.
func (s *LogSink) Name() string { return string(SinkLog) }

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, e model.TelemetryEvent) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event", string(e.Event)),
		zap.String("session_id", e.SessionID),
		zap.String("request_id", e.RequestID),
		zap.Any("rate_limits", e.RateLimits),
	}
	if e.UserID != "" {
		fields = append(fields, zap.String("user_id", e.UserID))
	}
	if e.TelegramUserID != 0 {
		fields = append(fields, zap.Int64("telegram_user_id", e.TelegramUserID))
	}
	if e.IPAddress != "" {
		fields = append(fields, zap.String("ip", e.IPAddress))
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", e.Status))
	}
	if e.Success != nil {
		fields = append(fields, zap.Bool("success", *e.Success))
	}
	if e.Streamed != nil {
		fields = append(fields, zap.Bool("streamed", *e.Streamed))
	}
	if e.AssistantPersisted != nil {
		fields = append(fields, zap.Bool("assistant_persisted", *e.AssistantPersisted))
	}
	if e.Event == model.TelemetryCompletion {
		fields = append(fields, zap.Int64("latency_ms", e.LatencyMs))
	}
	if e.ErrorMessage != "" {
		fields = append(fields, zap.String("error_message", e.ErrorMessage))
	}

	s.log.Info("chat telemetry", fields...)
	return nil
}

// NATSSink publishes events to the JetStream telemetry stream.
type NATSSink struct {
	streams *nats.StreamManager
}

// NewNATSSink creates a NATS sink.
func NewNATSSink(streams *nats.StreamManager) *NATSSink {
	return &NATSSink{streams: streams}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return string(SinkNATS) }

// Write implements Sink.
func (s *NATSSink) Write(ctx context.Context, e model.TelemetryEvent) error {
	_, err := s.streams.PublishTelemetry(ctx, &e)
	return err
}

// DefaultSupabaseTable is the table telemetry rows are inserted into.
const DefaultSupabaseTable = "ai_chat_telemetry"

// SupabaseSink inserts one row per event.
type SupabaseSink struct {
	client *supabase.Client
	table  string
}

type telemetryRow struct {
	ID                 string                    `json:"id"`
	Event              string                    `json:"event"`
	SessionID          string                    `json:"session_id"`
	UserID             *string                   `json:"user_id"`
	TelegramUserID     *int64                    `json:"telegram_user_id"`
	IPAddress          *string                   `json:"ip_address"`
	RequestID          *string                   `json:"request_id"`
	RateLimits         []model.RateLimitDecision `json:"rate_limits"`
	Status             *string                   `json:"status"`
	Success            *bool                     `json:"success"`
	Streamed           *bool                     `json:"streamed"`
	LatencyMs          *int64                    `json:"latency_ms"`
	ErrorMessage       *string                   `json:"error_message"`
	AssistantPersisted *bool                     `json:"assistant_persisted"`
	CreatedAt          string                    `json:"created_at"`
}

// NewSupabaseSink creates a Supabase sink.
func NewSupabaseSink(client *supabase.Client, table string) *SupabaseSink {
	if table == "" {
		table = DefaultSupabaseTable
	}
	return &SupabaseSink{client: client, table: table}
}

// Name implements Sink.
func (s *SupabaseSink) Name() string { return string(SinkSupabase) }

// Write implements Sink.
func (s *SupabaseSink) Write(_ context.Context, e model.TelemetryEvent) error {
	row := telemetryRow{
		ID:                 e.ID,
		Event:              string(e.Event),
		SessionID:          e.SessionID,
		UserID:             optString(e.UserID),
		IPAddress:          optString(e.IPAddress),
		RequestID:          optString(e.RequestID),
		RateLimits:         e.RateLimits,
		Status:             optString(e.Status),
		Success:            e.Success,
		Streamed:           e.Streamed,
		ErrorMessage:       optString(e.ErrorMessage),
		AssistantPersisted: e.AssistantPersisted,
		CreatedAt:          e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.TelegramUserID != 0 {
		id := e.TelegramUserID
		row.TelegramUserID = &id
	}
	if e.Event == model.TelemetryCompletion {
		latency := e.LatencyMs
		row.LatencyMs = &latency
	}

	if _, _, err := s.client.From(s.table).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert telemetry row: %w", err)
	}
	return nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SinkDeps carries the collaborators a sink may need.
type SinkDeps struct {
	Log           *logger.Logger
	Streams       *nats.StreamManager
	Supabase      *supabase.Client
	SupabaseTable string
}

// NewSink creates the sink of the given type. SinkNone returns a nil sink;
// callers use Discard instead.
func NewSink(t SinkType, deps SinkDeps) (Sink, error) {
	switch t {
	case SinkLog, "":
		if deps.Log == nil {
			deps.Log = logger.Global()
		}
		return NewLogSink(deps.Log), nil
	case SinkNATS:
		if deps.Streams == nil {
			return nil, fmt.Errorf("telemetry: nats sink requires a stream manager")
		}
		return NewNATSSink(deps.Streams), nil
	case SinkSupabase:
		if deps.Supabase == nil {
			return nil, fmt.Errorf("telemetry: supabase sink requires a client")
		}
		return NewSupabaseSink(deps.Supabase, deps.SupabaseTable), nil
	case SinkNone:
		return nil, nil
	default:
		return nil, ErrInvalidSinkType
	}
}
