package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/chat-gateway/internal/model"
	"github.com/capitalize-ai/chat-gateway/internal/nats"
	"github.com/capitalize-ai/chat-gateway/pkg/logger"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []model.TelemetryEvent
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, e model.TelemetryEvent) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Events() []model.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TelemetryEvent(nil), s.events...)
}

func closeLogger(t *testing.T, l *Logger) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Close(ctx))
}

func TestLogger_RecordsInOrderAndFillsDefaults(t *testing.T) {
	sink := &recordingSink{}
	l := NewLogger(sink, 16, logger.NewNop())

	l.Record(model.TelemetryEvent{Event: model.TelemetryRateLimit, SessionID: "S", Status: model.StatusAllowed})
	l.Record(model.TelemetryEvent{ID: "fixed", Event: model.TelemetryCompletion, SessionID: "S"})
	closeLogger(t, l)

	events := sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, model.TelemetryRateLimit, events[0].Event)
	require.NotEmpty(t, events[0].ID)
	require.False(t, events[0].CreatedAt.IsZero())
	require.NotNil(t, events[0].RateLimits)
	require.Equal(t, "fixed", events[1].ID)
}

func TestLogger_DropsWhenQueueIsFull(t *testing.T) {
	sink := &recordingSink{started: make(chan struct{}, 4), release: make(chan struct{})}
	l := NewLogger(sink, 1, logger.NewNop())

	l.Record(model.TelemetryEvent{Event: model.TelemetryRateLimit, SessionID: "1"})
	<-sink.started

	l.Record(model.TelemetryEvent{Event: model.TelemetryRateLimit, SessionID: "2"})
	l.Record(model.TelemetryEvent{Event: model.TelemetryRateLimit, SessionID: "3"})

	close(sink.release)
	closeLogger(t, l)

	events := sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, "1", events[0].SessionID)
	require.Equal(t, "2", events[1].SessionID)
}

func TestLogger_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	l := NewLogger(sink, 4, logger.NewNop())

	require.NotPanics(t, func() {
		l.Record(model.TelemetryEvent{Event: model.TelemetryCompletion})
	})
	closeLogger(t, l)
	require.Len(t, sink.Events(), 1)
}

func TestLogger_RecordAfterCloseIsDropped(t *testing.T) {
	sink := &recordingSink{}
	l := NewLogger(sink, 4, logger.NewNop())
	closeLogger(t, l)

	require.NotPanics(t, func() {
		l.Record(model.TelemetryEvent{Event: model.TelemetryCompletion})
	})
	require.Empty(t, sink.Events())
	closeLogger(t, l)
}

func TestLogger_CloseHonoursContext(t *testing.T) {
	sink := &recordingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	l := NewLogger(sink, 4, logger.NewNop())
	l.Record(model.TelemetryEvent{Event: model.TelemetryCompletion})
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Close(ctx), context.DeadlineExceeded)

	close(sink.release)
	closeLogger(t, l)
}

func TestLogSink_WritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(&logger.Logger{Logger: zap.New(core)})

	success, streamed := true, true
	require.NoError(t, sink.Write(context.Background(), model.TelemetryEvent{
		ID:        "e1",
		Event:     model.TelemetryCompletion,
		SessionID: "S",
		UserID:    "u1",
		Success:   &success,
		Streamed:  &streamed,
		LatencyMs: 42,
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "completion", fields["event"])
	require.Equal(t, "u1", fields["user_id"])
	require.Equal(t, true, fields["success"])
	require.Equal(t, int64(42), fields["latency_ms"])
}

type fakePublisher struct {
	subjects []string
}

func (f *fakePublisher) Publish(_ context.Context, subject string, _ []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subjects = append(f.subjects, subject)
	return &jetstream.PubAck{Sequence: uint64(len(f.subjects))}, nil
}

func TestNATSSink_Write(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(nats.NewPublishOnly(pub))

	require.NoError(t, sink.Write(context.Background(), model.TelemetryEvent{ID: "e1", Event: model.TelemetryRateLimit}))
	require.Equal(t, []string{"chat.telemetry.rate_limit"}, pub.subjects)
}

func TestSupabaseSink_Write(t *testing.T) {
	var row map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&row))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := supabase.NewClient(srv.URL, "service-key", nil)
	require.NoError(t, err)
	sink := NewSupabaseSink(client, "")

	require.NoError(t, sink.Write(context.Background(), model.TelemetryEvent{
		ID:        "e1",
		Event:     model.TelemetryRateLimit,
		SessionID: "S",
		Status:    model.StatusBlocked,
		RateLimits: []model.RateLimitDecision{
			{Scope: model.ScopeSession, Limit: 1, WindowSeconds: 60, Blocked: true, ResetSeconds: 50},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}))

	require.Equal(t, "rate_limit", row["event"])
	require.Equal(t, "blocked", row["status"])
	require.Nil(t, row["latency_ms"])
	require.Nil(t, row["user_id"])
	limits, ok := row["rate_limits"].([]any)
	require.True(t, ok)
	require.Len(t, limits, 1)
}

func TestNewSink(t *testing.T) {
	s, err := NewSink(SinkLog, SinkDeps{})
	require.NoError(t, err)
	require.Equal(t, "log", s.Name())

	_, err = NewSink(SinkNATS, SinkDeps{})
	require.Error(t, err)

	_, err = NewSink(SinkSupabase, SinkDeps{})
	require.Error(t, err)

	s, err = NewSink(SinkNone, SinkDeps{})
	require.NoError(t, err)
	require.Nil(t, s)

	_, err = NewSink("kafka", SinkDeps{})
	require.ErrorIs(t, err, ErrInvalidSinkType)
}

func TestDiscard(t *testing.T) {
	require.NotPanics(t, func() { Discard.Record(model.TelemetryEvent{}) })
}
