// Package telemetry records admission and completion events without ever
// affecting the request that produced them.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-gateway/internal/model"
	"github.com/capitalize-ai/chat-gateway/pkg/logger"
	"github.com/capitalize-ai/chat-gateway/pkg/metrics"
)

// Recorder accepts telemetry events. Record never blocks on the sink and
// never reports failure.
type Recorder interface {
	Record(event model.TelemetryEvent)
}

// Sink is a telemetry destination.
type Sink interface {
	Name() string
	Write(ctx context.Context, event model.TelemetryEvent) error
}

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(model.TelemetryEvent) {}

// Logger is an asynchronous Recorder: events are queued and written to the
// sink by a single worker. When the queue is full the event is dropped.
type Logger struct {
	sink         Sink
	log          *logger.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan model.TelemetryEvent
	done   chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

// NewLogger starts a recorder writing to sink with a queue of the given
// depth.
func NewLogger(sink Sink, buffer int, log *logger.Logger, opts ...Option) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.NewNop()
	}
	l := &Logger{
		sink:         sink,
		log:          log.With(zap.String("component", "telemetry"), zap.String("sink", sink.Name())),
		writeTimeout: 5 * time.Second,
		queue:        make(chan model.TelemetryEvent, buffer),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.run()
	return l
}

// Record implements Recorder.
func (l *Logger) Record(event model.TelemetryEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.RateLimits == nil {
		event.RateLimits = []model.RateLimitDecision{}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.dropped(event, "closed")
		return
	}
	select {
	case l.queue <- event:
	default:
		l.dropped(event, "queue full")
	}
}

func (l *Logger) dropped(event model.TelemetryEvent, reason string) {
	metrics.RecordTelemetry(string(event.Event), "dropped")
	l.log.Warn("Telemetry event dropped",
		zap.String("event", string(event.Event)),
		zap.String("session_id", event.SessionID),
		zap.String("reason", reason),
	)
}

func (l *Logger) run() {
	defer close(l.done)

	for event := range l.queue {
		l.write(event)
	}
}

func (l *Logger) write(event model.TelemetryEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordTelemetry(string(event.Event), "failed")
			l.log.Error("Telemetry sink panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()

	if err := l.sink.Write(ctx, event); err != nil {
		metrics.RecordTelemetry(string(event.Event), "failed")
		l.log.Warn("Telemetry write failed",
			zap.String("event", string(event.Event)),
			zap.String("session_id", event.SessionID),
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
		return
	}
	metrics.RecordTelemetry(string(event.Event), "sent")
}

// Close stops accepting events and waits for queued events to be written or
// for ctx to end.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
