// Package gateway orchestrates a chat request: identity, admission control,
// inbound persistence, prompt assembly, the backend call, outbound
// persistence and telemetry.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-gateway/internal/auth"
	"github.com/capitalize-ai/chat-gateway/internal/history"
	"github.com/capitalize-ai/chat-gateway/internal/llm"
	"github.com/capitalize-ai/chat-gateway/internal/model"
	"github.com/capitalize-ai/chat-gateway/internal/prompt"
	"github.com/capitalize-ai/chat-gateway/internal/ratelimit"
	"github.com/capitalize-ai/chat-gateway/internal/stream"
	"github.com/capitalize-ai/chat-gateway/internal/telemetry"
	"github.com/capitalize-ai/chat-gateway/pkg/logger"
	"github.com/capitalize-ai/chat-gateway/pkg/metrics"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Resolve(r *http.Request) auth.Result
}

// Admitter decides whether a request may proceed.
type Admitter interface {
	Check(ids ratelimit.Identifiers) ratelimit.Result
}

// Config holds the gateway's collaborators.
type Config struct {
	Auth        Authenticator
	Limiter     Admitter
	Store       history.Store
	Prompts     *prompt.Builder
	Backend     llm.Backend
	Broadcaster *stream.Broadcaster
	Telemetry   telemetry.Recorder
	Logger      *logger.Logger
	MaxHistory  int
}

// Gateway is the chat orchestrator. Safe for concurrent use.
type Gateway struct {
	auth        Authenticator
	limiter     Admitter
	store       history.Store
	prompts     *prompt.Builder
	backend     llm.Backend
	broadcaster *stream.Broadcaster
	telemetry   telemetry.Recorder
	log         *logger.Logger
	tracer      trace.Tracer
	maxHistory  int
}

// New creates a gateway.
func New(cfg Config) (*Gateway, error) {
	switch {
	case cfg.Auth == nil:
		return nil, errors.New("gateway: authenticator is required")
	case cfg.Limiter == nil:
		return nil, errors.New("gateway: limiter is required")
	case cfg.Store == nil:
		return nil, errors.New("gateway: history store is required")
	case cfg.Backend == nil:
		return nil, errors.New("gateway: backend is required")
	}

	g := &Gateway{
		auth:        cfg.Auth,
		limiter:     cfg.Limiter,
		store:       cfg.Store,
		prompts:     cfg.Prompts,
		backend:     cfg.Backend,
		broadcaster: cfg.Broadcaster,
		telemetry:   cfg.Telemetry,
		log:         cfg.Logger,
		tracer:      otel.Tracer("chat-gateway/gateway"),
		maxHistory:  cfg.MaxHistory,
	}
	if g.maxHistory <= 0 {
		g.maxHistory = 50
	}
	if g.prompts == nil {
		g.prompts = prompt.NewBuilder(g.maxHistory)
	}
	if g.broadcaster == nil {
		g.broadcaster = stream.NewBroadcaster(0)
	}
	if g.telemetry == nil {
		g.telemetry = telemetry.Discard
	}
	if g.log == nil {
		g.log = logger.NewNop()
	}
	return g, nil
}

// Input is a validated-shape chat request with its caller.
type Input struct {
	Request   model.ChatRequest
	UserID    string
	IPAddress string
	RequestID string
}

// Authenticate resolves the caller of r. It has no side effects.
func (g *Gateway) Authenticate(r *http.Request) (string, *Error) {
	res := g.auth.Resolve(r)
	if res.OK {
		return res.UserID, nil
	}
	if res.Status >= http.StatusInternalServerError {
		return "", newError(KindInternal, res.Message, nil)
	}
	return "", newError(KindAuth, auth.MessageRequired, nil)
}

// admitted carries the state of a request that passed admission and whose
// inbound message is stored.
type admitted struct {
	in          Input
	log         *logger.Logger
	start       time.Time
	decisions   []model.RateLimitDecision
	userMessage model.ChatMessage
	history     []model.ChatMessage
	language    string
}

// admit validates, rate-limits and persists the inbound message.
func (g *Gateway) admit(ctx context.Context, in Input) (*admitted, *Error) {
	start := time.Now()
	in.Request.Normalize()
	req := in.Request

	if req.SessionID == "" || req.Message == "" {
		return nil, newError(KindValidation, MessageRequired, nil)
	}

	log := g.log.WithChat(in.RequestID, req.SessionID, in.UserID)

	res := g.limiter.Check(ratelimit.Identifiers{UserID: in.UserID, SessionID: req.SessionID})
	for _, d := range res.Decisions {
		metrics.RecordRateLimit(string(d.Scope), d.Blocked)
	}
	status := model.StatusAllowed
	if !res.Allowed {
		status = model.StatusBlocked
	}
	rateEvent := g.baseEvent(in, model.TelemetryRateLimit, res.Decisions)
	rateEvent.Status = status
	g.telemetry.Record(rateEvent)

	if !res.Allowed {
		log.Info("Chat request rate limited", zap.Int("retry_after", res.RetryAfter()))
		return nil, &Error{
			Kind:       KindRateLimited,
			Message:    MessageRateLimited,
			Limits:     res.Decisions,
			RetryAfter: res.RetryAfter(),
		}
	}

	language := g.prompts.NormalizeLanguage(req.Language)
	userMessage := model.ChatMessage{Role: model.RoleUser, Content: req.Message, Language: language}

	if err := g.persist(ctx, in, userMessage); err != nil {
		log.Error("Failed to persist user message", zap.Error(err))
		return nil, newError(KindPersistence, MessagePersistFailed, err)
	}

	return &admitted{
		in:          in,
		log:         log,
		start:       start,
		decisions:   res.Decisions,
		userMessage: userMessage,
		history:     history.Sanitize(req.History),
		language:    language,
	}, nil
}

// callBackend builds the prompt and invokes the backend. The call is
// detached from ctx cancellation; the backend's own timeout bounds it.
func (g *Gateway) callBackend(ctx context.Context, a *admitted) (*llm.CompletionResponse, error) {
	req := a.in.Request
	messages := g.prompts.Build(prompt.Payload{
		Message:  req.Message,
		History:  a.history,
		Language: req.Language,
		Telegram: req.Telegram,
	})

	ctx, span := g.tracer.Start(context.WithoutCancel(ctx), "gateway.backend",
		trace.WithAttributes(
			attribute.String("backend", g.backend.Name()),
			attribute.String("session_id", req.SessionID),
			attribute.Int("messages", len(messages)),
		))
	defer span.End()

	started := time.Now()
	resp, err := g.backend.Complete(ctx, &llm.CompletionRequest{
		SessionID: req.SessionID,
		Messages:  messages,
		Language:  a.language,
	})
	metrics.RecordBackend(g.backend.Name(), backendStatus(err), time.Since(started).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend call failed")
		return nil, err
	}
	return resp, nil
}

// finish persists the assistant turn (best-effort) and assembles the result.
func (g *Gateway) finish(ctx context.Context, a *admitted, resp *llm.CompletionResponse) (model.ChatMessage, []model.ChatMessage, bool) {
	assistant := model.ChatMessage{Role: model.RoleAssistant, Content: resp.Answer, Language: a.language}

	persisted := true
	if err := g.persist(context.WithoutCancel(ctx), a.in, assistant); err != nil {
		persisted = false
		a.log.Warn("Failed to persist assistant message", zap.Error(err))
	}

	updated := make([]model.ChatMessage, 0, len(a.history)+2)
	updated = append(updated, a.history...)
	updated = append(updated, a.userMessage, assistant)
	return assistant, history.Tail(updated, g.maxHistory), persisted
}

func (g *Gateway) persist(ctx context.Context, in Input, msg model.ChatMessage) error {
	ctx, span := g.tracer.Start(ctx, "gateway.persist",
		trace.WithAttributes(attribute.String("role", string(msg.Role))))
	defer span.End()

	err := g.store.Append(ctx, history.Entry{
		SessionID: in.Request.SessionID,
		UserID:    in.UserID,
		Role:      msg.Role,
		Content:   msg.Content,
		Language:  msg.Language,
		CreatedAt: time.Now(),
	})
	metrics.RecordHistoryWrite(string(msg.Role), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
	}
	return err
}

// Complete runs a request in synchronous mode.
func (g *Gateway) Complete(ctx context.Context, in Input) (*model.ChatResponse, *Error) {
	a, gerr := g.admit(ctx, in)
	if gerr != nil {
		return nil, gerr
	}

	resp, err := g.callBackend(ctx, a)
	if err != nil {
		a.log.Error("AI backend call failed", zap.Error(err))
		g.recordCompletion(a, false, false, nil, err.Error())
		return nil, newError(KindBackend, MessageBackendFailed, err)
	}

	assistant, updated, persisted := g.finish(ctx, a, resp)
	g.recordCompletion(a, true, false, &persisted, "")

	return &model.ChatResponse{
		OK:               true,
		AssistantMessage: assistant,
		History:          updated,
		Metadata:         resp.ResponseMetadata(),
	}, nil
}

// History returns the stored conversation of a session.
func (g *Gateway) History(ctx context.Context, sessionID string) ([]model.ChatMessage, *Error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(KindValidation, MessageSessionIDRequired, nil)
	}

	msgs, err := g.store.Load(ctx, sessionID, g.maxHistory)
	if err != nil {
		g.log.Error("Failed to load chat history", zap.String("session_id", sessionID), zap.Error(err))
		return nil, newError(KindPersistence, MessageHistoryFailed, err)
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return msgs, nil
}

// Ping checks the history store.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

func (g *Gateway) baseEvent(in Input, kind model.TelemetryEventType, decisions []model.RateLimitDecision) model.TelemetryEvent {
	e := model.TelemetryEvent{
		Event:      kind,
		SessionID:  in.Request.SessionID,
		UserID:     in.UserID,
		IPAddress:  in.IPAddress,
		RequestID:  in.RequestID,
		RateLimits: decisions,
	}
	if in.Request.Telegram != nil {
		e.TelegramUserID = in.Request.Telegram.ID
	}
	return e
}

func (g *Gateway) recordCompletion(a *admitted, success, streamed bool, persisted *bool, errMsg string) {
	e := g.baseEvent(a.in, model.TelemetryCompletion, a.decisions)
	e.Success = &success
	e.Streamed = &streamed
	e.LatencyMs = time.Since(a.start).Milliseconds()
	e.ErrorMessage = errMsg
	e.AssistantPersisted = persisted
	g.telemetry.Record(e)
}

func backendStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var be *llm.BackendError
	if errors.As(err, &be) && be.StatusCode != 0 {
		return strconv.Itoa(be.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
