package gateway

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// streamBuffer is the depth of the event channel between producer and writer.
const streamBuffer = 16

// Stream runs a request in streaming mode. Validation, admission and the
// inbound write happen before it returns, so their failures are reported as
// an *Error rather than on the channel.
//
// The channel yields ack, then token events, then exactly one done or error
// event, and is closed afterwards. Cancelling ctx stops delivery; a backend
// call already in flight still completes and its answer is still persisted.
func (g *Gateway) Stream(ctx context.Context, in Input) (<-chan model.StreamEvent, *Error) {
	a, gerr := g.admit(ctx, in)
	if gerr != nil {
		return nil, gerr
	}

	out := make(chan model.StreamEvent, streamBuffer)
	go g.produce(ctx, a, out)
	return out, nil
}

func (g *Gateway) produce(ctx context.Context, a *admitted, out chan<- model.StreamEvent) {
	defer close(out)

	emit := func(ev model.StreamEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sessionID := a.in.Request.SessionID
	if err := emit(model.StreamEvent{Type: model.StreamAck, SessionID: sessionID}); err != nil {
		a.log.Debug("Stream closed before ack", zap.Error(err))
	}

	resp, err := g.callBackend(ctx, a)
	if err != nil {
		a.log.Error("AI backend call failed", zap.Error(err))
		g.recordCompletion(a, false, true, nil, err.Error())
		_ = emit(model.StreamEvent{
			Type:      model.StreamError,
			Message:   MessageBackendFailed,
			Status:    http.StatusBadGateway,
			RequestID: a.in.RequestID,
			Hint:      HintRetry,
		})
		return
	}

	assistant, updated, persisted := g.finish(ctx, a, resp)

	if err := g.broadcaster.Broadcast(ctx, resp.Answer, emit); err != nil {
		a.log.Warn("Stream aborted during token delivery", zap.Error(err))
		g.recordCompletion(a, true, true, &persisted, "stream aborted: "+err.Error())
		return
	}

	if err := emit(model.StreamEvent{
		Type:             model.StreamDone,
		SessionID:        sessionID,
		AssistantMessage: &assistant,
		History:          updated,
		Metadata:         resp.ResponseMetadata(),
	}); err != nil {
		a.log.Warn("Stream closed before done", zap.Error(err))
		g.recordCompletion(a, true, true, &persisted, "stream aborted: "+err.Error())
		return
	}

	g.recordCompletion(a, true, true, &persisted, "")
}
