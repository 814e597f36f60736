// Package stream turns a completed answer into ordered incremental token
// events.
package stream

import (
	"context"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// EmitFunc delivers one event to the caller. A non-nil error stops the
// broadcast.
type EmitFunc func(model.StreamEvent) error

// Tokenize splits s into alternating runs of whitespace and non-whitespace.
// Concatenating the result yields s exactly.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	var (
		tokens []string
		start  int
		inWS   bool
	)
	for i, r := range s {
		ws := unicode.IsSpace(r)
		if i == 0 {
			inWS = ws
			continue
		}
		if ws != inWS {
			tokens = append(tokens, s[start:i])
			start = i
			inWS = ws
		}
	}
	return append(tokens, s[start:])
}

// Broadcaster emits token events for an answer.
type Broadcaster struct {
	delay time.Duration
}

// NewBroadcaster creates a broadcaster. With a zero delay the producer only
// yields the processor between tokens.
func NewBroadcaster(delay time.Duration) *Broadcaster {
	return &Broadcaster{delay: delay}
}

// Broadcast emits one token event per token of answer, each carrying the
// content accumulated so far. It stops at the first emit error or when ctx
// is done.
func (b *Broadcaster) Broadcast(ctx context.Context, answer string, emit EmitFunc) error {
	var content strings.Builder
	content.Grow(len(answer))

	for i, tok := range Tokenize(answer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if err := b.pause(ctx); err != nil {
				return err
			}
		}

		content.WriteString(tok)
		if err := emit(model.StreamEvent{
			Type:    model.StreamToken,
			Token:   tok,
			Content: content.String(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broadcaster) pause(ctx context.Context) error {
	if b.delay <= 0 {
		runtime.Gosched()
		return nil
	}

	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
