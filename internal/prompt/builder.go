// Package prompt assembles the ordered message list sent to the AI backend.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/capitalize-ai/chat-gateway/internal/llm"
	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// DefaultSystemPrompt is used when no system prompt is configured.
var DefaultSystemPrompt = strings.Join([]string{
	"You are the assistant of a crypto trading desk.",
	"Answer questions about the desk, its products, wallets and market activity.",
	"Be concise and factual. Never give personalised financial advice.",
	"If you do not know the answer, say so and suggest contacting desk support.",
}, "\n")

// DefaultDirectives maps each supported language to its directive.
var DefaultDirectives = map[string]string{
	"en": "Respond in English.",
	"ru": "Отвечай на русском языке.",
	"uk": "Відповідай українською мовою.",
	"es": "Responde en español.",
	"de": "Antworte auf Deutsch.",
}

// Payload is everything a prompt is built from.
type Payload struct {
	Message  string
	History  []model.ChatMessage
	Language string
	Telegram *model.TelegramContext
}

// Builder builds prompts. It holds no mutable state; Build is a pure
// function of its configuration and the payload.
type Builder struct {
	systemPrompt      string
	maxRequestHistory int
	directives        map[string]string
}

// Option configures a Builder.
type Option func(*Builder)

// WithSystemPrompt overrides the base system prompt.
func WithSystemPrompt(p string) Option {
	return func(b *Builder) {
		if p = strings.TrimSpace(p); p != "" {
			b.systemPrompt = p
		}
	}
}

// WithDirectives replaces the supported languages and their directives.
// A language mapped to "" is supported but gets no directive message.
func WithDirectives(d map[string]string) Option {
	return func(b *Builder) {
		b.directives = make(map[string]string, len(d))
		for k, v := range d {
			b.directives[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
}

// NewBuilder creates a builder forwarding at most maxRequestHistory prior
// turns.
func NewBuilder(maxRequestHistory int, opts ...Option) *Builder {
	b := &Builder{
		systemPrompt:      DefaultSystemPrompt,
		maxRequestHistory: maxRequestHistory,
		directives:        DefaultDirectives,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NormalizeLanguage trims and lowercases lang and returns it only when it is
// supported; otherwise "".
func (b *Builder) NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := b.directives[lang]; ok {
		return lang
	}
	return ""
}

// Build returns, in order: the system prompt, an optional language
// directive, optional caller identity context, the trailing window of prior
// turns and the new user message.
func (b *Builder) Build(p Payload) []llm.ChatMessage {
	lang := b.NormalizeLanguage(p.Language)

	history := p.History
	if b.maxRequestHistory >= 0 && len(history) > b.maxRequestHistory {
		history = history[len(history)-b.maxRequestHistory:]
	}

	messages := make([]llm.ChatMessage, 0, len(history)+4)
	messages = append(messages, llm.ChatMessage{Role: string(model.RoleSystem), Content: b.systemPrompt})

	if directive := b.directives[lang]; directive != "" {
		messages = append(messages, llm.ChatMessage{Role: string(model.RoleSystem), Content: directive})
	}

	if p.Telegram != nil {
		messages = append(messages, llm.ChatMessage{Role: string(model.RoleSystem), Content: identityContext(p.Telegram)})
	}

	for _, m := range history {
		msgLang := m.Language
		if msgLang == "" {
			msgLang = lang
		}
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content, Language: msgLang})
	}

	return append(messages, llm.ChatMessage{Role: string(model.RoleUser), Content: p.Message, Language: lang})
}

func identityContext(tg *model.TelegramContext) string {
	name := strings.TrimSpace(strings.TrimSpace(tg.FirstName) + " " + strings.TrimSpace(tg.LastName))
	if name == "" {
		name = "Unknown"
	}
	username := strings.TrimPrefix(strings.TrimSpace(tg.Username), "@")
	if username == "" {
		username = "not provided"
	} else {
		username = "@" + username
	}

	id := "not provided"
	if tg.ID != 0 {
		id = strconv.FormatInt(tg.ID, 10)
	}
	return fmt.Sprintf("Caller context (Telegram): name: %s; username: %s; user id: %s.", name, username, id)
}
