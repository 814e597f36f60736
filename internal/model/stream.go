package model

// StreamEventType names an event on the chat event stream.
type StreamEventType string

const (
	StreamAck   StreamEventType = "ack"
	StreamToken StreamEventType = "token"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// Terminal reports whether no event may follow t.
func (t StreamEventType) Terminal() bool {
	return t == StreamDone || t == StreamError
}

// StreamEvent is one frame of the incremental chat response. Only the fields
// relevant to Type are populated.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// ack
	SessionID string `json:"sessionId,omitempty"`

	// token
	Token   string `json:"token,omitempty"`
	Content string `json:"content,omitempty"`

	// done
	AssistantMessage *ChatMessage   `json:"assistantMessage,omitempty"`
	History          []ChatMessage  `json:"history,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	// error
	Message   string `json:"message,omitempty"`
	Status    int    `json:"status,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Hint      string `json:"hint,omitempty"`
}
