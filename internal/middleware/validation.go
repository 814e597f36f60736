package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

// Input bounds for POST /chat. The per-field limits live in the validate tags
// of model.ChatRequest.
const (
	MaxBodyBytes      = 1 << 20
	MaxMessageBytes   = 32000
	MaxSessionIDBytes = 128
	MaxHistoryItems   = 200
)

var (
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrSessionIDTooLong = errors.New("session ID exceeds maximum length")
	ErrLanguageTooLong  = errors.New("language exceeds maximum length")
	ErrHistoryTooLong   = errors.New("history has too many entries")
	ErrInvalidUTF8      = errors.New("input must be valid UTF-8")
)

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// ValidateChatRequest applies the structural bounds of a chat request body.
// Blank sessionId or message is left to the gateway, which reports it with
// its own message.
func ValidateChatRequest(req *model.ChatRequest) error {
	if err := chatValidate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		return fieldError(verrs[0])
	}

	if !utf8.ValidString(req.SessionID) || !utf8.ValidString(req.Message) {
		return ErrInvalidUTF8
	}
	for _, m := range req.History {
		if !utf8.ValidString(m.Content) {
			return ErrInvalidUTF8
		}
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.StructField() {
	case "SessionID":
		return ErrSessionIDTooLong
	case "Message", "Content":
		return ErrMessageTooLong
	case "Language":
		return ErrLanguageTooLong
	case "History":
		return ErrHistoryTooLong
	}
	return fmt.Errorf("invalid field %s: %s", fe.Namespace(), fe.Tag())
}
