package messages

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// GuestUserID is the sentinel used when no user is signed in. Guest chats
// are kept in the local file store instead of the database.
const GuestUserID = "guest_user"

// ErrorText is the terminal message shown when a turn fails.
const ErrorText = "Sorry, I encountered an error. Please try again."

var (
	ErrNotFound = errors.New("messages: not found")
	ErrNoChatID = errors.New("messages: chat id is required")
)

type SafetyAnalysis struct {
	SafetyRequired bool `json:"safetyRequired"`
}

type LocalGuidelineAnalysis struct {
	ExpertName       string `json:"expert_name"`
	ResponseType     string `json:"response_type"`
	Response         string `json:"response"`
	Timestamp        string `json:"timestamp"`
	ModelVersion     string `json:"model_version"`
	ModelDescription string `json:"model_description"`
}

// Message is one chat bubble. The JSON names match what the web client
// stores, so histories written by either side stay readable.
type Message struct {
	ID                     string                  `json:"id"`
	Text                   string                  `json:"text"`
	IsUser                 bool                    `json:"isUser"`
	Timestamp              time.Time               `json:"timestamp"`
	UID                    string                  `json:"uid,omitempty"`
	IsTemporary            bool                    `json:"isTemporary,omitempty"`
	IsReasoning            bool                    `json:"isReasoning,omitempty"`
	IsReasoningAnswer      bool                    `json:"isReasoningAnswer,omitempty"`
	ReasoningText          string                  `json:"reasoningText,omitempty"`
	IsReasoningFinalAnswer bool                    `json:"isReasoningFinalAnswer,omitempty"`
	ExpertName             string                  `json:"expertName,omitempty"`
	SafetyAnalysis         *SafetyAnalysis         `json:"safetyAnalysis,omitempty"`
	LocalGuidelineAnalysis *LocalGuidelineAnalysis `json:"localGuidelineAnalysis,omitempty"`
	IsProcessingGuideline  bool                    `json:"isProcessingGuideline,omitempty"`
	Source                 string                  `json:"source,omitempty"`
}

// SafetyRequired reports the message's safety flag.
func (m Message) SafetyRequired() bool {
	return m.SafetyAnalysis != nil && m.SafetyAnalysis.SafetyRequired
}

// NewUserMessage builds the message for a question typed by userID.
func NewUserMessage(userID, text string, now time.Time) Message {
	uid := userID
	if IsGuest(userID) {
		uid = "guest"
	}
	return Message{
		ID:        "user-" + uuid.NewString(),
		Text:      text,
		IsUser:    true,
		Timestamp: now,
		UID:       uid,
		Source:    "main-app",
	}
}

// NewErrorMessage builds the assistant message shown after a failed turn.
func NewErrorMessage(now time.Time) Message {
	return Message{
		ID:        "error-" + uuid.NewString(),
		Text:      ErrorText,
		Timestamp: now,
		UID:       "ai-error",
	}
}

// IsGuest reports whether userID denotes an anonymous user.
func IsGuest(userID string) bool {
	return userID == "" || userID == GuestUserID
}

// Store persists chats and their messages for one user.
type Store interface {
	CreateChat(ctx context.Context, userID, firstText string) (string, error)
	SaveMessage(ctx context.Context, userID, chatID string, m Message) error
	LoadMessages(ctx context.Context, userID, chatID string) ([]Message, error)
	DeleteChatIfEmpty(ctx context.Context, userID, chatID string) error
}
