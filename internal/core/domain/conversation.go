package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	MessageTypeQuery   = "QUERY"
	MessageTypeAnswer  = "ANSWER"
	MessageTypeSummary = "SUMMARY"
)

// ConversationMessage is one persisted chat entry. History is append-only.
type ConversationMessage struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id"`
	MessageType    string    `json:"message_type"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNumber int       `json:"sequence_number"`
	TokensUsed     *int      `json:"tokens_used,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
