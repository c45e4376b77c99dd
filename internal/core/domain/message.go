package domain

import (
	"errors"
	"time"
)

var ErrEmptyMessage = errors.New("message content cannot be empty")

type ChatMessage struct {
	ID        MessageID
	SenderID  UserID
	Content   string
	Timestamp time.Time
}

func NewChatMessage(senderID UserID, content string, now time.Time) (ChatMessage, error) {
	if content == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	return ChatMessage{
		ID:        NewMessageID(),
		SenderID:  senderID,
		Content:   content,
		Timestamp: now.UTC(),
	}, nil
}
