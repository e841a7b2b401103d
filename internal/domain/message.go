package domain

import "time"

const SystemSender = "System"

// ChatMessage is one entry of the shared chat log. System messages have no
// sender id.
type ChatMessage struct {
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"sender_id,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChatMessage(sender, senderID, content string) ChatMessage {
	return ChatMessage{
		Type:      "chat_message",
		Sender:    sender,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{
		Type:      "chat_message",
		Sender:    SystemSender,
		Content:   content,
		Timestamp: time.Now(),
	}
}
