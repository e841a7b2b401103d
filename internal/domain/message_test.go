package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatMessage(t *testing.T) {
	msg := NewChatMessage("alice", "id-1", "hi")
	assert.Equal(t, "chat_message", msg.Type)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "id-1", msg.SenderID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestSystemMessageOmitsSenderID(t *testing.T) {
	data, err := json.Marshal(NewSystemMessage("alice joined the chat"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sender_id")
	assert.Contains(t, string(data), SystemSender)
}
