package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drazan/huddle/internal/domain"
)

func TestHistoryEvictsOldestWhenFull(t *testing.T) {
	h := NewHistory(HistoryCapacity)
	for i := 0; i < HistoryCapacity+1; i++ {
		h.Append(domain.NewChatMessage("u", "id", fmt.Sprintf("msg-%d", i)))
	}

	assert.Equal(t, HistoryCapacity, h.Len())

	all := h.Last(HistoryCapacity)
	require.Len(t, all, HistoryCapacity)
	assert.Equal(t, "msg-1", all[0].Content)
	assert.Equal(t, fmt.Sprintf("msg-%d", HistoryCapacity), all[len(all)-1].Content)
}

func TestHistoryLastKeepsInsertionOrder(t *testing.T) {
	h := NewHistory(10)
	h.Append(domain.NewChatMessage("u", "id", "first"))
	h.Append(domain.NewChatMessage("u", "id", "second"))
	h.Append(domain.NewChatMessage("u", "id", "third"))

	tail := h.Last(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "second", tail[0].Content)
	assert.Equal(t, "third", tail[1].Content)
}

func TestHistoryLastMoreThanStored(t *testing.T) {
	h := NewHistory(10)
	h.Append(domain.NewSystemMessage("only one"))

	tail := h.Last(50)
	require.Len(t, tail, 1)
	assert.Equal(t, "only one", tail[0].Content)
}

func TestHistoryLastOnEmpty(t *testing.T) {
	h := NewHistory(10)
	assert.Empty(t, h.Last(50))
}
