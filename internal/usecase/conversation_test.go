package usecase

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/domain"
)

func TestConversation_AppendAssignsIDs(t *testing.T) {
	conv := NewConversation("c")
	a := conv.Append(domain.Message{Role: domain.RoleUser, Content: "one"})
	b := conv.Append(domain.Message{Role: domain.RoleUser, Content: "two"})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, 2, conv.Len())
}

func TestConversation_MessagesIsACopy(t *testing.T) {
	conv := NewConversation("c")
	conv.Append(domain.Message{Role: domain.RoleUser, Content: "one"})

	msgs := conv.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "one", conv.Messages()[0].Content)
}

func TestConversation_UpdateToolCallDoesNotAliasCopies(t *testing.T) {
	conv := NewConversation("c")
	conv.Append(domain.Message{
		Role:      domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{ID: "x", Name: "t", State: domain.ToolStateInputAvailable}},
	})
	before := conv.Messages()

	ok := conv.UpdateToolCall("x", func(tc *domain.ToolCall) {
		tc.State = domain.ToolStateOutputAvailable
		tc.Output = "done"
	})
	require.True(t, ok)
	assert.False(t, conv.UpdateToolCall("missing", func(*domain.ToolCall) {}))

	assert.Equal(t, domain.ToolStateInputAvailable, before[0].ToolCalls[0].State)
	got, found := conv.FindToolCall("x")
	require.True(t, found)
	assert.Equal(t, "done", got.Output)
}

func TestConversation_JSONRoundTrip(t *testing.T) {
	conv := NewConversation("c")
	conv.Append(domain.Message{Role: domain.RoleUser, Content: "hi"})

	data, err := json.Marshal(conv)
	require.NoError(t, err)

	var decoded struct {
		ID   string           `json:"id"`
		Msgs []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	restored := RestoreConversation(decoded.ID, decoded.Msgs)
	assert.Equal(t, "c", restored.ID)
	require.Equal(t, 1, restored.Len())
	assert.Equal(t, conv.Messages()[0].ID, restored.Messages()[0].ID)
	assert.Equal(t, "hi", restored.Messages()[0].Content)
}

func TestConversation_ConcurrentAppend(t *testing.T) {
	conv := NewConversation("c")
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			conv.Append(domain.Message{Role: domain.RoleUser, Content: "x"})
		})
	}
	wg.Wait()
	assert.Equal(t, 50, conv.Len())
}
