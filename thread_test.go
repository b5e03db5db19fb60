package matchsocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoOf(p Message, id string, after time.Duration) Message {
	return Message{
		ID:          id,
		MatchID:     p.MatchID,
		SenderID:    p.SenderID,
		Content:     p.Content,
		MessageType: p.MessageType,
		CreatedAt:   p.CreatedAt.Add(after),
	}
}

func TestThreadReplacesPlaceholder(t *testing.T) {
	th := NewThread(0)

	p := NewOptimisticMessage("m1", "u1", "hello", "")
	assert.True(t, IsOptimistic(p))
	assert.Equal(t, MessageText, p.MessageType)
	th.Add(p)

	echo := echoOf(p, "srv-1", 2*time.Second)
	assert.Equal(t, MergeReplaced, th.Merge(echo))

	msgs := th.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.False(t, IsOptimistic(msgs[0]))

	assert.Equal(t, MergeDuplicate, th.Merge(echo))
	assert.Equal(t, 1, th.Len())
}

func TestThreadOutsideWindow(t *testing.T) {
	th := NewThread(0)
	p := NewOptimisticMessage("m1", "u1", "hello", MessageText)
	th.Add(p)

	assert.Equal(t, MergeAppended, th.Merge(echoOf(p, "srv-1", 6*time.Second)))
	assert.Equal(t, 2, th.Len())
}

func TestThreadDifferentSender(t *testing.T) {
	th := NewThread(0)
	p := NewOptimisticMessage("m1", "u1", "hi", MessageText)
	th.Add(p)

	echo := echoOf(p, "srv-1", time.Second)
	echo.SenderID = "u2"
	assert.Equal(t, MergeAppended, th.Merge(echo))
	assert.True(t, IsOptimistic(th.Messages()[0]))
}

func TestThreadDifferentContent(t *testing.T) {
	th := NewThread(time.Minute)
	p := NewOptimisticMessage("m1", "u1", "hi", MessageText)
	th.Add(p)

	echo := echoOf(p, "srv-1", time.Second)
	echo.Content = "hi!"
	assert.Equal(t, MergeAppended, th.Merge(echo))
}

func TestThreadReplacesFirstMatchingPlaceholder(t *testing.T) {
	th := NewThread(0)
	first := NewOptimisticMessage("m1", "u1", "same", MessageText)
	second := NewOptimisticMessage("m1", "u1", "same", MessageText)
	th.Add(first)
	th.Add(second)

	th.Merge(echoOf(first, "srv-1", 0))
	th.Merge(echoOf(second, "srv-2", 0))

	msgs := th.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, "srv-2", msgs[1].ID)
}

func TestThreadRemove(t *testing.T) {
	th := NewThread(0)
	p := NewOptimisticMessage("m1", "u1", "oops", MessageText)
	th.Add(p)

	assert.True(t, th.Remove(p.ID))
	assert.False(t, th.Remove(p.ID))
	assert.Equal(t, 0, th.Len())
}
