package matchsocket

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally built messages that have not been echoed back yet
const TempIDPrefix = "temp_"

// NewOptimisticMessage builds the placeholder shown while a send is in flight
func NewOptimisticMessage(matchID, senderID, content string, kind MessageKind) Message {
	if kind == "" {
		kind = MessageText
	}
	return Message{
		ID:          TempIDPrefix + uuid.NewString(),
		MatchID:     matchID,
		SenderID:    senderID,
		Content:     content,
		MessageType: kind,
		CreatedAt:   time.Now(),
	}
}

// IsOptimistic reports whether m is a local placeholder
func IsOptimistic(m Message) bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// MergeResult tells what Thread.Merge did with a message
type MergeResult int

const (
	MergeAppended MergeResult = iota
	MergeReplaced
	MergeDuplicate
)

// Thread is the caller-side message list of one conversation. It reconciles
// optimistic placeholders with authoritative copies arriving by broadcast,
// ack or REST.
type Thread struct {
	mu       sync.Mutex
	window   time.Duration
	messages []Message
}

// NewThread creates an empty thread. Echoes within window of a placeholder
// with the same content replace it; zero means DefaultEchoWindow.
func NewThread(window time.Duration) *Thread {
	if window <= 0 {
		window = DefaultEchoWindow
	}
	return &Thread{window: window}
}

// Add appends m as is, typically an optimistic placeholder
func (t *Thread) Add(m Message) {
	t.mu.Lock()
	t.messages = append(t.messages, m)
	t.mu.Unlock()
}

// Merge folds an authoritative message into the thread
func (t *Thread) Merge(m Message) MergeResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.messages {
		if existing.ID == m.ID {
			return MergeDuplicate
		}
	}

	for i, existing := range t.messages {
		if t.echoes(existing, m) {
			t.messages[i] = m
			return MergeReplaced
		}
	}

	t.messages = append(t.messages, m)
	return MergeAppended
}

// echoes reports whether m is the authoritative copy of placeholder p
func (t *Thread) echoes(p, m Message) bool {
	if !IsOptimistic(p) || IsOptimistic(m) {
		return false
	}
	if p.Content != m.Content {
		return false
	}
	if p.SenderID != "" && m.SenderID != "" && p.SenderID != m.SenderID {
		return false
	}

	d := m.CreatedAt.Sub(p.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= t.window
}

// Remove drops the message with id, used to roll back a failed send
func (t *Thread) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.messages {
		if m.ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a copy of the thread in insertion order
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.messages...)
}

// Len returns the number of messages in the thread
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
