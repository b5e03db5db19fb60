package backend

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is a stored chat message in its wire shape
type Message struct {
	ID          string    `json:"_id"`
	MatchID     string    `json:"matchId"`
	SenderID    string    `json:"senderId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store keeps chat messages per match in memory
type Store struct {
	mu       sync.RWMutex
	messages map[string][]Message
}

func NewStore() *Store {
	return &Store{messages: make(map[string][]Message)}
}

// Add stores a new message and returns it with its id and timestamp set
func (s *Store) Add(matchID, senderID, content, messageType string) Message {
	if messageType == "" {
		messageType = "text"
	}
	m := Message{
		ID:          uuid.NewString(),
		MatchID:     matchID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.messages[matchID] = append(s.messages[matchID], m)
	s.mu.Unlock()

	return m
}

// List returns the messages of matchID, oldest first
func (s *Store) List(matchID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message{}, s.messages[matchID]...)
}
