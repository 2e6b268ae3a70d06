package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/models"
)

// MemoryStore is an in-memory chat store used in tests and local runs
// without a database.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string][]models.ChatMessage
}

// NewMemoryStore creates an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: map[string][]models.ChatMessage{}}
}

func (s *MemoryStore) LoadPrompts(ctx context.Context, projectID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages[projectID]...), nil
}

func (s *MemoryStore) AddPrompt(ctx context.Context, projectID, text, role string) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.ChatMessage{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	s.messages[projectID] = append(s.messages[projectID], m)
	return m, nil
}

func (s *MemoryStore) ClearPrompts(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, projectID)
	return nil
}
