// Package chat persists per-project prompt history.
package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/models"
)

// Store is the chat persistence collaborator.
type Store interface {
	LoadPrompts(ctx context.Context, projectID string) ([]models.ChatMessage, error)
	AddPrompt(ctx context.Context, projectID, text, role string) (models.ChatMessage, error)
	ClearPrompts(ctx context.Context, projectID string) error
}

// PostgresStore keeps prompt history in the project_prompt_history table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a pgx-backed chat store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// LoadPrompts returns the project's messages in insertion order.
func (s *PostgresStore) LoadPrompts(ctx context.Context, projectID string) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, role, message, created_at
		FROM project_prompt_history
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt history: %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompts: %w", err)
	}
	return messages, nil
}

// AddPrompt appends a message to the project's history.
func (s *PostgresStore) AddPrompt(ctx context.Context, projectID, text, role string) (models.ChatMessage, error) {
	m := models.ChatMessage{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Role:      role,
		Text:      text,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO project_prompt_history (id, project_id, role, message)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, m.ID, projectID, role, text).Scan(&m.CreatedAt)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to add prompt: %w", err)
	}
	return m, nil
}

// ClearPrompts deletes the project's full history.
func (s *PostgresStore) ClearPrompts(ctx context.Context, projectID string) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM project_prompt_history WHERE project_id = $1
	`, projectID); err != nil {
		return fmt.Errorf("failed to clear prompt history: %w", err)
	}
	return nil
}
