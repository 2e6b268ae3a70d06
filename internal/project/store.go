// Package project reads and updates project metadata.
package project

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Project is the metadata row backing a scope document.
type Project struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Domain     string     `json:"domain" db:"domain"`
	Complexity string     `json:"complexity" db:"complexity"`
	TechStack  string     `json:"tech_stack" db:"tech_stack"`
	UseCases   string     `json:"use_cases" db:"use_cases"`
	Compliance string     `json:"compliance" db:"compliance"`
	Duration   string     `json:"duration" db:"duration"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Store reads project metadata. The gateway consumes it through this
// interface so tests can substitute an in-memory reader.
type Store interface {
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateFromOverview(ctx context.Context, id string, overview map[string]string) error
}

// PostgresStore reads the projects table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a pgx-backed project store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetProject retrieves a project by id.
func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(domain, ''), COALESCE(complexity, ''),
		       COALESCE(tech_stack, ''), COALESCE(use_cases, ''), COALESCE(compliance, ''),
		       COALESCE(duration, ''), created_at, updated_at
		FROM projects
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.Name, &p.Domain, &p.Complexity,
		&p.TechStack, &p.UseCases, &p.Compliance,
		&p.Duration, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("project %s not found", id)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// UpdateFromOverview writes finalized overview fields back onto the project
// row, keeping existing values where the overview has none.
func (s *PostgresStore) UpdateFromOverview(ctx context.Context, id string, overview map[string]string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE projects SET
			name       = COALESCE(NULLIF($2, ''), name),
			domain     = COALESCE(NULLIF($3, ''), domain),
			complexity = COALESCE(NULLIF($4, ''), complexity),
			tech_stack = COALESCE(NULLIF($5, ''), tech_stack),
			use_cases  = COALESCE(NULLIF($6, ''), use_cases),
			compliance = COALESCE(NULLIF($7, ''), compliance),
			duration   = COALESCE(NULLIF($8, ''), duration),
			updated_at = NOW()
		WHERE id = $1
	`, id,
		overview["Project Name"], overview["Domain"], overview["Complexity"],
		overview["Tech Stack"], overview["Use Cases"], overview["Compliance"],
		overview["Duration"],
	)
	if err != nil {
		return fmt.Errorf("failed to update project metadata: %w", err)
	}
	return nil
}
