package blob

import (
	"context"
	"fmt"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

const projectsBase = "projects"

// FinalizedScopePath returns the blob path of a project's finalized document.
func FinalizedScopePath(projectID string) string {
	return fmt.Sprintf("%s/%s/finalized_scope.json", projectsBase, projectID)
}

// FinalizedArtifactPath returns the blob path of a finalized export binary.
func FinalizedArtifactPath(projectID, ext string) string {
	return fmt.Sprintf("%s/%s/exports/finalized%s", projectsBase, projectID, ext)
}

// ScopePersistence implements scope.Persistence over a blob store, writing
// finalized_scope.json under the project's folder.
type ScopePersistence struct {
	store Store
}

// NewScopePersistence wraps a blob store as the scope persistence collaborator.
func NewScopePersistence(store Store) *ScopePersistence {
	return &ScopePersistence{store: store}
}

// GetFinalizedScope reads and parses the finalized document, or returns nil
// when none has been persisted.
func (p *ScopePersistence) GetFinalizedScope(ctx context.Context, projectID string) (*scope.Document, error) {
	data, err := p.store.Download(ctx, FinalizedScopePath(projectID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	doc, err := scope.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("persisted finalized scope for project %s is corrupt: %w", projectID, err)
	}
	return doc, nil
}

// FinalizeScope writes the document as the project's canonical finalized copy.
func (p *ScopePersistence) FinalizeScope(ctx context.Context, projectID string, doc *scope.Document) error {
	text, err := doc.Serialize()
	if err != nil {
		return err
	}
	return p.store.Upload(ctx, FinalizedScopePath(projectID), []byte(text))
}

// DownloadArtifact reads a finalized export binary for the given extension.
func (p *ScopePersistence) DownloadArtifact(ctx context.Context, projectID, ext string) ([]byte, error) {
	return p.store.Download(ctx, FinalizedArtifactPath(projectID, ext))
}

// UploadArtifact stores a finalized export binary for the given extension.
func (p *ScopePersistence) UploadArtifact(ctx context.Context, projectID, ext string, data []byte) error {
	return p.store.Upload(ctx, FinalizedArtifactPath(projectID, ext), data)
}
