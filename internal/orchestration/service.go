package orchestration

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/blob"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/chat"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/download"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/metrics"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/models"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/project"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/tabular"
)

// assistantFallbackText is appended when the engine responds without a summary.
const assistantFallbackText = "Scope updated."

// ErrRegenerationBusy rejects a regeneration while one is already in flight.
// Requests are not queued or coalesced.
var ErrRegenerationBusy = fmt.Errorf("a regeneration request is already in flight")

// Service ties the collaborators together and hands out per-project
// Sessions. All caches live inside the Session that owns them.
type Service struct {
	chatStore    chat.Store
	projectStore project.Store
	persistence  *blob.ScopePersistence
	engine       RegenerationClient
	render       artifact.RenderClient
	metrics      *metrics.ScopeMetrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService creates the orchestration service.
func NewService(chatStore chat.Store, projectStore project.Store, persistence *blob.ScopePersistence, engine RegenerationClient, render artifact.RenderClient, m *metrics.ScopeMetrics) *Service {
	return &Service{
		chatStore:    chatStore,
		projectStore: projectStore,
		persistence:  persistence,
		engine:       engine,
		render:       render,
		metrics:      m,
		sessions:     map[string]*Session{},
	}
}

// Session is the per-project working state: the scope store plus the caches
// and download tasks scoped to it.
type Session struct {
	projectID string
	service   *Service

	store     *scope.Store
	generator *artifact.Generator
	preview   *artifact.PreviewCache
	downloads *download.Manager

	regenMu   sync.Mutex
	regenBusy bool
}

// Session returns the session for a project, creating and loading it on
// first use. The initial document is the finalized copy when one exists,
// else a draft prefilled from project metadata, else empty.
func (s *Service) Session(ctx context.Context, projectID string) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[projectID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	sess := s.newSession(projectID)
	fallback, err := s.draftFallback(ctx, projectID)
	if err != nil {
		// Metadata being unreachable must not block opening the scope.
		log.Printf(`{"level":"warn","event":"draft_fallback_unavailable","project_id":"%s","error":"%v"}`, projectID, err)
		fallback = nil
	}
	if err := sess.store.Load(ctx, fallback); err != nil {
		return nil, fmt.Errorf("failed to load scope for project %s: %w", projectID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[projectID]; ok {
		return existing, nil
	}
	s.sessions[projectID] = sess
	return sess, nil
}

func (s *Service) newSession(projectID string) *Session {
	store := scope.NewStore(projectID, s.persistence)
	sess := &Session{
		projectID: projectID,
		service:   s,
		store:     store,
		generator: artifact.NewGenerator(projectID, s.render, s.persistence),
		preview:   artifact.NewPreviewCache(store.Version),
		downloads: download.NewManager(),
	}
	store.OnInvalidate(sess.generator.Invalidate)
	store.OnInvalidate(sess.preview.Invalidate)
	return sess
}

// draftFallback builds a skeleton document from project metadata, the shape
// the engine starts from before any finalized scope exists.
func (s *Service) draftFallback(ctx context.Context, projectID string) (*scope.Document, error) {
	proj, err := s.projectStore.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		return nil, nil
	}
	doc := &scope.Document{
		Overview: []scope.OverviewField{
			{Key: "Project Name", Value: proj.Name},
			{Key: "Domain", Value: proj.Domain},
			{Key: "Complexity", Value: proj.Complexity},
			{Key: "Tech Stack", Value: proj.TechStack},
			{Key: "Use Cases", Value: proj.UseCases},
			{Key: "Compliance", Value: proj.Compliance},
			{Key: "Duration", Value: proj.Duration},
		},
	}
	return doc, nil
}

// ProjectID returns the session's project identifier.
func (sess *Session) ProjectID() string { return sess.projectID }

// DocumentText returns the current serialized document and the parse-error
// marker, if set.
func (sess *Session) DocumentText() (string, *scope.ParseError) {
	return sess.store.Text(), sess.store.ParseErr()
}

// State returns the finalization state.
func (sess *Session) State() scope.State { return sess.store.State() }

// Version returns the monotonic document version token.
func (sess *Session) Version() uint64 { return sess.store.Version() }

// Fingerprint returns the current content fingerprint.
func (sess *Session) Fingerprint() string { return sess.store.Fingerprint() }

// SetDocumentText applies a raw text edit from the presentation layer.
func (sess *Session) SetDocumentText(raw string) error {
	return sess.store.SetDocumentText(raw, scope.OriginUserEdit)
}

// Reconcile refreshes from the persisted finalized copy without clobbering
// local edits (refresh-on-focus, refresh-on-navigation).
func (sess *Session) Reconcile(ctx context.Context) error {
	return sess.store.Reconcile(ctx)
}

// Messages returns the ordered chat history.
func (sess *Session) Messages(ctx context.Context) ([]models.ChatMessage, error) {
	return sess.service.chatStore.LoadPrompts(ctx, sess.projectID)
}

// ClearChat deletes the chat history.
func (sess *Session) ClearChat(ctx context.Context) error {
	return sess.service.chatStore.ClearPrompts(ctx, sess.projectID)
}

// Regenerate sends an instruction to the scope engine. The user message is
// appended before the call and never retracted; on success the returned
// scope replaces the canonical document and one assistant message is
// appended. At most one regeneration is in flight per session.
func (sess *Session) Regenerate(ctx context.Context, instruction string) (models.ChatMessage, error) {
	sess.regenMu.Lock()
	if sess.regenBusy {
		sess.regenMu.Unlock()
		return models.ChatMessage{}, ErrRegenerationBusy
	}
	sess.regenBusy = true
	sess.regenMu.Unlock()
	defer func() {
		sess.regenMu.Lock()
		sess.regenBusy = false
		sess.regenMu.Unlock()
	}()

	if _, err := sess.service.chatStore.AddPrompt(ctx, sess.projectID, instruction, models.RoleUser); err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to record instruction: %w", err)
	}

	started := time.Now()
	result, err := sess.service.engine.RegenerateScope(ctx, sess.projectID, sess.store.Document(), instruction)
	if err != nil {
		sess.service.metrics.RecordRegeneration(ctx, false, time.Since(started))
		return models.ChatMessage{}, err
	}

	if err := sess.store.SetDocumentText(result.ScopeText, scope.OriginRegeneration); err != nil {
		sess.service.metrics.RecordRegeneration(ctx, false, time.Since(started))
		return models.ChatMessage{}, fmt.Errorf("engine returned an unparseable scope: %w", err)
	}

	summary := result.Summary
	if summary == "" {
		summary = assistantFallbackText
	}
	reply, err := sess.service.chatStore.AddPrompt(ctx, sess.projectID, summary, models.RoleAssistant)
	if err != nil {
		// The document already advanced; losing the reply is a warning, not a rollback.
		log.Printf(`{"level":"warn","event":"assistant_message_not_recorded","project_id":"%s","error":"%v"}`, sess.projectID, err)
		reply = models.ChatMessage{ProjectID: sess.projectID, Role: models.RoleAssistant, Text: summary}
	}
	sess.service.metrics.RecordRegeneration(ctx, true, time.Since(started))
	return reply, nil
}

// RegenerationBusy reports whether an instruction is outstanding; the
// presentation layer disables the trigger while true.
func (sess *Session) RegenerationBusy() bool {
	sess.regenMu.Lock()
	defer sess.regenMu.Unlock()
	return sess.regenBusy
}

// Finalize freezes the current document as canonical, writes project
// metadata back from the overview, and uploads finalized export binaries so
// later exports serve exactly what was finalized.
func (sess *Session) Finalize(ctx context.Context) error {
	if err := sess.store.Finalize(ctx); err != nil {
		sess.service.metrics.RecordFinalization(ctx, false)
		return err
	}
	sess.service.metrics.RecordFinalization(ctx, true)

	doc := sess.store.Document()
	overview := map[string]string{}
	for _, f := range doc.Overview {
		overview[f.Key] = fmt.Sprintf("%v", f.Value)
	}
	if err := sess.service.projectStore.UpdateFromOverview(ctx, sess.projectID, overview); err != nil {
		log.Printf(`{"level":"warn","event":"project_metadata_not_updated","project_id":"%s","error":"%v"}`, sess.projectID, err)
	}

	// Best effort: a missing finalized binary just falls back to rendering.
	for _, kind := range []artifact.Kind{artifact.KindExcel, artifact.KindPDF} {
		payload, _, err := sess.service.render.Render(ctx, kind, doc, nil)
		if err != nil || len(payload) == 0 {
			log.Printf(`{"level":"warn","event":"finalized_artifact_not_rendered","project_id":"%s","kind":"%s","error":"%v"}`, sess.projectID, kind, err)
			continue
		}
		if err := sess.service.persistence.UploadArtifact(ctx, sess.projectID, kind.Ext(), payload); err != nil {
			log.Printf(`{"level":"warn","event":"finalized_artifact_not_uploaded","project_id":"%s","kind":"%s","error":"%v"}`, sess.projectID, kind, err)
		}
	}
	return nil
}

// Table projects a section into its editable table view. Table views stay
// disabled while the parse-error marker is set; only the raw text remains
// editable.
func (sess *Session) Table(section string) (*tabular.Table, error) {
	if parseErr := sess.store.ParseErr(); parseErr != nil {
		return nil, parseErr
	}
	return tabular.Project(sess.store.Document(), section)
}

// EditCell rewrites one table cell back into the canonical document.
func (sess *Session) EditCell(section string, row, col int, value string) error {
	if parseErr := sess.store.ParseErr(); parseErr != nil {
		return parseErr
	}
	doc, err := tabular.ApplyCell(sess.store.Document(), section, row, col, value)
	if err != nil {
		return err
	}
	return sess.store.SetDocument(doc, scope.OriginUserEdit)
}

// SetOverview rebuilds the overview from edited rows, dropping empty keys.
func (sess *Session) SetOverview(rows [][]string) error {
	if parseErr := sess.store.ParseErr(); parseErr != nil {
		return parseErr
	}
	doc, err := tabular.ApplyOverview(sess.store.Document(), rows)
	if err != nil {
		return err
	}
	return sess.store.SetDocument(doc, scope.OriginUserEdit)
}

// AppendRow inserts a blank record at the end of a section.
func (sess *Session) AppendRow(section string) error {
	if parseErr := sess.store.ParseErr(); parseErr != nil {
		return parseErr
	}
	doc, err := tabular.AppendRow(sess.store.Document(), section)
	if err != nil {
		return err
	}
	return sess.store.SetDocument(doc, scope.OriginUserEdit)
}

// RemoveRow deletes a record from a section.
func (sess *Session) RemoveRow(section string, row int) error {
	if parseErr := sess.store.ParseErr(); parseErr != nil {
		return parseErr
	}
	doc, err := tabular.RemoveRow(sess.store.Document(), section, row)
	if err != nil {
		return err
	}
	return sess.store.SetDocument(doc, scope.OriginUserEdit)
}

// Preview renders the document-view PDF. The version token captured before
// the render guards against an older in-flight request overwriting a newer
// result.
func (sess *Session) Preview(ctx context.Context) ([]byte, string, error) {
	if parseErr := sess.store.ParseErr(); parseErr != nil {
		return nil, "", parseErr
	}

	fingerprint := sess.store.Fingerprint()
	if payload, mediaType, ok := sess.preview.Get(fingerprint); ok {
		return payload, mediaType, nil
	}

	version := sess.store.Version()
	doc := sess.store.Document()
	payload, mediaType, err := sess.generator.Generate(ctx, doc, sess.store.State(), artifact.KindPDF, nil)
	if err != nil {
		return nil, "", err
	}
	if !sess.preview.Apply(version, fingerprint, payload, mediaType) {
		log.Printf(`{"level":"info","event":"stale_preview_discarded","project_id":"%s"}`, sess.projectID)
	}
	return payload, mediaType, nil
}

// StartDownload produces and transfers one export kind, tracking progress.
func (sess *Session) StartDownload(ctx context.Context, kind artifact.Kind) ([]byte, string, error) {
	if parseErr := sess.store.ParseErr(); parseErr != nil {
		return nil, "", parseErr
	}
	if kind == artifact.KindAll {
		payload, err := sess.downloadAll(ctx)
		return payload, artifact.KindAll.MediaType(), err
	}

	doc := sess.store.Document()
	state := sess.store.State()
	sess.service.metrics.DownloadStarted(ctx, string(kind))
	defer sess.service.metrics.DownloadFinished(ctx, string(kind))
	payload, err := sess.downloads.Start(ctx, kind, func(taskCtx context.Context, onProgress func(int)) ([]byte, error) {
		data, _, err := sess.generator.Generate(taskCtx, doc, state, kind, onProgress)
		return data, err
	})
	if err != nil {
		sess.service.metrics.RecordExport(ctx, string(kind), false)
		return nil, "", err
	}
	sess.service.metrics.RecordExport(ctx, string(kind), true)
	return payload, kind.MediaType(), nil
}

// downloadAll bundles every rendition into one archive under the "all" task.
func (sess *Session) downloadAll(ctx context.Context) ([]byte, error) {
	doc := sess.store.Document()
	state := sess.store.State()
	baseName := sess.BaseFilename()

	sess.service.metrics.DownloadStarted(ctx, string(artifact.KindAll))
	defer sess.service.metrics.DownloadFinished(ctx, string(artifact.KindAll))
	payload, err := sess.downloads.Start(ctx, artifact.KindAll, func(taskCtx context.Context, onProgress func(int)) ([]byte, error) {
		return download.DownloadAll(taskCtx, baseName, func(fetchCtx context.Context, kind artifact.Kind, kindProgress func(int)) ([]byte, error) {
			data, _, err := sess.generator.Generate(fetchCtx, doc, state, kind, kindProgress)
			return data, err
		}, onProgress)
	})
	if err != nil {
		sess.service.metrics.RecordExport(ctx, string(artifact.KindAll), false)
		return nil, err
	}
	sess.service.metrics.RecordExport(ctx, string(artifact.KindAll), true)
	return payload, nil
}

// CancelDownload aborts a running task of the kind.
func (sess *Session) CancelDownload(kind artifact.Kind) {
	sess.downloads.Cancel(kind)
}

// DownloadState returns the task snapshot for a kind.
func (sess *Session) DownloadState(kind artifact.Kind) download.Task {
	return sess.downloads.TaskState(kind)
}

// SubscribeDownloads streams task events for the session.
func (sess *Session) SubscribeDownloads() (<-chan download.Event, func()) {
	return sess.downloads.Subscribe()
}

// BaseFilename derives the sanitized export filename from the overview's
// project-name field, defaulting to project_<id>.
func (sess *Session) BaseFilename() string {
	name := ""
	if v := sess.store.Document().OverviewValue("Project Name"); v != nil {
		name = fmt.Sprintf("%v", v)
	}
	return download.SafeFilename(name, sess.projectID)
}
