package gateway

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/auth"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/download"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/models"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/orchestration"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	orchestrationService *orchestration.Service
	jwtManager           *auth.JWTManager
	pool                 *pgxpool.Pool
}

// NewHandler creates a new gateway handler
func NewHandler(orchestrationService *orchestration.Service, jwtManager *auth.JWTManager, pool *pgxpool.Pool) *Handler {
	return &Handler{
		orchestrationService: orchestrationService,
		jwtManager:           jwtManager,
		pool:                 pool,
	}
}

func (h *Handler) session(c *gin.Context) (*orchestration.Session, bool) {
	projectID := c.Param("id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "project id is required", Code: models.ErrCodeInvalidRequest})
		return nil, false
	}
	sess, err := h.orchestrationService.Session(c.Request.Context(), projectID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to open scope session","project_id":"%s","error":"%v"}`, projectID, err)
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "failed to load scope", Code: models.ErrCodeInternalError})
		return nil, false
	}
	return sess, true
}

// respondError maps the domain error taxonomy onto HTTP.
func respondError(c *gin.Context, err error) {
	var parseErr *scope.ParseError
	var validationErr *scope.ValidationError
	var emptyErr *artifact.EmptyArtifactError
	switch {
	case errors.As(err, &parseErr):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: parseErr.Error(), Code: models.ErrCodeParseError})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: validationErr.Error(), Code: models.ErrCodeValidationFailed})
	case errors.As(err, &emptyErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: emptyErr.Error(), Code: models.ErrCodeEmptyArtifact})
	case errors.Is(err, download.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeDownloadBusy})
	case errors.Is(err, orchestration.ErrRegenerationBusy):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeRegenerationBusy})
	default:
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeEngineError})
	}
}

// tableError reports a table-route failure. A parse-error marker takes
// precedence over section or shape errors so clients see the disabled state.
func tableError(c *gin.Context, err error, status int, code string) {
	var parseErr *scope.ParseError
	if errors.As(err, &parseErr) {
		respondError(c, err)
		return
	}
	c.JSON(status, models.ErrorResponse{Error: err.Error(), Code: code})
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string          `json:"token"`
	UserID string          `json:"user_id"`
	User   models.UserInfo `json:"user"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var user models.User
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, name, email, hashed_password, created_at FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.HashedPassword, &user.CreatedAt)

	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.jwtManager.GenerateToken(c.Request.Context(), user.ID, user.Email, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: user.ID,
		User:   user.ToUserInfo(),
	})
}

// ScopeResponse is the document view exposed to the presentation layer.
type ScopeResponse struct {
	Text        string `json:"text"`
	State       string `json:"state"`
	ParseError  string `json:"parse_error,omitempty"`
	Version     uint64 `json:"version"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func scopeResponse(sess *orchestration.Session) ScopeResponse {
	text, parseErr := sess.DocumentText()
	resp := ScopeResponse{
		Text:    text,
		State:   sess.State().String(),
		Version: sess.Version(),
	}
	if parseErr != nil {
		resp.ParseError = parseErr.Error()
	} else {
		resp.Fingerprint = sess.Fingerprint()
	}
	return resp
}

// GetScope godoc
// @Summary Get scope document
// @Description Return the current document text, finalization state, and parse-error marker
// @Tags scope
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} ScopeResponse
// @Security BearerAuth
// @Router /projects/{id}/scope [get]
func (h *Handler) GetScope(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, scopeResponse(sess))
}

// UpdateScopeRequest carries a raw document text edit.
type UpdateScopeRequest struct {
	Text string `json:"text"`
}

// UpdateScope godoc
// @Summary Update scope document text
// @Description Replace the document from raw text; a malformed document sets the parse-error marker but keeps the text editable
// @Tags scope
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param request body UpdateScopeRequest true "Document text"
// @Success 200 {object} ScopeResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope [put]
func (h *Handler) UpdateScope(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req UpdateScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}
	if err := sess.SetDocumentText(req.Text); err != nil {
		// The edit was retained; the marker travels in the scope response.
		log.Printf(`{"level":"warn","message":"Document text failed to parse","project_id":"%s","error":"%v"}`, sess.ProjectID(), err)
	}
	c.JSON(http.StatusOK, scopeResponse(sess))
}

// FinalizeScope godoc
// @Summary Finalize the scope document
// @Description Freeze and persist the current document as the canonical finalized copy
// @Tags scope
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} ScopeResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/finalize [post]
func (h *Handler) FinalizeScope(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Finalize(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scopeResponse(sess))
}

// ReconcileScope godoc
// @Summary Reconcile with the persisted finalized copy
// @Description Refresh local state from the finalized copy without clobbering unsaved edits
// @Tags scope
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} ScopeResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/reconcile [post]
func (h *Handler) ReconcileScope(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Reconcile(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scopeResponse(sess))
}

// RegenerateRequest carries a chat instruction for the scope engine.
type RegenerateRequest struct {
	Instruction string `json:"instruction" binding:"required"`
}

// RegenerateResponse returns the assistant reply plus the updated scope.
type RegenerateResponse struct {
	Reply models.ChatMessage `json:"reply"`
	Scope ScopeResponse      `json:"scope"`
}

// RegenerateScope godoc
// @Summary Regenerate the scope from an instruction
// @Description Send a chat instruction to the scope engine; the returned scope replaces the draft
// @Tags scope
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param request body RegenerateRequest true "Instruction"
// @Success 200 {object} RegenerateResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/regenerate [post]
func (h *Handler) RegenerateScope(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}
	reply, err := sess.Regenerate(c.Request.Context(), req.Instruction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RegenerateResponse{Reply: reply, Scope: scopeResponse(sess)})
}

// GetTable godoc
// @Summary Get a tabular projection
// @Description Project one section (overview, activities, resourcing_plan, ...) into an editable table
// @Tags tables
// @Produce json
// @Param id path string true "Project ID"
// @Param section path string true "Section name"
// @Success 200 {object} tabular.Table
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/tables/{section} [get]
func (h *Handler) GetTable(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	table, err := sess.Table(c.Param("section"))
	if err != nil {
		tableError(c, err, http.StatusNotFound, models.ErrCodeNotFound)
		return
	}
	c.JSON(http.StatusOK, table)
}

// EditCellRequest addresses one editable table cell.
type EditCellRequest struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Value string `json:"value"`
}

// EditCell godoc
// @Summary Edit a table cell
// @Description Rewrite one cell of a projected section back into the canonical document
// @Tags tables
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param section path string true "Section name"
// @Param request body EditCellRequest true "Cell edit"
// @Success 200 {object} tabular.Table
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/tables/{section}/cell [put]
func (h *Handler) EditCell(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req EditCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}
	section := c.Param("section")
	if err := sess.EditCell(section, req.Row, req.Col, req.Value); err != nil {
		tableError(c, err, http.StatusBadRequest, models.ErrCodeInvalidRequest)
		return
	}
	table, err := sess.Table(section)
	if err != nil {
		tableError(c, err, http.StatusNotFound, models.ErrCodeNotFound)
		return
	}
	c.JSON(http.StatusOK, table)
}

// SetOverviewRequest carries edited overview rows.
type SetOverviewRequest struct {
	Rows [][]string `json:"rows" binding:"required"`
}

// SetOverview godoc
// @Summary Replace the overview from edited rows
// @Description Rebuild the overview mapping from Field/Value rows, dropping empty keys
// @Tags tables
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param request body SetOverviewRequest true "Overview rows"
// @Success 200 {object} tabular.Table
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/overview [put]
func (h *Handler) SetOverview(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req SetOverviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}
	if err := sess.SetOverview(req.Rows); err != nil {
		tableError(c, err, http.StatusBadRequest, models.ErrCodeInvalidRequest)
		return
	}
	table, err := sess.Table("overview")
	if err != nil {
		tableError(c, err, http.StatusNotFound, models.ErrCodeNotFound)
		return
	}
	c.JSON(http.StatusOK, table)
}

// AppendRow godoc
// @Summary Append a blank row to a section
// @Tags tables
// @Produce json
// @Param id path string true "Project ID"
// @Param section path string true "Section name"
// @Success 200 {object} tabular.Table
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/tables/{section}/rows [post]
func (h *Handler) AppendRow(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	section := c.Param("section")
	if err := sess.AppendRow(section); err != nil {
		tableError(c, err, http.StatusBadRequest, models.ErrCodeInvalidRequest)
		return
	}
	table, err := sess.Table(section)
	if err != nil {
		tableError(c, err, http.StatusNotFound, models.ErrCodeNotFound)
		return
	}
	c.JSON(http.StatusOK, table)
}

// RemoveRow godoc
// @Summary Remove a row from a section
// @Tags tables
// @Produce json
// @Param id path string true "Project ID"
// @Param section path string true "Section name"
// @Param row path int true "Row index"
// @Success 200 {object} tabular.Table
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/scope/tables/{section}/rows/{row} [delete]
func (h *Handler) RemoveRow(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	row, err := strconv.Atoi(c.Param("row"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid row index", Code: models.ErrCodeInvalidRequest})
		return
	}
	section := c.Param("section")
	if err := sess.RemoveRow(section, row); err != nil {
		tableError(c, err, http.StatusBadRequest, models.ErrCodeInvalidRequest)
		return
	}
	table, err := sess.Table(section)
	if err != nil {
		tableError(c, err, http.StatusNotFound, models.ErrCodeNotFound)
		return
	}
	c.JSON(http.StatusOK, table)
}

// GetPrompts godoc
// @Summary Get chat history
// @Description Return the ordered instruction history for a project
// @Tags chat
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {array} models.ChatMessage
// @Security BearerAuth
// @Router /projects/{id}/prompts [get]
func (h *Handler) GetPrompts(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	messages, err := sess.Messages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, messages)
}

// ClearPrompts godoc
// @Summary Clear chat history
// @Tags chat
// @Produce json
// @Param id path string true "Project ID"
// @Success 204 "No Content"
// @Security BearerAuth
// @Router /projects/{id}/prompts [delete]
func (h *Handler) ClearPrompts(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.ClearChat(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartExport godoc
// @Summary Download one export rendition
// @Description Generate and transfer the JSON, Excel, PDF, or bundled zip export
// @Tags exports
// @Produce octet-stream
// @Param id path string true "Project ID"
// @Param kind path string true "Artifact kind (json|excel|pdf|all)"
// @Success 200 {file} binary
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/exports/{kind} [get]
func (h *Handler) StartExport(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	kind, err := artifact.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeInvalidRequest})
		return
	}

	payload, mediaType, err := sess.StartDownload(c.Request.Context(), kind)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := sess.BaseFilename() + kind.Ext()
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, mediaType, payload)
}

// CancelExport godoc
// @Summary Cancel a running export download
// @Tags exports
// @Produce json
// @Param id path string true "Project ID"
// @Param kind path string true "Artifact kind (json|excel|pdf|all)"
// @Success 202 {object} download.Task
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/exports/{kind} [delete]
func (h *Handler) CancelExport(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	kind, err := artifact.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeInvalidRequest})
		return
	}
	sess.CancelDownload(kind)
	c.JSON(http.StatusAccepted, sess.DownloadState(kind))
}

// ExportStatus godoc
// @Summary Get export task state
// @Tags exports
// @Produce json
// @Param id path string true "Project ID"
// @Param kind path string true "Artifact kind (json|excel|pdf|all)"
// @Success 200 {object} download.Task
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/exports/{kind}/status [get]
func (h *Handler) ExportStatus(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	kind, err := artifact.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeInvalidRequest})
		return
	}
	c.JSON(http.StatusOK, sess.DownloadState(kind))
}

// Preview godoc
// @Summary Get the document preview
// @Description Return the rendered document-view binary, cached per fingerprint
// @Tags exports
// @Produce application/pdf
// @Param id path string true "Project ID"
// @Success 200 {file} binary
// @Failure 409 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/preview [get]
func (h *Handler) Preview(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	payload, mediaType, err := sess.Preview(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, mediaType, payload)
}

// Health godoc
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
