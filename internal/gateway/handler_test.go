package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/blob"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/chat"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/metrics"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/models"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/orchestration"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/project"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/tabular"
)

const apiTestScope = `{
  "overview": {
    "Project Name": "Apollo Program",
    "Currency": "USD"
  },
  "resourcing_plan": [
    {"Role": "Backend Developer", "Jan 2024": 2, "Feb 2024": 3, "Rate/Month": 50, "Cost": 250}
  ]
}`

type stubEngine struct {
	result *orchestration.RegenerationResult
	err    error
}

func (s *stubEngine) RegenerateScope(ctx context.Context, projectID string, doc *scope.Document, instruction string) (*orchestration.RegenerationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubEngine) IsHealthy(ctx context.Context) bool { return s.err == nil }

type stubRender struct{}

func (stubRender) Render(ctx context.Context, kind artifact.Kind, doc *scope.Document, onProgress func(percent int)) ([]byte, string, error) {
	if onProgress != nil {
		onProgress(100)
	}
	return []byte(string(kind) + "-bytes"), kind.MediaType(), nil
}

type stubProjects struct{}

func (stubProjects) GetProject(ctx context.Context, id string) (*project.Project, error) {
	return nil, nil
}

func (stubProjects) UpdateFromOverview(ctx context.Context, id string, overview map[string]string) error {
	return nil
}

type apiEnv struct {
	router *gin.Engine
	engine *stubEngine
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := metrics.NewScopeMetrics()
	require.NoError(t, err)

	engine := &stubEngine{}
	service := orchestration.NewService(
		chat.NewMemoryStore(),
		stubProjects{},
		blob.NewScopePersistence(blob.NewMemoryStore()),
		engine,
		stubRender{},
		m,
	)
	h := NewHandler(service, nil, nil)

	router := gin.New()
	api := router.Group("/api")
	{
		api.GET("/projects/:id/scope", h.GetScope)
		api.PUT("/projects/:id/scope", h.UpdateScope)
		api.POST("/projects/:id/scope/finalize", h.FinalizeScope)
		api.POST("/projects/:id/scope/reconcile", h.ReconcileScope)
		api.POST("/projects/:id/scope/regenerate", h.RegenerateScope)
		api.PUT("/projects/:id/scope/overview", h.SetOverview)
		api.GET("/projects/:id/scope/tables/:section", h.GetTable)
		api.PUT("/projects/:id/scope/tables/:section/cell", h.EditCell)
		api.POST("/projects/:id/scope/tables/:section/rows", h.AppendRow)
		api.DELETE("/projects/:id/scope/tables/:section/rows/:row", h.RemoveRow)
		api.GET("/projects/:id/prompts", h.GetPrompts)
		api.DELETE("/projects/:id/prompts", h.ClearPrompts)
		api.GET("/projects/:id/exports/:kind", h.StartExport)
		api.DELETE("/projects/:id/exports/:kind", h.CancelExport)
		api.GET("/projects/:id/exports/:kind/status", h.ExportStatus)
		api.GET("/projects/:id/preview", h.Preview)
	}
	router.GET("/health", h.Health)

	return &apiEnv{router: router, engine: engine}
}

func (env *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *apiEnv) putScope(t *testing.T, projectID, text string) {
	t.Helper()
	w := env.do(t, "PUT", "/api/projects/"+projectID+"/scope", UpdateScopeRequest{Text: text})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetScopeEmptyProject(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, "GET", "/api/projects/p-1/scope", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ScopeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "draft", resp.State)
	assert.Empty(t, resp.ParseError)
}

func TestUpdateScopeRoundTrip(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/scope", nil)
	var resp ScopeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Text, "Apollo Program")
	assert.NotEmpty(t, resp.Fingerprint)
}

func TestUpdateScopeKeepsMalformedTextEditable(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "PUT", "/api/projects/p-1/scope", UpdateScopeRequest{Text: "{broken"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp ScopeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ParseError)
	assert.Equal(t, "{broken", resp.Text, "raw text stays editable")

	// Finalize is rejected while the parse-error marker is set.
	w = env.do(t, "POST", "/api/projects/p-1/scope/finalize", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrCodeValidationFailed, errResp.Code)
}

func TestFinalizeScope(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "POST", "/api/projects/p-1/scope/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ScopeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "finalized", resp.State)
}

func TestRegenerateScopeEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)
	env.engine.result = &orchestration.RegenerationResult{
		ScopeText: apiTestScope,
		Summary:   "No structural changes.",
	}

	w := env.do(t, "POST", "/api/projects/p-1/scope/regenerate", RegenerateRequest{Instruction: "tidy up"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp RegenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.RoleAssistant, resp.Reply.Role)
	assert.Equal(t, "No structural changes.", resp.Reply.Text)
	assert.Equal(t, "draft", resp.Scope.State)

	// Both the user instruction and the assistant reply are in the history.
	w = env.do(t, "GET", "/api/projects/p-1/prompts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var messages []models.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
}

func TestRegenerateScopeEngineFailure(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)
	env.engine.err = errors.New("engine unavailable")

	w := env.do(t, "POST", "/api/projects/p-1/scope/regenerate", RegenerateRequest{Instruction: "tidy up"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrCodeEngineError, errResp.Code)
}

func TestGetTableWithTotals(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/scope/tables/resourcing_plan", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var table tabular.Table
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &table))
	assert.True(t, table.HasTotal)
	require.NotEmpty(t, table.Rows)
	assert.Equal(t, tabular.TotalLabel, table.Rows[len(table.Rows)-1][0])
}

func TestGetTableUnknownSection(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/scope/tables/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEditCellEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "PUT", "/api/projects/p-1/scope/tables/resourcing_plan/cell", EditCellRequest{Row: 0, Col: 1, Value: "7"})
	require.Equal(t, http.StatusOK, w.Code)

	var table tabular.Table
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &table))
	assert.Equal(t, "7", table.Rows[0][1])
}

func TestSetOverviewEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	rows := [][]string{
		{"Project Name", "Apollo Reborn"},
		{"Currency", "EUR"},
		{"", "dropped because the key is empty"},
	}
	w := env.do(t, "PUT", "/api/projects/p-1/scope/overview", SetOverviewRequest{Rows: rows})
	require.Equal(t, http.StatusOK, w.Code)

	var table tabular.Table
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &table))
	assert.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"Project Name", "Apollo Reborn"}, table.Rows[0])
}

func TestRowLifecycleEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "POST", "/api/projects/p-1/scope/tables/resourcing_plan/rows", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "DELETE", "/api/projects/p-1/scope/tables/resourcing_plan/rows/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "DELETE", "/api/projects/p-1/scope/tables/resourcing_plan/rows/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearPromptsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)
	env.engine.result = &orchestration.RegenerationResult{ScopeText: apiTestScope}
	env.do(t, "POST", "/api/projects/p-1/scope/regenerate", RegenerateRequest{Instruction: "tidy up"})

	w := env.do(t, "DELETE", "/api/projects/p-1/prompts", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, "GET", "/api/projects/p-1/prompts", nil)
	var messages []models.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	assert.Empty(t, messages)
}

func TestExportJSONEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/exports/json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="apollo_program.json"`)
	assert.True(t, json.Valid(w.Body.Bytes()))
}

func TestExportArchiveEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/exports/all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="apollo_program.zip"`)
}

func TestExportInvalidKind(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/exports/docx", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportBlockedByParseError(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)
	env.do(t, "PUT", "/api/projects/p-1/scope", UpdateScopeRequest{Text: "{broken"})

	w := env.do(t, "GET", "/api/projects/p-1/exports/json", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrCodeParseError, errResp.Code)
}

func TestTableRoutesBlockedByParseError(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)
	env.do(t, "PUT", "/api/projects/p-1/scope", UpdateScopeRequest{Text: "{broken"})

	w := env.do(t, "GET", "/api/projects/p-1/scope/tables/resourcing_plan", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrCodeParseError, errResp.Code)

	w = env.do(t, "PUT", "/api/projects/p-1/scope/tables/resourcing_plan/cell",
		EditCellRequest{Row: 0, Col: 1, Value: "9"})
	require.Equal(t, http.StatusConflict, w.Code)

	// The rejected edit keeps the marker and the raw text.
	w = env.do(t, "GET", "/api/projects/p-1/scope", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ScopeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ParseError)
	assert.Equal(t, "{broken", resp.Text)
}

func TestExportStatusEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/exports/pdf/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var task struct {
		Kind   string `json:"kind"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, "pdf", task.Kind)
	assert.Equal(t, "idle", task.Status)
}

func TestCancelExportIdleIsAccepted(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "DELETE", "/api/projects/p-1/exports/excel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestPreviewEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.putScope(t, "p-1", apiTestScope)

	w := env.do(t, "GET", "/api/projects/p-1/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
