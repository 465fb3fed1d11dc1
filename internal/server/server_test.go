package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubyagro/biogrow/internal/agent"
	"github.com/ubyagro/biogrow/internal/auth"
	"github.com/ubyagro/biogrow/internal/chat"
	"github.com/ubyagro/biogrow/internal/generation"
	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/orchestrator"
	"github.com/ubyagro/biogrow/internal/server"
	"github.com/ubyagro/biogrow/internal/storage"
	"github.com/ubyagro/biogrow/internal/testutil"
	"github.com/ubyagro/biogrow/internal/tool"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

const assessmentJSON = `{"status":"verde","score":90,"resumo":"Sem impedimentos.","alertas":[],"detalhes":{}}`

// stubProvider answers every structured request with a fixed assessment
// and every chat request with a fixed reply. Safe for concurrent use.
type stubProvider struct {
	block chan struct{} // non-nil blocks structured requests until closed
}

func (p *stubProvider) Complete(ctx context.Context, req generation.Request) (generation.Response, error) {
	if req.Schema.Name != "" {
		if p.block != nil {
			select {
			case <-p.block:
			case <-ctx.Done():
				return generation.Response{}, ctx.Err()
			}
		}
		return generation.Response{Text: assessmentJSON, Model: "stub"}, nil
	}
	return generation.Response{Text: "Resposta do especialista.", Model: "stub"}, nil
}

type testServer struct {
	handler http.Handler
	orch    *orchestrator.Orchestrator
}

func newTestServer(t *testing.T, provider generation.Provider) *testServer {
	t.Helper()
	logger := testutil.TestLogger()

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	specialists := agent.NewAll(provider, tool.NewRegistry(logger), logger)
	analysts := make(map[model.AgentID]orchestrator.Analyst, len(specialists))
	chatters := make(map[model.AgentID]chat.Chatter, len(specialists))
	for id, s := range specialists {
		analysts[id] = s
		chatters[id] = s
	}

	orch := orchestrator.New(testDB, analysts, orchestrator.Options{
		AgentTimeout:   10 * time.Second,
		ProjectTimeout: 20 * time.Second,
	}, logger)
	t.Cleanup(orch.Close)

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		Orchestrator:        orch,
		ChatSvc:             chat.New(testDB, chatters, time.Minute, logger),
		Logger:              logger,
		Port:                0,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		MaxUploadBytes:      1 << 20,
	})
	return &testServer{handler: srv.Handler(), orch: orch}
}

func seedUser(t *testing.T, role model.UserRole) (model.User, string) {
	t.Helper()
	password := "senha-super-secreta"
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	email := fmt.Sprintf("%s-%d@ubyagro.test", role, time.Now().UnixNano())
	u, err := testDB.CreateUser(context.Background(), email, "Pessoa Teste", role, hash)
	require.NoError(t, err)
	return u, password
}

func (ts *testServer) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(model.LoginRequest{Email: email, Password: password})
	rec := ts.do(t, http.MethodPost, "/auth/login", "", bytes.NewBuffer(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Data model.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Data.Token)
	return envelope.Data.Token
}

func (ts *testServer) createProject(t *testing.T, token string) model.CreateProjectResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Bioestimulante Algas Soja"))
	require.NoError(t, mw.WriteField("category", "bioestimulante"))
	require.NoError(t, mw.WriteField("target_crop", "soja"))
	fw, err := mw.CreateFormFile("dossier", "dossie.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Dossiê técnico do bioestimulante à base de algas."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := ts.do(t, http.MethodPost, "/v1/projects", token, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var envelope struct {
		Data model.CreateProjectResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	user, password := seedUser(t, model.RoleColaborador)

	token := ts.login(t, user.Email, password)
	assert.NotEmpty(t, token)

	body, _ := json.Marshal(model.LoginRequest{Email: user.Email, Password: "errada"})
	rec := ts.do(t, http.MethodPost, "/auth/login", "", bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body, _ = json.Marshal(model.LoginRequest{Email: "ninguem@ubyagro.test", Password: "x"})
	rec = ts.do(t, http.MethodPost, "/auth/login", "", bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	rec := ts.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "ok", envelope.Data.Status)
	assert.Equal(t, "test", envelope.Data.Version)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})

	rec := ts.do(t, http.MethodGet, "/v1/projects", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/agents", "token-invalido", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestViewerCannotCreateProject(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	viewer, password := seedUser(t, model.RoleViewer)
	token := ts.login(t, viewer.Email, password)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())
	rec := ts.do(t, http.MethodPost, "/v1/projects", token, &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListAgents(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	user, password := seedUser(t, model.RoleViewer)
	token := ts.login(t, user.Email, password)

	rec := ts.do(t, http.MethodGet, "/v1/agents", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []model.AgentInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 4)
	assert.Equal(t, model.AgentAle, envelope.Data[0].ID)
	assert.Equal(t, "Alê", envelope.Data[0].Name)
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	user, password := seedUser(t, model.RoleColaborador)
	token := ts.login(t, user.Email, password)

	created := ts.createProject(t, token)
	assert.Equal(t, model.ProjectProcessing, created.Status)

	rec0 := ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String(), token, nil, "")
	require.Equal(t, http.StatusOK, rec0.Code)
	var detailEnv struct {
		Data model.Project `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec0.Body.Bytes(), &detailEnv))
	assert.Equal(t, "Bioestimulante Algas Soja", detailEnv.Data.Name)
	assert.Equal(t, user.ID, detailEnv.Data.OwnerID)

	ts.orch.Wait()

	rec := ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String()+"/status", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var statusEnv struct {
		Data model.StatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statusEnv))
	assert.Equal(t, model.ProjectCompleted, statusEnv.Data.Status)
	assert.Equal(t, 100, statusEnv.Data.OverallProgress)
	require.Len(t, statusEnv.Data.Progress, 4)

	rec = ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String()+"/analysis", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var analysisEnv struct {
		Data model.Analysis `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysisEnv))
	assert.Equal(t, 90, analysisEnv.Data.OverallScore)
	assert.Equal(t, model.RecViavel, analysisEnv.Data.Recommendation)
	assert.Equal(t, 1, analysisEnv.Data.Version)

	rec = ts.do(t, http.MethodGet, "/v1/projects", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listEnv model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listEnv))
	assert.Equal(t, 1, listEnv.Total)

	// Re-analysis bumps the version.
	rec = ts.do(t, http.MethodPost, "/v1/projects/"+created.ProjectID.String()+"/reanalyze", token, nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	ts.orch.Wait()

	rec = ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String()+"/analysis", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysisEnv))
	assert.Equal(t, 2, analysisEnv.Data.Version)
}

func TestAnalysisNotReadyWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, &stubProvider{block: release})
	user, password := seedUser(t, model.RoleColaborador)
	token := ts.login(t, user.Email, password)

	created := ts.createProject(t, token)

	rec := ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String()+"/analysis", token, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errEnv model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errEnv))
	assert.Equal(t, model.ErrCodeNotReady, errEnv.Error.Code)

	rec = ts.do(t, http.MethodPost, "/v1/projects/"+created.ProjectID.String()+"/reanalyze", token, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	ts.orch.Wait()
}

func TestProjectOwnership(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	owner, ownerPassword := seedUser(t, model.RoleColaborador)
	other, otherPassword := seedUser(t, model.RoleColaborador)
	admin, adminPassword := seedUser(t, model.RoleAdmin)

	ownerToken := ts.login(t, owner.Email, ownerPassword)
	created := ts.createProject(t, ownerToken)
	ts.orch.Wait()

	otherToken := ts.login(t, other.Email, otherPassword)
	rec := ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String()+"/status", otherToken, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := ts.login(t, admin.Email, adminPassword)
	rec = ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String()+"/status", adminToken, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/projects/"+created.ProjectID.String()+"/status", ownerToken, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProjectNotFound(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	user, password := seedUser(t, model.RoleColaborador)
	token := ts.login(t, user.Email, password)

	rec := ts.do(t, http.MethodGet, "/v1/projects/7b0d1f26-27cd-4b86-9c0e-111111111111/status", token, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/projects/nao-e-uuid/status", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatFlow(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	user, password := seedUser(t, model.RoleColaborador)
	token := ts.login(t, user.Email, password)

	created := ts.createProject(t, token)
	ts.orch.Wait()

	chatPath := "/v1/projects/" + created.ProjectID.String() + "/chat/ale"
	body, _ := json.Marshal(model.ChatRequest{Message: "Qual o prazo de registro?"})
	rec := ts.do(t, http.MethodPost, chatPath, token, bytes.NewBuffer(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var chatEnv struct {
		Data model.ChatResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chatEnv))
	assert.Equal(t, model.AgentAle, chatEnv.Data.AgentID)
	assert.Equal(t, "Alê", chatEnv.Data.AgentName)
	assert.Equal(t, 2, chatEnv.Data.SequenceNo)
	assert.Equal(t, "Resposta do especialista.", chatEnv.Data.Text)

	rec = ts.do(t, http.MethodGet, chatPath, token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var histEnv struct {
		Data []model.ConversationTurn `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &histEnv))
	require.Len(t, histEnv.Data, 3)
	assert.Equal(t, model.TurnContext, histEnv.Data[0].Role)
	assert.Equal(t, model.TurnUser, histEnv.Data[1].Role)
	assert.Equal(t, model.TurnAgent, histEnv.Data[2].Role)

	// Unknown agent.
	rec = ts.do(t, http.MethodPost, "/v1/projects/"+created.ProjectID.String()+"/chat/hal", token, bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Empty message.
	body, _ = json.Marshal(model.ChatRequest{Message: "   "})
	rec = ts.do(t, http.MethodPost, chatPath, token, bytes.NewBuffer(body), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeBase(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	user, password := seedUser(t, model.RoleViewer)
	token := ts.login(t, user.Email, password)

	_, err := testDB.InsertDocument(context.Background(), model.Document{
		Title:         "IN 61/2020 Registro de bioestimulantes",
		Type:          "normativa",
		Category:      "regulatorio",
		RelatedAgents: []model.AgentID{model.AgentAle},
		Tags:          []string{"mapa", "bioestimulante"},
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/v1/knowledge-base?search=bioestimulantes", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listEnv model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listEnv))
	assert.GreaterOrEqual(t, listEnv.Total, 1)
}

func TestCreateProjectValidation(t *testing.T) {
	ts := newTestServer(t, &stubProvider{})
	user, password := seedUser(t, model.RoleColaborador)
	token := ts.login(t, user.Email, password)

	// Unknown category.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Projeto"))
	require.NoError(t, mw.WriteField("category", "quimico"))
	require.NoError(t, mw.WriteField("target_crop", "soja"))
	require.NoError(t, mw.Close())
	rec := ts.do(t, http.MethodPost, "/v1/projects", token, &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing dossier file.
	buf.Reset()
	mw = multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Projeto"))
	require.NoError(t, mw.WriteField("category", "bioestimulante"))
	require.NoError(t, mw.WriteField("target_crop", "soja"))
	require.NoError(t, mw.Close())
	rec = ts.do(t, http.MethodPost, "/v1/projects", token, &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
