package biogrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the BioGrow API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register the login endpoint.
	if _, ok := handlers["POST /auth/login"]; !ok {
		mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  serverURL,
		Email:    "teste@ubyagro.com.br",
		Password: "senha-forte",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestCreateProjectUploadsMultipart(t *testing.T) {
	projectID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/projects": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			if got := r.FormValue("name"); got != "BioNema X" {
				t.Errorf("name = %q, want %q", got, "BioNema X")
			}
			if got := r.FormValue("category"); got != "biodefensivo" {
				t.Errorf("category = %q, want %q", got, "biodefensivo")
			}
			file, header, err := r.FormFile("dossier")
			if err != nil {
				t.Fatalf("dossier form file: %v", err)
			}
			defer file.Close()
			if header.Filename != "dossie.txt" {
				t.Errorf("filename = %q, want %q", header.Filename, "dossie.txt")
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"data": Project{
					ProjectID:  projectID,
					Name:       "BioNema X",
					Category:   "biodefensivo",
					TargetCrop: "soja",
					Status:     "processing",
				},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	p, err := c.CreateProject(context.Background(), CreateProjectRequest{
		Name:        "BioNema X",
		Category:    "biodefensivo",
		TargetCrop:  "soja",
		DossierName: "dossie.txt",
		Dossier:     []byte("Dossiê técnico do produto."),
	})
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if p.ProjectID != projectID {
		t.Errorf("ProjectID = %s, want %s", p.ProjectID, projectID)
	}
	if p.Status != "processing" {
		t.Errorf("Status = %q, want %q", p.Status, "processing")
	}
}

func TestWaitForAnalysisPollsUntilCompleted(t *testing.T) {
	projectID := uuid.New()
	var polls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/projects/{project_id}/status": func(w http.ResponseWriter, r *http.Request) {
			status := "processing"
			if polls.Add(1) >= 3 {
				status = "completed"
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Status{ProjectID: projectID, Status: status},
			})
		},
		"GET /v1/projects/{project_id}/analysis": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Analysis{
					ProjectID:      projectID,
					Version:        1,
					OverallScore:   84,
					Recommendation: "VIAVEL_COM_AJUSTES",
				},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	a, err := c.WaitForAnalysis(context.Background(), projectID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForAnalysis failed: %v", err)
	}
	if a.Recommendation != "VIAVEL_COM_AJUSTES" {
		t.Errorf("Recommendation = %q, want VIAVEL_COM_AJUSTES", a.Recommendation)
	}
	if polls.Load() < 3 {
		t.Errorf("polls = %d, want at least 3", polls.Load())
	}
}

func TestAnalysisNotReady(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/projects/{project_id}/analysis": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "NOT_READY", "message": "analysis in progress"},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Analysis(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsNotReady(err) {
		t.Errorf("IsNotReady = false for %v", err)
	}
	if IsNotFound(err) {
		t.Errorf("IsNotFound = true for %v", err)
	}
}

func TestChatRoundTrip(t *testing.T) {
	projectID := uuid.New()

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/projects/{project_id}/chat/{agent_id}": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("agent_id") != "ale" {
				t.Errorf("agent_id = %q, want ale", r.PathValue("agent_id"))
			}
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode chat body: %v", err)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": ChatMessage{
					ProjectID:  projectID,
					AgentID:    "ale",
					AgentName:  "Alê",
					SequenceNo: 2,
					Text:       "O registro no MAPA leva em média 24 meses (estimativa).",
				},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	msg, err := c.Chat(context.Background(), projectID, "ale", "Qual o prazo de registro?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if msg.AgentName != "Alê" {
		t.Errorf("AgentName = %q, want Alê", msg.AgentName)
	}
	if msg.SequenceNo != 2 {
		t.Errorf("SequenceNo = %d, want 2", msg.SequenceNo)
	}
}

func TestTokenIsRefreshedWhenExpired(t *testing.T) {
	var logins atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/login": func(w http.ResponseWriter, r *http.Request) {
			logins.Add(1)
			// Already-expired tokens force a refresh on every request.
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "short-lived",
					"expires_at": time.Now().Add(-time.Minute).Format(time.RFC3339),
				},
			})
		},
		"GET /v1/agents": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []AgentInfo{{ID: "ale", Name: "Alê", Domain: "Regulatória"}},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	for i := 0; i < 2; i++ {
		if _, err := c.ListAgents(context.Background()); err != nil {
			t.Fatalf("ListAgents failed: %v", err)
		}
	}
	if logins.Load() != 2 {
		t.Errorf("logins = %d, want 2", logins.Load())
	}
}

func TestHealthWorksWithoutAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health request carried an Authorization header")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "ok", Version: "test"},
			})
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("Status = %q, want ok", h.Status)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	cases := []Config{
		{Email: "a@b.c", Password: "x"},
		{BaseURL: "http://localhost", Password: "x"},
		{BaseURL: "http://localhost", Email: "a@b.c"},
	}
	for _, cfg := range cases {
		if _, err := NewClient(cfg); err == nil {
			t.Errorf("NewClient(%+v) succeeded, want error", cfg)
		}
	}
}
