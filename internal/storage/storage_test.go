package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/storage"
	"github.com/ubyagro/biogrow/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

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

func mustCreateUser(t *testing.T, email string) model.User {
	t.Helper()
	u, err := testDB.CreateUser(context.Background(), email, "Test User", model.RoleColaborador, "hash")
	require.NoError(t, err)
	return u
}

func mustCreateProject(t *testing.T, owner uuid.UUID) model.Project {
	t.Helper()
	p, err := testDB.CreateProject(context.Background(),
		model.Project{
			OwnerID:    owner,
			Name:       "Bioestimulante Algas Soja",
			Category:   model.CategoryBioestimulante,
			TargetCrop: model.CropSoja,
		},
		model.Artifact{
			Filename:    "dossie.pdf",
			ContentType: "application/pdf",
			SizeBytes:   4,
			Data:        []byte("%PDF"),
		},
	)
	require.NoError(t, err)
	return p
}

func TestCreateAndGetProject(t *testing.T) {
	ctx := context.Background()
	owner := mustCreateUser(t, "owner-project@example.com")
	p := mustCreateProject(t, owner.ID)

	got, err := testDB.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, model.CategoryBioestimulante, got.Category)
	assert.Equal(t, model.ProjectProcessing, got.Status)

	art, err := testDB.GetArtifact(ctx, p.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), art.Data)
	assert.Equal(t, p.ID, art.ProjectID)
}

func TestGetProjectNotFound(t *testing.T) {
	_, err := testDB.GetProject(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	mustCreateUser(t, "dup@example.com")
	_, err := testDB.CreateUser(context.Background(), "dup@example.com", "Again", model.RoleViewer, "hash")
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	owner := mustCreateUser(t, "owner-runs@example.com")
	p := mustCreateProject(t, owner.ID)

	require.NoError(t, testDB.InitRuns(ctx, p.ID, model.AllAgents))

	runs, err := testDB.GetRuns(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, runs, len(model.AllAgents))
	for _, r := range runs {
		assert.Equal(t, model.RunPending, r.Status)
	}

	require.NoError(t, testDB.MarkRunProcessing(ctx, p.ID, model.AgentAle, 60))
	require.NoError(t, testDB.UpdateRunProgress(ctx, p.ID, model.AgentAle, 50, 30))

	run, err := testDB.GetRun(ctx, p.ID, model.AgentAle)
	require.NoError(t, err)
	assert.Equal(t, model.RunProcessing, run.Status)
	assert.Equal(t, 50, run.ProgressPercent)
	assert.Equal(t, 30, run.ETASeconds)

	result := json.RawMessage(`{"status":"verde","score":90,"resumo":"ok","alertas":[],"detalhes":{}}`)
	require.NoError(t, testDB.CompleteRun(ctx, p.ID, model.AgentAle, result))

	run, err = testDB.GetRun(ctx, p.ID, model.AgentAle)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 100, run.ProgressPercent)
	require.NotNil(t, run.CompletedAt)

	// Terminal states are immutable.
	assert.ErrorIs(t, testDB.CompleteRun(ctx, p.ID, model.AgentAle, result), storage.ErrTerminal)
	assert.ErrorIs(t, testDB.FailRun(ctx, p.ID, model.AgentAle, "late failure"), storage.ErrTerminal)

	run, err = testDB.GetRun(ctx, p.ID, model.AgentAle)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
}

func TestFailRunFromPending(t *testing.T) {
	ctx := context.Background()
	owner := mustCreateUser(t, "owner-fail@example.com")
	p := mustCreateProject(t, owner.ID)
	require.NoError(t, testDB.InitRuns(ctx, p.ID, model.AllAgents))

	require.NoError(t, testDB.FailRun(ctx, p.ID, model.AgentPat, "orchestration timed out"))

	run, err := testDB.GetRun(ctx, p.ID, model.AgentPat)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, run.Status)
	require.NotNil(t, run.FailureReason)
	assert.Equal(t, "orchestration timed out", *run.FailureReason)
}

func TestInitRunsReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	owner := mustCreateUser(t, "owner-reinit@example.com")
	p := mustCreateProject(t, owner.ID)

	require.NoError(t, testDB.InitRuns(ctx, p.ID, model.AllAgents))
	require.NoError(t, testDB.MarkRunProcessing(ctx, p.ID, model.AgentAle, 60))
	require.NoError(t, testDB.InitRuns(ctx, p.ID, model.AllAgents))

	run, err := testDB.GetRun(ctx, p.ID, model.AgentAle)
	require.NoError(t, err)
	assert.Equal(t, model.RunPending, run.Status)
}

func TestInsertAnalysisVersions(t *testing.T) {
	ctx := context.Background()
	owner := mustCreateUser(t, "owner-analysis@example.com")
	p := mustCreateProject(t, owner.ID)

	a := model.Analysis{
		ProjectID:          p.ID,
		OverallScore:       84,
		Recommendation:     model.RecViavelComAjustes,
		RecommendationText: "Projeto viável com ajustes",
		Agents: map[model.AgentID]model.AgentOutcome{
			model.AgentAle: {AgentID: model.AgentAle, AgentName: "Alê", AgentRole: "Regulatória",
				Status: model.LightVerde, Score: 90, Summary: "via livre"},
		},
		Alerts:      []string{"patente em conflito"},
		ActionItems: []string{"ajustar formulação"},
	}

	first, err := testDB.InsertAnalysis(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := testDB.InsertAnalysis(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := testDB.GetLatestAnalysis(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 84, latest.OverallScore)
	assert.Equal(t, model.RecViavelComAjustes, latest.Recommendation)
	require.Contains(t, latest.Agents, model.AgentAle)
	assert.Equal(t, 90, latest.Agents[model.AgentAle].Score)
	assert.Equal(t, []string{"patente em conflito"}, latest.Alerts)
}

func TestGetLatestAnalysisNotFound(t *testing.T) {
	owner := mustCreateUser(t, "owner-noanalysis@example.com")
	p := mustCreateProject(t, owner.ID)
	_, err := testDB.GetLatestAnalysis(context.Background(), p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppendTurnSequencing(t *testing.T) {
	ctx := context.Background()
	owner := mustCreateUser(t, "owner-turns@example.com")
	p := mustCreateProject(t, owner.ID)

	first, err := testDB.AppendTurn(ctx, p.ID, model.AgentAle, model.TurnContext, "[CONTEXTO DO PROJETO]", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, first.SequenceNo)

	second, err := testDB.AppendTurn(ctx, p.ID, model.AgentAle, model.TurnUser, "qual o prazo?", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.SequenceNo)

	third, err := testDB.AppendTurn(ctx, p.ID, model.AgentAle, model.TurnAgent, "18-24 meses", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, third.SequenceNo)

	// A different agent key starts its own sequence.
	other, err := testDB.AppendTurn(ctx, p.ID, model.AgentMerc, model.TurnContext, "[CONTEXTO DO PROJETO]", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, other.SequenceNo)

	turns, err := testDB.ListTurns(ctx, p.ID, model.AgentAle)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i, turn.SequenceNo)
	}
	assert.Equal(t, model.TurnContext, turns[0].Role)

	n, err := testDB.CountTurns(ctx, p.ID, model.AgentAle)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestListProjectsFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	owner := mustCreateUser(t, "owner-list@example.com")
	p1 := mustCreateProject(t, owner.ID)
	p2 := mustCreateProject(t, owner.ID)
	require.NoError(t, testDB.SetProjectStatus(ctx, p2.ID, model.ProjectCompleted))

	all, total, err := testDB.ListProjects(ctx, owner.ID, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	completed, total, err := testDB.ListProjects(ctx, owner.ID, model.ProjectCompleted, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, completed, 1)
	assert.Equal(t, p2.ID, completed[0].ProjectID)

	page, total, err := testDB.ListProjects(ctx, owner.ID, "", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 1)

	_ = p1
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	doc, err := testDB.InsertDocument(ctx, model.Document{
		Title:         "Guia Completo: Registro de Bioestimulantes no MAPA",
		Type:          "guia",
		Category:      "regulamentacoes",
		RelatedAgents: []model.AgentID{model.AgentAle},
		Tags:          []string{"MAPA", "bioestimulantes", "registro"},
		Rating:        4.8,
		RatingCount:   23,
		Views:         142,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, doc.ID)

	docs, total, err := testDB.ListDocuments(ctx, "regulamentacoes", "", 20, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	require.NotEmpty(t, docs)

	docs, _, err = testDB.ListDocuments(ctx, "", "mapa", 20, 0)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Contains(t, docs[0].Tags, "MAPA")

	_, total, err = testDB.ListDocuments(ctx, "outra-categoria", "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestNotifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.Listen(ctx, storage.ChannelAnalysis))
	require.NoError(t, testDB.Notify(ctx, storage.ChannelAnalysis, `{"type":"run_progress"}`))

	channel, payload, err := testDB.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelAnalysis, channel)
	assert.JSONEq(t, `{"type":"run_progress"}`, payload)
}
