// Package orchestrator fans a project dossier out to the specialist
// agents, tracks their progress, and folds the terminal runs into a
// persisted analysis. One analysis per project runs at a time; a crash
// of a single agent never takes the others down with it.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ubyagro/biogrow/internal/agent"
	"github.com/ubyagro/biogrow/internal/aggregate"
	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/storage"
)

// ErrAnalysisInFlight rejects a dispatch while the project's previous
// analysis is still running.
var ErrAnalysisInFlight = errors.New("orchestrator: analysis already in flight")

// Analyst is the slice of a specialist the orchestrator drives.
// *agent.Specialist implements it; tests substitute fakes.
type Analyst interface {
	ID() model.AgentID
	Run(ctx context.Context, project model.Project, dossier string, progress agent.ProgressFunc) (model.Assessment, error)
}

// Options tune the dispatch budgets and score thresholds.
type Options struct {
	AgentTimeout   time.Duration
	ProjectTimeout time.Duration
	Thresholds     aggregate.Thresholds
}

// Orchestrator runs project analyses in the background.
type Orchestrator struct {
	db     *storage.DB
	agents map[model.AgentID]Analyst
	opts   Options
	logger *slog.Logger

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// New creates an Orchestrator over the given specialists.
func New(db *storage.DB, agents map[model.AgentID]Analyst, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 3 * time.Minute
	}
	if opts.ProjectTimeout < opts.AgentTimeout {
		opts.ProjectTimeout = opts.AgentTimeout + time.Minute
	}
	if opts.Thresholds == (aggregate.Thresholds{}) {
		opts.Thresholds = aggregate.DefaultThresholds
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		db:      db,
		agents:  agents,
		opts:    opts,
		logger:  logger,
		rootCtx: rootCtx,
		cancel:  cancel,
		active:  make(map[uuid.UUID]struct{}),
	}
}

// Dispatch starts the analysis of a project in the background. The runs
// are initialized before Dispatch returns, so a status poll immediately
// after sees four pending agents. Returns ErrAnalysisInFlight if the
// project is already being analyzed.
func (o *Orchestrator) Dispatch(ctx context.Context, projectID uuid.UUID) error {
	project, err := o.db.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	artifact, err := o.db.GetArtifact(ctx, project.ArtifactID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if _, busy := o.active[projectID]; busy {
		o.mu.Unlock()
		return ErrAnalysisInFlight
	}
	o.active[projectID] = struct{}{}
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.active, projectID)
		o.mu.Unlock()
	}

	if err := o.db.InitRuns(ctx, projectID, model.AllAgents); err != nil {
		release()
		return err
	}
	if err := o.db.SetProjectStatus(ctx, projectID, model.ProjectProcessing); err != nil {
		release()
		return err
	}

	dossier := strings.ToValidUTF8(string(artifact.Data), "")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer release()
		o.analyze(project, dossier)
	}()
	return nil
}

// analyze runs all agents to a terminal state, then aggregates.
func (o *Orchestrator) analyze(project model.Project, dossier string) {
	ctx, cancel := context.WithTimeout(o.rootCtx, o.opts.ProjectTimeout)
	defer cancel()

	var g errgroup.Group
	for _, id := range model.AllAgents {
		g.Go(func() error {
			o.runAgent(ctx, project, id, dossier)
			return nil
		})
	}
	g.Wait()

	// Detached context: the aggregation must land even when the project
	// budget expired mid-run.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(o.rootCtx), 30*time.Second)
	defer finishCancel()
	o.finish(finishCtx, project.ID)
}

func (o *Orchestrator) runAgent(ctx context.Context, project model.Project, id model.AgentID, dossier string) {
	logger := o.logger.With("project_id", project.ID, "agent", id)

	analyst, ok := o.agents[id]
	if !ok {
		o.failRun(ctx, project.ID, id, "agente não configurado")
		return
	}

	if err := o.db.MarkRunProcessing(ctx, project.ID, id, int(o.opts.AgentTimeout.Seconds())); err != nil {
		logger.Error("cannot mark run processing", "error", err)
		return
	}
	o.publish(ctx, model.Event{
		Type:      model.EventRunProgress,
		ProjectID: project.ID,
		AgentID:   id,
		Status:    string(model.RunProcessing),
	})

	start := time.Now()
	agentCtx, cancel := context.WithTimeout(ctx, o.opts.AgentTimeout)
	defer cancel()

	assessment, err := analyst.Run(agentCtx, project, dossier, func(percent int) {
		eta := etaSeconds(start, percent, o.opts.AgentTimeout)
		if uErr := o.db.UpdateRunProgress(ctx, project.ID, id, percent, eta); uErr != nil {
			logger.Warn("progress update dropped", "error", uErr)
			return
		}
		o.publish(ctx, model.Event{
			Type:            model.EventRunProgress,
			ProjectID:       project.ID,
			AgentID:         id,
			Status:          string(model.RunProcessing),
			ProgressPercent: percent,
		})
	})
	if err != nil {
		logger.Warn("agent run failed", "error", err, "elapsed", time.Since(start))
		o.failRun(ctx, project.ID, id, failureReason(err))
		return
	}

	result, err := json.Marshal(assessment)
	if err != nil {
		o.failRun(ctx, project.ID, id, fmt.Sprintf("resultado não serializável: %v", err))
		return
	}
	if err := o.db.CompleteRun(ctx, project.ID, id, result); err != nil {
		logger.Error("cannot complete run", "error", err)
		return
	}
	logger.Info("agent run completed", "status", assessment.Status, "score", assessment.Score, "elapsed", time.Since(start))
	o.publish(ctx, model.Event{
		Type:            model.EventRunTerminal,
		ProjectID:       project.ID,
		AgentID:         id,
		Status:          string(model.RunCompleted),
		ProgressPercent: 100,
	})
}

func (o *Orchestrator) failRun(ctx context.Context, projectID uuid.UUID, id model.AgentID, reason string) {
	// The run may already be terminal; ErrTerminal is not a fault here.
	if err := o.db.FailRun(ctx, projectID, id, reason); err != nil && !errors.Is(err, storage.ErrTerminal) {
		o.logger.Error("cannot fail run", "project_id", projectID, "agent", id, "error", err)
		return
	}
	o.publish(ctx, model.Event{
		Type:      model.EventRunTerminal,
		ProjectID: projectID,
		AgentID:   id,
		Status:    string(model.RunFailed),
	})
}

// finish aggregates the terminal runs and persists the analysis.
func (o *Orchestrator) finish(ctx context.Context, projectID uuid.UUID) {
	logger := o.logger.With("project_id", projectID)

	runs, err := o.db.GetRuns(ctx, projectID)
	if err != nil {
		logger.Error("cannot load runs for aggregation", "error", err)
		o.markFailed(ctx, projectID)
		return
	}
	// Runs the budget killed before they went terminal fail here so the
	// aggregation always sees four terminal states.
	for id, run := range runs {
		if !run.Status.Terminal() {
			o.failRun(ctx, projectID, id, "tempo limite da análise excedido")
		}
	}
	runs, err = o.db.GetRuns(ctx, projectID)
	if err != nil {
		logger.Error("cannot reload runs", "error", err)
		o.markFailed(ctx, projectID)
		return
	}

	analysis, err := aggregate.Aggregate(projectID, runs, o.opts.Thresholds)
	if err != nil {
		logger.Error("aggregation failed", "error", err)
		o.markFailed(ctx, projectID)
		return
	}
	analysis, err = o.db.InsertAnalysis(ctx, analysis)
	if err != nil {
		logger.Error("cannot persist analysis", "error", err)
		o.markFailed(ctx, projectID)
		return
	}
	if err := o.db.SetProjectStatus(ctx, projectID, model.ProjectCompleted); err != nil {
		logger.Error("cannot mark project completed", "error", err)
	}
	logger.Info("analysis ready",
		"version", analysis.Version,
		"overall_score", analysis.OverallScore,
		"recommendation", analysis.Recommendation)
	o.publish(ctx, model.Event{
		Type:      model.EventAnalysisReady,
		ProjectID: projectID,
		Status:    string(analysis.Recommendation),
	})
}

func (o *Orchestrator) markFailed(ctx context.Context, projectID uuid.UUID) {
	if err := o.db.SetProjectStatus(ctx, projectID, model.ProjectFailed); err != nil {
		o.logger.Error("cannot mark project failed", "project_id", projectID, "error", err)
	}
}

// Status returns a non-blocking snapshot of the four agent runs.
func (o *Orchestrator) Status(ctx context.Context, projectID uuid.UUID) (model.StatusResponse, error) {
	project, err := o.db.GetProject(ctx, projectID)
	if err != nil {
		return model.StatusResponse{}, err
	}
	runs, err := o.db.GetRuns(ctx, projectID)
	if err != nil {
		return model.StatusResponse{}, err
	}

	resp := model.StatusResponse{
		ProjectID: projectID,
		Status:    project.Status,
		Progress:  make(map[model.AgentID]model.AgentProgress, len(runs)),
	}
	var sum int
	for id, run := range runs {
		resp.Progress[id] = model.AgentProgress{
			Status:          run.Status,
			ProgressPercent: run.ProgressPercent,
			ETASeconds:      run.ETASeconds,
			FailureReason:   run.FailureReason,
		}
		sum += run.ProgressPercent
	}
	if len(runs) > 0 {
		resp.OverallProgress = sum / len(runs)
	}
	return resp, nil
}

// Wait blocks until all in-flight analyses finish. Used by tests and by
// shutdown after Close.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels in-flight analyses and waits for them to unwind.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// publish fans an event out over the analysis channel. Publication is
// best effort; listeners resync from the runs table.
func (o *Orchestrator) publish(ctx context.Context, ev model.Event) {
	ev.OccurredAt = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		o.logger.Error("cannot encode event", "error", err)
		return
	}
	if err := o.db.Notify(ctx, storage.ChannelAnalysis, string(payload)); err != nil {
		o.logger.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}

// etaSeconds projects the remaining time from the observed pace, capped
// at the agent budget.
func etaSeconds(start time.Time, percent int, budget time.Duration) int {
	if percent <= 0 {
		return int(budget.Seconds())
	}
	if percent >= 100 {
		return 0
	}
	elapsed := time.Since(start)
	eta := time.Duration(int64(elapsed) * int64(100-percent) / int64(percent))
	if eta > budget {
		eta = budget
	}
	return int(eta.Seconds())
}

func failureReason(err error) string {
	var vErr *agent.SchemaValidationError
	switch {
	case errors.As(err, &vErr):
		return "resposta do agente fora do formato esperado"
	case errors.Is(err, context.DeadlineExceeded):
		return "tempo limite excedido"
	default:
		return err.Error()
	}
}
