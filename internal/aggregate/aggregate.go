// Package aggregate turns the four specialist runs into a single
// viability verdict. The computation is deterministic: the same runs
// always produce the same analysis.
package aggregate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ubyagro/biogrow/internal/model"
)

// Thresholds are the score cut lines for the recommendation tiers.
// Scores at or above ViableMin read VIAVEL, at or above AdjustMin read
// VIAVEL_COM_AJUSTES, everything below reads NAO_VIAVEL.
type Thresholds struct {
	ViableMin int
	AdjustMin int
}

// DefaultThresholds are the production cut lines.
var DefaultThresholds = Thresholds{ViableMin: 85, AdjustMin: 50}

var recommendationText = map[model.Recommendation]string{
	model.RecViavel:           "Projeto viável. Recomendamos avançar para a próxima fase do pipeline.",
	model.RecViavelComAjustes: "Projeto viável com ajustes. Endereçar os pontos de atenção antes de avançar.",
	model.RecNaoViavel:        "Projeto não viável nas condições atuais. Rever premissas antes de reapresentar.",
}

// Aggregate combines the terminal agent runs into an analysis. Failed
// runs are excluded from the score mean; each downgrade cause (a
// vermelho verdict, an agent failure) lowers the recommendation one
// tier at most once, never below NAO_VIAVEL.
func Aggregate(projectID uuid.UUID, runs map[model.AgentID]model.AgentRun, th Thresholds) (model.Analysis, error) {
	analysis := model.Analysis{
		ProjectID:   projectID,
		Agents:      make(map[model.AgentID]model.AgentOutcome, len(model.AllAgents)),
		Alerts:      []string{},
		ActionItems: []string{},
		AnalyzedAt:  time.Now().UTC(),
	}

	var (
		scoreSum  int
		completed int
		hasVeto   bool
		failed    []model.AgentID
	)

	for _, id := range model.AllAgents {
		run, ok := runs[id]
		if !ok {
			return model.Analysis{}, fmt.Errorf("aggregate: missing run for agent %s", id)
		}
		info := model.AgentDirectory[id]
		outcome := model.AgentOutcome{
			AgentID:   id,
			AgentName: info.Name,
			AgentRole: info.Domain,
		}

		switch run.Status {
		case model.RunCompleted:
			var a model.Assessment
			if err := json.Unmarshal(run.Result, &a); err != nil {
				return model.Analysis{}, fmt.Errorf("aggregate: agent %s result: %w", id, err)
			}
			outcome.Status = a.Status
			outcome.Score = a.Score
			outcome.Summary = a.Resumo
			outcome.Details = a.Detalhes

			scoreSum += a.Score
			completed++
			if a.Status == model.LightVermelho {
				hasVeto = true
			}
			for _, alerta := range a.Alertas {
				analysis.Alerts = append(analysis.Alerts, fmt.Sprintf("%s: %s", info.Name, alerta))
			}
			switch a.Status {
			case model.LightAmarelo:
				analysis.ActionItems = append(analysis.ActionItems,
					fmt.Sprintf("Endereçar os pontos de atenção apontados por %s (%s)", info.Name, info.Domain))
			case model.LightVermelho:
				analysis.ActionItems = append(analysis.ActionItems,
					fmt.Sprintf("Resolver o bloqueio apontado por %s (%s)", info.Name, info.Domain))
			}
		case model.RunFailed:
			outcome.Failed = true
			if run.FailureReason != nil {
				outcome.Summary = *run.FailureReason
			}
			failed = append(failed, id)
		default:
			return model.Analysis{}, fmt.Errorf("aggregate: agent %s not terminal (status %s)", id, run.Status)
		}

		analysis.Agents[id] = outcome
	}

	analysis.FinancialProjection = financialProjection(analysis.Agents)

	if completed == 0 {
		analysis.OverallScore = 0
		analysis.Recommendation = model.RecNaoViavel
		analysis.Alerts = append(analysis.Alerts,
			"Análise inconclusiva: nenhum agente concluiu a avaliação.")
		analysis.RecommendationText = recommendationText[analysis.Recommendation]
		return analysis, nil
	}

	// Integer division floors the equal-weight mean.
	analysis.OverallScore = scoreSum / completed

	rec := tierFor(analysis.OverallScore, th)
	if hasVeto {
		rec = downgrade(rec)
	}
	if len(failed) > 0 {
		rec = downgrade(rec)
		for _, id := range failed {
			info := model.AgentDirectory[id]
			analysis.Alerts = append(analysis.Alerts,
				fmt.Sprintf("análise de %s (%s) indisponível nesta avaliação", info.Name, info.Domain))
		}
	}
	analysis.Recommendation = rec
	analysis.RecommendationText = recommendationText[rec]
	return analysis, nil
}

// financialProjection merges the projecao_financeira blocks the market
// and data science agents optionally report. The market agent's numbers
// win on key collisions.
func financialProjection(agents map[model.AgentID]model.AgentOutcome) map[string]any {
	merged := map[string]any{}
	for _, id := range []model.AgentID{model.AgentDex, model.AgentMerc} {
		outcome, ok := agents[id]
		if !ok || outcome.Details == nil {
			continue
		}
		block, ok := outcome.Details["projecao_financeira"].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range block {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func tierFor(score int, th Thresholds) model.Recommendation {
	switch {
	case score >= th.ViableMin:
		return model.RecViavel
	case score >= th.AdjustMin:
		return model.RecViavelComAjustes
	default:
		return model.RecNaoViavel
	}
}

func downgrade(r model.Recommendation) model.Recommendation {
	switch r {
	case model.RecViavel:
		return model.RecViavelComAjustes
	default:
		return model.RecNaoViavel
	}
}
