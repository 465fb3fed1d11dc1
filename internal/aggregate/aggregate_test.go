package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubyagro/biogrow/internal/model"
)

func completedRun(t *testing.T, status model.TrafficLight, score int, alertas ...string) model.AgentRun {
	t.Helper()
	result, err := json.Marshal(model.Assessment{
		Status:  status,
		Score:   score,
		Resumo:  "resumo",
		Alertas: alertas,
	})
	require.NoError(t, err)
	return model.AgentRun{Status: model.RunCompleted, Result: result}
}

func failedRun(reason string) model.AgentRun {
	return model.AgentRun{Status: model.RunFailed, FailureReason: &reason}
}

func TestAggregateAmareloHoldsBackViable(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVerde, 90),
		model.AgentMerc: completedRun(t, model.LightVerde, 85),
		model.AgentPat:  completedRun(t, model.LightAmarelo, 75, "Patente US'123 exige contorno"),
		model.AgentDex:  completedRun(t, model.LightVerde, 88),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)

	assert.Equal(t, 84, got.OverallScore)
	assert.Equal(t, model.RecViavelComAjustes, got.Recommendation)
	assert.Contains(t, got.Alerts, "Pat: Patente US'123 exige contorno")
	require.Len(t, got.ActionItems, 1)
	assert.Contains(t, got.ActionItems[0], "Pat")
	assert.Len(t, got.Agents, 4)
}

func TestAggregateFailedAgentDowngradesOneTier(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVerde, 90),
		model.AgentMerc: completedRun(t, model.LightVerde, 85),
		model.AgentPat:  failedRun("tempo limite excedido"),
		model.AgentDex:  completedRun(t, model.LightVerde, 88),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)

	// Mean over the three completed agents is 87, VIAVEL before the
	// failure downgrade.
	assert.Equal(t, 87, got.OverallScore)
	assert.Equal(t, model.RecViavelComAjustes, got.Recommendation)

	assert.Contains(t, got.Alerts, "análise de Pat (Patentes) indisponível nesta avaliação")

	pat := got.Agents[model.AgentPat]
	assert.True(t, pat.Failed)
	assert.Equal(t, "tempo limite excedido", pat.Summary)
}

func TestAggregateVermelhoNeverViable(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVermelho, 95),
		model.AgentMerc: completedRun(t, model.LightVerde, 95),
		model.AgentPat:  completedRun(t, model.LightVerde, 95),
		model.AgentDex:  completedRun(t, model.LightVerde, 95),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)
	assert.Equal(t, 95, got.OverallScore)
	assert.Equal(t, model.RecViavelComAjustes, got.Recommendation)
}

func TestAggregateDowngradesCompose(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVermelho, 95),
		model.AgentMerc: completedRun(t, model.LightVerde, 95),
		model.AgentPat:  failedRun("erro"),
		model.AgentDex:  completedRun(t, model.LightVerde, 95),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)
	// One tier for the vermelho verdict, one more for the failure.
	assert.Equal(t, model.RecNaoViavel, got.Recommendation)
}

func TestAggregateDowngradeFloorsAtNaoViavel(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVermelho, 20),
		model.AgentMerc: completedRun(t, model.LightVermelho, 30),
		model.AgentPat:  failedRun("erro"),
		model.AgentDex:  failedRun("erro"),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)
	assert.Equal(t, 25, got.OverallScore)
	assert.Equal(t, model.RecNaoViavel, got.Recommendation)
}

func TestAggregateAllFailedIsInconclusive(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  failedRun("erro"),
		model.AgentMerc: failedRun("erro"),
		model.AgentPat:  failedRun("erro"),
		model.AgentDex:  failedRun("erro"),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)
	assert.Equal(t, 0, got.OverallScore)
	assert.Equal(t, model.RecNaoViavel, got.Recommendation)
	assert.Contains(t, got.Alerts, "Análise inconclusiva: nenhum agente concluiu a avaliação.")
}

func TestAggregateRejectsNonTerminalRun(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVerde, 90),
		model.AgentMerc: completedRun(t, model.LightVerde, 90),
		model.AgentPat:  completedRun(t, model.LightVerde, 90),
		model.AgentDex:  {Status: model.RunProcessing},
	}

	_, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	assert.Error(t, err)
}

func TestAggregateMissingRun(t *testing.T) {
	_, err := Aggregate(uuid.New(), map[model.AgentID]model.AgentRun{}, DefaultThresholds)
	assert.Error(t, err)
}

func TestAggregateCustomThresholds(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVerde, 80),
		model.AgentMerc: completedRun(t, model.LightVerde, 80),
		model.AgentPat:  completedRun(t, model.LightVerde, 80),
		model.AgentDex:  completedRun(t, model.LightVerde, 80),
	}

	got, err := Aggregate(uuid.New(), runs, Thresholds{ViableMin: 80, AdjustMin: 40})
	require.NoError(t, err)
	assert.Equal(t, model.RecViavel, got.Recommendation)
}

func TestAggregateIsDeterministic(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVerde, 90, "a1"),
		model.AgentMerc: completedRun(t, model.LightAmarelo, 60, "a2"),
		model.AgentPat:  completedRun(t, model.LightVerde, 70),
		model.AgentDex:  completedRun(t, model.LightAmarelo, 55, "a3", "a4"),
	}

	first, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)
	for range 5 {
		again, err := Aggregate(uuid.New(), runs, DefaultThresholds)
		require.NoError(t, err)
		assert.Equal(t, first.OverallScore, again.OverallScore)
		assert.Equal(t, first.Recommendation, again.Recommendation)
		assert.Equal(t, first.Alerts, again.Alerts)
		assert.Equal(t, first.ActionItems, again.ActionItems)
	}
}

func TestAggregateMergesFinancialProjection(t *testing.T) {
	withDetails := func(status model.TrafficLight, score int, detalhes map[string]any) model.AgentRun {
		result, err := json.Marshal(model.Assessment{
			Status:   status,
			Score:    score,
			Resumo:   "resumo",
			Detalhes: detalhes,
		})
		require.NoError(t, err)
		return model.AgentRun{Status: model.RunCompleted, Result: result}
	}

	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle: completedRun(t, model.LightVerde, 90),
		model.AgentMerc: withDetails(model.LightVerde, 85, map[string]any{
			"projecao_financeira": map[string]any{
				"receita_ano1_brl": 1200000.0,
				"premissas":        "5% do mercado endereçável em soja",
			},
		}),
		model.AgentPat: completedRun(t, model.LightVerde, 88),
		model.AgentDex: withDetails(model.LightVerde, 86, map[string]any{
			"projecao_financeira": map[string]any{
				"custo_ensaios_brl": 300000.0,
				"premissas":         "dois ensaios adicionais em MT",
			},
		}),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)

	require.NotNil(t, got.FinancialProjection)
	assert.Equal(t, 1200000.0, got.FinancialProjection["receita_ano1_brl"])
	assert.Equal(t, 300000.0, got.FinancialProjection["custo_ensaios_brl"])
	// The market agent's premissas win the key collision.
	assert.Equal(t, "5% do mercado endereçável em soja", got.FinancialProjection["premissas"])
}

func TestAggregateNoFinancialProjection(t *testing.T) {
	runs := map[model.AgentID]model.AgentRun{
		model.AgentAle:  completedRun(t, model.LightVerde, 90),
		model.AgentMerc: completedRun(t, model.LightVerde, 85),
		model.AgentPat:  completedRun(t, model.LightVerde, 88),
		model.AgentDex:  completedRun(t, model.LightVerde, 86),
	}

	got, err := Aggregate(uuid.New(), runs, DefaultThresholds)
	require.NoError(t, err)
	assert.Nil(t, got.FinancialProjection)
}
