package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ubyagro/biogrow/internal/extract"
	"github.com/ubyagro/biogrow/internal/generation"
)

// portalURLs are the government pages consulted by consultar_portal.
var portalURLs = []string{
	"https://www.gov.br/agricultura/pt-br/assuntos/insumos-agropecuarios/insumos-agricolas/fertilizantes/legislacao",
}

// openDataStats holds registration statistics per product category,
// shaped like the MAPA open-data aggregates the platform tracks.
var openDataStats = map[string]map[string]any{
	"biodefensivo":    {"registros_similares": 31, "prazo_medio_meses": 24, "taxa_aprovacao_percent": 64},
	"bioestimulante":  {"registros_similares": 12, "prazo_medio_meses": 18, "taxa_aprovacao_percent": 78},
	"adjuvante":       {"registros_similares": 20, "prazo_medio_meses": 12, "taxa_aprovacao_percent": 85},
	"nutricao_foliar": {"registros_similares": 44, "prazo_medio_meses": 10, "taxa_aprovacao_percent": 90},
	"biofertilizante": {"registros_similares": 17, "prazo_medio_meses": 16, "taxa_aprovacao_percent": 74},
}

// RegisterPortalTools wires the web-extraction and open-data tools into
// the registry. The extractor carries its own browser scoping; the
// portal tool's timeout covers the whole batch.
func RegisterPortalTools(r *Registry, extractor *extract.Extractor) error {
	if err := r.Register(Definition{
		Name:        "consultar_portal",
		Description: "Busca informações em portais oficiais (MAPA, ANVISA, IBAMA, INPI) sobre um termo. Retorna conteúdo relevante extraído das páginas.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"termo": map[string]any{
					"type":        "string",
					"description": "Termo de busca, ex: 'bioestimulantes registro'",
				},
			},
			"required": []string{"termo"},
		},
		Timeout: 30 * time.Second,
		Fn: func(ctx context.Context, args string) (string, error) {
			var in struct {
				Termo string `json:"termo"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if in.Termo == "" {
				return "", fmt.Errorf("termo is required")
			}
			return extractor.Extract(ctx, portalURLs,
				fmt.Sprintf("Extrair informações sobre: %s. Focar em requisitos, prazos e custos.", in.Termo),
				generation.Schema{
					Name: "conteudo_portal",
					Definition: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"informacao_relevante": map[string]any{"type": "string"},
							"numero_normativa":     map[string]any{"type": []string{"string", "null"}},
							"data_publicacao":      map[string]any{"type": []string{"string", "null"}},
						},
						"required":             []string{"informacao_relevante"},
						"additionalProperties": false,
					},
				})
		},
	}); err != nil {
		return err
	}

	return r.Register(Definition{
		Name:        "consultar_dados_abertos",
		Description: "Consulta estatísticas de registros do MAPA para uma categoria de produto: quantidade de registros similares, prazo médio e taxa de aprovação.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"categoria": map[string]any{
					"type":        "string",
					"description": "Categoria do produto, ex: 'bioestimulante'",
				},
			},
			"required": []string{"categoria"},
		},
		Fn: func(ctx context.Context, args string) (string, error) {
			var in struct {
				Categoria string `json:"categoria"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			stats, ok := openDataStats[in.Categoria]
			if !ok {
				return "", fmt.Errorf("categoria desconhecida: %q", in.Categoria)
			}
			out, err := json.Marshal(stats)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	})
}
