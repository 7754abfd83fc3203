package graphrag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
)

func etfEntity(name string) models.GroundedEntity {
	return models.GroundedEntity{Name: name, Type: models.EntityTypeETF, Confidence: 1.0}
}

func companyEntity(name string) models.GroundedEntity {
	return models.GroundedEntity{Name: name, Type: models.EntityTypeCompany, Confidence: 1.0}
}

func sectorEntity(name string, confidence float64) models.GroundedEntity {
	return models.GroundedEntity{Name: name, Type: models.EntityTypeSector, Confidence: confidence}
}

func percentEntity(value float64) models.GroundedEntity {
	return models.GroundedEntity{
		Name: "20.0%", Type: models.EntityTypePercent, Confidence: 1.0,
		Properties: map[string]any{"value": value},
	}
}

func TestClassifyAcceptsValidLLMLabel(t *testing.T) {
	llm := &fakeLLM{classifyResponse: `{"intent": "etf_exposure_to_company", "confidence": 0.92}`}
	ic := NewIntentClassifier(llm, time.Hour)

	result := ic.Classify(context.Background(), "SPY's exposure to AAPL",
		[]models.GroundedEntity{etfEntity("SPY"), companyEntity("AAPL")})

	if result.Intent != IntentETFExposureToCompany {
		t.Fatalf("expected etf_exposure_to_company, got %s", result.Intent)
	}
	if result.Confidence != 0.92 {
		t.Fatalf("expected confidence 0.92, got %v", result.Confidence)
	}
	if len(result.RequiredParameters) != 2 {
		t.Fatalf("expected 2 required parameters, got %v", result.RequiredParameters)
	}
}

func TestClassifyParsesFencedJSON(t *testing.T) {
	llm := &fakeLLM{classifyResponse: "```json\n{\"intent\": \"sector_exposure\", \"confidence\": 0.8}\n```"}
	ic := NewIntentClassifier(llm, time.Hour)

	result := ic.Classify(context.Background(), "SPY sector breakdown",
		[]models.GroundedEntity{etfEntity("SPY")})

	if result.Intent != IntentSectorExposure {
		t.Fatalf("expected sector_exposure, got %s", result.Intent)
	}
}

func TestClassifyFallsBackOnGarbage(t *testing.T) {
	llm := &fakeLLM{classifyResponse: "I am not sure what you mean."}
	ic := NewIntentClassifier(llm, time.Hour)

	result := ic.Classify(context.Background(), "overlap between SPY and QQQ jaccard",
		[]models.GroundedEntity{etfEntity("SPY"), etfEntity("QQQ")})

	if result.Intent != IntentETFOverlapJaccard {
		t.Fatalf("expected rule fallback to etf_overlap_jaccard, got %s", result.Intent)
	}
}

func TestClassifyFallsBackOnUnknownIntent(t *testing.T) {
	llm := &fakeLLM{classifyResponse: `{"intent": "etf_astrology", "confidence": 0.99}`}
	ic := NewIntentClassifier(llm, time.Hour)

	result := ic.Classify(context.Background(), "overlap between SPY and QQQ",
		[]models.GroundedEntity{etfEntity("SPY"), etfEntity("QQQ")})

	if result.Intent != IntentETFOverlapWeighted {
		t.Fatalf("expected etf_overlap_weighted, got %s", result.Intent)
	}
}

func TestClassifyRejectsEntityMismatch(t *testing.T) {
	// company_rankings needs a company and no ETF; rules take over.
	llm := &fakeLLM{classifyResponse: `{"intent": "company_rankings", "confidence": 0.9}`}
	ic := NewIntentClassifier(llm, time.Hour)

	result := ic.Classify(context.Background(), "how similar are SPY and QQQ",
		[]models.GroundedEntity{etfEntity("SPY"), etfEntity("QQQ")})

	if result.Intent != IntentETFOverlapWeighted {
		t.Fatalf("expected etf_overlap_weighted after mismatch, got %s", result.Intent)
	}
}

func TestClassifyLLMErrorUsesRules(t *testing.T) {
	llm := &fakeLLM{classifyErr: errors.New("model offline")}
	ic := NewIntentClassifier(llm, time.Hour)

	result := ic.Classify(context.Background(), "which ETFs hold AAPL",
		[]models.GroundedEntity{companyEntity("AAPL")})

	if result.Intent != IntentCompanyRankings {
		t.Fatalf("expected company_rankings, got %s", result.Intent)
	}
}

func TestClassifyNoEntitiesDefaultsToGeneral(t *testing.T) {
	llm := &fakeLLM{classifyErr: errors.New("model offline")}
	ic := NewIntentClassifier(llm, time.Hour)

	result := ic.Classify(context.Background(), "what is the weather today", nil)

	if result.Intent != IntentGeneralLLM {
		t.Fatalf("expected general_llm, got %s", result.Intent)
	}
	if result.Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %v", result.Confidence)
	}
}

func TestClassifyCachesResults(t *testing.T) {
	llm := &fakeLLM{classifyResponse: `{"intent": "sector_exposure", "confidence": 0.85}`}
	ic := NewIntentClassifier(llm, time.Hour)
	entities := []models.GroundedEntity{etfEntity("SPY")}

	first := ic.Classify(context.Background(), "SPY sector breakdown", entities)
	second := ic.Classify(context.Background(), "SPY sector breakdown", entities)

	if first.Intent != second.Intent {
		t.Fatalf("cached result differs: %s vs %s", first.Intent, second.Intent)
	}
	if calls, _ := llm.counts(); calls != 1 {
		t.Fatalf("expected 1 LLM call, got %d", calls)
	}
}

func TestFallbackRuleLadder(t *testing.T) {
	llm := &fakeLLM{classifyErr: errors.New("down")}
	ic := NewIntentClassifier(llm, time.Hour)

	cases := []struct {
		name     string
		query    string
		entities []models.GroundedEntity
		want     string
	}{
		{
			name:     "exposure trigger word",
			query:    "SPY exposure to AAPL",
			entities: []models.GroundedEntity{etfEntity("SPY"), companyEntity("AAPL")},
			want:     IntentETFExposureToCompany,
		},
		{
			name:     "which etf with sector",
			query:    "which ETF is heavy on technology",
			entities: []models.GroundedEntity{sectorEntity("Technology", 0.8)},
			want:     IntentETFsBySectorThreshold,
		},
		{
			name:     "two etfs one company",
			query:    "does SPY or QQQ own more AAPL",
			entities: []models.GroundedEntity{etfEntity("SPY"), etfEntity("QQQ"), companyEntity("AAPL")},
			want:     IntentCompanyRankings,
		},
		{
			name:     "etf and sector",
			query:    "SPY technology breakdown",
			entities: []models.GroundedEntity{etfEntity("SPY"), sectorEntity("Technology", 0.8)},
			want:     IntentSectorExposure,
		},
		{
			name:     "sector and percent",
			query:    "funds above 20% in technology",
			entities: []models.GroundedEntity{sectorEntity("Technology", 0.8), percentEntity(0.2)},
			want:     IntentETFsBySectorThreshold,
		},
		{
			name:  "count with top",
			query: "show the top 10 holdings",
			entities: []models.GroundedEntity{{
				Name: "10", Type: models.EntityTypeCount, Confidence: 1.0,
				Properties: map[string]any{"value": 10},
			}},
			want: IntentTopHoldingsSubgraph,
		},
		{
			name:     "nothing matches",
			query:    "tell me a story",
			entities: nil,
			want:     IntentGeneralLLM,
		},
	}

	for _, tc := range cases {
		result := ic.fallback(tc.query, tc.entities)
		if result.Intent != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, result.Intent)
		}
	}
}

func TestBalancedJSONSpan(t *testing.T) {
	span, ok := balancedJSONSpan(`noise {"intent": {"nested": 1}, "confidence": 0.9} trailing`)
	if !ok {
		t.Fatal("expected balanced span")
	}
	if span != `{"intent": {"nested": 1}, "confidence": 0.9}` {
		t.Fatalf("unexpected span: %q", span)
	}

	if _, ok := balancedJSONSpan("no braces here"); ok {
		t.Fatal("expected no span")
	}
}
