package graphrag

import (
	"strings"
	"testing"
)

func TestAllTemplatesPassSecurityValidation(t *testing.T) {
	guards := testGuards()

	for _, intent := range ListIntents() {
		if intent == IntentGeneralLLM {
			continue
		}
		template, err := GetTemplate(intent)
		if err != nil {
			t.Fatalf("GetTemplate(%s): %v", intent, err)
		}
		if err := guards.ValidateTemplate(template.Query); err != nil {
			t.Fatalf("template %s failed security validation: %v", intent, err)
		}
	}
}

func TestAllTemplatesHaveLimit(t *testing.T) {
	for _, intent := range ListIntents() {
		if intent == IntentGeneralLLM {
			continue
		}
		template, _ := GetTemplate(intent)
		if !strings.Contains(strings.ToUpper(template.Query), "LIMIT") {
			t.Fatalf("template %s has no LIMIT clause", intent)
		}
	}
}

func TestGetTemplateUnknownIntent(t *testing.T) {
	if _, err := GetTemplate("made_up_intent"); err == nil {
		t.Fatal("expected error for unknown intent")
	}
	if HasIntent("made_up_intent") {
		t.Fatal("HasIntent should reject unknown intent")
	}
}

func TestCatalogueKeys(t *testing.T) {
	expected := []string{
		IntentCompanyRankings,
		IntentComprehensiveData,
		IntentETFExposureToCompany,
		IntentETFOverlapJaccard,
		IntentETFOverlapWeighted,
		IntentETFsBySectorThreshold,
		IntentGeneralLLM,
		IntentSectorExposure,
		IntentTopHoldingsSubgraph,
	}
	keys := ListIntents()
	if len(keys) != len(expected) {
		t.Fatalf("expected %d intents, got %d", len(expected), len(keys))
	}
	for i, k := range expected {
		if keys[i] != k {
			t.Fatalf("intent %d: expected %s, got %s", i, k, keys[i])
		}
	}
}

func TestRequiredParams(t *testing.T) {
	cases := map[string][]string{
		IntentETFExposureToCompany:  {"ticker", "symbol"},
		IntentETFOverlapWeighted:    {"ticker1", "ticker2"},
		IntentETFOverlapJaccard:     {"ticker1", "ticker2"},
		IntentSectorExposure:        {"ticker"},
		IntentETFsBySectorThreshold: {"sector", "threshold"},
		IntentTopHoldingsSubgraph:   {"ticker", "top_n"},
		IntentCompanyRankings:       {"symbol"},
		IntentGeneralLLM:            nil,
		IntentComprehensiveData:     nil,
	}

	for intent, params := range cases {
		template, err := GetTemplate(intent)
		if err != nil {
			t.Fatalf("GetTemplate(%s): %v", intent, err)
		}
		if len(template.RequiredParams) != len(params) {
			t.Fatalf("%s: expected params %v, got %v", intent, params, template.RequiredParams)
		}
		for i, p := range params {
			if template.RequiredParams[i] != p {
				t.Fatalf("%s: expected params %v, got %v", intent, params, template.RequiredParams)
			}
		}
	}
}

func TestMissingParams(t *testing.T) {
	template, _ := GetTemplate(IntentETFExposureToCompany)
	missing := template.MissingParams(map[string]any{"ticker": "SPY"})
	if len(missing) != 1 || missing[0] != "symbol" {
		t.Fatalf("expected missing [symbol], got %v", missing)
	}
}
