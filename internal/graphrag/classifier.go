package graphrag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	log "github.com/sirupsen/logrus"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/cache"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/ollama"
)

const classificationPrompt = `You are an ETF investment analysis assistant. Classify the user's query into ONE of the following intents. Return ONLY a JSON object with the intent key and confidence score.

Available intents:
- etf_exposure_to_company: Questions about how much a SPECIFIC ETF holds of a SPECIFIC COMPANY (e.g., "SPY's exposure to AAPL", "What percent of QQQ is Microsoft?")
- etf_overlap_weighted: Questions about weighted overlap, combined weights, or top shared holdings between TWO ETFs
- etf_overlap_jaccard: Questions about Jaccard similarity, count-based overlap, or percentage of shared holdings between ETFs
- sector_exposure: Questions about sector distribution within a SPECIFIC ETF (e.g., "SPY's tech sector exposure", "QQQ's sector breakdown") - NOT for individual companies
- etfs_by_sector_threshold: Questions asking WHICH ETFs meet sector exposure criteria (like "Which ETFs have 20%% tech exposure?")
- top_holdings_subgraph: Questions about top holdings for visualization
- company_rankings: Questions about which ETFs hold a specific company
- general_llm: General questions, financial advice, or topics outside ETF analysis

User Query: "%s"

Grounded Entities: %s

Return JSON format:
{"intent": "intent_key", "confidence": 0.95}

Guidelines:
- CRITICAL: If query asks about ONE ETF's exposure to ONE company (e.g., "SPY's exposure to AAPL") use "etf_exposure_to_company"
- CRITICAL: If query asks "which ETFs" or "what ETFs" with sector criteria use "etfs_by_sector_threshold"
- CRITICAL: If query asks about a specific ETF's sector exposure (e.g., "SPY's tech exposure") use "sector_exposure"
- Company symbols like AAPL, MSFT, GOOGL should trigger "etf_exposure_to_company" when paired with an ETF
- Use entity information to improve classification accuracy
- Confidence should be 0.3-1.0
- If multiple intents could apply, choose the most specific one
- Consider the presence of ETF tickers, company symbols, and sector names`

// IntentClassifier routes a question to a template key. The LLM is primary;
// its label must survive a JSON parse and an intent-entity consistency check,
// otherwise a rule ladder over entity counts and trigger words decides.
type IntentClassifier struct {
	llm   Generator
	cache *cache.TTLCache
}

// NewIntentClassifier creates a classifier with its own classification cache.
func NewIntentClassifier(llm Generator, cacheTTL time.Duration) *IntentClassifier {
	return &IntentClassifier{
		llm:   llm,
		cache: cache.NewTTLCache(cacheTTL, 100),
	}
}

type llmClassification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Classify returns the intent for a query given its grounded entities.
func (ic *IntentClassifier) Classify(ctx context.Context, query string, entities []models.GroundedEntity) models.IntentResult {
	key := classificationCacheKey(query, entities)
	if v, ok := ic.cache.Get(key); ok {
		cached := v.(models.IntentResult)
		log.WithField("intent", cached.Intent).Debug("Using cached intent classification")
		// Entities are request-scoped; refresh them on the cached result.
		cached.Entities = entities
		return cached
	}

	result, cacheable := ic.classify(ctx, query, entities)
	if cacheable {
		ic.cache.Set(key, result)
	}
	return result
}

func (ic *IntentClassifier) classify(ctx context.Context, query string, entities []models.GroundedEntity) (models.IntentResult, bool) {
	prompt := fmt.Sprintf(classificationPrompt, query, entitySummary(entities))

	response, err := ic.llm.Generate(ctx, prompt, ollama.Options{
		Temperature: 0.05,
		MaxTokens:   50,
		NumPredict:  50,
		TopK:        10,
		TopP:        0.8,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"error": err.Error(),
			"query": truncate(query, 100),
		}).Warn("Intent classification LLM call failed, using rules")
		return ic.fallback(query, entities), ctx.Err() == nil
	}

	classification, ok := parseClassification(response)
	switch {
	case !ok || !HasIntent(classification.Intent):
		log.WithField("response", truncate(response, 200)).Warn("LLM returned unknown intent")
		return ic.fallback(query, entities), true
	case !intentMatchesEntities(classification.Intent, entities, query):
		log.WithFields(log.Fields{
			"intent":   classification.Intent,
			"entities": entityNames(entities),
		}).Warn("LLM intent does not match available entities")
		return ic.fallback(query, entities), true
	}

	result := models.IntentResult{
		Intent:             classification.Intent,
		Confidence:         classification.Confidence,
		Entities:           entities,
		RequiredParameters: requiredParameters(classification.Intent),
	}

	log.WithFields(log.Fields{
		"intent":     result.Intent,
		"confidence": result.Confidence,
	}).Info("Intent classified")

	return result, true
}

// parseClassification extracts the first balanced {...} span from untrusted
// LLM output, repairs it, and decodes it. On failure it falls back to
// scanning the reply for a known intent key.
func parseClassification(response string) (llmClassification, bool) {
	if span, ok := balancedJSONSpan(response); ok {
		repaired, err := jsonrepair.RepairJSON(span)
		if err != nil {
			repaired = span
		}
		var c llmClassification
		if err := json.Unmarshal([]byte(repaired), &c); err == nil && c.Intent != "" {
			return c, true
		}
	}

	// Free-text scrape: the model sometimes answers in prose.
	lower := strings.ToLower(response)
	for _, intent := range ListIntents() {
		if strings.Contains(lower, intent) {
			return llmClassification{Intent: intent, Confidence: 0.7}, true
		}
	}
	return llmClassification{}, false
}

func balancedJSONSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// fallback is the priority-ordered rule ladder; first match wins.
func (ic *IntentClassifier) fallback(query string, entities []models.GroundedEntity) models.IntentResult {
	lower := strings.ToLower(query)
	counts := countEntities(entities)

	var intent string
	var confidence float64

	switch {
	case counts.etfs == 1 && counts.companies == 1 &&
		(strings.Contains(lower, "exposure") || strings.Contains(lower, "hold") || strings.Contains(lower, "position")):
		intent, confidence = IntentETFExposureToCompany, 0.95
	case hasWhichETF(lower) && counts.companies >= 1:
		intent, confidence = IntentCompanyRankings, 0.9
	case hasWhichETF(lower) && counts.sectors >= 1:
		intent, confidence = IntentETFsBySectorThreshold, 0.9
	case counts.etfs >= 2 && counts.companies == 1:
		intent, confidence = IntentCompanyRankings, 0.85
	case counts.etfs == 1 && counts.companies == 1:
		intent, confidence = IntentETFExposureToCompany, 0.85
	case counts.etfs == 2 && (strings.Contains(lower, "overlap") || strings.Contains(lower, "similar")):
		if strings.Contains(lower, "jaccard") || strings.Contains(lower, "count") || strings.Contains(lower, "percentage") {
			intent = IntentETFOverlapJaccard
		} else {
			intent = IntentETFOverlapWeighted
		}
		confidence = 0.8
	case counts.etfs == 1 && counts.sectors >= 1:
		intent, confidence = IntentSectorExposure, 0.8
	case counts.sectors >= 1 && counts.percents > 0:
		intent, confidence = IntentETFsBySectorThreshold, 0.75
	case counts.companies == 1 && counts.etfs == 0:
		intent, confidence = IntentCompanyRankings, 0.8
	case counts.counts > 0 && (strings.Contains(lower, "top") || strings.Contains(lower, "holdings")):
		intent, confidence = IntentTopHoldingsSubgraph, 0.75
	default:
		intent, confidence = IntentGeneralLLM, 0.8
	}

	log.WithFields(log.Fields{
		"intent":        intent,
		"confidence":    confidence,
		"etf_count":     counts.etfs,
		"company_count": counts.companies,
	}).Info("Fallback classification used")

	return models.IntentResult{
		Intent:             intent,
		Confidence:         confidence,
		Entities:           entities,
		RequiredParameters: requiredParameters(intent),
	}
}

// intentMatchesEntities accepts the LLM label only when the grounded
// entities make sense for it.
func intentMatchesEntities(intent string, entities []models.GroundedEntity, query string) bool {
	lower := strings.ToLower(query)
	counts := countEntities(entities)

	switch intent {
	case IntentETFExposureToCompany:
		// One ETF with at most one company: a missing company is reported
		// downstream as a missing parameter rather than reclassified.
		return counts.etfs == 1 && counts.companies <= 1
	case IntentETFOverlapWeighted, IntentETFOverlapJaccard:
		return counts.etfs >= 2
	case IntentSectorExposure:
		return counts.etfs >= 1 && counts.companies == 0
	case IntentETFsBySectorThreshold:
		return counts.sectors >= 1 && counts.companies == 0 &&
			(hasWhichETF(lower) || counts.percents > 0)
	case IntentCompanyRankings:
		return counts.companies >= 1 && counts.etfs == 0
	case IntentGeneralLLM:
		return true
	}
	return true
}

type entityCounts struct {
	etfs      int
	companies int
	sectors   int
	percents  int
	counts    int
}

func countEntities(entities []models.GroundedEntity) entityCounts {
	var c entityCounts
	for _, e := range entities {
		switch e.Type {
		case models.EntityTypeETF:
			c.etfs++
		case models.EntityTypeCompany:
			c.companies++
		case models.EntityTypeSector:
			c.sectors++
		case models.EntityTypePercent:
			c.percents++
		case models.EntityTypeCount:
			c.counts++
		}
	}
	return c
}

func hasWhichETF(lowerQuery string) bool {
	return strings.Contains(lowerQuery, "which etf") || strings.Contains(lowerQuery, "what etf")
}

func requiredParameters(intent string) []string {
	t, err := GetTemplate(intent)
	if err != nil {
		log.WithField("intent", intent).Warn("Unknown intent for parameter lookup")
		return nil
	}
	return t.RequiredParams
}

func entitySummary(entities []models.GroundedEntity) string {
	if len(entities) == 0 {
		return "No entities found"
	}

	group := func(t models.EntityType) []string {
		var names []string
		for _, e := range entities {
			if e.Type == t {
				names = append(names, e.Name)
			}
		}
		return names
	}

	var parts []string
	if etfs := group(models.EntityTypeETF); len(etfs) > 0 {
		parts = append(parts, "ETFs: "+strings.Join(etfs, ", "))
	}
	if companies := group(models.EntityTypeCompany); len(companies) > 0 {
		parts = append(parts, "Companies: "+strings.Join(companies, ", "))
	}
	if sectors := group(models.EntityTypeSector); len(sectors) > 0 {
		parts = append(parts, "Sectors: "+strings.Join(sectors, ", "))
	}
	numbers := append(group(models.EntityTypePercent), group(models.EntityTypeCount)...)
	if len(numbers) > 0 {
		parts = append(parts, "Numbers: "+strings.Join(numbers, ", "))
	}

	if len(parts) == 0 {
		return "No specific entities"
	}
	return strings.Join(parts, "; ")
}

func entityNames(entities []models.GroundedEntity) []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return names
}

func classificationCacheKey(query string, entities []models.GroundedEntity) string {
	names := entityNames(entities)
	sort.Strings(names)
	input := strings.ToLower(strings.TrimSpace(query)) + "|" + strings.Join(names, ",")
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
