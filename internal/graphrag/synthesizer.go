package graphrag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/ollama"
)

const (
	standardWordLimit      = 400
	comprehensiveWordLimit = 500
	summaryRowLimit        = 5
	comprehensiveETFLimit  = 6
)

const synthesisPrompt = `You are a professional ETF analyst. Analyze the data and provide investment insights.

User Query: %s
Intent: %s
Results Summary: %s

Provide a professional analysis that explains what this data means for investors. Include the specific percentages and explain the investment significance. Use precise financial terminology. Keep response comprehensive yet focused (150-300 words).

Analysis:`

const comprehensivePrompt = `You are a senior ETF strategist with comprehensive market intelligence. Provide expert analysis that transforms data into actionable investment insights.

User Query: %s
Intent Classification: %s (confidence: %.2f)
Relevant Entities: %s

Comprehensive ETF Intelligence:
%s

STRATEGIC ANALYSIS FRAMEWORK:
- Synthesize data into clear investment implications and portfolio insights
- Quantify concentration risks, diversification benefits, and sector exposures
- Provide comparative context across ETFs with specific percentages
- Highlight market positioning and competitive advantages/disadvantages
- Use professional investment terminology with practical applications
- Deliver 200-400 words of comprehensive, high-value analysis

Professional Investment Analysis:`

var numberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+\.?\d*%`),
	regexp.MustCompile(`\$[\d,]+\.?\d*`),
	regexp.MustCompile(`\b\d+\.\d+\b`),
	regexp.MustCompile(`\b\d+\b`),
}

// Synthesizer turns template rows into a user-readable answer with a
// guaranteed numeric literal, falling back to a deterministic sentence when
// the model is unavailable.
type Synthesizer struct {
	llm         Generator
	maxTokens   int
	summarizers map[string]func([]map[string]any) string
	noResults   string
}

// NewSynthesizer creates a Synthesizer. allowedTickers is named in the fixed
// no-results message.
func NewSynthesizer(llm Generator, maxTokens int, allowedTickers []string) *Synthesizer {
	s := &Synthesizer{
		llm:       llm,
		maxTokens: maxTokens,
		noResults: fmt.Sprintf(
			"No matching holdings found for the specified parameters. Our database covers %s with their complete portfolio compositions. Please verify ticker symbols or try alternative search terms.",
			strings.Join(allowedTickers, ", ")),
	}
	s.summarizers = map[string]func([]map[string]any) string{
		IntentETFExposureToCompany:  summarizeExposure,
		IntentETFOverlapWeighted:    summarizeOverlap,
		IntentETFOverlapJaccard:     summarizeJaccard,
		IntentSectorExposure:        summarizeSectors,
		IntentETFsBySectorThreshold: summarizeSectorETFs,
		IntentCompanyRankings:       summarizeCompanyRankings,
		IntentTopHoldingsSubgraph:   summarizeTopHoldings,
	}
	return s
}

// Synthesize generates the answer for a specific-template result.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, result *models.QueryResult, intent models.IntentResult) string {
	if len(result.Rows) == 0 && intent.Intent != IntentGeneralLLM {
		return s.noResults
	}

	summary := s.resultsSummary(result.Rows, intent.Intent)
	prompt := fmt.Sprintf(synthesisPrompt, query, intent.Intent, summary)

	response, err := s.llm.Generate(ctx, prompt, ollama.Options{
		Temperature: 0.2,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"error":  err.Error(),
			"intent": intent.Intent,
		}).Warn("LLM synthesis failed, using deterministic fallback")
		return fallbackResponse(result.Rows, intent.Intent)
	}

	if intent.Intent != IntentGeneralLLM && !containsConcreteNumber(response) {
		response = addConcreteNumber(response, result.Rows)
	}
	response = ensureWordLimit(response, standardWordLimit)

	log.WithFields(log.Fields{
		"intent":          intent.Intent,
		"response_length": len(response),
	}).Debug("LLM synthesis completed")

	return strings.TrimSpace(response)
}

// SynthesizeComprehensive generates the answer from the multi-ETF fallback
// dataset using the richer strategist prompt.
func (s *Synthesizer) SynthesizeComprehensive(ctx context.Context, query string, result *models.QueryResult, intent models.IntentResult, entities []models.GroundedEntity) string {
	prompt := fmt.Sprintf(comprehensivePrompt,
		query,
		intent.Intent,
		intent.Confidence,
		entityContext(entities),
		comprehensiveSummary(result.Rows),
	)

	response, err := s.llm.Generate(ctx, prompt, ollama.Options{
		Temperature: 0.2,
		MaxTokens:   s.maxTokens + 100,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"error":  err.Error(),
			"intent": intent.Intent,
		}).Warn("Comprehensive synthesis failed, using standard path")
		return s.Synthesize(ctx, query, result, intent)
	}

	if !containsConcreteNumber(response) {
		response = addComprehensiveNumber(response, result.Rows)
	}
	response = ensureWordLimit(response, comprehensiveWordLimit)

	return strings.TrimSpace(response)
}

func (s *Synthesizer) resultsSummary(rows []map[string]any, intent string) string {
	if intent == IntentGeneralLLM {
		return "No data query needed. Respond using your knowledge."
	}
	if len(rows) == 0 {
		return "No data found."
	}

	top := rows
	if len(top) > summaryRowLimit {
		top = top[:summaryRowLimit]
	}

	if summarize, ok := s.summarizers[intent]; ok {
		return summarize(top)
	}
	return fmt.Sprintf("Query returned %d results.", len(rows))
}

func summarizeExposure(rows []map[string]any) string {
	row := rows[0]
	etf := stringField(row, "etf_ticker", "ETF")
	company := stringField(row, "company_name", stringField(row, "symbol", "company"))
	return fmt.Sprintf("ETF %s holds %.2f%% in %s.", etf, numField(row, "exposure_percent"), company)
}

func summarizeOverlap(rows []map[string]any) string {
	top := rows[0]
	var totalCombined float64
	for i, row := range rows {
		if i >= 10 {
			break
		}
		totalCombined += numField(row, "combined_percent")
	}
	return fmt.Sprintf("Found %d overlapping holdings with total combined exposure of %.2f%%. Top overlap: %s with %.2f%% combined exposure.",
		len(rows), totalCombined, stringField(top, "company_name", "Unknown"), numField(top, "combined_percent"))
}

func summarizeJaccard(rows []map[string]any) string {
	row := rows[0]
	jaccard := numField(row, "jaccard_similarity")
	jaccardPercent := numField(row, "jaccard_percent")
	if jaccardPercent == 0 {
		jaccardPercent = jaccard * 100
	}
	return fmt.Sprintf("Jaccard similarity: %.4f (%.2f%%). Intersection: %d companies. ETF1 holdings: %d, ETF2 holdings: %d",
		jaccard, jaccardPercent, intField(row, "intersection"), intField(row, "count1"), intField(row, "count2"))
}

func summarizeSectors(rows []map[string]any) string {
	top := rows[0]
	return fmt.Sprintf("ETF has exposure to %d sectors. Largest sector exposure: %s at %.2f%% with %d companies.",
		len(rows), stringField(top, "sector", "Unknown"), numField(top, "exposure_percent"), intField(top, "company_count"))
}

func summarizeSectorETFs(rows []map[string]any) string {
	top := rows[0]
	return fmt.Sprintf("Found %d ETFs meeting sector criteria. Highest exposure: %s at %.2f%%.",
		len(rows), stringField(top, "ticker", "Unknown"), numField(top, "exposure_percent"))
}

func summarizeCompanyRankings(rows []map[string]any) string {
	holdings := make([]string, 0, 3)
	for i, row := range rows {
		if i >= 3 {
			break
		}
		holdings = append(holdings, fmt.Sprintf("%s (%s): %.2f%%",
			stringField(row, "ticker", "Unknown"),
			stringField(row, "etf_name", "Unknown ETF"),
			numField(row, "exposure_percent")))
	}
	list := strings.Join(holdings, ", ")
	if len(rows) > 3 {
		list += fmt.Sprintf(" and %d more", len(rows)-3)
	}
	return fmt.Sprintf("Company held by %d ETFs. Rankings: %s.", len(rows), list)
}

func summarizeTopHoldings(rows []map[string]any) string {
	var total, max float64
	topCompany := "Unknown"
	for i, row := range rows {
		p := numField(row, "exposure_percent")
		total += p
		if p > max {
			max = p
		}
		if i == 0 {
			topCompany = stringField(row, "company_name", stringField(row, "symbol", "Unknown"))
		}
	}
	return fmt.Sprintf("Top %d holdings include %s (%.2f%%), with total exposure of %.2f%%.",
		len(rows), topCompany, max, total)
}

// comprehensiveSummary builds the multi-ETF context string: top holdings and
// top sectors per ETF, up to six ETFs.
func comprehensiveSummary(rows []map[string]any) string {
	if len(rows) == 0 {
		return "No comprehensive data available."
	}

	parts := []string{fmt.Sprintf("Available ETFs: %d", len(rows))}

	for i, etf := range rows {
		if i >= comprehensiveETFLimit {
			break
		}
		ticker := stringField(etf, "etf_ticker", fmt.Sprintf("ETF_%d", i+1))
		name := stringField(etf, "etf_name", "Unknown ETF")

		var holdingBits []string
		for j, h := range listField(etf, "holdings") {
			if j >= 5 {
				break
			}
			holdingBits = append(holdingBits, fmt.Sprintf("%s (%.1f%%)",
				stringField(h, "symbol", "UNK"), numField(h, "exposure_percent")))
		}

		sectors := listField(etf, "sectors")
		sort.SliceStable(sectors, func(a, b int) bool {
			return numField(sectors[a], "weight") > numField(sectors[b], "weight")
		})
		var sectorBits []string
		for j, sec := range sectors {
			if j >= 3 {
				break
			}
			sectorBits = append(sectorBits, fmt.Sprintf("%s (%.1f%%)",
				stringField(sec, "sector", "Unknown"), numField(sec, "weight")))
		}

		parts = append(parts, fmt.Sprintf("\n%s (%s): %d holdings. Top holdings: %s. Top sectors: %s.",
			ticker, name, intField(etf, "total_holdings"),
			strings.Join(holdingBits, ", "), strings.Join(sectorBits, ", ")))
	}

	return strings.Join(parts, "\n")
}

func entityContext(entities []models.GroundedEntity) string {
	var parts []string
	if etfs := allEntityNames(entities, models.EntityTypeETF); len(etfs) > 0 {
		parts = append(parts, "ETFs: "+strings.Join(etfs, ", "))
	}
	if companies := allEntityNames(entities, models.EntityTypeCompany); len(companies) > 0 {
		parts = append(parts, "Companies: "+strings.Join(companies, ", "))
	}
	if sectors := allEntityNames(entities, models.EntityTypeSector); len(sectors) > 0 {
		parts = append(parts, "Sectors: "+strings.Join(sectors, ", "))
	}
	if len(parts) == 0 {
		return "None specified"
	}
	return strings.Join(parts, "; ")
}

func containsConcreteNumber(text string) bool {
	for _, p := range numberPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// addConcreteNumber appends the first positive numeric field of the first
// row as a parenthetical, formatted by the field's name.
func addConcreteNumber(response string, rows []map[string]any) string {
	if len(rows) == 0 {
		return response
	}
	row := rows[0]
	for _, key := range sortedKeys(row) {
		v, ok := toFloat(row[key])
		if !ok || v <= 0 {
			continue
		}
		lower := strings.ToLower(key)
		switch {
		case strings.Contains(lower, "percent"):
			return response + fmt.Sprintf(" (%.2f%%)", v)
		case strings.Contains(lower, "count"):
			return response + fmt.Sprintf(" (Count: %d)", int(v))
		default:
			return response + fmt.Sprintf(" (%g)", v)
		}
	}
	return response
}

func addComprehensiveNumber(response string, rows []map[string]any) string {
	if len(rows) == 0 {
		return response
	}
	first := rows[0]
	if holdings := listField(first, "holdings"); len(holdings) > 0 {
		top := holdings[0]
		return response + fmt.Sprintf(" (Top holding: %s at %.2f%%)",
			stringField(top, "symbol", "top holding"), numField(top, "exposure_percent"))
	}
	return response + fmt.Sprintf(" (Total holdings analyzed: %d)", intField(first, "total_holdings"))
}

// ensureWordLimit truncates at the last sentence boundary inside the cap when
// one falls past 70% of it, otherwise cuts at the word boundary.
func ensureWordLimit(response string, maxWords int) string {
	words := strings.Fields(response)
	if len(words) <= maxWords {
		return response
	}

	truncated := strings.Join(words[:maxWords], " ")
	for _, punct := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(truncated, punct); idx > int(float64(len(truncated))*0.7) {
			return truncated[:idx+1]
		}
	}
	if strings.HasSuffix(truncated, ".") || strings.HasSuffix(truncated, "!") || strings.HasSuffix(truncated, "?") {
		return truncated
	}
	return truncated + "..."
}

// fallbackResponse is the deterministic answer used when the model fails.
func fallbackResponse(rows []map[string]any, intent string) string {
	if intent == IntentGeneralLLM {
		return "I'm unable to process general questions at the moment. Please try asking about ETF analysis instead."
	}
	if len(rows) == 0 {
		return "No results found for this query."
	}

	readable := titleCase(strings.ReplaceAll(intent, "_", " "))

	var keyNumber string
	first := rows[0]
	for _, key := range sortedKeys(first) {
		v, ok := toFloat(first[key])
		if !ok || v <= 0 {
			continue
		}
		lower := strings.ToLower(key)
		if strings.Contains(lower, "weight") {
			keyNumber = fmt.Sprintf(" with key weight of %.4f (%.2f%%)", v, v*100)
			break
		}
		if strings.Contains(lower, "percent") {
			keyNumber = fmt.Sprintf(" with top value of %.2f%%", v)
			break
		}
		if strings.Contains(lower, "count") {
			keyNumber = fmt.Sprintf(" showing %d items", int(v))
			break
		}
	}

	return fmt.Sprintf("Analysis complete: Found %d data points for %s%s. The results provide specific ETF exposure metrics and portfolio composition details that can inform your investment decisions.",
		len(rows), readable, keyNumber)
}

func stringField(row map[string]any, key, fallback string) string {
	if v, ok := row[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func numField(row map[string]any, key string) float64 {
	v, _ := toFloat(row[key])
	return v
}

func intField(row map[string]any, key string) int {
	v, _ := toFloat(row[key])
	return int(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func listField(row map[string]any, key string) []map[string]any {
	items, ok := row[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
