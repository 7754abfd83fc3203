package graphrag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/cache"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/security"
)

const (
	confidenceFloor      = 0.6
	responseCacheSize    = 100
	comprehensiveKey     = "comprehensive_data"
	missingParamsPrefix  = "To complete your query, I need additional information"
	errorAnswer          = "Sorry, I encountered an error processing your query. Please try rephrasing your question or check that you're using valid ETF tickers and company symbols."
	defaultSubgraphTopN  = 10
)

// paramHints maps each template parameter to the clarification shown when it
// could not be fulfilled. The ticker hint is completed with the whitelist at
// construction.
var paramHints = map[string]string{
	"ticker1":   "Please specify the first ETF ticker",
	"ticker2":   "Please specify the second ETF ticker for comparison",
	"symbol":    "Please specify a company ticker symbol (e.g., AAPL, MSFT, GOOGL)",
	"sector":    "Please specify a sector name (e.g., Technology, Healthcare, Financials)",
	"threshold": "Please specify a percentage threshold (e.g., 5%, 10%)",
	"top_n":     "Please specify how many top holdings to show",
}

// Pipeline orchestrates the seven stages: preprocess, ground, classify,
// fulfill, execute, synthesize, assemble. It owns the response cache and the
// comprehensive-dataset cache and degrades from specific templates to the
// comprehensive fallback.
type Pipeline struct {
	preprocessor *Preprocessor
	grounder     *EntityGrounder
	classifier   *IntentClassifier
	fulfiller    *ParameterFulfiller
	executor     *QueryExecutor
	synthesizer  *Synthesizer
	guards       *security.Guards

	responseCache      *cache.TTLCache
	comprehensiveCache *cache.TTLCache
	comprehensiveGroup singleflight.Group

	tickerHint string
}

// NewPipeline wires the pipeline from its stages and cache TTLs.
func NewPipeline(
	graph GraphReader,
	llm Generator,
	guards *security.Guards,
	synthMaxTokens int,
	responseTTL, classificationTTL, comprehensiveTTL time.Duration,
) *Pipeline {
	allowed := guards.AllowedTickers()
	return &Pipeline{
		preprocessor:       NewPreprocessor(),
		grounder:           NewEntityGrounder(graph),
		classifier:         NewIntentClassifier(llm, classificationTTL),
		fulfiller:          NewParameterFulfiller(),
		executor:           NewQueryExecutor(graph, guards),
		synthesizer:        NewSynthesizer(llm, synthMaxTokens, allowed),
		guards:             guards,
		responseCache:      cache.NewTTLCache(responseTTL, responseCacheSize),
		comprehensiveCache: cache.NewTTLCache(comprehensiveTTL, 1),
		tickerHint:         "Please specify an ETF ticker (" + strings.Join(allowed, ", ") + ")",
	}
}

// Answer runs the complete pipeline for a question.
func (p *Pipeline) Answer(ctx context.Context, query string) *models.Response {
	start := time.Now()
	timing := make(map[string]float64)

	cleaned, err := p.guards.ValidateQueryText(p.guards.SanitizeUserInput(query))
	if err != nil {
		return p.errorResponse("Invalid query: "+err.Error(), time.Since(start))
	}

	log.WithField("query", truncate(cleaned, 100)).Info("Starting GraphRAG pipeline")

	// Stage 1: preprocessing.
	stageStart := time.Now()
	preprocessed := p.preprocessor.Process(cleaned)
	timing["preprocessing"] = ms(stageStart)

	// Stage 2: entity grounding.
	stageStart = time.Now()
	entities := p.grounder.Ground(ctx, preprocessed)
	timing["entity_grounding"] = ms(stageStart)

	// Stage 3: intent classification.
	stageStart = time.Now()
	intentResult := p.classifier.Classify(ctx, cleaned, entities)
	timing["intent_classification"] = ms(stageStart)

	// Stage 4: parameter fulfillment.
	stageStart = time.Now()
	params := p.fulfiller.Fulfill(intentResult, entities)
	timing["parameter_fulfillment"] = ms(stageStart)

	// The cache key needs intent, entities and parameters, so the lookup
	// happens only after stages 2-4: a purely textual key would conflate
	// semantically different questions.
	cacheKey := responseCacheKey(preprocessed.NormalizedText, intentResult.Intent, entities, params.Parameters)
	if v, ok := p.responseCache.Get(cacheKey); ok {
		cached := v.(models.Response)
		cached.Metadata.CacheHit = true
		log.WithField("intent", cached.Intent).Info("Using cached response")
		return &cached
	}

	if !params.IsComplete && intentResult.Intent != IntentGeneralLLM {
		timing["total_pipeline"] = ms(start)
		return p.missingParamsResponse(intentResult, entities, params, timing)
	}

	// Stage 5: execution with graceful degradation.
	stageStart = time.Now()
	queryResult, execErr := p.execute(ctx, intentResult, params)
	timing["cypher_execution"] = ms(stageStart)
	if execErr != nil {
		log.WithFields(log.Fields{
			"intent": intentResult.Intent,
			"error":  execErr.Error(),
		}).Error("Pipeline execution failed")
		return p.errorResponse(errorAnswer, time.Since(start))
	}

	// Stage 6: synthesis. The comprehensive path gets the richer prompt.
	stageStart = time.Now()
	var answer string
	if queryResult.IsFallback {
		answer = p.synthesizer.SynthesizeComprehensive(ctx, cleaned, queryResult, intentResult, entities)
	} else {
		answer = p.synthesizer.Synthesize(ctx, cleaned, queryResult, intentResult)
	}
	timing["llm_synthesis"] = ms(stageStart)

	// Stage 7: assembly.
	timing["total_pipeline"] = ms(start)
	response := models.Response{
		Answer:   answer,
		Rows:     queryResult.Rows,
		Intent:   intentResult.Intent,
		Cypher:   queryResult.Query,
		Entities: entities,
		Metadata: models.ResponseMetadata{
			Timing:          timing,
			CacheHit:        false,
			Confidence:      intentResult.Confidence,
			NodeCount:       queryResult.NodeCount,
			EdgeCount:       queryResult.EdgeCount,
			PipelineVersion: models.PipelineVersion,
		},
	}

	// Cancelled requests must not populate the cache.
	if ctx.Err() == nil && cacheableAnswer(response) {
		p.responseCache.Set(cacheKey, response)
	}

	log.WithFields(log.Fields{
		"intent":        response.Intent,
		"total_time_ms": timing["total_pipeline"],
		"result_count":  len(response.Rows),
		"used_fallback": queryResult.IsFallback,
		"confidence":    intentResult.Confidence,
	}).Info("GraphRAG pipeline completed")

	return &response
}

// execute runs the specific template when parameters are complete and
// confidence clears the floor, degrading to the comprehensive dataset when
// the specific query fails or returns nothing. general_llm never touches the
// graph.
func (p *Pipeline) execute(ctx context.Context, intent models.IntentResult, params models.ParameterFulfillment) (*models.QueryResult, error) {
	if intent.Intent == IntentGeneralLLM {
		return &models.QueryResult{Rows: nil, Parameters: map[string]any{}}, nil
	}

	if params.IsComplete && intent.Confidence > confidenceFloor {
		result, err := p.executor.Execute(ctx, intent.Intent, params.Parameters)
		if err != nil {
			log.WithFields(log.Fields{
				"intent": intent.Intent,
				"error":  err.Error(),
			}).Warn("Specific query failed, falling back to comprehensive data")
		} else if len(result.Rows) > 0 {
			return result, nil
		}
	}

	return p.comprehensiveData(ctx)
}

// comprehensiveData returns the cached multi-ETF roll-up, fetching it at most
// once across concurrent cold misses.
func (p *Pipeline) comprehensiveData(ctx context.Context) (*models.QueryResult, error) {
	if v, ok := p.comprehensiveCache.Get(comprehensiveKey); ok {
		cached := *(v.(*models.QueryResult))
		cached.IsFallback = true
		return &cached, nil
	}

	v, err, _ := p.comprehensiveGroup.Do(comprehensiveKey, func() (any, error) {
		if v, ok := p.comprehensiveCache.Get(comprehensiveKey); ok {
			return v, nil
		}
		result, err := p.executor.Execute(ctx, IntentComprehensiveData, map[string]any{})
		if err != nil {
			return nil, err
		}
		if ctx.Err() == nil {
			p.comprehensiveCache.Set(comprehensiveKey, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	result := *(v.(*models.QueryResult))
	result.IsFallback = true
	return &result, nil
}

// Classify runs stages 1-4 only, for diagnostics.
func (p *Pipeline) Classify(ctx context.Context, query string) (*models.IntentClassificationReport, error) {
	cleaned, err := p.guards.ValidateQueryText(p.guards.SanitizeUserInput(query))
	if err != nil {
		return nil, err
	}

	preprocessed := p.preprocessor.Process(cleaned)
	entities := p.grounder.Ground(ctx, preprocessed)
	intentResult := p.classifier.Classify(ctx, cleaned, entities)
	params := p.fulfiller.Fulfill(intentResult, entities)

	return &models.IntentClassificationReport{
		Intent:            intentResult.Intent,
		Confidence:        intentResult.Confidence,
		Entities:          entities,
		Parameters:        params.Parameters,
		MissingParameters: params.MissingParameters,
		IsComplete:        params.IsComplete,
	}, nil
}

// Subgraph executes the top-holdings template for a ticker and shapes the
// rows into a node/edge payload, dropping holdings below minWeight.
func (p *Pipeline) Subgraph(ctx context.Context, ticker string, topN int, minWeight float64) (*models.SubgraphResponse, error) {
	validated, err := p.guards.ValidateTicker(ticker)
	if err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = defaultSubgraphTopN
	}
	if topN > p.guards.MaxCypherLimit() {
		topN = p.guards.MaxCypherLimit()
	}

	result, err := p.executor.Execute(ctx, IntentTopHoldingsSubgraph, map[string]any{
		"ticker": validated,
		"top_n":  topN,
	})
	if err != nil {
		return nil, err
	}

	return buildSubgraph(result.Rows, minWeight), nil
}

func buildSubgraph(rows []map[string]any, minWeight float64) *models.SubgraphResponse {
	sub := &models.SubgraphResponse{
		Nodes: []models.SubgraphNode{},
		Edges: []models.SubgraphEdge{},
	}
	seen := make(map[string]struct{})

	addNode := func(n models.SubgraphNode) {
		if _, ok := seen[n.ID]; ok {
			return
		}
		seen[n.ID] = struct{}{}
		sub.Nodes = append(sub.Nodes, n)
	}

	for _, row := range rows {
		weight := numField(nodeProps(row["h"]), "weight")
		if weight < minWeight {
			continue
		}

		etf := nodeProps(row["e"])
		company := nodeProps(row["c"])
		sector := nodeProps(row["s"])

		etfTicker, _ := etf["ticker"].(string)
		symbol := stringField(company, "symbol", stringField(row, "symbol", ""))
		sectorName := stringField(sector, "name", stringField(row, "sector", ""))
		if etfTicker == "" || symbol == "" {
			continue
		}

		etfID := "ETF:" + etfTicker
		companyID := "Company:" + symbol
		addNode(models.SubgraphNode{ID: etfID, Label: etfTicker, Type: "ETF", Properties: etf})
		addNode(models.SubgraphNode{ID: companyID, Label: stringField(company, "name", symbol), Type: "Company", Properties: company})
		sub.Edges = append(sub.Edges, models.SubgraphEdge{
			Source: etfID,
			Target: companyID,
			Type:   "HOLDS",
			Weight: weight,
		})

		if sectorName != "" {
			sectorID := "Sector:" + sectorName
			addNode(models.SubgraphNode{ID: sectorID, Label: sectorName, Type: "Sector", Properties: sector})
			sub.Edges = append(sub.Edges, models.SubgraphEdge{
				Source: companyID,
				Target: sectorID,
				Type:   "IN_SECTOR",
			})
		}
	}

	return sub
}

// ClearResponseCache drops all cached responses and reports how many there
// were.
func (p *Pipeline) ClearResponseCache() int {
	n := p.responseCache.Clear()
	log.WithField("previous_size", n).Info("Response cache cleared")
	return n
}

func (p *Pipeline) missingParamsResponse(intent models.IntentResult, entities []models.GroundedEntity, params models.ParameterFulfillment, timing map[string]float64) *models.Response {
	hints := make([]string, 0, len(params.MissingParameters))
	for _, param := range params.MissingParameters {
		hint, ok := paramHints[param]
		if param == "ticker" {
			hint, ok = p.tickerHint, true
		}
		if !ok {
			hint = "Please provide " + param
		}
		hints = append(hints, hint)
	}

	var msg string
	if len(hints) == 1 {
		msg = fmt.Sprintf("%s: %s.", missingParamsPrefix, hints[0])
	} else {
		msg = fmt.Sprintf("%s: %s, and %s.", missingParamsPrefix,
			strings.Join(hints[:len(hints)-1], ", "), hints[len(hints)-1])
	}

	return &models.Response{
		Answer:   msg,
		Rows:     []map[string]any{},
		Intent:   intent.Intent,
		Cypher:   "",
		Entities: entities,
		Metadata: models.ResponseMetadata{
			Timing:          timing,
			CacheHit:        false,
			Confidence:      intent.Confidence,
			PipelineVersion: models.PipelineVersion,
		},
	}
}

func (p *Pipeline) errorResponse(answer string, elapsed time.Duration) *models.Response {
	return &models.Response{
		Answer:   answer,
		Rows:     []map[string]any{},
		Intent:   "error",
		Cypher:   "",
		Entities: []models.GroundedEntity{},
		Metadata: models.ResponseMetadata{
			Timing:          map[string]float64{"total_pipeline": float64(elapsed.Milliseconds())},
			CacheHit:        false,
			Confidence:      0,
			PipelineVersion: models.PipelineVersion,
		},
	}
}

func cacheableAnswer(r models.Response) bool {
	return r.Intent != "error" && r.Answer != "" && !strings.HasPrefix(r.Answer, missingParamsPrefix)
}

// responseCacheKey hashes the normalized query together with intent, sorted
// entity signatures and sorted parameters.
func responseCacheKey(normalizedQuery, intent string, entities []models.GroundedEntity, params map[string]any) string {
	entitySig := make([]string, 0, len(entities))
	for _, e := range entities {
		entitySig = append(entitySig, string(e.Type)+":"+e.Name)
	}
	sort.Strings(entitySig)

	paramSig := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		paramSig = append(paramSig, fmt.Sprintf("%s=%v", k, params[k]))
	}

	input := "query:" + normalizedQuery +
		"|intent:" + intent +
		"|entities:" + strings.Join(entitySig, "|") +
		"|params:" + strings.Join(paramSig, "|")

	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

func ms(since time.Time) float64 {
	return float64(time.Since(since).Microseconds()) / 1000
}
