package graphrag

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/security"
)

// QueryExecutor runs catalogue templates against the graph with the security
// policy enforced at execution time, so every row the caller sees came from a
// template validated in the same execution.
type QueryExecutor struct {
	graph  GraphReader
	guards *security.Guards
}

// NewQueryExecutor creates a QueryExecutor.
func NewQueryExecutor(graph GraphReader, guards *security.Guards) *QueryExecutor {
	return &QueryExecutor{graph: graph, guards: guards}
}

// Execute looks up the intent's template, validates it, binds the sanitized
// parameters and runs the query. The executor itself does not retry; the
// graph client handles transient failures.
func (ex *QueryExecutor) Execute(ctx context.Context, intent string, parameters map[string]any) (*models.QueryResult, error) {
	start := time.Now()

	template, err := GetTemplate(intent)
	if err != nil {
		return nil, err
	}

	if err := ex.guards.ValidateTemplate(template.Query); err != nil {
		log.WithFields(log.Fields{
			"intent": intent,
			"error":  err.Error(),
		}).Error("Template failed security validation")
		return nil, err
	}

	if missing := template.MissingParams(parameters); len(missing) > 0 {
		return nil, fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}

	sanitized, err := ex.guards.SanitizeParameters(parameters)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"intent":     intent,
		"parameters": paramKeys(sanitized),
	}).Debug("Executing Cypher query")

	rows, err := ex.graph.ExecuteRead(ctx, template.Query, sanitized)
	if err != nil {
		log.WithFields(log.Fields{
			"intent": intent,
			"error":  err.Error(),
		}).Error("Cypher execution failed")
		return nil, err
	}

	result := &models.QueryResult{
		Query:           strings.TrimSpace(template.Query),
		Parameters:      sanitized,
		Rows:            rows,
		ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}

	if intent == IntentTopHoldingsSubgraph {
		nodes, edges := countGraphElements(rows)
		result.NodeCount = &nodes
		result.EdgeCount = &edges
	}

	log.WithFields(log.Fields{
		"intent":            intent,
		"execution_time_ms": result.ExecutionTimeMs,
		"row_count":         len(rows),
	}).Info("Cypher execution completed")

	return result, nil
}

// countGraphElements counts distinct nodes and HOLDS edges in subgraph rows
// by the conventional aliases e, c, s and h.
func countGraphElements(rows []map[string]any) (int, int) {
	nodes := make(map[string]struct{})
	edges := 0

	for _, row := range rows {
		if props, ok := row["e"].(map[string]any); ok {
			if ticker, _ := props["ticker"].(string); ticker != "" {
				nodes["ETF:"+ticker] = struct{}{}
			}
		}
		if props, ok := row["c"].(map[string]any); ok {
			if symbol, _ := props["symbol"].(string); symbol != "" {
				nodes["Company:"+symbol] = struct{}{}
			}
		}
		if props, ok := row["s"].(map[string]any); ok {
			if name, _ := props["name"].(string); name != "" {
				nodes["Sector:"+name] = struct{}{}
			}
		}
		if _, ok := row["h"]; ok {
			edges++
		}
	}

	return len(nodes), edges
}

func paramKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	return keys
}
