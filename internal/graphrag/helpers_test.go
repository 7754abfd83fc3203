package graphrag

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/ollama"
	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/security"
)

// fakeGraph serves canned rows for the grounding lookups and every catalogue
// template, keyed on distinctive fragments of the query text.
type fakeGraph struct {
	mu            sync.Mutex
	queries       []string
	templateCalls int
	failTemplates bool
	emptySpecific bool
}

var fakeETFs = map[string]string{
	"SPY": "SPDR S&P 500 ETF Trust",
	"QQQ": "Invesco QQQ Trust",
	"IWM": "iShares Russell 2000 ETF",
}

var fakeCompanies = map[string]string{
	"AAPL": "Apple Inc.",
	"MSFT": "Microsoft Corporation",
	"NVDA": "NVIDIA Corporation",
}

var fakeSectorAliases = map[string]string{
	"tech":       "Technology",
	"technology": "Technology",
}

func (g *fakeGraph) record(query string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, query)
}

func (g *fakeGraph) recordedQueries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queries...)
}

func (g *fakeGraph) ExecuteRead(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	g.record(query)

	switch {
	case strings.Contains(query, "MATCH (e:ETF {ticker: $ticker}) RETURN e"):
		ticker, _ := params["ticker"].(string)
		if name, ok := fakeETFs[ticker]; ok {
			return []map[string]any{{"e": map[string]any{"ticker": ticker, "name": name}}}, nil
		}
		return nil, nil

	case strings.Contains(query, "MATCH (c:Company {symbol: $symbol}) RETURN c"):
		symbol, _ := params["symbol"].(string)
		if name, ok := fakeCompanies[symbol]; ok {
			return []map[string]any{{"c": map[string]any{"symbol": symbol, "name": name}}}, nil
		}
		return nil, nil

	case strings.Contains(query, "toLower(s.name)"):
		token, _ := params["token"].(string)
		if token == "technology" {
			return []map[string]any{{"s": map[string]any{"name": "Technology"}}}, nil
		}
		return nil, nil

	case strings.Contains(query, "ALIAS_OF"):
		token, _ := params["token"].(string)
		if sector, ok := fakeSectorAliases[token]; ok && token != sector {
			return []map[string]any{{"s": map[string]any{"name": sector}}}, nil
		}
		return nil, nil
	}

	// Everything below is a catalogue template.
	g.mu.Lock()
	g.templateCalls++
	fail := g.failTemplates
	empty := g.emptySpecific
	g.mu.Unlock()

	if strings.Contains(query, "collect(") && strings.Contains(query, "etf_ticker") {
		return comprehensiveRows(), nil
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	if empty {
		return []map[string]any{}, nil
	}

	switch {
	case strings.Contains(query, "IS NULL OR e.ticker IN"):
		return []map[string]any{
			{"ticker": "QQQ", "etf_name": fakeETFs["QQQ"], "exposure_percent": 9.1},
			{"ticker": "SPY", "etf_name": fakeETFs["SPY"], "exposure_percent": 7.25},
		}, nil

	case strings.Contains(query, "->(c:Company {symbol: $symbol})"):
		return []map[string]any{{
			"etf_ticker":       "SPY",
			"etf_name":         fakeETFs["SPY"],
			"symbol":           params["symbol"],
			"company_name":     fakeCompanies[params["symbol"].(string)],
			"exposure_percent": 7.25,
		}}, nil

	case strings.Contains(query, "jaccard_similarity"):
		return []map[string]any{{
			"intersection":       int64(85),
			"count1":             int64(503),
			"count2":             int64(101),
			"jaccard_similarity": 0.164,
			"overlap_ratio_etf1": 0.169,
			"overlap_ratio_etf2": 0.842,
			"jaccard_percent":    16.4,
		}}, nil

	case strings.Contains(query, "combined_percent"):
		return []map[string]any{{
			"symbol":             "AAPL",
			"company_name":       "Apple Inc.",
			"percent_etf1":       7.25,
			"percent_etf2":       9.1,
			"combined_percent":   16.35,
			"difference_percent": 1.85,
		}}, nil

	case strings.Contains(query, "CONTAINS $sector"):
		return []map[string]any{
			{"ticker": "QQQ", "etf_name": fakeETFs["QQQ"], "exposure_percent": 48.2},
			{"ticker": "SPY", "etf_name": fakeETFs["SPY"], "exposure_percent": 28.1},
		}, nil

	case strings.Contains(query, "LIMIT $top_n"):
		topN, _ := params["top_n"].(int)
		return topHoldingsRows(topN), nil

	case strings.Contains(query, "avg(h.weight)"):
		return []map[string]any{
			{"sector": "Technology", "company_count": int64(72), "exposure_percent": 31.5, "avg_exposure_percent": 0.44, "max_exposure_percent": 7.25},
			{"sector": "Healthcare", "company_count": int64(64), "exposure_percent": 12.9, "avg_exposure_percent": 0.2, "max_exposure_percent": 2.1},
		}, nil
	}

	return []map[string]any{}, nil
}

func (g *fakeGraph) ExecuteReadSingle(ctx context.Context, query string, params map[string]any) (map[string]any, error) {
	rows, err := g.ExecuteRead(ctx, query, params)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func topHoldingsRows(n int) []map[string]any {
	companies := []struct {
		symbol string
		name   string
		weight float64
	}{
		{"AAPL", "Apple Inc.", 0.091}, {"MSFT", "Microsoft Corporation", 0.083},
		{"NVDA", "NVIDIA Corporation", 0.078}, {"AMZN", "Amazon.com Inc.", 0.052},
		{"AVGO", "Broadcom Inc.", 0.048}, {"META", "Meta Platforms Inc.", 0.047},
		{"TSLA", "Tesla Inc.", 0.041}, {"GOOGL", "Alphabet Inc.", 0.025},
		{"GOOG", "Alphabet Inc. Class C", 0.024}, {"COST", "Costco Wholesale", 0.023},
		{"NFLX", "Netflix Inc.", 0.021}, {"AMD", "Advanced Micro Devices", 0.018},
		{"PEP", "PepsiCo Inc.", 0.016}, {"ADBE", "Adobe Inc.", 0.015},
		{"CSCO", "Cisco Systems", 0.014}, {"QCOM", "Qualcomm Inc.", 0.013},
		{"TMUS", "T-Mobile US", 0.012}, {"INTU", "Intuit Inc.", 0.011},
	}
	if n > len(companies) {
		n = len(companies)
	}
	rows := make([]map[string]any, 0, n)
	for _, c := range companies[:n] {
		rows = append(rows, map[string]any{
			"e":                map[string]any{"ticker": "QQQ", "name": fakeETFs["QQQ"]},
			"h":                map[string]any{"weight": c.weight},
			"c":                map[string]any{"symbol": c.symbol, "name": c.name},
			"s":                map[string]any{"name": "Technology"},
			"symbol":           c.symbol,
			"company_name":     c.name,
			"sector":           "Technology",
			"exposure_percent": c.weight * 100,
		})
	}
	return rows
}

func comprehensiveRows() []map[string]any {
	return []map[string]any{
		{
			"etf_ticker":     "QQQ",
			"etf_name":       fakeETFs["QQQ"],
			"total_holdings": int64(101),
			"holdings": []any{
				map[string]any{"symbol": "AAPL", "name": "Apple Inc.", "sector": "Technology", "weight": 0.091, "exposure_percent": 9.1},
				map[string]any{"symbol": "MSFT", "name": "Microsoft Corporation", "sector": "Technology", "weight": 0.083, "exposure_percent": 8.3},
			},
			"sectors": []any{
				map[string]any{"sector": "Technology", "weight": 48.2, "count": int64(42)},
				map[string]any{"sector": "Healthcare", "weight": 6.1, "count": int64(12)},
			},
		},
		{
			"etf_ticker":     "SPY",
			"etf_name":       fakeETFs["SPY"],
			"total_holdings": int64(503),
			"holdings": []any{
				map[string]any{"symbol": "AAPL", "name": "Apple Inc.", "sector": "Technology", "weight": 0.0725, "exposure_percent": 7.25},
			},
			"sectors": []any{
				map[string]any{"sector": "Technology", "weight": 31.5, "count": int64(72)},
			},
		},
	}
}

// fakeLLM scripts responses by prompt family: classification prompts get the
// configured label JSON, synthesis prompts get canned prose.
type fakeLLM struct {
	mu                  sync.Mutex
	classifyResponse    string
	classifyErr         error
	synthesizeResponse  string
	synthesizeErr       error
	classificationCalls int
	synthesisCalls      int
	prompts             []string
}

func (l *fakeLLM) Generate(ctx context.Context, prompt string, opts ollama.Options) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, prompt)

	if strings.HasPrefix(prompt, "You are an ETF investment analysis assistant") {
		l.classificationCalls++
		if l.classifyErr != nil {
			return "", l.classifyErr
		}
		return l.classifyResponse, nil
	}

	l.synthesisCalls++
	if l.synthesizeErr != nil {
		return "", l.synthesizeErr
	}
	if l.synthesizeResponse != "" {
		return l.synthesizeResponse, nil
	}
	return "Based on the data, SPY holds 7.25% in Apple Inc. (AAPL), a meaningful overweight position.", nil
}

func (l *fakeLLM) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classificationCalls, l.synthesisCalls
}

func testGuards() *security.Guards {
	return security.NewGuards([]string{"SPY", "QQQ", "IWM", "IJH", "IVE", "IVW"}, 512, 50)
}
