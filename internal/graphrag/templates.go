package graphrag

import (
	"fmt"
	"sort"
)

// Intent keys of the template catalogue.
const (
	IntentETFExposureToCompany  = "etf_exposure_to_company"
	IntentETFOverlapWeighted    = "etf_overlap_weighted"
	IntentETFOverlapJaccard     = "etf_overlap_jaccard"
	IntentSectorExposure        = "sector_exposure"
	IntentETFsBySectorThreshold = "etfs_by_sector_threshold"
	IntentTopHoldingsSubgraph   = "top_holdings_subgraph"
	IntentCompanyRankings       = "company_rankings"
	IntentGeneralLLM            = "general_llm"
	IntentComprehensiveData     = "comprehensive_data"
)

// Template is a parameterised, row-limiting, read-only Cypher query bound to
// one intent. Parameters are always passed through binding, never
// interpolated into the text.
type Template struct {
	Query          string
	RequiredParams []string
	Description    string
}

// MissingParams returns the required parameters absent from params.
func (t Template) MissingParams(params map[string]any) []string {
	var missing []string
	for _, p := range t.RequiredParams {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// templates is the immutable intent catalogue. Security properties (LIMIT,
// read-only, no dangerous procedures) are re-checked at execution time so a
// tampered catalogue cannot bypass them.
var templates = map[string]Template{
	IntentETFExposureToCompany: {
		Query: `
			MATCH (e:ETF {ticker: $ticker})-[h:HOLDS]->(c:Company {symbol: $symbol})
			RETURN e.ticker as etf_ticker, e.name as etf_name,
			       c.symbol as symbol, c.name as company_name,
			       round(h.weight * 100, 3) as exposure_percent
			ORDER BY h.weight DESC
			LIMIT 50`,
		RequiredParams: []string{"ticker", "symbol"},
		Description:    "Find ETF exposure to specific company",
	},

	IntentETFOverlapWeighted: {
		Query: `
			MATCH (e1:ETF {ticker: $ticker1})-[h1:HOLDS]->(c:Company)<-[h2:HOLDS]-(e2:ETF {ticker: $ticker2})
			RETURN c.symbol as symbol, c.name as company_name,
			       round(h1.weight * 100, 3) as percent_etf1,
			       round(h2.weight * 100, 3) as percent_etf2,
			       round((h1.weight + h2.weight) * 100, 3) as combined_percent,
			       round(abs(h1.weight - h2.weight) * 100, 3) as difference_percent
			ORDER BY (h1.weight + h2.weight) DESC
			LIMIT 50`,
		RequiredParams: []string{"ticker1", "ticker2"},
		Description:    "Calculate weighted overlap between two ETFs",
	},

	IntentETFOverlapJaccard: {
		Query: `
			MATCH (e1:ETF {ticker: $ticker1})-[:HOLDS]->(c:Company)<-[:HOLDS]-(e2:ETF {ticker: $ticker2})
			WITH count(c) as intersection
			MATCH (e1:ETF {ticker: $ticker1})-[:HOLDS]->(c1:Company)
			WITH intersection, count(c1) as count1
			MATCH (e2:ETF {ticker: $ticker2})-[:HOLDS]->(c2:Company)
			WITH intersection, count1, count(c2) as count2
			RETURN intersection, count1, count2,
			       toFloat(intersection) / (count1 + count2 - intersection) as jaccard_similarity,
			       toFloat(intersection) / count1 as overlap_ratio_etf1,
			       toFloat(intersection) / count2 as overlap_ratio_etf2,
			       round(toFloat(intersection) / (count1 + count2 - intersection) * 100, 2) as jaccard_percent
			LIMIT 1`,
		RequiredParams: []string{"ticker1", "ticker2"},
		Description:    "Calculate Jaccard overlap coefficient between ETFs",
	},

	IntentSectorExposure: {
		Query: `
			MATCH (e:ETF {ticker: $ticker})-[h:HOLDS]->(c:Company)-[:IN_SECTOR]->(s:Sector)
			WITH s.name as sector,
			     count(c) as company_count,
			     sum(h.weight) as total_weight,
			     avg(h.weight) as avg_weight,
			     max(h.weight) as max_weight
			RETURN sector,
			       company_count,
			       round(total_weight * 100, 2) as exposure_percent,
			       round(avg_weight * 100, 3) as avg_exposure_percent,
			       round(max_weight * 100, 3) as max_exposure_percent
			ORDER BY total_weight DESC
			LIMIT 50`,
		RequiredParams: []string{"ticker"},
		Description:    "Show sector distribution for ETF",
	},

	IntentETFsBySectorThreshold: {
		Query: `
			MATCH (s:Sector)
			WHERE s.name = $sector OR s.name CONTAINS $sector
			WITH s
			MATCH (s)<-[:IN_SECTOR]-(c:Company)<-[h:HOLDS]-(e:ETF)
			WITH e, sum(h.weight) as sector_exposure
			WHERE sector_exposure >= $threshold
			RETURN e.ticker as ticker, e.name as etf_name,
			       round(sector_exposure * 100, 2) as exposure_percent
			ORDER BY sector_exposure DESC
			LIMIT 50`,
		RequiredParams: []string{"sector", "threshold"},
		Description:    "Find ETFs with minimum sector exposure",
	},

	IntentTopHoldingsSubgraph: {
		Query: `
			MATCH (e:ETF {ticker: $ticker})-[h:HOLDS]->(c:Company)-[:IN_SECTOR]->(s:Sector)
			RETURN e, h, c, s,
			       c.symbol as symbol, c.name as company_name, s.name as sector,
			       round(h.weight * 100, 3) as exposure_percent
			ORDER BY h.weight DESC
			LIMIT $top_n`,
		RequiredParams: []string{"ticker", "top_n"},
		Description:    "Get top holdings with weights and sectors",
	},

	IntentCompanyRankings: {
		Query: `
			MATCH (c:Company {symbol: $symbol})<-[h:HOLDS]-(e:ETF)
			WHERE ($etf_tickers IS NULL OR e.ticker IN $etf_tickers)
			RETURN e.ticker as ticker, e.name as etf_name,
			       round(h.weight * 100, 3) as exposure_percent
			ORDER BY h.weight DESC
			LIMIT 50`,
		RequiredParams: []string{"symbol"},
		Description:    "Rank ETFs by exposure to specific company",
	},

	IntentGeneralLLM: {
		Query:          "",
		RequiredParams: nil,
		Description:    "Handle general questions with LLM knowledge",
	},

	IntentComprehensiveData: {
		Query: `
			MATCH (e:ETF)-[h:HOLDS]->(c:Company)-[:IN_SECTOR]->(s:Sector)
			WITH e, c, s, h
			ORDER BY e.ticker, h.weight DESC
			WITH e,
			     collect({
			         symbol: c.symbol,
			         name: c.name,
			         sector: s.name,
			         weight: h.weight,
			         exposure_percent: round(h.weight * 100, 3)
			     })[0..50] as holdings,
			     count(c) as total_holdings,
			     sum(h.weight) as total_weight
			MATCH (e)-[h2:HOLDS]->(c2:Company)-[:IN_SECTOR]->(s2:Sector)
			WITH e, holdings, total_holdings, total_weight,
			     s2.name as sector,
			     sum(h2.weight) as sector_weight,
			     count(c2) as sector_count
			WITH e, holdings, total_holdings, total_weight,
			     collect({
			         sector: sector,
			         weight: round(sector_weight * 100, 2),
			         count: sector_count
			     }) as sectors
			RETURN e.ticker as etf_ticker,
			       e.name as etf_name,
			       total_holdings,
			       holdings,
			       sectors
			ORDER BY e.ticker
			LIMIT 10`,
		RequiredParams: nil,
		Description:    "Get comprehensive holdings and sector data for all ETFs",
	},
}

// GetTemplate returns the template for an intent key.
func GetTemplate(intent string) (Template, error) {
	t, ok := templates[intent]
	if !ok {
		return Template{}, fmt.Errorf("unknown intent: %s", intent)
	}
	return t, nil
}

// HasIntent reports catalogue membership.
func HasIntent(intent string) bool {
	_, ok := templates[intent]
	return ok
}

// ListIntents returns all intent keys in a stable order.
func ListIntents() []string {
	keys := make([]string, 0, len(templates))
	for k := range templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
