package graphrag

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
)

const (
	confidenceExact  = 1.0
	confidenceAlias  = 0.9
	confidenceDirect = 0.8
)

// EntityGrounder resolves surface forms from preprocessed text against the
// graph. Lookup failures are logged and skipped; grounding never fails a
// request.
type EntityGrounder struct {
	graph GraphReader
}

// NewEntityGrounder creates an EntityGrounder.
func NewEntityGrounder(graph GraphReader) *EntityGrounder {
	return &EntityGrounder{graph: graph}
}

// Ground resolves ETFs, companies, sectors and numbers from preprocessed
// text into typed entities with confidence scores.
func (g *EntityGrounder) Ground(ctx context.Context, pre models.PreprocessedText) []models.GroundedEntity {
	var entities []models.GroundedEntity

	etfs := g.groundETFs(ctx, pre.PotentialTickers)
	entities = append(entities, etfs...)

	// Tickers already matched as ETFs are not retried as companies.
	etfNames := make(map[string]struct{}, len(etfs))
	for _, e := range etfs {
		etfNames[e.Name] = struct{}{}
	}
	var companyCandidates []string
	for _, t := range pre.PotentialTickers {
		if _, ok := etfNames[t]; !ok {
			companyCandidates = append(companyCandidates, t)
		}
	}
	companies := g.groundCompanies(ctx, companyCandidates)
	entities = append(entities, companies...)

	sectors := g.groundSectors(ctx, pre.Tokens)
	entities = append(entities, sectors...)

	numbers := groundNumbers(pre.ExtractedNumbers)
	entities = append(entities, numbers...)

	log.WithFields(log.Fields{
		"total_entities": len(entities),
		"etfs":           len(etfs),
		"companies":      len(companies),
		"sectors":        len(sectors),
		"numbers":        len(numbers),
	}).Debug("Entity grounding completed")

	return entities
}

func (g *EntityGrounder) groundETFs(ctx context.Context, tickers []string) []models.GroundedEntity {
	var entities []models.GroundedEntity
	for _, ticker := range tickers {
		row, err := g.graph.ExecuteReadSingle(ctx,
			"MATCH (e:ETF {ticker: $ticker}) RETURN e LIMIT 1",
			map[string]any{"ticker": ticker})
		if err != nil {
			log.WithFields(log.Fields{"ticker": ticker, "error": err.Error()}).Warn("ETF lookup failed")
			continue
		}
		if row == nil {
			continue
		}
		entities = append(entities, models.GroundedEntity{
			Name:       ticker,
			Type:       models.EntityTypeETF,
			Confidence: confidenceExact,
			Properties: nodeProps(row["e"]),
		})
	}
	return entities
}

func (g *EntityGrounder) groundCompanies(ctx context.Context, symbols []string) []models.GroundedEntity {
	var entities []models.GroundedEntity
	for _, symbol := range symbols {
		row, err := g.graph.ExecuteReadSingle(ctx,
			"MATCH (c:Company {symbol: $symbol}) RETURN c LIMIT 1",
			map[string]any{"symbol": symbol})
		if err != nil {
			log.WithFields(log.Fields{"symbol": symbol, "error": err.Error()}).Warn("Company lookup failed")
			continue
		}
		if row == nil {
			continue
		}
		entities = append(entities, models.GroundedEntity{
			Name:       symbol,
			Type:       models.EntityTypeCompany,
			Confidence: confidenceExact,
			Properties: nodeProps(row["c"]),
		})
	}
	return entities
}

// groundSectors matches tokens against sector names directly and through the
// Term alias path. Duplicates are collapsed by sector name keeping the
// highest-confidence evidence, so alias matches win over direct ones
// regardless of iteration order.
func (g *EntityGrounder) groundSectors(ctx context.Context, tokens []string) []models.GroundedEntity {
	best := make(map[string]models.GroundedEntity)
	var order []string

	record := func(e models.GroundedEntity) {
		cur, seen := best[e.Name]
		if !seen {
			best[e.Name] = e
			order = append(order, e.Name)
			return
		}
		if e.Confidence > cur.Confidence {
			best[e.Name] = e
		}
	}

	for _, token := range tokens {
		if len(token) < 3 {
			continue
		}

		rows, err := g.graph.ExecuteRead(ctx,
			"MATCH (s:Sector) WHERE toLower(s.name) = $token RETURN s LIMIT 10",
			map[string]any{"token": token})
		if err != nil {
			log.WithFields(log.Fields{"token": token, "error": err.Error()}).Warn("Sector lookup failed")
		}
		for _, row := range rows {
			props := nodeProps(row["s"])
			name, _ := props["name"].(string)
			if name == "" {
				continue
			}
			record(models.GroundedEntity{
				Name:       name,
				Type:       models.EntityTypeSector,
				Confidence: confidenceDirect,
				Properties: props,
			})
		}

		aliasRows, err := g.graph.ExecuteRead(ctx,
			`MATCH (t:Term {norm: $token})-[:ALIAS_OF]->(e:Entity)-[:REFERS_TO]->(s:Sector)
			 RETURN s LIMIT 10`,
			map[string]any{"token": token})
		if err != nil {
			log.WithFields(log.Fields{"token": token, "error": err.Error()}).Warn("Sector alias lookup failed")
		}
		for _, row := range aliasRows {
			props := nodeProps(row["s"])
			name, _ := props["name"].(string)
			if name == "" {
				continue
			}
			record(models.GroundedEntity{
				Name:       name,
				Type:       models.EntityTypeSector,
				Confidence: confidenceAlias,
				Properties: props,
			})
		}
	}

	entities := make([]models.GroundedEntity, 0, len(order))
	for _, name := range order {
		entities = append(entities, best[name])
	}
	return entities
}

func groundNumbers(numbers models.ExtractedNumbers) []models.GroundedEntity {
	var entities []models.GroundedEntity

	decimals := append(append([]float64{}, numbers.Percentages...), numbers.Thresholds...)
	for _, v := range decimals {
		entities = append(entities, models.GroundedEntity{
			Name:       fmt.Sprintf("%.1f%%", v*100),
			Type:       models.EntityTypePercent,
			Confidence: confidenceExact,
			Properties: map[string]any{"value": v},
		})
	}

	for _, c := range numbers.Counts {
		entities = append(entities, models.GroundedEntity{
			Name:       strconv.Itoa(c),
			Type:       models.EntityTypeCount,
			Confidence: confidenceExact,
			Properties: map[string]any{"value": c},
		})
	}

	return entities
}

func nodeProps(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
