package graphrag

import (
	log "github.com/sirupsen/logrus"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
)

const (
	defaultSectorThreshold = 0.05
	defaultTopN            = 10
	maxTopN                = 50
)

// ParameterFulfiller maps grounded entities onto the parameter slots the
// classified intent requires.
type ParameterFulfiller struct{}

// NewParameterFulfiller creates a ParameterFulfiller.
func NewParameterFulfiller() *ParameterFulfiller {
	return &ParameterFulfiller{}
}

// Fulfill extracts the intent's parameters from the grounded entities.
func (f *ParameterFulfiller) Fulfill(intent models.IntentResult, entities []models.GroundedEntity) models.ParameterFulfillment {
	parameters := make(map[string]any)
	var missing []string

	require := func(name string, value any, ok bool) {
		if ok {
			parameters[name] = value
		} else {
			missing = append(missing, name)
		}
	}

	switch intent.Intent {
	case IntentETFExposureToCompany:
		ticker, tickerOK := bestEntityName(entities, models.EntityTypeETF)
		symbol, symbolOK := bestEntityName(entities, models.EntityTypeCompany)
		require("ticker", ticker, tickerOK)
		require("symbol", symbol, symbolOK)

	case IntentETFOverlapWeighted, IntentETFOverlapJaccard:
		etfs := allEntityNames(entities, models.EntityTypeETF)
		switch {
		case len(etfs) >= 2:
			parameters["ticker1"] = etfs[0]
			parameters["ticker2"] = etfs[1]
		case len(etfs) == 1:
			parameters["ticker1"] = etfs[0]
			missing = append(missing, "ticker2")
		default:
			missing = append(missing, "ticker1", "ticker2")
		}

	case IntentSectorExposure:
		ticker, ok := bestEntityName(entities, models.EntityTypeETF)
		require("ticker", ticker, ok)

	case IntentETFsBySectorThreshold:
		sector, ok := bestEntityName(entities, models.EntityTypeSector)
		require("sector", sector, ok)
		if threshold, ok := bestEntityValue(entities, models.EntityTypePercent); ok {
			parameters["threshold"] = threshold
		} else {
			parameters["threshold"] = defaultSectorThreshold
		}

	case IntentTopHoldingsSubgraph:
		ticker, ok := bestEntityName(entities, models.EntityTypeETF)
		require("ticker", ticker, ok)
		if topN, ok := bestEntityCount(entities); ok {
			if topN > maxTopN {
				topN = maxTopN
			}
			parameters["top_n"] = topN
		} else {
			parameters["top_n"] = defaultTopN
		}

	case IntentCompanyRankings:
		symbol, ok := bestEntityName(entities, models.EntityTypeCompany)
		require("symbol", symbol, ok)
		// Mentioned ETFs narrow the ranking; absent means all.
		if etfs := allEntityNames(entities, models.EntityTypeETF); len(etfs) > 0 {
			parameters["etf_tickers"] = etfs
		} else {
			parameters["etf_tickers"] = nil
		}

	case IntentGeneralLLM:
		// No parameters.
	}

	result := models.ParameterFulfillment{
		Parameters:        parameters,
		MissingParameters: missing,
		IsComplete:        len(missing) == 0,
	}

	log.WithFields(log.Fields{
		"intent":           intent.Intent,
		"parameters_found": len(parameters),
		"missing_count":    len(missing),
		"is_complete":      result.IsComplete,
	}).Debug("Parameter fulfillment completed")

	return result
}

// bestEntity picks the entity with maximum (confidence, name length), so
// higher-confidence evidence wins and "Information Technology" beats
// "Technology".
func bestEntity(entities []models.GroundedEntity, t models.EntityType) (models.GroundedEntity, bool) {
	var best models.GroundedEntity
	found := false
	for _, e := range entities {
		if e.Type != t {
			continue
		}
		if !found || e.Confidence > best.Confidence ||
			(e.Confidence == best.Confidence && len(e.Name) > len(best.Name)) {
			best = e
			found = true
		}
	}
	return best, found
}

func bestEntityName(entities []models.GroundedEntity, t models.EntityType) (string, bool) {
	e, ok := bestEntity(entities, t)
	if !ok {
		return "", false
	}
	return e.Name, true
}

func bestEntityValue(entities []models.GroundedEntity, t models.EntityType) (float64, bool) {
	e, ok := bestEntity(entities, t)
	if !ok {
		return 0, false
	}
	switch v := e.Properties["value"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func bestEntityCount(entities []models.GroundedEntity) (int, bool) {
	e, ok := bestEntity(entities, models.EntityTypeCount)
	if !ok {
		return 0, false
	}
	switch v := e.Properties["value"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func allEntityNames(entities []models.GroundedEntity, t models.EntityType) []string {
	var names []string
	for _, e := range entities {
		if e.Type == t {
			names = append(names, e.Name)
		}
	}
	return names
}
