package graphrag

import (
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/models"
)

var (
	percentagePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	decimalPattern    = regexp.MustCompile(`0\.\d+`)
	countPattern      = regexp.MustCompile(`(?i)\b(top|first|best)\s+(\d+)\b`)
	thresholdPattern  = regexp.MustCompile(`(?i)(?:>=|at least|minimum of|more than)\s*(\d+(?:\.\d+)?)\s*%?`)
	tickerPattern     = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	punctPattern      = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// tickerStopwords are common English all-caps strings that match the ticker
// shape but never name an instrument.
var tickerStopwords = map[string]struct{}{
	"THE": {}, "AND": {}, "FOR": {}, "ARE": {}, "BUT": {}, "NOT": {},
	"YOU": {}, "ALL": {}, "CAN": {}, "HER": {}, "WAS": {}, "ONE": {},
	"OUR": {}, "HAD": {}, "HIS": {}, "HAS": {}, "WHO": {}, "WITH": {},
	"FROM": {}, "THEY": {}, "KNOW": {}, "WANT": {}, "BEEN": {}, "GOOD": {},
	"MUCH": {}, "SOME": {}, "TIME": {}, "VERY": {}, "WHEN": {}, "COME": {},
	"HERE": {}, "HOW": {}, "JUST": {}, "LIKE": {}, "LONG": {}, "MAKE": {},
	"MANY": {}, "OVER": {}, "SUCH": {}, "TAKE": {}, "THAN": {}, "THEM": {},
	"WELL": {}, "WHAT": {}, "WHERE": {},
}

// Preprocessor normalizes raw question text and extracts tickers, tokens and
// numbers. It is a pure function of its input: no network or store calls.
type Preprocessor struct{}

// NewPreprocessor creates a Preprocessor.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Process preprocesses user input text.
func (p *Preprocessor) Process(text string) models.PreprocessedText {
	normalized := normalizeText(text)
	numbers := extractNumbers(text)
	tickers := extractTickers(text)
	tokens := tokenize(normalized)

	result := models.PreprocessedText{
		OriginalText:     text,
		NormalizedText:   normalized,
		Tokens:           tokens,
		PotentialTickers: tickers,
		ExtractedNumbers: numbers,
	}

	log.WithFields(log.Fields{
		"text_length":   len(text),
		"numbers_found": len(numbers.Percentages) + len(numbers.Counts),
		"tickers_found": len(tickers),
		"tokens_count":  len(tokens),
	}).Debug("Text preprocessed")

	return result
}

func normalizeText(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	return whitespacePattern.ReplaceAllString(normalized, " ")
}

func extractNumbers(text string) models.ExtractedNumbers {
	numbers := models.ExtractedNumbers{}

	for _, m := range percentagePattern.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			numbers.Percentages = append(numbers.Percentages, v/100)
		}
	}

	for _, m := range decimalPattern.FindAllString(text, -1) {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			numbers.Decimals = append(numbers.Decimals, v)
		}
	}

	for _, m := range countPattern.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.Atoi(m[2]); err == nil {
			numbers.Counts = append(numbers.Counts, v)
		}
	}

	for _, m := range thresholdPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		// A raw threshold above 1 is read as a percentage.
		if v > 1 {
			v /= 100
		}
		numbers.Thresholds = append(numbers.Thresholds, v)
	}

	return numbers
}

func extractTickers(text string) []string {
	matches := tickerPattern.FindAllString(text, -1)
	tickers := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, stop := tickerStopwords[m]; !stop {
			tickers = append(tickers, m)
		}
	}
	return tickers
}

func tokenize(text string) []string {
	cleaned := punctPattern.ReplaceAllString(text, " ")
	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
