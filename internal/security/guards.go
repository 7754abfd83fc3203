package security

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ErrSecurityViolation marks template or input checks that must never reach
// the graph store. Handlers surface it as a generic error without the
// offending pattern.
var ErrSecurityViolation = errors.New("security violation")

// blockedInputPatterns strip Cypher-injection and script fragments from raw
// user text before it enters the pipeline.
var blockedInputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(#cypher|;\s*match|\bdrop\b|\bdelete\b|\bcreate\b|\bmerge\b|\bremove\b)`),
	regexp.MustCompile(`(?i)(call\s+apoc|call\s+db\.|\badmin\b|\bauth\b)`),
	regexp.MustCompile(`(?i)(load\s+csv|periodic\s+commit)`),
	regexp.MustCompile(`(?i)(javascript|\bscript\b|\beval\b)`),
	regexp.MustCompile(`[<>{}()\\]`),
}

// writeKeywordPattern matches Cypher write operations as whole words.
var writeKeywordPattern = regexp.MustCompile(`\b(CREATE|DELETE|SET|MERGE|DROP|REMOVE)\b`)

// dangerousPrefixes are graph-procedure invocations no template may contain:
// admin procedures, bulk loaders, transaction-committing and mutating
// sub-blocks.
var dangerousPrefixes = []string{
	"CALL APOC",
	"CALL DB.",
	"CALL DBMS",
	"LOAD CSV",
	"PERIODIC COMMIT",
	"USING PERIODIC",
	"CALL { CREATE",
	"CALL { MERGE",
	"CALL { DELETE",
	"CALL { SET",
	"CALL { REMOVE",
	"CALL { DROP",
}

var tickerFormat = regexp.MustCompile(`^[A-Z]{2,5}$`)
var symbolFormat = regexp.MustCompile(`^[A-Z0-9]{1,5}$`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// Guards enforces the input and template security policy.
type Guards struct {
	allowedTickers map[string]struct{}
	maxQueryLength int
	maxCypherLimit int
}

// NewGuards builds a Guards from the configured ETF whitelist and limits.
func NewGuards(allowedTickers []string, maxQueryLength, maxCypherLimit int) *Guards {
	allowed := make(map[string]struct{}, len(allowedTickers))
	for _, t := range allowedTickers {
		allowed[strings.ToUpper(t)] = struct{}{}
	}
	return &Guards{
		allowedTickers: allowed,
		maxQueryLength: maxQueryLength,
		maxCypherLimit: maxCypherLimit,
	}
}

// AllowedTickers returns the whitelist in a stable order.
func (g *Guards) AllowedTickers() []string {
	out := make([]string, 0, len(g.allowedTickers))
	for t := range g.allowedTickers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MaxCypherLimit reports the cap applied to row-limiting parameters.
func (g *Guards) MaxCypherLimit() int {
	return g.maxCypherLimit
}

// SanitizeUserInput removes blocked patterns from user text and caps length.
func (g *Guards) SanitizeUserInput(text string) string {
	if text == "" {
		return ""
	}
	sanitized := text
	for _, p := range blockedInputPatterns {
		sanitized = p.ReplaceAllString(sanitized, "")
	}
	sanitized = strings.TrimSpace(sanitized)
	if len(sanitized) > g.maxQueryLength {
		sanitized = sanitized[:g.maxQueryLength]
	}
	if len(sanitized) != len(text) {
		log.WithFields(log.Fields{
			"original_length":  len(text),
			"sanitized_length": len(sanitized),
		}).Warn("Input sanitized")
	}
	return sanitized
}

// ValidateQueryText cleans and validates raw question text.
func (g *Guards) ValidateQueryText(query string) (string, error) {
	cleaned := whitespaceRun.ReplaceAllString(strings.TrimSpace(query), " ")
	if cleaned == "" {
		return "", fmt.Errorf("query cannot be empty")
	}
	if len(cleaned) > g.maxQueryLength {
		return "", fmt.Errorf("query too long, maximum %d characters allowed", g.maxQueryLength)
	}
	if len(cleaned) < 3 {
		return "", fmt.Errorf("query too short, please provide a more detailed question")
	}
	return cleaned, nil
}

// ValidateTicker checks format and whitelist membership, returning the
// normalized ticker.
func (g *Guards) ValidateTicker(ticker string) (string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerFormat.MatchString(cleaned) {
		return "", fmt.Errorf("invalid ticker format, use 2-5 uppercase letters")
	}
	if _, ok := g.allowedTickers[cleaned]; !ok {
		return "", fmt.Errorf("ticker not supported, allowed tickers: %s", strings.Join(g.AllowedTickers(), ", "))
	}
	return cleaned, nil
}

// IsAllowedTicker reports whitelist membership without formatting errors.
func (g *Guards) IsAllowedTicker(ticker string) bool {
	_, ok := g.allowedTickers[strings.ToUpper(strings.TrimSpace(ticker))]
	return ok
}

// ValidateCompanySymbol checks company symbol format, returning the
// normalized symbol.
func (g *Guards) ValidateCompanySymbol(symbol string) (string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolFormat.MatchString(cleaned) {
		return "", fmt.Errorf("invalid company symbol format")
	}
	return cleaned, nil
}

// ValidateTemplate enforces the read-only policy on a query template:
// a row-limiting clause must be present, write keywords and denylisted
// procedure prefixes must be absent. The returned error names the violated
// rule for logging; callers must not forward it to users verbatim.
func (g *Guards) ValidateTemplate(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: empty template", ErrSecurityViolation)
	}
	upper := strings.ToUpper(query)

	if !strings.Contains(upper, "LIMIT") {
		return fmt.Errorf("%w: template missing LIMIT clause", ErrSecurityViolation)
	}
	if m := writeKeywordPattern.FindString(upper); m != "" {
		return fmt.Errorf("%w: write keyword %s", ErrSecurityViolation, m)
	}
	for _, prefix := range dangerousPrefixes {
		if strings.Contains(upper, prefix) {
			return fmt.Errorf("%w: dangerous pattern %s", ErrSecurityViolation, prefix)
		}
	}
	return nil
}

// SanitizeParameters validates and clamps bound parameters before execution.
// Ticker-valued parameters must be whitelisted; numeric limits are clamped to
// the configured caps.
func (g *Guards) SanitizeParameters(params map[string]any) (map[string]any, error) {
	sanitized := make(map[string]any, len(params))
	for key, value := range params {
		switch v := value.(type) {
		case string:
			cleaned := g.SanitizeUserInput(v)
			if strings.Contains(strings.ToLower(key), "ticker") {
				validated, err := g.ValidateTicker(cleaned)
				if err != nil {
					return nil, fmt.Errorf("parameter %s: %w", key, err)
				}
				cleaned = validated
			}
			sanitized[key] = cleaned
		case int:
			if key == "top_n" {
				sanitized[key] = clampInt(v, 1, g.maxCypherLimit)
			} else {
				sanitized[key] = v
			}
		case float64:
			if key == "threshold" {
				sanitized[key] = clampFloat(v, 0.0, 1.0)
			} else {
				sanitized[key] = v
			}
		case []string:
			valid := make([]string, 0, len(v))
			for _, t := range v {
				if g.IsAllowedTicker(t) {
					valid = append(valid, strings.ToUpper(t))
				}
			}
			sanitized[key] = valid
		default:
			sanitized[key] = value
		}
	}
	return sanitized, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
