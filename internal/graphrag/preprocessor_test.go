package graphrag

import (
	"math"
	"testing"
)

func TestProcessExtractsPercentages(t *testing.T) {
	p := NewPreprocessor()

	result := p.Process("which ETFs have at least 20% technology exposure")

	if len(result.ExtractedNumbers.Percentages) != 1 {
		t.Fatalf("expected 1 percentage, got %d", len(result.ExtractedNumbers.Percentages))
	}
	if math.Abs(result.ExtractedNumbers.Percentages[0]-0.20) > 1e-9 {
		t.Fatalf("expected 0.20, got %v", result.ExtractedNumbers.Percentages[0])
	}
	if len(result.ExtractedNumbers.Thresholds) != 1 {
		t.Fatalf("expected 1 threshold, got %d", len(result.ExtractedNumbers.Thresholds))
	}
	if math.Abs(result.ExtractedNumbers.Thresholds[0]-0.20) > 1e-9 {
		t.Fatalf("expected threshold 0.20, got %v", result.ExtractedNumbers.Thresholds[0])
	}
}

func TestProcessThresholdAboveOneReadAsPercent(t *testing.T) {
	p := NewPreprocessor()

	result := p.Process("funds with more than 15 in tech")
	if len(result.ExtractedNumbers.Thresholds) != 1 {
		t.Fatalf("expected 1 threshold, got %d", len(result.ExtractedNumbers.Thresholds))
	}
	if math.Abs(result.ExtractedNumbers.Thresholds[0]-0.15) > 1e-9 {
		t.Fatalf("expected 0.15, got %v", result.ExtractedNumbers.Thresholds[0])
	}

	result = p.Process("funds with at least 0.5 weight")
	if len(result.ExtractedNumbers.Thresholds) != 1 {
		t.Fatalf("expected 1 threshold, got %d", len(result.ExtractedNumbers.Thresholds))
	}
	if math.Abs(result.ExtractedNumbers.Thresholds[0]-0.5) > 1e-9 {
		t.Fatalf("expected 0.5 untouched, got %v", result.ExtractedNumbers.Thresholds[0])
	}
}

func TestProcessExtractsCounts(t *testing.T) {
	p := NewPreprocessor()

	result := p.Process("top 15 holdings of QQQ")
	if len(result.ExtractedNumbers.Counts) != 1 || result.ExtractedNumbers.Counts[0] != 15 {
		t.Fatalf("expected count 15, got %v", result.ExtractedNumbers.Counts)
	}
}

func TestProcessFiltersTickerStopwords(t *testing.T) {
	p := NewPreprocessor()

	result := p.Process("the SPY and QQQ funds")
	if len(result.PotentialTickers) != 2 {
		t.Fatalf("expected 2 tickers, got %v", result.PotentialTickers)
	}
	if result.PotentialTickers[0] != "SPY" || result.PotentialTickers[1] != "QQQ" {
		t.Fatalf("expected SPY and QQQ, got %v", result.PotentialTickers)
	}
}

func TestProcessNormalizesWhitespaceAndCase(t *testing.T) {
	p := NewPreprocessor()

	result := p.Process("  What   IS SPY's  Exposure? ")
	if result.NormalizedText != "what is spy's exposure?" {
		t.Fatalf("unexpected normalized text: %q", result.NormalizedText)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	p := NewPreprocessor()

	first := p.Process("Which ETFs  Have at least 20% Technology exposure?")
	second := p.Process(first.NormalizedText)
	if first.NormalizedText != second.NormalizedText {
		t.Fatalf("normalization not idempotent: %q vs %q", first.NormalizedText, second.NormalizedText)
	}
}

func TestProcessTokensSkipSingleCharacters(t *testing.T) {
	p := NewPreprocessor()

	result := p.Process("a SPY q overlap")
	for _, token := range result.Tokens {
		if len(token) <= 1 {
			t.Fatalf("found short token %q", token)
		}
	}
}
