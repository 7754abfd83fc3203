package models

// EntityType classifies a grounded entity.
type EntityType string

const (
	EntityTypeETF     EntityType = "ETF"
	EntityTypeCompany EntityType = "Company"
	EntityTypeSector  EntityType = "Sector"
	EntityTypePercent EntityType = "Percent"
	EntityTypeCount   EntityType = "Count"
)

// ExtractedNumbers partitions the numbers found in a query by how they were written.
// Percentages and thresholds are stored as decimals in [0, 1].
type ExtractedNumbers struct {
	Percentages []float64 `json:"percentages"`
	Decimals    []float64 `json:"decimals"`
	Counts      []int     `json:"counts"`
	Thresholds  []float64 `json:"thresholds"`
}

// PreprocessedText is the output of the preprocessing stage.
type PreprocessedText struct {
	OriginalText     string           `json:"original_text"`
	NormalizedText   string           `json:"normalized_text"`
	Tokens           []string         `json:"tokens"`
	PotentialTickers []string         `json:"potential_tickers"`
	ExtractedNumbers ExtractedNumbers `json:"extracted_numbers"`
}

// GroundedEntity is a surface form resolved against the graph with a confidence score.
type GroundedEntity struct {
	Name       string         `json:"name"`
	Type       EntityType     `json:"type"`
	Confidence float64        `json:"confidence"`
	Properties map[string]any `json:"properties,omitempty"`
}

// IntentResult is the output of intent classification.
type IntentResult struct {
	Intent             string           `json:"intent"`
	Confidence         float64          `json:"confidence"`
	Entities           []GroundedEntity `json:"entities"`
	RequiredParameters []string         `json:"required_parameters"`
}

// ParameterFulfillment maps grounded entities onto the slots an intent requires.
type ParameterFulfillment struct {
	Parameters        map[string]any `json:"parameters"`
	MissingParameters []string       `json:"missing_parameters"`
	IsComplete        bool           `json:"is_complete"`
}

// QueryResult holds the rows of a template execution together with
// execution diagnostics.
type QueryResult struct {
	Query           string           `json:"query"`
	Parameters      map[string]any   `json:"parameters"`
	Rows            []map[string]any `json:"rows"`
	ExecutionTimeMs float64          `json:"execution_time_ms"`
	NodeCount       *int             `json:"node_count,omitempty"`
	EdgeCount       *int             `json:"edge_count,omitempty"`
	IsFallback      bool             `json:"is_fallback,omitempty"`
}
