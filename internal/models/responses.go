package models

// PipelineVersion identifies the response format produced by the pipeline.
const PipelineVersion = "1.0"

// ResponseMetadata carries per-request diagnostics.
type ResponseMetadata struct {
	Timing          map[string]float64 `json:"timing"`
	CacheHit        bool               `json:"cache_hit"`
	Confidence      float64            `json:"confidence"`
	NodeCount       *int               `json:"node_count,omitempty"`
	EdgeCount       *int               `json:"edge_count,omitempty"`
	PipelineVersion string             `json:"pipeline_version"`
}

// Response is the full answer envelope returned by the pipeline.
type Response struct {
	Answer   string           `json:"answer"`
	Rows     []map[string]any `json:"rows"`
	Intent   string           `json:"intent"`
	Cypher   string           `json:"cypher"`
	Entities []GroundedEntity `json:"entities"`
	Metadata ResponseMetadata `json:"metadata"`
}

// IntentClassificationReport is the diagnostic output of running only the
// first four pipeline stages.
type IntentClassificationReport struct {
	Intent            string           `json:"intent"`
	Confidence        float64          `json:"confidence"`
	Entities          []GroundedEntity `json:"entities"`
	Parameters        map[string]any   `json:"parameters"`
	MissingParameters []string         `json:"missing_parameters"`
	IsComplete        bool             `json:"is_complete"`
}

// SubgraphNode is a node in a subgraph visualization payload.
type SubgraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// SubgraphEdge is a weighted edge in a subgraph visualization payload.
type SubgraphEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight,omitempty"`
}

// SubgraphResponse is the payload for graph visualization endpoints.
type SubgraphResponse struct {
	Nodes []SubgraphNode `json:"nodes"`
	Edges []SubgraphEdge `json:"edges"`
}

// ErrorResponse is the generic error body returned by the HTTP layer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
