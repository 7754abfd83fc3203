package graphrag

import (
	"context"

	"github.com/keithyuen/neo4j-graphrag-etf-analysis/internal/ollama"
)

// GraphReader is the read-only surface of the graph store the pipeline
// consumes. Implementations must use parameter binding and may retry
// transient failures internally.
type GraphReader interface {
	ExecuteRead(ctx context.Context, query string, parameters map[string]any) ([]map[string]any, error)
	ExecuteReadSingle(ctx context.Context, query string, parameters map[string]any) (map[string]any, error)
}

// Generator is the language-model surface the pipeline consumes.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ollama.Options) (string, error)
}
