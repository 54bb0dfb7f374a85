// Package llm wraps the single structured-extraction primitive the core
// consumes from an LLM provider (spec §6's generateObject), modeled as a
// narrow interface so the track classifier and query planner depend on
// nothing vendor-specific.
package llm

import "context"

// ObjectGenerator sends a prompt with a JSON schema for the expected object
// and returns the raw JSON bytes of the object the provider produced. The
// bytes are not validated against the schema here; callers unmarshal them
// into their own types. Implementations must
// honor ctx's deadline; the caller (track classifier, query planner)
// applies its own hard timeout on top and never retries on a timeout.
type ObjectGenerator interface {
	Generate(ctx context.Context, schema map[string]any, prompt string) ([]byte, error)
}
