// Package llm defines the extraction boundary: the schema and prompts sent
// to the model, the request shape, and the failure taxonomy the pipeline's
// retry layer keys off.
package llm

import "context"

// ExtractRequest carries everything needed for one extraction call.
type ExtractRequest struct {
	FilePath string
	MIMEType string

	Schema       map[string]any
	SystemPrompt string
	UserPrompt   string
}

// Extractor is the interface the pipeline depends on. One call issues one
// request; retries are the caller's responsibility so the two concerns stay
// independently testable.
type Extractor interface {
	// Extract sends the document and prompts, requests schema-constrained
	// JSON, and returns the parsed mapping plus the raw JSON bytes.
	Extract(ctx context.Context, req ExtractRequest) (map[string]any, []byte, error)
}
