package ai

import "context"

// Prompt is a single request to the external model
type Prompt struct {
	// Model is the provider model identifier, see Catalog.Resolve
	Model string
	Text  string
	// Document is attached as a second part when set
	Document *Document
	// JSON asks the provider to reply with a JSON document only
	JSON bool
}

// Generator calls an external generative model and returns its raw text reply
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	// Close releases the provider client
	Close() error
}
