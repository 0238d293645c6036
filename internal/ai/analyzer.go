package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/invoice-insight/internal/quota"
)

// Analyzer extracts structured data from invoice documents
type Analyzer struct {
	pipeline
}

// NewAnalyzer creates an Analyzer that spends budget from guard and calls generator
func NewAnalyzer(guard Admitter, generator Generator, opts Options) *Analyzer {
	return &Analyzer{pipeline: newPipeline(operationAnalyze, guard, generator, opts)}
}

// Analyze runs one document through quota check, prompting, the model call
// and response validation.
//
// Errors match quota.ErrExceeded (local budget or provider rate limit),
// quota.ErrStoreUnavailable, or ErrProcessingFailed. Schema failures also
// carry a *SchemaError. Budget spent at the quota check is never returned.
func (a *Analyzer) Analyze(ctx context.Context, document []byte, mediaType string, choice string) (*AnalysisResult, error) {
	if err := a.admit(ctx); err != nil {
		return nil, err
	}

	model := a.catalog.Resolve(choice)
	a.enter(stagePrompting, "model", model, "media_type", mediaType, "size", len(document))
	prompt := Prompt{
		Model: model,
		Text:  AnalysisPrompt(),
		Document: &Document{
			Data:     document,
			MIMEType: mediaType,
		},
		JSON: true,
	}

	raw, outcome, err := a.call(ctx, prompt)
	if err != nil {
		a.metrics.observeOutcome(a.operation, outcome)
		if errors.Is(err, quota.ErrExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}

	a.enter(stageParsing, "model", model, "length", len(raw))
	result, err := ParseAnalysis(raw)
	if err != nil {
		slog.Error("AI response failed validation", "operation", a.operation, "model", model, "reason", OutcomeSchemaError, "error", err)
		a.metrics.observeOutcome(a.operation, OutcomeSchemaError)
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}

	a.metrics.observeOutcome(a.operation, OutcomeSuccess)
	return result, nil
}
