package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zombor/invoice-insight/internal/quota"
)

// DefaultCallTimeout bounds a single external model call
const DefaultCallTimeout = 60 * time.Second

// Admitter decides whether a request may spend budget on the model.
// *quota.Guard implements it.
type Admitter interface {
	Admit(ctx context.Context, date string) (quota.Admission, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options configures Analyzer and Assistant
type Options struct {
	Catalog     Catalog
	CallTimeout time.Duration
	Metrics     *Metrics
	TimeSource  TimeSource
}

type stage string

const (
	stageQuotaCheck stage = "quota_check"
	stagePrompting  stage = "prompting"
	stageCalling    stage = "calling"
	stageParsing    stage = "parsing"
)

// pipeline holds the steps shared by the analysis and chat paths
type pipeline struct {
	operation string
	guard     Admitter
	generator Generator
	catalog   Catalog
	timeout   time.Duration
	metrics   *Metrics
	clock     TimeSource
}

func newPipeline(operation string, guard Admitter, generator Generator, opts Options) pipeline {
	opts.Catalog = NewCatalog(opts.Catalog.Standard, opts.Catalog.Lite)
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.TimeSource == nil {
		opts.TimeSource = defaultTimeSource{}
	}
	return pipeline{
		operation: operation,
		guard:     guard,
		generator: generator,
		catalog:   opts.Catalog,
		timeout:   opts.CallTimeout,
		metrics:   opts.Metrics,
		clock:     opts.TimeSource,
	}
}

func (p pipeline) enter(s stage, attrs ...any) {
	slog.Debug("AI pipeline stage", append([]any{"operation", p.operation, "stage", s}, attrs...)...)
}

// admit spends one unit of today's budget. Quota and store errors are returned unchanged.
func (p pipeline) admit(ctx context.Context) error {
	p.enter(stageQuotaCheck)
	admission, err := p.guard.Admit(ctx, quota.Today(p.clock.Now()))
	if err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			slog.Warn("AI request rejected", "operation", p.operation, "reason", "quota_exceeded", "source", quota.SourceLocal, "error", err)
			p.metrics.observeOutcome(p.operation, OutcomeQuotaLocal)
		} else {
			slog.Error("AI request rejected", "operation", p.operation, "reason", "store_unavailable", "error", err)
			p.metrics.observeOutcome(p.operation, OutcomeStoreUnavailable)
		}
		return err
	}
	slog.Debug("AI request admitted", "operation", p.operation, "date", admission.Date, "count", admission.Count, "remaining", admission.Remaining)
	return nil
}

// call invokes the provider under the configured timeout. Provider rate
// limits come back as a provider *quota.ExceededError; the returned outcome
// labels every failure for metrics.
func (p pipeline) call(ctx context.Context, prompt Prompt) (string, string, error) {
	p.enter(stageCalling, "model", prompt.Model)

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := p.generator.Generate(callCtx, prompt)
	p.metrics.observeCall(p.operation, prompt.Model, time.Since(start))
	if err == nil {
		return text, OutcomeSuccess, nil
	}

	err = ClassifyProviderError(err)
	outcome := OutcomeProviderError
	switch {
	case errors.Is(err, quota.ErrExceeded):
		outcome = OutcomeQuotaProvider
		slog.Warn("AI provider rejected request", "operation", p.operation, "model", prompt.Model, "reason", "quota_exceeded", "source", quota.SourceProvider, "error", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		outcome = OutcomeTimeout
		slog.Warn("AI provider call abandoned", "operation", p.operation, "model", prompt.Model, "timeout", p.timeout, "error", err)
	default:
		slog.Error("AI provider call failed", "operation", p.operation, "model", prompt.Model, "error", err)
	}
	return "", outcome, err
}
