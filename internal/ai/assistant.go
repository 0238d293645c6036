package ai

import (
	"context"
	"errors"

	"github.com/zombor/invoice-insight/internal/quota"
)

// DegradedReply is returned instead of an error when the provider fails for
// any reason other than a rate limit
const DegradedReply = "I am currently overloaded. Please try again later."

// Assistant answers questions about a user's invoice history
type Assistant struct {
	pipeline
}

// NewAssistant creates an Assistant that spends budget from guard and calls generator
func NewAssistant(guard Admitter, generator Generator, opts Options) *Assistant {
	return &Assistant{pipeline: newPipeline(operationChat, guard, generator, opts)}
}

// Chat answers message using invoiceContext, see InvoiceContext.
//
// Quota exhaustion, local or provider, is returned as an error matching
// quota.ErrExceeded, and a ledger failure as quota.ErrStoreUnavailable.
// Every other failure yields DegradedReply with a nil error.
func (a *Assistant) Chat(ctx context.Context, message, invoiceContext, choice string) (string, error) {
	if err := a.admit(ctx); err != nil {
		return "", err
	}

	model := a.catalog.Resolve(choice)
	a.enter(stagePrompting, "model", model)
	prompt := Prompt{
		Model: model,
		Text:  ChatPrompt(message, invoiceContext),
	}

	raw, outcome, err := a.call(ctx, prompt)
	if err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			a.metrics.observeOutcome(a.operation, outcome)
			return "", err
		}
		a.metrics.observeOutcome(a.operation, OutcomeDegraded)
		return DegradedReply, nil
	}

	a.enter(stageParsing, "model", model, "length", len(raw))
	a.metrics.observeOutcome(a.operation, OutcomeSuccess)
	return ParseChatReply(raw), nil
}
