package ports

import (
	"context"

	"github.com/alejandrodnm/fdamarket/internal/domain"
)

// Decider produces one trading decision for one (market, model) pair. It
// wraps an external reasoning service and must sanitize its own output:
// the orchestrator trusts the returned Decision to be well-formed (known
// action, finite non-negative amount, bounded explanation).
type Decider interface {
	// ModelID identifies which account this decider trades for.
	ModelID() string

	// Enabled reports whether the decider can be called at all (e.g. its
	// API key is configured). Disabled deciders cost an error action, not
	// a crash.
	Enabled() bool

	// Decide returns the model's action for the given context, or an
	// *domain.AdapterError when the external call fails or times out.
	Decide(ctx context.Context, dc domain.DecisionContext) (*domain.Decision, error)
}
