package orchestrator

import (
	"context"
	"fmt"

	"orgline/internal/domain"
	"orgline/internal/isolation"
	"orgline/internal/reasoning"
)

func ReasoningBreakerKey(role domain.Role) string { return "reasoning:" + string(role) }

// guardedReasoner puts every reasoning call behind the caller's breaker.
// An open breaker or an exceeded deadline reads as ErrUnavailable to the
// actor, which then answers with its fallback.
type guardedReasoner struct {
	inner    reasoning.Reasoner
	breakers *isolation.Breakers
}

func (g guardedReasoner) Decide(ctx context.Context, req reasoning.Request) (reasoning.Decision, error) {
	if g.inner == nil {
		return reasoning.Decision{}, reasoning.ErrUnavailable
	}
	key := ReasoningBreakerKey(req.Role)
	if !g.breakers.Allow(key) {
		return reasoning.Decision{}, fmt.Errorf("%w: %w", reasoning.ErrUnavailable, isolation.ErrCircuitOpen)
	}
	d, err := g.inner.Decide(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		g.breakers.RecordFailure(key)
		return reasoning.Decision{}, fmt.Errorf("%w: %w", reasoning.ErrUnavailable, err)
	}
	g.breakers.RecordSuccess(key)
	return d, nil
}
