// Package reasoning is the decision capability consumed by actors. The core
// never interprets decisions; it only observes whether a call succeeded.
package reasoning

import (
	"context"
	"errors"

	"orgline/internal/domain"
)

// ErrUnavailable marks a reasoning call that could not produce a decision.
var ErrUnavailable = errors.New("reasoning unavailable")

// Request is the role context and prompt handed to the reasoner.
type Request struct {
	Role    domain.Role    `json:"role"`
	Kind    string         `json:"kind"`
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
}

// Decision is the structured answer. Content is opaque to the core.
type Decision struct {
	Summary string         `json:"summary"`
	Content map[string]any `json:"content"`
}

type Reasoner interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// Func adapts a function to Reasoner.
type Func func(ctx context.Context, req Request) (Decision, error)

func (f Func) Decide(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}
