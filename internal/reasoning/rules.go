package reasoning

import (
	"context"
	"fmt"
	"strconv"

	"orgline/internal/domain"
)

// Request kinds understood by Rules.
const (
	KindTask          = "task"
	KindApproval      = "approval"
	KindData          = "data"
	KindStatus        = "status"
	KindCollaboration = "collaboration"
	KindAlert         = "alert"
)

// Rules is a deterministic local reasoner. Approvals pass when the amount is
// within the role's limit; everything else is acknowledged.
type Rules struct {
	ApprovalLimits map[domain.Role]float64
}

func DefaultRules() Rules {
	return Rules{ApprovalLimits: map[domain.Role]float64{
		domain.RoleCEO: 1_000_000,
		domain.RoleCFO: 100_000,
		domain.RoleCTO: 50_000,
		domain.RoleCPO: 50_000,
		domain.RoleCMO: 50_000,
		domain.RoleHR:  20_000,
	}}
}

func (r Rules) Decide(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch req.Kind {
	case KindApproval:
		amount := number(req.Context["amount"])
		if amount == 0 {
			amount = number(req.Context["budget"])
		}
		limit, ok := r.ApprovalLimits[req.Role]
		approved := ok && amount <= limit
		reason := fmt.Sprintf("amount %.2f within %s limit", amount, req.Role)
		if !approved {
			reason = fmt.Sprintf("amount %.2f exceeds %s limit", amount, req.Role)
		}
		return Decision{
			Summary: reason,
			Content: map[string]any{"approved": approved, "reason": reason},
		}, nil
	case KindTask:
		return Decision{
			Summary: fmt.Sprintf("%s completed %v", req.Role, req.Context["title"]),
			Content: map[string]any{"status": "completed"},
		}, nil
	case KindData:
		return Decision{
			Summary: fmt.Sprintf("%s provided data", req.Role),
			Content: map[string]any{"data": req.Context["kpis"]},
		}, nil
	default:
		return Decision{
			Summary: fmt.Sprintf("%s acknowledged %s", req.Role, req.Kind),
			Content: map[string]any{"acknowledged": true},
		}, nil
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
