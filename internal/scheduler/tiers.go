package scheduler

import (
	"errors"
	"fmt"
	"time"

	"orgline/internal/domain"
)

var ErrUnknownPriority = errors.New("unknown priority")

// Tier is the static scheduling profile of one priority level.
type Tier struct {
	Priority      domain.Priority
	Weight        float64
	Timeout       time.Duration
	MaxConcurrent int
}

// Tiers maps each priority to its tier.
type Tiers map[domain.Priority]Tier

// DefaultTiers mirrors the stock configuration.
func DefaultTiers() Tiers {
	return Tiers{
		domain.PriorityLow:      {Priority: domain.PriorityLow, Weight: 1, Timeout: 300 * time.Second, MaxConcurrent: 8},
		domain.PriorityMedium:   {Priority: domain.PriorityMedium, Weight: 2, Timeout: 60 * time.Second, MaxConcurrent: 4},
		domain.PriorityHigh:     {Priority: domain.PriorityHigh, Weight: 3, Timeout: 30 * time.Second, MaxConcurrent: 2},
		domain.PriorityCritical: {Priority: domain.PriorityCritical, Weight: 4, Timeout: 5 * time.Second, MaxConcurrent: 1},
	}
}

func (t Tiers) Lookup(p domain.Priority) (Tier, error) {
	tier, ok := t[p]
	if !ok {
		return Tier{}, fmt.Errorf("%w %q", ErrUnknownPriority, p)
	}
	return tier, nil
}

// Weight returns the tier weight, zero for unknown priorities.
func (t Tiers) Weight(p domain.Priority) float64 {
	return t[p].Weight
}

// Validate requires every priority to be present with positive limits.
func (t Tiers) Validate() error {
	for _, p := range domain.Priorities() {
		tier, ok := t[p]
		if !ok {
			return fmt.Errorf("tier %s missing", p)
		}
		if tier.Weight <= 0 {
			return fmt.Errorf("tier %s weight must be positive", p)
		}
		if tier.Timeout <= 0 {
			return fmt.Errorf("tier %s timeout must be positive", p)
		}
		if tier.MaxConcurrent <= 0 {
			return fmt.Errorf("tier %s max_concurrent must be positive", p)
		}
	}
	return nil
}
