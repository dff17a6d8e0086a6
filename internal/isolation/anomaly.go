package isolation

import (
	"fmt"
	"sync"
	"time"

	"orgline/internal/domain"
)

type AnomalyKind string

const (
	AnomalyHighWorkload     AnomalyKind = "high_workload"
	AnomalyInactiveWithLoad AnomalyKind = "inactive_with_load"
	AnomalyHighFailureRate  AnomalyKind = "high_failure_rate"
)

type Anomaly struct {
	Kind       AnomalyKind     `json:"kind"`
	Subject    domain.Role     `json:"subject"`
	Severity   domain.Priority `json:"severity"`
	Message    string          `json:"message"`
	Value      float64         `json:"value"`
	DetectedAt time.Time       `json:"detected_at" format:"date-time"`
}

func (a Anomaly) Alert() domain.Alert {
	return domain.NewAlert(string(a.Kind), a.Message, a.Severity, string(a.Subject), a.DetectedAt)
}

type Detector struct {
	WorkloadHighWater     float64
	InactivityTimeout     time.Duration
	InactivityMinWorkload float64
	FailureRateThreshold  float64
	FailureMinSamples     int
}

func DefaultDetector() Detector {
	return Detector{
		WorkloadHighWater:     0.95,
		InactivityTimeout:     300 * time.Second,
		InactivityMinWorkload: 0.5,
		FailureRateThreshold:  0.5,
		FailureMinSamples:     5,
	}
}

func (d Detector) Detect(actors []domain.ActorState, now time.Time) []Anomaly {
	var out []Anomaly
	for _, a := range actors {
		if a.Workload > d.WorkloadHighWater {
			out = append(out, Anomaly{
				Kind:       AnomalyHighWorkload,
				Subject:    a.Role,
				Severity:   domain.PriorityHigh,
				Message:    fmt.Sprintf("%s workload %.2f above %.2f", a.Role, a.Workload, d.WorkloadHighWater),
				Value:      a.Workload,
				DetectedAt: now,
			})
		}
		if !a.LastActiveAt.IsZero() && d.InactivityTimeout > 0 {
			idle := now.Sub(a.LastActiveAt)
			if idle > d.InactivityTimeout && a.Workload > d.InactivityMinWorkload {
				out = append(out, Anomaly{
					Kind:       AnomalyInactiveWithLoad,
					Subject:    a.Role,
					Severity:   domain.PriorityCritical,
					Message:    fmt.Sprintf("%s inactive for %s with workload %.2f", a.Role, idle.Truncate(time.Second), a.Workload),
					Value:      idle.Seconds(),
					DetectedAt: now,
				})
			}
		}
		samples := a.Metrics.TasksCompleted + a.Metrics.TasksFailed
		if samples >= d.FailureMinSamples && samples > 0 {
			if rate := a.Metrics.FailureRate(); rate > d.FailureRateThreshold {
				out = append(out, Anomaly{
					Kind:       AnomalyHighFailureRate,
					Subject:    a.Role,
					Severity:   domain.PriorityMedium,
					Message:    fmt.Sprintf("%s failure rate %.2f above %.2f", a.Role, rate, d.FailureRateThreshold),
					Value:      rate,
					DetectedAt: now,
				})
			}
		}
	}
	return out
}

// Registry is an append-only log of anomalies. Record reports whether the
// anomaly is fresh, meaning no anomaly of the same kind and subject was
// recorded within the cooldown.
type Registry struct {
	cooldown time.Duration

	mu       sync.Mutex
	entries  []Anomaly
	lastSeen map[string]time.Time
}

func NewRegistry(cooldown time.Duration) *Registry {
	return &Registry{cooldown: cooldown, lastSeen: map[string]time.Time{}}
}

func (r *Registry) Record(a Anomaly) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, a)
	key := string(a.Kind) + "/" + string(a.Subject)
	last, seen := r.lastSeen[key]
	if seen && a.DetectedAt.Sub(last) < r.cooldown {
		return false
	}
	r.lastSeen[key] = a.DetectedAt
	return true
}

func (r *Registry) List() []Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Anomaly, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
