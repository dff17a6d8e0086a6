package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"orgline/internal/domain"
)

// FileName is the config file looked up in a workspace.
const FileName = "orgline.yml"

// Config models orgline.yml.
type Config struct {
	Company struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"company" json:"company"`
	Scheduler struct {
		Tiers map[string]TierConfig `yaml:"tiers" json:"tiers"`
	} `yaml:"scheduler" json:"scheduler"`
	Breaker struct {
		FailureThreshold int      `yaml:"failure_threshold" json:"failure_threshold"`
		RecoveryTimeout  Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
		HalfOpenMaxCalls int      `yaml:"half_open_max_calls" json:"half_open_max_calls"`
	} `yaml:"breaker" json:"breaker"`
	Delegation struct {
		Weights struct {
			Capability float64 `yaml:"capability" json:"capability"`
			Workload   float64 `yaml:"workload" json:"workload"`
			History    float64 `yaml:"history" json:"history"`
		} `yaml:"weights" json:"weights"`
		PriorityWeights          map[string]float64 `yaml:"priority_weights" json:"priority_weights"`
		DefaultEstimatedWorkload float64            `yaml:"default_estimated_workload" json:"default_estimated_workload"`
	} `yaml:"delegation" json:"delegation"`
	Anomaly struct {
		WorkloadHighWater     float64  `yaml:"workload_high_water" json:"workload_high_water"`
		InactivityTimeout     Duration `yaml:"inactivity_timeout" json:"inactivity_timeout"`
		InactivityMinWorkload float64  `yaml:"inactivity_min_workload" json:"inactivity_min_workload"`
		FailureRateThreshold  float64  `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
		FailureMinSamples     int      `yaml:"failure_min_samples" json:"failure_min_samples"`
		Cooldown              Duration `yaml:"cooldown" json:"cooldown"`
	} `yaml:"anomaly" json:"anomaly"`
	Fallback struct {
		ApproveOnFailure bool   `yaml:"approve_on_failure" json:"approve_on_failure"`
		Reason           string `yaml:"reason" json:"reason"`
	} `yaml:"fallback" json:"fallback"`
	Actors        map[string]ActorConfig `yaml:"actors" json:"actors"`
	Collaboration []Edge                 `yaml:"collaboration" json:"collaboration"`
	Snapshot      struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"snapshot" json:"snapshot"`
	Reasoner struct {
		URL     string   `yaml:"url" json:"url"`
		Timeout Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"reasoner" json:"reasoner"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
	Log      struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

type TierConfig struct {
	Weight        float64  `yaml:"weight" json:"weight"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	MaxConcurrent int      `yaml:"max_concurrent" json:"max_concurrent"`
}

type ActorConfig struct {
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

type Edge struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

type WebhookConfig struct {
	ID             string   `yaml:"id" json:"id"`
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Events         []string `yaml:"events" json:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Duration reads Go duration strings such as "30s" or "5m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with orgline init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Company.ID) == "" {
		return fmt.Errorf("config.company.id is required")
	}
	for _, p := range domain.Priorities() {
		tier, ok := c.Scheduler.Tiers[string(p)]
		if !ok {
			return fmt.Errorf("config.scheduler.tiers.%s is required", p)
		}
		if tier.Weight <= 0 || tier.Timeout <= 0 || tier.MaxConcurrent <= 0 {
			return fmt.Errorf("config.scheduler.tiers.%s needs positive weight, timeout and max_concurrent", p)
		}
	}
	for name := range c.Scheduler.Tiers {
		if !domain.Priority(name).Valid() {
			return fmt.Errorf("config.scheduler.tiers has unknown tier %s", name)
		}
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config.breaker.failure_threshold must be positive")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("config.breaker.recovery_timeout must be positive")
	}
	if c.Breaker.HalfOpenMaxCalls <= 0 {
		return fmt.Errorf("config.breaker.half_open_max_calls must be positive")
	}
	w := c.Delegation.Weights
	if w.Capability < 0 || w.Workload < 0 || w.History < 0 || w.Capability+w.Workload+w.History == 0 {
		return fmt.Errorf("config.delegation.weights must be non-negative and not all zero")
	}
	for name, v := range c.Delegation.PriorityWeights {
		if !domain.Priority(name).Valid() {
			return fmt.Errorf("config.delegation.priority_weights has unknown priority %s", name)
		}
		if v <= 0 {
			return fmt.Errorf("config.delegation.priority_weights.%s must be positive", name)
		}
	}
	if est := c.Delegation.DefaultEstimatedWorkload; est < 0 || est > 1 {
		return fmt.Errorf("config.delegation.default_estimated_workload must be within [0,1]")
	}
	if hw := c.Anomaly.WorkloadHighWater; hw <= 0 || hw > 1 {
		return fmt.Errorf("config.anomaly.workload_high_water must be within (0,1]")
	}
	if c.Anomaly.FailureRateThreshold < 0 || c.Anomaly.FailureRateThreshold > 1 {
		return fmt.Errorf("config.anomaly.failure_rate_threshold must be within [0,1]")
	}
	for role := range c.Actors {
		if !domain.Role(role).Valid() {
			return fmt.Errorf("config.actors has unknown role %s", role)
		}
	}
	for i, e := range c.Collaboration {
		if !domain.Role(e.From).Valid() || !domain.Role(e.To).Valid() {
			return fmt.Errorf("config.collaboration[%d] references unknown role %s -> %s", i, e.From, e.To)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Capabilities returns configured capabilities for role.
func (c *Config) Capabilities(role domain.Role) []string {
	return append([]string(nil), c.Actors[string(role)].Capabilities...)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(companyID string) string {
	return fmt.Sprintf(defaultTemplate, companyID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a company.
func Default(companyID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, companyID))).Decode(&cfg)
	cfg.Company.ID = companyID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left
// out of the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `company:
  id: %s

scheduler:
  tiers:
    low:      {weight: 1, timeout: 300s, max_concurrent: 8}
    medium:   {weight: 2, timeout: 60s,  max_concurrent: 4}
    high:     {weight: 3, timeout: 30s,  max_concurrent: 2}
    critical: {weight: 4, timeout: 5s,   max_concurrent: 1}

breaker:
  failure_threshold: 5
  recovery_timeout: 30s
  half_open_max_calls: 3

delegation:
  weights:
    capability: 0.5
    workload: 0.3
    history: 0.2
  priority_weights:
    critical: 1.5
    high: 1.2
    medium: 1.0
    low: 0.8
  default_estimated_workload: 0.1

anomaly:
  workload_high_water: 0.95
  inactivity_timeout: 300s
  inactivity_min_workload: 0.5
  failure_rate_threshold: 0.5
  failure_min_samples: 5
  cooldown: 5m

fallback:
  approve_on_failure: false
  reason: "insufficient information"

actors:
  ceo:
    capabilities: [strategy, leadership, decision_making, vision]
  cto:
    capabilities: [technology, architecture, engineering, security]
  cpo:
    capabilities: [product, roadmap, user_research, design]
  cmo:
    capabilities: [marketing, branding, growth, market_research]
  cfo:
    capabilities: [finance, budget, accounting, forecasting]
  hr:
    capabilities: [hiring, culture, people, training]
  rd:
    capabilities: [development, python, api, ml, testing]
  data_analyst:
    capabilities: [analytics, metrics, reporting, sql]
  customer_support:
    capabilities: [support, customer, feedback, documentation]
  operations:
    capabilities: [operations, monitoring, infrastructure, process]

collaboration:
  - {from: ceo, to: cto}
  - {from: ceo, to: cpo}
  - {from: ceo, to: cmo}
  - {from: ceo, to: cfo}
  - {from: cpo, to: customer_support}
  - {from: cto, to: rd}
  - {from: operations, to: ceo}

snapshot:
  path: .orgline/company_state.json

reasoner:
  url: ""
  timeout: 30s

webhooks: []

log:
  level: info
  format: text
`
