package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Routing maps pipeline stages to models.
type Routing struct {
	Default StageRoute            `yaml:"default"`
	Stages  map[string]StageRoute `yaml:"stages,omitempty"`
}

// StageRoute is the primary model of a stage and an optional fallback used
// on the fallback rung of the recovery ladder.
type StageRoute struct {
	Primary  RouteTarget  `yaml:"primary"`
	Fallback *RouteTarget `yaml:"fallback,omitempty"`
}

// RouteTarget specifies a provider and model combination.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LoadRouting reads routing configuration from a YAML file.
func LoadRouting(path string) (*Routing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var r Routing
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse routing file %s: %w", path, err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("routing file %s: %w", path, err)
	}
	return &r, nil
}

// DefaultRouting routes every stage to the offline echo client.
func DefaultRouting() *Routing {
	return &Routing{Default: StageRoute{Primary: RouteTarget{Provider: "echo", Model: "echo"}}}
}

// For returns the route of stage, falling back to the default route.
func (r *Routing) For(stage string) StageRoute {
	if route, ok := r.Stages[stage]; ok && route.Primary.Provider != "" {
		return route
	}
	return r.Default
}

// Override replaces the primary target of every stage, keeping fallbacks.
func (r *Routing) Override(provider, model string) {
	r.Default.Primary = RouteTarget{Provider: provider, Model: model}
	for name, route := range r.Stages {
		route.Primary = r.Default.Primary
		r.Stages[name] = route
	}
}

func (r *Routing) validate() error {
	if r.Default.Primary.Provider == "" {
		return fmt.Errorf("default.primary.provider is required")
	}
	for name, route := range r.Stages {
		if route.Fallback != nil && route.Fallback.Provider == "" {
			return fmt.Errorf("stages.%s.fallback.provider is required", name)
		}
	}
	return nil
}
