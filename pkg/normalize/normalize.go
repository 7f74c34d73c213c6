// Package normalize maps backend-native payloads onto the envelope data
// shape. Every mapper is a pure function: no I/O and no clock.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

// ErrMalformed is returned when a payload cannot be mapped.
var ErrMalformed = errors.New("malformed backend response")

// Mapper converts one tool's raw result into envelope data.
type Mapper func(raw *connectors.RawResult) (map[string]any, error)

// Normalizer dispatches to a per-tool mapper, falling back to Generic.
type Normalizer struct {
	mappers map[string]Mapper
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMapper registers or replaces the mapper for tool.
func WithMapper(tool string, m Mapper) Option {
	return func(n *Normalizer) { n.mappers[tool] = m }
}

// New creates a normalizer with the built-in mappers plus opts.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{mappers: map[string]Mapper{
		"security_hub_findings":            SecurityHub,
		"inspector_findings":               Inspector,
		"config_compliance":                ConfigCompliance,
		"trusted_advisor_checks":           TrustedAdvisor,
		"list_infrastructure_repositories": Repositories,
		"monitor_infrastructure_prs":       PullRequests,
		"create_pull_request":              CreatedPullRequest,
		"update_iac_via_github":            Commit,
		"create_github_issue":              CreatedIssue,
		"create_terraform_security_pr":     CreatedPullRequest,
		"create_optimization_pull_request": CreatedPullRequest,
	}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps raw for tool. Any mapper failure is wrapped in ErrMalformed.
func (n *Normalizer) Normalize(tool string, raw *connectors.RawResult) (map[string]any, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty result", ErrMalformed)
	}
	m, ok := n.mappers[tool]
	if !ok {
		m = Generic
	}
	data, err := m(raw)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, tool, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s: mapper returned no data", ErrMalformed, tool)
	}
	return data, nil
}

// Generic maps any JSON or text payload: objects pass through, arrays become
// {items, count}, scalars become {value}, text becomes {text}.
func Generic(raw *connectors.RawResult) (map[string]any, error) {
	if len(bytes.TrimSpace(raw.JSON)) == 0 {
		if strings.TrimSpace(raw.Text) == "" {
			return nil, fmt.Errorf("%w: no content", ErrMalformed)
		}
		return map[string]any{"text": raw.Text}, nil
	}
	v, err := decode(raw.JSON)
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case map[string]any:
		return val, nil
	case []any:
		return map[string]any{"items": val, "count": float64(len(val))}, nil
	case nil:
		return nil, fmt.Errorf("%w: null payload", ErrMalformed)
	default:
		return map[string]any{"value": val}, nil
	}
}

func decode(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// decodeInto unmarshals raw.JSON into out.
func decodeInto(raw *connectors.RawResult, out any) error {
	if len(bytes.TrimSpace(raw.JSON)) == 0 {
		return fmt.Errorf("%w: expected JSON payload", ErrMalformed)
	}
	if err := json.Unmarshal(raw.JSON, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func errMissing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformed, field)
}
