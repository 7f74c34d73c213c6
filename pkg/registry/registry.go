// Package registry loads the declarative tool catalogue and answers lookups
// against it. A Registry is immutable once loaded.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed tools.yaml
var defaultTools []byte

// ErrNotFound is returned by Lookup for an unknown tool name.
var ErrNotFound = errors.New("tool not found")

// DefaultTimeout caps a single backend call when a descriptor sets none.
const DefaultTimeout = 30 * time.Second

// ──────────────────────────────────────────────────────────────────────────────
// Descriptor model
// ──────────────────────────────────────────────────────────────────────────────

// SafetyClass decides whether a tool needs explicit consent.
type SafetyClass string

const (
	SafetySafe            SafetyClass = "SAFE"
	SafetyConsentRequired SafetyClass = "CONSENT_REQUIRED"
)

// ArgType is the closed set of argument types a schema may declare.
type ArgType string

const (
	TypeString  ArgType = "string"
	TypeNumber  ArgType = "number"
	TypeInteger ArgType = "integer"
	TypeBoolean ArgType = "boolean"
	TypeArray   ArgType = "array"
	TypeObject  ArgType = "object"
)

func (t ArgType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// ArgSpec is one named, typed argument of a tool.
type ArgSpec struct {
	Name        string  `json:"name"`
	Type        ArgType `json:"type"`
	Required    bool    `json:"required"`
	Default     any     `json:"default,omitempty"`
	Description string  `json:"description,omitempty"`
}

// ToolDescriptor declares one agent-facing tool. Descriptors are shared by
// every invocation and must be treated as read-only.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	SafetyClass SafetyClass    `json:"safety_class"`
	Backend     string         `json:"backend,omitempty"`
	RemoteName  string         `json:"remote_name,omitempty"`
	Composite   bool           `json:"composite"`
	Components  []string       `json:"components,omitempty"`
	Timeout     time.Duration  `json:"-"`
	Args        []ArgSpec      `json:"arguments"`
	Fallback    map[string]any `json:"-"`
}

// RequiresConsent reports whether the tool may change external state.
func (d *ToolDescriptor) RequiresConsent() bool {
	return d.SafetyClass == SafetyConsentRequired
}

// Operation returns the backend-native operation name.
func (d *ToolDescriptor) Operation() string {
	if d.RemoteName != "" {
		return d.RemoteName
	}
	return d.Name
}

// Arg returns the spec for the named argument.
func (d *ToolDescriptor) Arg(name string) (ArgSpec, bool) {
	for _, a := range d.Args {
		if a.Name == name {
			return a, true
		}
	}
	return ArgSpec{}, false
}

// ──────────────────────────────────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────────────────────────────────

// Registry maps tool names to descriptors.
type Registry struct {
	tools map[string]*ToolDescriptor
	names []string
}

// LoadDefault loads the embedded catalogue.
func LoadDefault(connectorIDs []string) (*Registry, error) {
	return Load(strings.NewReader(string(defaultTools)), connectorIDs)
}

// LoadFile loads a catalogue from a YAML file on disk.
func LoadFile(path string, connectorIDs []string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry.LoadFile open: %w", err)
	}
	defer f.Close()
	return Load(f, connectorIDs)
}

// Load decodes and validates a catalogue. Every non-composite tool must bind
// to one of connectorIDs.
func Load(r io.Reader, connectorIDs []string) (*Registry, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("registry.Load decode: %w", err)
	}

	known := make(map[string]bool, len(connectorIDs))
	for _, id := range connectorIDs {
		known[id] = true
	}

	reg := &Registry{tools: make(map[string]*ToolDescriptor, len(doc.Tools))}
	for i, raw := range doc.Tools {
		d, err := raw.descriptor()
		if err != nil {
			return nil, fmt.Errorf("registry.Load tool[%d] %q: %w", i, raw.Name, err)
		}
		if _, dup := reg.tools[d.Name]; dup {
			return nil, fmt.Errorf("registry.Load: duplicate tool name %q", d.Name)
		}
		if !d.Composite && !known[d.Backend] {
			return nil, fmt.Errorf("registry.Load tool %q: unknown backend %q", d.Name, d.Backend)
		}
		reg.tools[d.Name] = d
		reg.names = append(reg.names, d.Name)
	}

	// Component references can point forward, so check them once all
	// descriptors are known.
	for _, name := range reg.names {
		d := reg.tools[name]
		for _, c := range d.Components {
			sub, ok := reg.tools[c]
			if !ok {
				return nil, fmt.Errorf("registry.Load tool %q: unknown component %q", name, c)
			}
			if sub.Composite {
				return nil, fmt.Errorf("registry.Load tool %q: component %q is itself composite", name, c)
			}
			// A composite may never be weaker than what it runs.
			if sub.RequiresConsent() && !d.RequiresConsent() {
				return nil, fmt.Errorf("registry.Load tool %q: component %q requires consent but the composite is %s", name, c, d.SafetyClass)
			}
		}
	}

	sort.Strings(reg.names)
	return reg, nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (*ToolDescriptor, error) {
	d, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// List returns every descriptor sorted by name.
func (r *Registry) List() []*ToolDescriptor {
	out := make([]*ToolDescriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.tools[n])
	}
	return out
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.names) }

// ──────────────────────────────────────────────────────────────────────────────
// YAML document
// ──────────────────────────────────────────────────────────────────────────────

type fileDoc struct {
	Tools []rawTool `yaml:"tools"`
}

type rawTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	SafetyClass string         `yaml:"safety_class"`
	Backend     string         `yaml:"backend"`
	RemoteName  string         `yaml:"remote_name"`
	Composite   []string       `yaml:"composite"`
	Timeout     string         `yaml:"timeout"`
	Arguments   []rawArg       `yaml:"arguments"`
	Fallback    map[string]any `yaml:"fallback"`
}

type rawArg struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

func (raw rawTool) descriptor() (*ToolDescriptor, error) {
	d := &ToolDescriptor{
		Name:        strings.ToLower(strings.TrimSpace(raw.Name)),
		Description: strings.TrimSpace(raw.Description),
		SafetyClass: SafetyClass(strings.ToUpper(strings.TrimSpace(raw.SafetyClass))),
		Backend:     strings.TrimSpace(raw.Backend),
		RemoteName:  strings.TrimSpace(raw.RemoteName),
		Timeout:     DefaultTimeout,
		Fallback:    fallbackData(raw.Fallback),
	}
	if d.Name == "" {
		return nil, errors.New("name is required")
	}
	switch d.SafetyClass {
	case SafetySafe, SafetyConsentRequired:
	default:
		return nil, fmt.Errorf("invalid safety_class %q", raw.SafetyClass)
	}

	if len(raw.Composite) > 0 {
		if d.Backend != "" {
			return nil, errors.New("composite tools must not declare a backend")
		}
		d.Composite = true
		seen := make(map[string]bool, len(raw.Composite))
		for _, c := range raw.Composite {
			c = strings.ToLower(strings.TrimSpace(c))
			if c == "" || c == d.Name {
				return nil, fmt.Errorf("invalid component %q", c)
			}
			if seen[c] {
				return nil, fmt.Errorf("duplicate component %q", c)
			}
			seen[c] = true
			d.Components = append(d.Components, c)
		}
	} else if d.Backend == "" {
		return nil, errors.New("backend is required")
	}

	if raw.Timeout != "" {
		t, err := time.ParseDuration(raw.Timeout)
		if err != nil || t <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", raw.Timeout)
		}
		d.Timeout = t
	}

	seen := make(map[string]bool, len(raw.Arguments))
	for _, ra := range raw.Arguments {
		a := ArgSpec{
			Name:        strings.TrimSpace(ra.Name),
			Type:        ArgType(strings.ToLower(strings.TrimSpace(ra.Type))),
			Required:    ra.Required,
			Default:     jsonify(ra.Default),
			Description: ra.Description,
		}
		if a.Name == "" {
			return nil, errors.New("argument name is required")
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate argument %q", a.Name)
		}
		seen[a.Name] = true
		if !a.Type.valid() {
			return nil, fmt.Errorf("argument %q: invalid type %q", a.Name, ra.Type)
		}
		if a.Default != nil {
			if a.Required {
				return nil, fmt.Errorf("argument %q: required arguments cannot have a default", a.Name)
			}
			if reason := checkType(a.Type, a.Default); reason != "" {
				return nil, fmt.Errorf("argument %q: default %s", a.Name, reason)
			}
		}
		d.Args = append(d.Args, a)
	}
	return d, nil
}

// jsonify converts YAML-decoded values into the shapes encoding/json
// produces, so defaults and fallbacks compare equal to decoded request data.
func jsonify(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonify(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonify(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return val
	}
}

func fallbackData(m map[string]any) map[string]any {
	out, _ := jsonify(m).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
