package registry

import (
	"fmt"
	"math"
	"sort"

	"github.com/bturcanu/OpsGate/pkg/types"
)

// ResolveArgs validates args against the tool's schema and returns a new map
// with defaults applied. The caller's map is never modified.
func (d *ToolDescriptor) ResolveArgs(args map[string]any) (map[string]any, error) {
	// Report unknown names in a stable order.
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if _, ok := d.Arg(k); !ok {
			return nil, &types.ValidationError{Field: "arguments." + k, Reason: "is not a known argument"}
		}
	}

	out := make(map[string]any, len(d.Args))
	for _, arg := range d.Args {
		v, present := args[arg.Name]
		if !present || v == nil {
			if arg.Required {
				return nil, &types.ValidationError{Field: "arguments." + arg.Name, Reason: "is required"}
			}
			if arg.Default != nil {
				out[arg.Name] = cloneValue(arg.Default)
			}
			continue
		}
		if reason := checkType(arg.Type, v); reason != "" {
			return nil, &types.ValidationError{Field: "arguments." + arg.Name, Reason: reason}
		}
		out[arg.Name] = v
	}
	return out, nil
}

// FilterArgs keeps only the arguments the tool declares. Composite tools use
// it to hand each component the subset it understands.
func (d *ToolDescriptor) FilterArgs(args map[string]any) map[string]any {
	out := make(map[string]any)
	for _, arg := range d.Args {
		if v, ok := args[arg.Name]; ok {
			out[arg.Name] = v
		}
	}
	return out
}

// checkType returns an empty string when v conforms to t, else a reason.
func checkType(t ArgType, v any) string {
	switch t {
	case TypeString:
		if _, ok := v.(string); ok {
			return ""
		}
	case TypeBoolean:
		if _, ok := v.(bool); ok {
			return ""
		}
	case TypeNumber:
		if _, ok := numeric(v); ok {
			return ""
		}
	case TypeInteger:
		if f, ok := numeric(v); ok {
			if f == math.Trunc(f) && !math.IsInf(f, 0) {
				return ""
			}
			return "must be an integer"
		}
	case TypeArray:
		if _, ok := v.([]any); ok {
			return ""
		}
		if _, ok := v.([]string); ok {
			return ""
		}
	case TypeObject:
		if _, ok := v.(map[string]any); ok {
			return ""
		}
	}
	return fmt.Sprintf("must be of type %s", t)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// cloneValue deep-copies maps and slices so defaults stay immutable.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// CloneData deep-copies a JSON-shaped map.
func CloneData(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return cloneValue(m).(map[string]any)
}
