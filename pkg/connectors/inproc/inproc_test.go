package inproc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

func TestReservedInstanceSavings(t *testing.T) {
	out, err := ReservedInstanceSavings(context.Background(), map[string]any{
		"on_demand_hourly": 0.10,
		"reserved_hourly":  0.06,
		"instance_count":   float64(2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	// 0.04/h * 730h * 2 = 58.40
	if m["monthly_savings"] != 58.4 {
		t.Errorf("monthly_savings = %v, want 58.4", m["monthly_savings"])
	}
	if m["annual_savings"] != 700.8 {
		t.Errorf("annual_savings = %v, want 700.8", m["annual_savings"])
	}
	if m["savings_percentage"] != 40.0 {
		t.Errorf("savings_percentage = %v, want 40", m["savings_percentage"])
	}
}

func TestReservedInstanceSavingsRejectsBadInput(t *testing.T) {
	tests := []map[string]any{
		{"reserved_hourly": 0.06},
		{"on_demand_hourly": "x", "reserved_hourly": 0.06},
		{"on_demand_hourly": -1.0, "reserved_hourly": 0.06},
	}
	for _, args := range tests {
		if _, err := ReservedInstanceSavings(context.Background(), args); err == nil {
			t.Errorf("expected error for %+v", args)
		}
	}
}

func TestConnectorInvoke(t *testing.T) {
	c := New("local", map[string]HandlerFunc{
		"reserved_instance_savings": ReservedInstanceSavings,
	})
	res, err := c.Invoke(context.Background(), connectors.Call{
		Operation: "reserved_instance_savings",
		Args:      map[string]any{"on_demand_hourly": 1.0, "reserved_hourly": 0.5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(res.JSON, &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["monthly_savings"] != 365.0 {
		t.Errorf("monthly_savings = %v, want 365", body["monthly_savings"])
	}
	if c.Health().State != "READY" {
		t.Errorf("expected READY, got %s", c.Health().State)
	}
}

func TestConnectorFailures(t *testing.T) {
	c := New("local", map[string]HandlerFunc{
		"boom": func(context.Context, map[string]any) (any, error) { return nil, errors.New("boom") },
	})

	_, err := c.Invoke(context.Background(), connectors.Call{Operation: "missing"})
	if connectors.KindOf(err) != connectors.FailureRemote {
		t.Errorf("unknown operation: kind = %s", connectors.KindOf(err))
	}

	_, err = c.Invoke(context.Background(), connectors.Call{Operation: "boom"})
	if connectors.KindOf(err) != connectors.FailureRemote {
		t.Errorf("handler error: kind = %s", connectors.KindOf(err))
	}
	if c.Health().State != "DEGRADED" {
		t.Errorf("expected DEGRADED, got %s", c.Health().State)
	}

	_ = c.Close()
	_, err = c.Invoke(context.Background(), connectors.Call{Operation: "boom"})
	if connectors.KindOf(err) != connectors.FailureClosed {
		t.Errorf("after close: kind = %s", connectors.KindOf(err))
	}
}
