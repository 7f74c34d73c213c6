package inproc

import (
	"context"
	"fmt"
	"math"
)

// ReservedInstanceSavings compares on-demand and reserved hourly rates.
//
// Arguments: on_demand_hourly, reserved_hourly (required), instance_count
// (default 1), usage_hours_per_month (default 730).
func ReservedInstanceSavings(_ context.Context, args map[string]any) (any, error) {
	onDemand, err := number(args, "on_demand_hourly", -1)
	if err != nil {
		return nil, err
	}
	reserved, err := number(args, "reserved_hourly", -1)
	if err != nil {
		return nil, err
	}
	count, err := number(args, "instance_count", 1)
	if err != nil {
		return nil, err
	}
	hours, err := number(args, "usage_hours_per_month", 730)
	if err != nil {
		return nil, err
	}
	if onDemand < 0 || reserved < 0 || count < 0 || hours < 0 {
		return nil, fmt.Errorf("rates, instance_count and usage_hours_per_month must not be negative")
	}

	monthlyOnDemand := onDemand * hours * count
	monthlyReserved := reserved * hours * count
	monthlySavings := monthlyOnDemand - monthlyReserved
	pct := 0.0
	if monthlyOnDemand > 0 {
		pct = monthlySavings / monthlyOnDemand * 100
	}

	return map[string]any{
		"monthly_on_demand_cost": round2(monthlyOnDemand),
		"monthly_reserved_cost":  round2(monthlyReserved),
		"monthly_savings":        round2(monthlySavings),
		"annual_savings":         round2(monthlySavings * 12),
		"savings_percentage":     round2(pct),
		"instance_count":         count,
		"usage_hours_per_month":  hours,
	}, nil
}

func number(args map[string]any, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if def < 0 {
			return 0, fmt.Errorf("%s is required", key)
		}
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
