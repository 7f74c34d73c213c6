package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/bturcanu/OpsGate/pkg/normalize"
	"github.com/bturcanu/OpsGate/pkg/types"
)

// Risk levels derived from the overall score.
const (
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
	RiskUnknown  = "Unknown"
)

var priorityRank = map[string]int{RiskCritical: 0, RiskHigh: 1, RiskMedium: 2, RiskLow: 3}

// RiskLevel maps a 0-100 score: 80 and up is Low, 60 Medium, 40 High, below
// that Critical.
func RiskLevel(score float64) string {
	switch {
	case score >= 80:
		return RiskLow
	case score >= 60:
		return RiskMedium
	case score >= 40:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// mergeFindings unions the findings of live sub-results and averages their
// scores. Only live results may be passed in, so placeholder values never
// reach the average.
func mergeFindings(live []types.ResultEnvelope) map[string]any {
	var all []normalize.Finding
	var scores []float64
	for _, r := range live {
		all = append(all, normalize.FindingsOf(r.Data)...)
		if s, ok := normalize.ScoreOf(r.Data); ok {
			scores = append(scores, s)
		}
	}
	normalize.SortFindings(all)

	data := map[string]any{
		"findings":           normalize.FindingsData(all),
		"total_findings":     float64(len(all)),
		"severity_breakdown": normalize.BreakdownData(normalize.Breakdown(all)),
		"recommendations":    recommendations(all),
		"risk_level":         RiskUnknown,
		"scored_sources":     float64(len(scores)),
	}
	if len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		overall := math.Round(sum/float64(len(scores))*100) / 100
		data["overall_score"] = overall
		data["risk_level"] = RiskLevel(overall)
	}
	return data
}

// recommendations emits one entry per source that reported findings, with
// priority taken from its most severe finding, sorted by priority.
func recommendations(findings []normalize.Finding) []any {
	type rec struct {
		source   string
		priority string
		count    int
		worst    string
	}
	bySource := make(map[string]*rec)
	for _, f := range findings {
		r, ok := bySource[f.Source]
		if !ok {
			r = &rec{source: f.Source, worst: f.Severity}
			bySource[f.Source] = r
		}
		r.count++
		if normalize.SeverityRank(f.Severity) < normalize.SeverityRank(r.worst) {
			r.worst = f.Severity
		}
	}

	recs := make([]*rec, 0, len(bySource))
	for _, r := range bySource {
		r.priority = priorityFor(r.worst)
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if a, b := priorityRank[recs[i].priority], priorityRank[recs[j].priority]; a != b {
			return a < b
		}
		return recs[i].source < recs[j].source
	})

	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]any{
			"source":   r.source,
			"priority": r.priority,
			"action":   fmt.Sprintf("Remediate %d %s finding(s), starting with %s severity", r.count, r.source, r.worst),
		})
	}
	return out
}

func priorityFor(severity string) string {
	switch severity {
	case normalize.SeverityCritical:
		return RiskCritical
	case normalize.SeverityHigh:
		return RiskHigh
	case normalize.SeverityMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}
