package normalize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

// Severity labels, most severe first.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFORMATIONAL"
)

var severityRank = map[string]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// SeverityRank orders severities; unknown labels sort last.
func SeverityRank(s string) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Finding is one security issue in a common shape across sources.
type Finding struct {
	Source   string
	ID       string
	Title    string
	Severity string
	Resource string
}

func (f Finding) toMap() map[string]any {
	m := map[string]any{
		"source":   f.Source,
		"id":       f.ID,
		"title":    f.Title,
		"severity": f.Severity,
	}
	if f.Resource != "" {
		m["resource"] = f.Resource
	}
	return m
}

// Less orders findings by severity, then source, then id.
func (f Finding) Less(o Finding) bool {
	if a, b := SeverityRank(f.Severity), SeverityRank(o.Severity); a != b {
		return a < b
	}
	if f.Source != o.Source {
		return f.Source < o.Source
	}
	return f.ID < o.ID
}

// SortFindings sorts in place with Less.
func SortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Less(fs[j]) })
}

// FindingsOf reads the findings list back out of normalized data.
func FindingsOf(data map[string]any) []Finding {
	items, _ := data["findings"].([]any)
	out := make([]Finding, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Finding{
			Source:   str(m["source"]),
			ID:       str(m["id"]),
			Title:    str(m["title"]),
			Severity: str(m["severity"]),
			Resource: str(m["resource"]),
		})
	}
	return out
}

// FindingsData converts findings to the JSON-shaped list stored in data.
func FindingsData(fs []Finding) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = f.toMap()
	}
	return out
}

// ScoreOf returns the numeric score in normalized data, if any.
func ScoreOf(data map[string]any) (float64, bool) {
	s, ok := data["score"].(float64)
	return s, ok
}

// FindingsScore is 100 - 20 per critical - 10 per high - 5 per medium,
// clamped to [0, 100].
func FindingsScore(breakdown map[string]int) float64 {
	score := 100 - 20*breakdown[SeverityCritical] - 10*breakdown[SeverityHigh] - 5*breakdown[SeverityMedium]
	return clamp(float64(score))
}

// Breakdown counts findings per severity.
func Breakdown(fs []Finding) map[string]int {
	out := map[string]int{SeverityCritical: 0, SeverityHigh: 0, SeverityMedium: 0, SeverityLow: 0}
	for _, f := range fs {
		out[f.Severity]++
	}
	return out
}

// BreakdownData converts a breakdown to JSON-shaped data.
func BreakdownData(b map[string]int) map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		out[k] = float64(v)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Per-source mappers
// ──────────────────────────────────────────────────────────────────────────────

// SecurityHub maps an ASFF findings list.
func SecurityHub(raw *connectors.RawResult) (map[string]any, error) {
	var body struct {
		Findings []struct {
			ID       string `json:"Id"`
			Title    string `json:"Title"`
			Severity struct {
				Label string `json:"Label"`
			} `json:"Severity"`
			Resources []struct {
				ID string `json:"Id"`
			} `json:"Resources"`
		} `json:"Findings"`
	}
	if err := decodeInto(raw, &body); err != nil {
		return nil, err
	}
	fs := make([]Finding, 0, len(body.Findings))
	for _, f := range body.Findings {
		if f.ID == "" {
			return nil, fmt.Errorf("finding without Id")
		}
		fd := Finding{Source: "security_hub", ID: f.ID, Title: f.Title, Severity: severity(f.Severity.Label)}
		if len(f.Resources) > 0 {
			fd.Resource = f.Resources[0].ID
		}
		fs = append(fs, fd)
	}
	return findingsData("security_hub", fs, nil), nil
}

// Inspector maps an Inspector2 ListFindings response.
func Inspector(raw *connectors.RawResult) (map[string]any, error) {
	var body struct {
		Findings []struct {
			FindingArn string `json:"findingArn"`
			Title      string `json:"title"`
			Severity   string `json:"severity"`
			Resources  []struct {
				ID string `json:"id"`
			} `json:"resources"`
		} `json:"findings"`
	}
	if err := decodeInto(raw, &body); err != nil {
		return nil, err
	}
	fs := make([]Finding, 0, len(body.Findings))
	for _, f := range body.Findings {
		if f.FindingArn == "" {
			return nil, fmt.Errorf("finding without findingArn")
		}
		fd := Finding{Source: "inspector", ID: f.FindingArn, Title: f.Title, Severity: severity(f.Severity)}
		if len(f.Resources) > 0 {
			fd.Resource = f.Resources[0].ID
		}
		fs = append(fs, fd)
	}
	return findingsData("inspector", fs, nil), nil
}

// ConfigCompliance maps rule evaluations. Non-compliant evaluations become
// MEDIUM findings; the score is the compliant share of all evaluations.
func ConfigCompliance(raw *connectors.RawResult) (map[string]any, error) {
	var body struct {
		Evaluations []struct {
			Rule           string `json:"rule"`
			ResourceID     string `json:"resource_id"`
			ComplianceType string `json:"compliance_type"`
		} `json:"evaluations"`
	}
	if err := decodeInto(raw, &body); err != nil {
		return nil, err
	}
	var fs []Finding
	compliant, total := 0, 0
	for _, e := range body.Evaluations {
		switch strings.ToUpper(e.ComplianceType) {
		case "COMPLIANT":
			compliant++
			total++
		case "NON_COMPLIANT":
			total++
			fs = append(fs, Finding{
				Source:   "config",
				ID:       e.Rule + "/" + e.ResourceID,
				Title:    "Resource does not comply with rule " + e.Rule,
				Severity: SeverityMedium,
				Resource: e.ResourceID,
			})
		}
	}
	score := 100.0
	if total > 0 {
		score = round2(float64(compliant) / float64(total) * 100)
	}
	data := findingsData("config", fs, &score)
	data["total_evaluations"] = float64(total)
	data["compliant_evaluations"] = float64(compliant)
	return data, nil
}

// TrustedAdvisor maps check results. Checks in error become HIGH findings
// and warnings MEDIUM; the score is 100 - 25 per error - 10 per warning.
func TrustedAdvisor(raw *connectors.RawResult) (map[string]any, error) {
	var body struct {
		Checks []struct {
			ID               string `json:"id"`
			Name             string `json:"name"`
			Category         string `json:"category"`
			Status           string `json:"status"`
			FlaggedResources int    `json:"flagged_resources"`
		} `json:"checks"`
	}
	if err := decodeInto(raw, &body); err != nil {
		return nil, err
	}
	var fs []Finding
	errs, warnings := 0, 0
	for _, c := range body.Checks {
		var sev string
		switch strings.ToLower(c.Status) {
		case "error":
			errs++
			sev = SeverityHigh
		case "warning":
			warnings++
			sev = SeverityMedium
		default:
			continue
		}
		fs = append(fs, Finding{
			Source:   "trusted_advisor",
			ID:       c.ID,
			Title:    fmt.Sprintf("%s (%d flagged resources)", c.Name, c.FlaggedResources),
			Severity: sev,
			Resource: c.Category,
		})
	}
	score := clamp(float64(100 - 25*errs - 10*warnings))
	data := findingsData("trusted_advisor", fs, &score)
	data["checks_total"] = float64(len(body.Checks))
	return data, nil
}

// findingsData builds the common security payload. A nil score uses
// FindingsScore.
func findingsData(source string, fs []Finding, score *float64) map[string]any {
	SortFindings(fs)
	b := Breakdown(fs)
	s := FindingsScore(b)
	if score != nil {
		s = *score
	}
	return map[string]any{
		"source":             source,
		"findings":           FindingsData(fs),
		"total_findings":     float64(len(fs)),
		"severity_breakdown": BreakdownData(b),
		"score":              s,
	}
}

func severity(label string) string {
	l := strings.ToUpper(strings.TrimSpace(label))
	if _, ok := severityRank[l]; ok {
		return l
	}
	if l == "INFO" {
		return SeverityInfo
	}
	return SeverityLow
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(100, f))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
