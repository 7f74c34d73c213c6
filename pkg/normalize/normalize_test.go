package normalize

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

func rawJSON(s string) *connectors.RawResult {
	return &connectors.RawResult{Connector: "test", JSON: json.RawMessage(s)}
}

func TestGeneric(t *testing.T) {
	tests := []struct {
		name string
		raw  *connectors.RawResult
		want map[string]any
	}{
		{"object", rawJSON(`{"a":1}`), map[string]any{"a": float64(1)}},
		{"array", rawJSON(`[1,2]`), map[string]any{"items": []any{float64(1), float64(2)}, "count": float64(2)}},
		{"scalar", rawJSON(`"ok"`), map[string]any{"value": "ok"}},
		{"text", &connectors.RawResult{Text: "plan: 2 to add"}, map[string]any{"text": "plan: 2 to add"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Generic(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := New()
	tests := []struct {
		tool string
		raw  *connectors.RawResult
	}{
		{"get_pricing", nil},
		{"get_pricing", &connectors.RawResult{}},
		{"get_pricing", rawJSON(`null`)},
		{"get_pricing", rawJSON(`{broken`)},
		{"security_hub_findings", &connectors.RawResult{Text: "not json"}},
		{"security_hub_findings", rawJSON(`{"Findings":[{"Title":"no id"}]}`)},
		{"create_pull_request", rawJSON(`{}`)},
	}
	for _, tt := range tests {
		if _, err := n.Normalize(tt.tool, tt.raw); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", tt.tool, err)
		}
	}
}

func TestWithMapperOverrides(t *testing.T) {
	n := New(WithMapper("get_pricing", func(*connectors.RawResult) (map[string]any, error) {
		return map[string]any{"custom": true}, nil
	}))
	got, err := n.Normalize("get_pricing", rawJSON(`{}`))
	if err != nil || got["custom"] != true {
		t.Fatalf("override not used: %+v %v", got, err)
	}
}

func TestSecurityHub(t *testing.T) {
	data, err := SecurityHub(rawJSON(`{"Findings":[
		{"Id":"f2","Title":"S3 bucket public","Severity":{"Label":"HIGH"},"Resources":[{"Id":"arn:aws:s3:::logs"}]},
		{"Id":"f1","Title":"Root MFA disabled","Severity":{"Label":"CRITICAL"}},
		{"Id":"f3","Title":"Old keys","Severity":{"Label":"MEDIUM"}}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	fs := FindingsOf(data)
	if len(fs) != 3 || fs[0].ID != "f1" || fs[1].ID != "f2" {
		t.Fatalf("findings not sorted by severity: %+v", fs)
	}
	if fs[1].Resource != "arn:aws:s3:::logs" {
		t.Errorf("resource not mapped: %+v", fs[1])
	}
	// 100 - 20 - 10 - 5
	if s, _ := ScoreOf(data); s != 65 {
		t.Errorf("score = %v, want 65", s)
	}
}

func TestInspector(t *testing.T) {
	data, err := Inspector(rawJSON(`{"findings":[
		{"findingArn":"arn:1","title":"CVE-2024-1","severity":"CRITICAL","resources":[{"id":"i-123"}]},
		{"findingArn":"arn:2","title":"CVE-2024-2","severity":"CRITICAL"},
		{"findingArn":"arn:3","title":"CVE-2024-3","severity":"CRITICAL"},
		{"findingArn":"arn:4","title":"CVE-2024-4","severity":"CRITICAL"},
		{"findingArn":"arn:5","title":"CVE-2024-5","severity":"CRITICAL"},
		{"findingArn":"arn:6","title":"CVE-2024-6","severity":"CRITICAL"}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := ScoreOf(data); s != 0 {
		t.Errorf("score should clamp at 0, got %v", s)
	}
	if data["total_findings"] != float64(6) {
		t.Errorf("total_findings = %v", data["total_findings"])
	}
}

func TestConfigCompliance(t *testing.T) {
	data, err := ConfigCompliance(rawJSON(`{"evaluations":[
		{"rule":"s3-encryption","resource_id":"logs","compliance_type":"COMPLIANT"},
		{"rule":"s3-encryption","resource_id":"data","compliance_type":"NON_COMPLIANT"},
		{"rule":"mfa","resource_id":"root","compliance_type":"COMPLIANT"},
		{"rule":"mfa","resource_id":"ci","compliance_type":"NOT_APPLICABLE"}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := ScoreOf(data); s != 66.67 {
		t.Errorf("score = %v, want 66.67", s)
	}
	fs := FindingsOf(data)
	if len(fs) != 1 || fs[0].ID != "s3-encryption/data" || fs[0].Severity != SeverityMedium {
		t.Errorf("unexpected findings: %+v", fs)
	}

	empty, _ := ConfigCompliance(rawJSON(`{"evaluations":[]}`))
	if s, _ := ScoreOf(empty); s != 100 {
		t.Errorf("no evaluations should score 100, got %v", s)
	}
}

func TestTrustedAdvisor(t *testing.T) {
	data, err := TrustedAdvisor(rawJSON(`{"checks":[
		{"id":"c1","name":"Security Groups","category":"security","status":"warning","flagged_resources":3},
		{"id":"c2","name":"IAM Use","category":"security","status":"ok"},
		{"id":"c3","name":"MFA on Root","category":"security","status":"error","flagged_resources":1}
	]}`))
	if err != nil {
		t.Fatal(err)
	}
	// 100 - 25 - 10
	if s, _ := ScoreOf(data); s != 65 {
		t.Errorf("score = %v, want 65", s)
	}
	fs := FindingsOf(data)
	if len(fs) != 2 || fs[0].Severity != SeverityHigh {
		t.Errorf("unexpected findings: %+v", fs)
	}
}

func TestRepositories(t *testing.T) {
	data, err := Repositories(rawJSON(`[
		{"name":"platform-terraform","full_name":"acme/platform-terraform"},
		{"name":"web","description":"marketing site"},
		{"name":"clusters","topics":["kubernetes"]},
		{"name":"old-infra","archived":true}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	if data["count"] != float64(2) || data["total_scanned"] != float64(4) {
		t.Errorf("unexpected counts: %+v", data)
	}
}

func TestGitHubWriteMappers(t *testing.T) {
	pr, err := CreatedPullRequest(rawJSON(`{"number":12,"html_url":"https://github.com/acme/infra/pull/12","state":"open","title":"t"}`))
	if err != nil || pr["number"] != float64(12) || pr["created"] != true {
		t.Errorf("unexpected pr data: %+v %v", pr, err)
	}
	c, err := Commit(rawJSON(`{"content":{"path":"main.tf","sha":"b1"},"commit":{"sha":"c1","html_url":"u"}}`))
	if err != nil || c["commit_sha"] != "c1" || c["path"] != "main.tf" {
		t.Errorf("unexpected commit data: %+v %v", c, err)
	}
	issue, err := CreatedIssue(rawJSON(`{"number":7,"html_url":"u","state":"open","title":"t","labels":[{"name":"security"}]}`))
	if err != nil || issue["number"] != float64(7) || !reflect.DeepEqual(issue["labels"], []any{"security"}) {
		t.Errorf("unexpected issue data: %+v %v", issue, err)
	}
	if _, err := CreatedIssue(rawJSON(`{"title":"no number"}`)); err == nil {
		t.Error("issue without a number should not map")
	}
}

func TestChangePullRequestToolsShareTheCreateMapper(t *testing.T) {
	n := New()
	raw := rawJSON(`{"number":3,"html_url":"u","state":"open","title":"t"}`)
	for _, tool := range []string{"create_terraform_security_pr", "create_optimization_pull_request"} {
		data, err := n.Normalize(tool, raw)
		if err != nil {
			t.Fatalf("%s: %v", tool, err)
		}
		if data["created"] != true || data["number"] != float64(3) {
			t.Errorf("%s: unexpected data %+v", tool, data)
		}
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := New()
	raw := rawJSON(`{"Findings":[{"Id":"b","Severity":{"Label":"LOW"}},{"Id":"a","Severity":{"Label":"LOW"}}]}`)
	a, err := n.Normalize("security_hub_findings", raw)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := n.Normalize("security_hub_findings", raw)
	if !reflect.DeepEqual(a, b) {
		t.Error("normalizing the same payload twice differs")
	}
	if FindingsOf(a)[0].ID != "a" {
		t.Error("ties should sort by id")
	}
}

func TestDigest(t *testing.T) {
	a := Digest(map[string]any{"b": 1, "a": []any{"x", map[string]any{"d": 2, "c": 3}}})
	b := Digest(map[string]any{"a": []any{"x", map[string]any{"c": 3, "d": 2}}, "b": 1})
	if a == "" || a != b {
		t.Errorf("digest not stable: %s vs %s", a, b)
	}
	if a == Digest(map[string]any{"b": 2}) {
		t.Error("different inputs share a digest")
	}
	canon, _ := CanonicalJSON(map[string]any{"z": 1, "a": true})
	if string(canon) != `{"a":true,"z":1}` {
		t.Errorf("canonical = %s", canon)
	}
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil arguments", map[string]any(nil), `{}`},
		{"empty arguments", map[string]any{}, `{}`},
		{"no html escaping", map[string]any{"filter": "a<b&c"}, `{"filter":"a<b&c"}`},
		{"string and any slices", map[string]any{"l": []string{"x"}, "m": []any{"x"}}, `{"l":["x"],"m":["x"]}`},
		{"integral numbers", map[string]any{"f": 50.0, "i": 50}, `{"f":50,"i":50}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
	if Digest(map[string]any(nil)) != Digest(map[string]any{}) {
		t.Error("nil and empty arguments should share a digest")
	}
	if Digest(make(chan int)) != "" {
		t.Error("unencodable values should digest to the empty string")
	}
}
