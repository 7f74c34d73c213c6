package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bturcanu/OpsGate/pkg/types"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func fakeGateway(t *testing.T, seen *types.Request) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoke", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
			t.Errorf("decode: %v", err)
		}
		env := types.ResultEnvelope{RequestID: "r-1", Tool: seen.Tool, Status: types.StatusSuccess, DataSource: types.SourceLive}
		if !seen.Consent && seen.Tool == "create_pull_request" {
			env.Status = types.StatusError
			env.DataSource = types.SourceFallback
			env.Error = types.NewErrorInfo(types.KindConsentRequired, "explicit consent required for this operation")
		}
		_ = json.NewEncoder(w).Encode(env)
	})
	mux.HandleFunc("GET /v1/tools", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"get_pricing","safety_class":"SAFE","backend":"aws-pricing","composite":false,"arguments":[{"name":"service_code","type":"string","required":true},{"name":"region","type":"string","required":false}]},
			{"name":"comprehensive_security_analysis","safety_class":"SAFE","composite":true,"components":["security_hub_findings","inspector_findings"],"arguments":[]}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInvokeCommand(t *testing.T) {
	var seen types.Request
	srv := fakeGateway(t, &seen)

	out, _, err := run(t, "--url", srv.URL, "invoke", "get_pricing", "--args", `{"service_code":"AmazonEC2"}`, "--timeout", "5s")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if seen.Arguments["service_code"] != "AmazonEC2" || seen.TimeoutMS != 5000 || seen.Consent {
		t.Errorf("unexpected request: %+v", seen)
	}
	if !strings.Contains(out, `"status": "success"`) {
		t.Errorf("output missing envelope: %s", out)
	}
}

func TestInvokeCommandConsentHint(t *testing.T) {
	var seen types.Request
	srv := fakeGateway(t, &seen)

	_, errOut, err := run(t, "--url", srv.URL, "invoke", "create_pull_request")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errOut, "--consent") {
		t.Errorf("expected consent hint, got %q", errOut)
	}

	_, errOut, err = run(t, "--url", srv.URL, "invoke", "create_pull_request", "--consent")
	if err != nil {
		t.Fatal(err)
	}
	if !seen.Consent || errOut != "" {
		t.Errorf("consent not sent or unexpected hint: %+v %q", seen, errOut)
	}
}

func TestInvokeCommandRejectsBadArgs(t *testing.T) {
	_, _, err := run(t, "invoke", "get_pricing", "--args", "not json")
	if err == nil || !strings.Contains(err.Error(), "--args") {
		t.Fatalf("expected --args error, got %v", err)
	}
}

func TestToolsCommand(t *testing.T) {
	srv := fakeGateway(t, &types.Request{})
	out, _, err := run(t, "--url", srv.URL, "tools")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"get_pricing", "service_code*", "composite(security_hub_findings,inspector_findings)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckIntentCommand(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"please create pull request for the fix", `dangerous intent: "create pull request"`},
		{"what did we spend on EC2 last month", "no dangerous intent detected"},
	}
	for _, tt := range tests {
		out, _, err := run(t, "check-intent", tt.text)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, tt.want) {
			t.Errorf("check-intent %q = %q, want %q", tt.text, out, tt.want)
		}
	}
}
