// Package github implements the source-control connector on top of the
// go-github REST client.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v69/github"
	"golang.org/x/time/rate"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

const DefaultBaseURL = "https://api.github.com"

// errPaced marks a request the outbound limiter could not admit in time.
var errPaced = errors.New("outbound pacing")

// Operation names served by this connector.
const (
	OpListRepositories = "list_infrastructure_repositories"
	OpListPullRequests = "monitor_infrastructure_prs"
	OpCreatePR         = "create_pull_request"
	OpCommitFile       = "update_iac_via_github"
	OpCreateIssue      = "create_github_issue"
	// OpChangePR branches from base, commits one file and opens a pull
	// request for it.
	OpChangePR = "open_change_pull_request"
)

type Config struct {
	ID      string
	BaseURL string
	Token   string
	// RatePerSec paces outbound calls; GitHub's secondary limits punish bursts.
	RatePerSec float64
	HTTPClient *http.Client
}

// Connector is stateless per call. The go-github client is safe for
// concurrent use.
type Connector struct {
	id     string
	token  string
	http   *http.Client
	client *gh.Client
	health *connectors.Health
}

// New creates a GitHub connector. A missing token is not an error here:
// calls fail fast with an auth failure so the gateway can fall back.
func New(cfg Config) *Connector {
	id := cfg.ID
	if id == "" {
		id = "github"
	}
	hc := &http.Client{Timeout: time.Minute}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	if cfg.RatePerSec > 0 {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc.Transport = &pacedTransport{
			limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
			base:    base,
		}
	}

	client := gh.NewClient(hc)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" && strings.TrimRight(cfg.BaseURL, "/") != DefaultBaseURL {
		if u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/"); err == nil {
			client.BaseURL = u
		}
	}
	return &Connector{
		id:     id,
		token:  cfg.Token,
		http:   hc,
		client: client,
		health: connectors.NewHealth(id, connectors.KindHTTPAPI),
	}
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Kind() connectors.Kind { return connectors.KindHTTPAPI }

func (c *Connector) Health() connectors.Snapshot { return c.health.Snapshot() }

func (c *Connector) Close() error {
	c.health.Closed()
	c.http.CloseIdleConnections()
	return nil
}

// Invoke dispatches on call.Operation.
func (c *Connector) Invoke(ctx context.Context, call connectors.Call) (*connectors.RawResult, error) {
	if c.health.IsClosed() {
		return nil, connectors.Fail(c.id, connectors.FailureClosed, connectors.ErrClosed)
	}
	if c.token == "" {
		err := connectors.Fail(c.id, connectors.FailureAuth, errors.New("GITHUB_TOKEN is not configured"))
		c.health.Failed(err)
		return nil, err
	}

	var (
		out any
		err error
	)
	a := args(call.Args)
	switch call.Operation {
	case OpListRepositories:
		out, err = c.listRepositories(ctx, a)
	case OpListPullRequests:
		out, err = c.listPullRequests(ctx, a)
	case OpCreatePR:
		out, err = c.createPullRequest(ctx, a)
	case OpCommitFile:
		out, err = c.commitFile(ctx, a)
	case OpCreateIssue:
		out, err = c.createIssue(ctx, a)
	case OpChangePR:
		out, err = c.changePullRequest(ctx, a)
	default:
		err = connectors.Fail(c.id, connectors.FailureRemote, fmt.Errorf("unsupported operation %q", call.Operation))
	}
	if err != nil {
		c.health.Degraded(err)
		return nil, err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		ferr := connectors.Fail(c.id, connectors.FailureMalformed, fmt.Errorf("encode result: %w", err))
		c.health.Degraded(ferr)
		return nil, ferr
	}
	c.health.Ready()
	return &connectors.RawResult{Connector: c.id, JSON: raw}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

func (c *Connector) listRepositories(ctx context.Context, a args) ([]*gh.Repository, error) {
	org := a.str("org")
	if org == "" {
		return nil, c.badArgs("org is required")
	}
	repos, _, err := c.client.Repositories.ListByOrg(ctx, org, &gh.RepositoryListByOrgOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	keyword := strings.ToLower(a.str("keyword"))
	if keyword == "" {
		return repos, nil
	}

	// The org listing has no server-side text filter.
	kept := make([]*gh.Repository, 0, len(repos))
	for _, r := range repos {
		if strings.Contains(strings.ToLower(r.GetName()+" "+r.GetDescription()), keyword) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func (c *Connector) listPullRequests(ctx context.Context, a args) ([]*gh.PullRequest, error) {
	owner, repo := a.str("owner"), a.str("repo")
	if owner == "" || repo == "" {
		return nil, c.badArgs("owner and repo are required")
	}
	state := a.str("state")
	if state == "" {
		state = "open"
	}
	prs, _, err := c.client.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
		State:       state,
		ListOptions: gh.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return prs, nil
}

func (c *Connector) createPullRequest(ctx context.Context, a args) (*gh.PullRequest, error) {
	owner, repo := a.str("owner"), a.str("repo")
	title, head := a.str("title"), a.str("head")
	if owner == "" || repo == "" || title == "" || head == "" {
		return nil, c.badArgs("owner, repo, title and head are required")
	}
	return c.openPullRequest(ctx, owner, repo, title, head, a.strOr("base", "main"), a.str("body"), a.boolean("draft"))
}

func (c *Connector) commitFile(ctx context.Context, a args) (*gh.RepositoryContentResponse, error) {
	owner, repo, path := a.str("owner"), a.str("repo"), a.str("path")
	message, branch := a.str("message"), a.str("branch")
	if owner == "" || repo == "" || path == "" || message == "" || branch == "" {
		return nil, c.badArgs("owner, repo, path, message and branch are required")
	}
	content, _ := a["content"].(string)
	return c.putFile(ctx, owner, repo, path, content, message, branch, a.str("sha"))
}

func (c *Connector) createIssue(ctx context.Context, a args) (*gh.Issue, error) {
	owner, repo, title := a.str("owner"), a.str("repo"), a.str("title")
	if owner == "" || repo == "" || title == "" {
		return nil, c.badArgs("owner, repo and title are required")
	}
	req := &gh.IssueRequest{Title: gh.Ptr(title)}
	if body := a.str("body"); body != "" {
		req.Body = gh.Ptr(body)
	}
	if labels := a.strings("labels"); len(labels) > 0 {
		req.Labels = &labels
	}
	issue, _, err := c.client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return issue, nil
}

// changePullRequest creates branch from base (reusing it when it already
// exists), commits one file on it and opens a pull request.
func (c *Connector) changePullRequest(ctx context.Context, a args) (*gh.PullRequest, error) {
	owner, repo := a.str("owner"), a.str("repo")
	title, branch, path := a.str("title"), a.str("branch"), a.str("path")
	if owner == "" || repo == "" || title == "" || branch == "" || path == "" {
		return nil, c.badArgs("owner, repo, title, branch and path are required")
	}
	content, _ := a["content"].(string)
	base := a.strOr("base", "main")

	ref, _, err := c.client.Git.GetRef(ctx, owner, repo, "heads/"+base)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	_, _, err = c.client.Git.CreateRef(ctx, owner, repo, &gh.Reference{
		Ref:    gh.Ptr("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: ref.GetObject().SHA},
	})
	if err != nil && !alreadyExists(err) {
		return nil, c.classify(ctx, err)
	}

	message := title
	if kind := a.str("optimization_type"); kind != "" {
		message = kind + ": " + title
	}
	if _, err := c.putFile(ctx, owner, repo, path, content, a.strOr("message", message), branch, a.str("sha")); err != nil {
		return nil, err
	}
	return c.openPullRequest(ctx, owner, repo, title, branch, base, a.str("body"), a.boolean("draft"))
}

func (c *Connector) openPullRequest(ctx context.Context, owner, repo, title, head, base, body string, draft bool) (*gh.PullRequest, error) {
	req := &gh.NewPullRequest{
		Title: gh.Ptr(title),
		Head:  gh.Ptr(head),
		Base:  gh.Ptr(base),
		Draft: gh.Ptr(draft),
	}
	if body != "" {
		req.Body = gh.Ptr(body)
	}
	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return pr, nil
}

// putFile creates path on branch, or replaces it when sha names the blob
// being updated.
func (c *Connector) putFile(ctx context.Context, owner, repo, path, content, message, branch, sha string) (*gh.RepositoryContentResponse, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: []byte(content),
		Branch:  gh.Ptr(branch),
	}
	path = strings.Trim(path, "/")

	var (
		res *gh.RepositoryContentResponse
		err error
	)
	if sha != "" {
		opts.SHA = gh.Ptr(sha)
		res, _, err = c.client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	} else {
		res, _, err = c.client.Repositories.CreateFile(ctx, owner, repo, path, opts)
	}
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Failure classification
// ──────────────────────────────────────────────────────────────────────────────

// classify maps go-github errors onto connector failure kinds. GitHub
// reports primary rate limits as 403 with X-RateLimit-Remaining: 0, which
// go-github surfaces as *RateLimitError.
func (c *Connector) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return connectors.FromContext(c.id, ctx)
	}

	var (
		rateErr  *gh.RateLimitError
		abuseErr *gh.AbuseRateLimitError
		respErr  *gh.ErrorResponse
		syntax   *json.SyntaxError
		typeErr  *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, errPaced), errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return connectors.Fail(c.id, connectors.FailureRateLimit, err)
	case errors.As(err, &respErr):
		msg := respErr.Message
		code := http.StatusBadGateway
		if respErr.Response != nil {
			code = respErr.Response.StatusCode
		}
		if msg == "" {
			msg = http.StatusText(code)
		}
		return connectors.FailStatus(c.id, code, errors.New(msg))
	case errors.As(err, &syntax), errors.As(err, &typeErr):
		return connectors.Fail(c.id, connectors.FailureMalformed, err)
	default:
		return connectors.Fail(c.id, connectors.FailureNetwork, err)
	}
}

// alreadyExists reports GitHub's 422 for a ref that is already there.
func alreadyExists(err error) bool {
	var respErr *gh.ErrorResponse
	if !errors.As(err, &respErr) || respErr.Response == nil {
		return false
	}
	return respErr.Response.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(respErr.Message), "already exists")
}

func (c *Connector) badArgs(msg string) error {
	return connectors.Fail(c.id, connectors.FailureRemote, errors.New(msg))
}

// pacedTransport holds every outbound request until the limiter admits it.
type pacedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%w: %v", errPaced, err)
	}
	return t.base.RoundTrip(req)
}

type args map[string]any

func (a args) str(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

func (a args) strOr(key, def string) string {
	if s := a.str(key); s != "" {
		return s
	}
	return def
}

func (a args) boolean(key string) bool {
	b, _ := a[key].(bool)
	return b
}

func (a args) strings(key string) []string {
	items, _ := a[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
