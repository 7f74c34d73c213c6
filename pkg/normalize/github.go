package normalize

import (
	"strings"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

// infraMarkers identify infrastructure repositories by name, description,
// topic or language.
var infraMarkers = []string{
	"terraform", "infra", "iac", "cdk", "cloudformation", "pulumi",
	"ansible", "kubernetes", "k8s", "helm", "hcl",
}

type repo struct {
	Name        string   `json:"name"`
	FullName    string   `json:"full_name"`
	HTMLURL     string   `json:"html_url"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Topics      []string `json:"topics"`
	Archived    bool     `json:"archived"`
}

func (r repo) isInfra() bool {
	hay := strings.ToLower(strings.Join(append([]string{r.Name, r.Description, r.Language}, r.Topics...), " "))
	for _, m := range infraMarkers {
		if strings.Contains(hay, m) {
			return true
		}
	}
	return false
}

// Repositories keeps non-archived infrastructure repositories.
func Repositories(raw *connectors.RawResult) (map[string]any, error) {
	var repos []repo
	if err := decodeInto(raw, &repos); err != nil {
		return nil, err
	}
	out := make([]any, 0, len(repos))
	for _, r := range repos {
		if r.Archived || !r.isInfra() {
			continue
		}
		out = append(out, map[string]any{
			"name":        r.Name,
			"full_name":   r.FullName,
			"url":         r.HTMLURL,
			"description": r.Description,
			"language":    r.Language,
		})
	}
	return map[string]any{
		"repositories":  out,
		"count":         float64(len(out)),
		"total_scanned": float64(len(repos)),
	}, nil
}

// PullRequests flattens a pull request listing.
func PullRequests(raw *connectors.RawResult) (map[string]any, error) {
	var prs []struct {
		Number    int    `json:"number"`
		Title     string `json:"title"`
		State     string `json:"state"`
		HTMLURL   string `json:"html_url"`
		Draft     bool   `json:"draft"`
		CreatedAt string `json:"created_at"`
		UpdatedAt string `json:"updated_at"`
		User      struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := decodeInto(raw, &prs); err != nil {
		return nil, err
	}
	out := make([]any, 0, len(prs))
	for _, pr := range prs {
		out = append(out, map[string]any{
			"number":     float64(pr.Number),
			"title":      pr.Title,
			"state":      pr.State,
			"url":        pr.HTMLURL,
			"author":     pr.User.Login,
			"draft":      pr.Draft,
			"created_at": pr.CreatedAt,
			"updated_at": pr.UpdatedAt,
		})
	}
	return map[string]any{"pull_requests": out, "count": float64(len(out))}, nil
}

// CreatedPullRequest maps the create-PR response.
func CreatedPullRequest(raw *connectors.RawResult) (map[string]any, error) {
	var pr struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
		Title   string `json:"title"`
	}
	if err := decodeInto(raw, &pr); err != nil {
		return nil, err
	}
	if pr.Number == 0 {
		return nil, errMissing("number")
	}
	return map[string]any{
		"created": true,
		"number":  float64(pr.Number),
		"url":     pr.HTMLURL,
		"state":   pr.State,
		"title":   pr.Title,
	}, nil
}

// Commit maps the contents API response.
func Commit(raw *connectors.RawResult) (map[string]any, error) {
	var body struct {
		Content struct {
			Path string `json:"path"`
			SHA  string `json:"sha"`
		} `json:"content"`
		Commit struct {
			SHA     string `json:"sha"`
			HTMLURL string `json:"html_url"`
		} `json:"commit"`
	}
	if err := decodeInto(raw, &body); err != nil {
		return nil, err
	}
	if body.Commit.SHA == "" {
		return nil, errMissing("commit.sha")
	}
	return map[string]any{
		"committed":  true,
		"path":       body.Content.Path,
		"blob_sha":   body.Content.SHA,
		"commit_sha": body.Commit.SHA,
		"url":        body.Commit.HTMLURL,
	}, nil
}

// CreatedIssue maps the create-issue response.
func CreatedIssue(raw *connectors.RawResult) (map[string]any, error) {
	var issue struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
		Title   string `json:"title"`
		Labels  []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := decodeInto(raw, &issue); err != nil {
		return nil, err
	}
	if issue.Number == 0 {
		return nil, errMissing("number")
	}
	labels := make([]any, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	return map[string]any{
		"created": true,
		"number":  float64(issue.Number),
		"url":     issue.HTMLURL,
		"state":   issue.State,
		"title":   issue.Title,
		"labels":  labels,
	}, nil
}
