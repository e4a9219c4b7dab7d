// Package gitinspect provides the git.latest-commit evidence capability:
// given a repository URL and revision, it fetches the newest commit and its
// patch from the GitHub REST API.
package gitinspect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"approver/pkg/evidence"
	"approver/pkg/logx"
	"approver/pkg/proto"
)

// Provider implements evidence.Provider for GitHub-hosted repositories.
type Provider struct {
	apiBase     string
	token       string
	maxPatchLen int
	httpClient  *http.Client
	logger      *logx.Logger
}

// New creates a provider against the given API base (https://api.github.com
// for github.com repositories). The token may be empty for public repos.
func New(apiBase, token string, maxPatchLen int) *Provider {
	if maxPatchLen <= 0 {
		maxPatchLen = 20000
	}
	return &Provider{
		apiBase:     strings.TrimRight(apiBase, "/"),
		token:       token,
		maxPatchLen: maxPatchLen,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logx.NewLogger("gitinspect"),
	}
}

// Name implements evidence.Provider.
func (p *Provider) Name() string { return "gitinspect" }

// Capabilities implements evidence.Provider.
func (p *Provider) Capabilities() []proto.Capability {
	return []proto.Capability{proto.CapGitLatestCommit}
}

// Invoke implements evidence.Provider. Params: url (required), revision
// (optional, defaults to the repository's default branch).
func (p *Provider) Invoke(ctx context.Context, _ proto.Capability, params map[string]string) (string, error) {
	repoURL := params["url"]
	if repoURL == "" {
		return "", evidence.Permanent(fmt.Errorf("missing url parameter"))
	}

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", evidence.Permanent(err)
	}

	revision := params["revision"]
	if revision == "" {
		revision = "HEAD"
	}

	commit, err := p.fetchCommit(ctx, owner, repo, revision)
	if err != nil {
		return "", err
	}
	patch, err := p.fetchPatch(ctx, owner, repo, commit.SHA)
	if err != nil {
		// The commit metadata alone still has evidentiary value.
		p.logger.Warn("patch fetch for %s/%s@%s failed: %v", owner, repo, commit.SHA, err)
		patch = "(patch unavailable)"
	}

	if len(patch) > p.maxPatchLen {
		// The byte cut can land inside a multi-byte rune; drop the partial one.
		patch = strings.ToValidUTF8(patch[:p.maxPatchLen], "") + "\n[... patch truncated ...]"
	}

	return fmt.Sprintf("Repository: %s/%s\nCommit: %s\nAuthor: %s <%s>\nDate: %s\nMessage: %s\n\nPatch:\n%s",
		owner, repo, commit.SHA, commit.Commit.Author.Name, commit.Commit.Author.Email,
		commit.Commit.Author.Date, commit.Commit.Message, patch), nil
}

type commitResponse struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Date  string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

func (p *Provider) fetchCommit(ctx context.Context, owner, repo, revision string) (*commitResponse, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", p.apiBase, owner, repo, revision)
	body, err := p.get(ctx, url, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}

	var commit commitResponse
	if err := json.Unmarshal(body, &commit); err != nil {
		return nil, evidence.Permanent(fmt.Errorf("failed to decode commit response: %w", err))
	}
	return &commit, nil
}

func (p *Provider) fetchPatch(ctx context.Context, owner, repo, sha string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", p.apiBase, owner, repo, sha)
	body, err := p.get(ctx, url, "application/vnd.github.patch")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (p *Provider) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, evidence.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", accept)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, evidence.Transient(fmt.Errorf("request to %s failed: %w", url, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, evidence.Transient(fmt.Errorf("failed to read response from %s: %w", url, err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, evidence.Permanent(fmt.Errorf("GET %s: 404 not found", url))
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, evidence.Permanent(fmt.Errorf("GET %s: 401 bad credentials", url))
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		// GitHub reports rate limiting as 403 or 429.
		return nil, evidence.Transient(fmt.Errorf("GET %s: %d rate limited", url, resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, evidence.Transient(fmt.Errorf("GET %s: %d server error", url, resp.StatusCode))
	default:
		return nil, evidence.Permanent(fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode))
	}
}

// ParseRepoURL extracts owner and repository from the URL forms pipelines
// carry: https, ssh scp-like, and ssh URI.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	cleaned := strings.TrimSuffix(strings.TrimSpace(raw), ".git")

	var path string
	switch {
	case strings.HasPrefix(cleaned, "https://"), strings.HasPrefix(cleaned, "http://"):
		parts := strings.SplitN(cleaned, "://", 2)
		segments := strings.Split(parts[1], "/")
		if len(segments) < 3 {
			return "", "", fmt.Errorf("git url %q has no owner/repo path", raw)
		}
		path = strings.Join(segments[1:], "/")
	case strings.HasPrefix(cleaned, "ssh://"):
		parts := strings.SplitN(strings.TrimPrefix(cleaned, "ssh://"), "/", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("git url %q has no owner/repo path", raw)
		}
		path = parts[1]
	case strings.Contains(cleaned, "@") && strings.Contains(cleaned, ":"):
		// scp-like: git@github.com:owner/repo
		parts := strings.SplitN(cleaned, ":", 2)
		path = parts[1]
	default:
		return "", "", fmt.Errorf("unsupported git url %q", raw)
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("git url %q has no owner/repo path", raw)
	}
	return segments[0], segments[1], nil
}
