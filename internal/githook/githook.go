// Package githook registers the deployment webhook on a GitHub repository.
package githook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

var ErrMissingToken = errors.New("GitHub token is required")

// Action is what EnsureWebhook did to the repository.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Options describes the push webhook to register.
type Options struct {
	Owner  string
	Repo   string
	URL    string // public URL of the webhook route
	Secret string

	// InsecureSSL disables certificate verification on GitHub's side.
	InsecureSSL bool
}

// Client wraps an authenticated GitHub API client.
type Client struct {
	gh *github.Client
}

// NewClient creates a client authenticated with a personal access token.
func NewClient(ctx context.Context, token string) (*Client, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{gh: github.NewClient(tc)}, nil
}

// WithBaseURL points the client at another API root, such as GitHub
// Enterprise. The URL must end with a slash.
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c.gh.BaseURL = u
	return c, nil
}

// ParseRepo splits "owner/repo".
func ParseRepo(ownerRepo string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid owner/repo format: %s", ownerRepo)
	}
	return owner, repo, nil
}

// EnsureWebhook makes sure the repository has an active push webhook for
// opts.URL using opts.Secret. An existing hook with the same URL is updated
// in place, otherwise a new one is created.
func (c *Client) EnsureWebhook(ctx context.Context, opts Options) (*github.Hook, Action, error) {
	if opts.URL == "" {
		return nil, "", errors.New("webhook URL is required")
	}
	if opts.Secret == "" {
		return nil, "", errors.New("webhook secret is required")
	}

	existing, err := c.findHook(ctx, opts.Owner, opts.Repo, opts.URL)
	if err != nil {
		return nil, "", err
	}

	active := true
	hookReq := &github.Hook{
		Events: []string{"push"},
		Active: &active,
		Config: hookConfig(opts),
	}

	if existing != nil {
		hook, _, err := c.gh.Repositories.EditHook(ctx, opts.Owner, opts.Repo, existing.GetID(), hookReq)
		if err != nil {
			return nil, "", fmt.Errorf("updating webhook: %w", err)
		}
		return hook, ActionUpdated, nil
	}

	hook, _, err := c.gh.Repositories.CreateHook(ctx, opts.Owner, opts.Repo, hookReq)
	if err != nil {
		return nil, "", fmt.Errorf("creating webhook: %w", err)
	}
	return hook, ActionCreated, nil
}

// findHook returns the hook delivering to hookURL, or nil.
func (c *Client) findHook(ctx context.Context, owner, repo, hookURL string) (*github.Hook, error) {
	opts := &github.ListOptions{PerPage: 100}
	for {
		hooks, resp, err := c.gh.Repositories.ListHooks(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing webhooks: %w", err)
		}

		for _, hook := range hooks {
			if hook.Config == nil {
				continue
			}
			if u, ok := hook.Config["url"].(string); ok && u == hookURL {
				return hook, nil
			}
		}

		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func hookConfig(opts Options) map[string]interface{} {
	insecure := "0"
	if opts.InsecureSSL {
		insecure = "1"
	}
	return map[string]interface{}{
		"url":          opts.URL,
		"content_type": "json",
		"secret":       opts.Secret,
		"insecure_ssl": insecure,
	}
}
