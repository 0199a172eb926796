// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ModeSevenIndustrialSolutions/gh-config-migrate/internal/resource"
	"github.com/google/go-github/v53/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const perPage = 100

// githubTokenTransport is a custom transport that adds GitHub token authentication
type githubTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *githubTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "token "+t.token)
	return t.base.RoundTrip(req)
}

// Client is a REST client bound to one credential
type Client struct {
	client  *github.Client
	limiter *rate.Limiter
	baseURL string
	log     logrus.FieldLogger
}

// Option configures a Client
type Option func(*Client)

// WithLimiter replaces the default request limiter
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a client for the given credential. An empty baseURL means
// api.github.com; anything else is treated as a GitHub Enterprise API root.
func NewClient(cred resource.Credential, baseURL string, opts ...Option) (*Client, error) {
	var client *github.Client

	if !cred.IsZero() {
		transport := &githubTokenTransport{
			token: cred.Token(),
			base:  http.DefaultTransport,
		}
		client = github.NewClient(&http.Client{Transport: transport})
	} else {
		client = github.NewClient(nil)
	}

	if baseURL != "" && baseURL != "https://api.github.com/" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		var err error
		client.BaseURL, err = url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
	}

	c := &Client{
		client: client,
		// 5000 requests per hour for authenticated users; secondary limits
		// punish bursts of writes more than steady traffic.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 5),
		baseURL: baseURL,
		log:     logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Host returns the web host of the API endpoint, empty for github.com
func (c *Client) Host() string {
	return HostFromAPIURL(c.baseURL)
}

// HostFromAPIURL derives the gh host name from an API URL. github.com yields "".
func HostFromAPIURL(apiURL string) string {
	if apiURL == "" {
		return ""
	}
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Hostname()
	if host == "api.github.com" || host == "github.com" {
		return ""
	}
	return strings.TrimPrefix(host, "api.")
}

// do issues one request through the limiter and maps failures
func (c *Client) do(ctx context.Context, method, endpoint string, body, v interface{}) (*github.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RequestError{Method: method, Endpoint: endpoint, Err: err}
	}

	req, err := c.client.NewRequest(method, endpoint, body)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: endpoint, Err: err}
	}

	c.log.WithFields(logrus.Fields{"method": method, "endpoint": endpoint}).Debug("GitHub API request")

	resp, err := c.client.Do(ctx, req, v)
	if err != nil {
		return resp, c.wrap(method, endpoint, resp, err)
	}
	return resp, nil
}

// wrap turns a go-github error into ErrNotFound, a rate limit, or a RequestError
func (c *Client) wrap(method, endpoint string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if status == http.StatusNotFound {
		return &RequestError{Method: method, Endpoint: endpoint, StatusCode: status, Err: ErrNotFound}
	}

	return &RequestError{Method: method, Endpoint: endpoint, StatusCode: status, Err: c.handleRateLimit(err, resp)}
}

func withPage(endpoint string, page int) string {
	return fmt.Sprintf("%s?per_page=%d&page=%d", endpoint, perPage, page)
}

type secretList struct {
	TotalCount int       `json:"total_count"`
	Secrets    []*Secret `json:"secrets"`
}

type variableList struct {
	TotalCount int         `json:"total_count"`
	Variables  []*Variable `json:"variables"`
}

// ListSecrets lists every secret in a collection such as "repos/o/r/actions/secrets"
func (c *Client) ListSecrets(ctx context.Context, collection string) ([]*Secret, error) {
	var all []*Secret

	page := 1
	for {
		var out secretList
		resp, err := c.do(ctx, http.MethodGet, withPage(collection, page), nil, &out)
		if err != nil {
			return nil, err
		}

		all = append(all, out.Secrets...)

		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	return all, nil
}

// ListVariables lists every variable, with values, in a collection
func (c *Client) ListVariables(ctx context.Context, collection string) ([]*Variable, error) {
	var all []*Variable

	page := 1
	for {
		var out variableList
		resp, err := c.do(ctx, http.MethodGet, withPage(collection, page), nil, &out)
		if err != nil {
			return nil, err
		}

		all = append(all, out.Variables...)

		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	return all, nil
}

// GetVariable reads one variable
func (c *Client) GetVariable(ctx context.Context, collection, name string) (*Variable, error) {
	v := new(Variable)
	if _, err := c.do(ctx, http.MethodGet, collection+"/"+url.PathEscape(name), nil, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ItemExists probes "{collection}/{name}". A 404 is reported as false.
func (c *Client) ItemExists(ctx context.Context, collection, name string) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, collection+"/"+url.PathEscape(name), nil, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateVariable creates a variable in a collection
func (c *Client) CreateVariable(ctx context.Context, collection string, v *Variable) error {
	_, err := c.do(ctx, http.MethodPost, collection, v, nil)
	return err
}

// UpdateVariable updates an existing variable
func (c *Client) UpdateVariable(ctx context.Context, collection string, v *Variable) error {
	_, err := c.do(ctx, http.MethodPatch, collection+"/"+url.PathEscape(v.Name), v, nil)
	return err
}

// PutVariable updates the variable, creating it if the update finds nothing
func (c *Client) PutVariable(ctx context.Context, collection string, v *Variable) error {
	err := c.UpdateVariable(ctx, collection, v)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return c.CreateVariable(ctx, collection, v)
}

// ListEnvironments lists the deployment environments of a repository
func (c *Client) ListEnvironments(ctx context.Context, org, repo string) ([]*github.Environment, error) {
	var all []*github.Environment
	endpoint := fmt.Sprintf("repos/%s/%s/environments", org, repo)

	opts := &github.EnvironmentListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &RequestError{Method: http.MethodGet, Endpoint: endpoint, Err: err}
		}

		envs, resp, err := c.client.Repositories.ListEnvironments(ctx, org, repo, opts)
		if err != nil {
			return nil, c.wrap(http.MethodGet, endpoint, resp, err)
		}

		all = append(all, envs.Environments...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// GetEnvironment reads one environment
func (c *Client) GetEnvironment(ctx context.Context, org, repo, name string) (*github.Environment, error) {
	endpoint := fmt.Sprintf("repos/%s/%s/environments/%s", org, repo, url.PathEscape(name))
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RequestError{Method: http.MethodGet, Endpoint: endpoint, Err: err}
	}

	env, resp, err := c.client.Repositories.GetEnvironment(ctx, org, repo, url.PathEscape(name))
	if err != nil {
		return nil, c.wrap(http.MethodGet, endpoint, resp, err)
	}
	return env, nil
}

// CreateEnvironment creates (or updates) an environment
func (c *Client) CreateEnvironment(ctx context.Context, org, repo, name string, settings *github.CreateUpdateEnvironment) error {
	endpoint := fmt.Sprintf("repos/%s/%s/environments/%s", org, repo, url.PathEscape(name))
	if err := c.limiter.Wait(ctx); err != nil {
		return &RequestError{Method: http.MethodPut, Endpoint: endpoint, Err: err}
	}

	_, resp, err := c.client.Repositories.CreateUpdateEnvironment(ctx, org, repo, url.PathEscape(name), settings)
	return c.wrap(http.MethodPut, endpoint, resp, err)
}

// ListDeploymentBranchPolicies returns the branch name patterns of an
// environment that uses custom branch policies
func (c *Client) ListDeploymentBranchPolicies(ctx context.Context, org, repo, env string) ([]string, error) {
	var names []string
	endpoint := fmt.Sprintf("repos/%s/%s/environments/%s/deployment-branch-policies", org, repo, url.PathEscape(env))

	page := 1
	for {
		var list github.DeploymentBranchPolicyResponse
		resp, err := c.do(ctx, http.MethodGet, withPage(endpoint, page), nil, &list)
		if err != nil {
			return nil, err
		}

		for _, policy := range list.BranchPolicies {
			names = append(names, policy.GetName())
		}

		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	return names, nil
}

// CreateDeploymentBranchPolicy adds one branch name pattern to an environment
func (c *Client) CreateDeploymentBranchPolicy(ctx context.Context, org, repo, env, pattern string) error {
	endpoint := fmt.Sprintf("repos/%s/%s/environments/%s/deployment-branch-policies", org, repo, url.PathEscape(env))
	_, err := c.do(ctx, http.MethodPost, endpoint, &github.DeploymentBranchPolicyRequest{Name: github.String(pattern)}, nil)
	return err
}

// DefaultBranch returns the default branch of a repository
func (c *Client) DefaultBranch(ctx context.Context, org, repo string) (string, error) {
	endpoint := fmt.Sprintf("repos/%s/%s", org, repo)
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &RequestError{Method: http.MethodGet, Endpoint: endpoint, Err: err}
	}

	r, resp, err := c.client.Repositories.Get(ctx, org, repo)
	if err != nil {
		return "", c.wrap(http.MethodGet, endpoint, resp, err)
	}
	if r.GetDefaultBranch() == "" {
		return "main", nil
	}
	return r.GetDefaultBranch(), nil
}

// CommitFile creates a file on a branch and returns its blob SHA
func (c *Client) CommitFile(ctx context.Context, org, repo, branch, path, message string, content []byte) (string, error) {
	endpoint := fmt.Sprintf("repos/%s/%s/contents/%s", org, repo, path)
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &RequestError{Method: http.MethodPut, Endpoint: endpoint, Err: err}
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}

	created, resp, err := c.client.Repositories.CreateFile(ctx, org, repo, path, opts)
	if err != nil {
		return "", c.wrap(http.MethodPut, endpoint, resp, err)
	}
	if created == nil || created.Content == nil {
		return "", &RequestError{Method: http.MethodPut, Endpoint: endpoint, Err: errors.New("response carried no content SHA")}
	}
	return created.Content.GetSHA(), nil
}

// DeleteFile removes a file from a branch
func (c *Client) DeleteFile(ctx context.Context, org, repo, branch, path, sha, message string) error {
	endpoint := fmt.Sprintf("repos/%s/%s/contents/%s", org, repo, path)
	if err := c.limiter.Wait(ctx); err != nil {
		return &RequestError{Method: http.MethodDelete, Endpoint: endpoint, Err: err}
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(sha),
		Branch:  github.String(branch),
	}

	_, resp, err := c.client.Repositories.DeleteFile(ctx, org, repo, path, opts)
	return c.wrap(http.MethodDelete, endpoint, resp, err)
}

// DispatchWorkflow triggers a workflow_dispatch run of a workflow file
func (c *Client) DispatchWorkflow(ctx context.Context, org, repo, workflowFile, ref string) error {
	endpoint := fmt.Sprintf("repos/%s/%s/actions/workflows/%s/dispatches", org, repo, workflowFile)
	if err := c.limiter.Wait(ctx); err != nil {
		return &RequestError{Method: http.MethodPost, Endpoint: endpoint, Err: err}
	}

	resp, err := c.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, org, repo, workflowFile, github.CreateWorkflowDispatchEventRequest{Ref: ref})
	return c.wrap(http.MethodPost, endpoint, resp, err)
}

// ListRepositories lists all repositories in an organization, falling back to
// a user account when the organization does not exist
func (c *Client) ListRepositories(ctx context.Context, orgName string) ([]*Repository, error) {
	var allRepos []*Repository
	endpoint := fmt.Sprintf("orgs/%s/repos", orgName)

	opts := &github.RepositoryListByOrgOptions{
		Type: "all",
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		repos, resp, err := c.client.Repositories.ListByOrg(ctx, orgName, opts)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return c.listUserRepositories(ctx, orgName)
			}
			return nil, c.wrap(http.MethodGet, endpoint, resp, err)
		}

		for _, repo := range repos {
			allRepos = append(allRepos, convertRepository(repo))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allRepos, nil
}

func (c *Client) listUserRepositories(ctx context.Context, username string) ([]*Repository, error) {
	var allRepos []*Repository
	endpoint := fmt.Sprintf("users/%s/repos", username)

	opts := &github.RepositoryListOptions{
		Type: "owner",
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		repos, resp, err := c.client.Repositories.List(ctx, username, opts)
		if err != nil {
			return nil, c.wrap(http.MethodGet, endpoint, resp, err)
		}

		for _, repo := range repos {
			allRepos = append(allRepos, convertRepository(repo))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allRepos, nil
}

func convertRepository(repo *github.Repository) *Repository {
	return &Repository{
		ID:            strconv.FormatInt(repo.GetID(), 10),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Archived:      repo.GetArchived(),
	}
}

// handleRateLimit checks for rate limiting and returns appropriate errors
func (c *Client) handleRateLimit(err error, resp *github.Response) error {
	if resp == nil {
		return err
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &RateLimitError{
			RetryAfter: time.Until(rateLimitErr.Rate.Reset.Time),
			Message:    "API rate limit exceeded",
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := time.Minute
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "secondary rate limit exceeded",
		}
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		errorStr := strings.ToLower(err.Error())
		if strings.Contains(errorStr, "rate limit") || strings.Contains(errorStr, "too many requests") {
			retryAfter := time.Minute
			if resetTime := resp.Header.Get("X-RateLimit-Reset"); resetTime != "" {
				if timestamp, parseErr := strconv.ParseInt(resetTime, 10, 64); parseErr == nil {
					if until := time.Until(time.Unix(timestamp, 0)); until > 0 {
						retryAfter = until
					}
				}
			}

			return &RateLimitError{
				RetryAfter: retryAfter,
				Message:    "API rate limit exceeded",
			}
		}
	}

	return err
}
