// Package hosting talks to the repository hosting API: recursive tree
// listings, commit comparisons, branch heads and raw file URLs.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	httputil "github.com/jmylchreest/flaxplug/internal/util/http"
	"github.com/jmylchreest/flaxplug/internal/version"
)

const (
	// DefaultRawBaseURL serves raw file content.
	DefaultRawBaseURL = "https://raw.githubusercontent.com/"

	// Entry types returned by the tree endpoint.
	entryTypeBlob = "blob"
)

// Options configures a GitHubClient.
type Options struct {
	// APIBaseURL overrides the REST API endpoint (tests, enterprise hosts).
	APIBaseURL string

	// RawBaseURL overrides the raw content endpoint.
	RawBaseURL string

	// Token authenticates requests for higher rate limits.
	Token string
}

// GitHubClient wraps the GitHub API client.
type GitHubClient struct {
	client  *github.Client
	rawBase string
}

// Repo identifies a repository as owner/name.
type Repo struct {
	Owner string
	Name  string
}

// String returns owner/name.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// Tree is a recursive listing of a branch.
type Tree struct {
	// SHA is the root tree SHA.
	SHA string

	// Files lists repository-relative paths of every blob.
	Files []string
}

// ChangedFile is one file entry of a comparison.
type ChangedFile struct {
	Filename         string
	PreviousFilename string
	Status           string
	RawURL           string
	Changes          int
}

// Comparison is the result of comparing two revisions.
type Comparison struct {
	Files []ChangedFile

	// HeadSHA is the SHA of the last commit in the comparison.
	HeadSHA string
}

// Head describes the tip of a branch.
type Head struct {
	CommitSHA string
	TreeSHA   string
}

// NewGitHubClient creates a client sharing httpClient's transport.
func NewGitHubClient(httpClient *http.Client, opts Options) (*GitHubClient, error) {
	if opts.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(httpClient)
	client.UserAgent = version.UserAgent()

	if opts.APIBaseURL != "" {
		base, err := url.Parse(withTrailingSlash(opts.APIBaseURL))
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL: %w", err)
		}
		client.BaseURL = base
	}

	rawBase := opts.RawBaseURL
	if rawBase == "" {
		rawBase = DefaultRawBaseURL
	}

	return &GitHubClient{
		client:  client,
		rawBase: withTrailingSlash(rawBase),
	}, nil
}

// Tree returns every file of branch, listed recursively.
func (c *GitHubClient) Tree(ctx context.Context, repo Repo, branch string) (*Tree, error) {
	tree, resp, err := c.client.Git.GetTree(ctx, repo.Owner, repo.Name, branch, true)
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("failed to list tree of %s@%s: %w", repo, branch, err)
	}

	if tree.GetTruncated() {
		return nil, fmt.Errorf("tree of %s@%s is truncated", repo, branch)
	}

	result := &Tree{SHA: tree.GetSHA()}
	for _, entry := range tree.Entries {
		if entry.GetType() != entryTypeBlob {
			continue
		}
		result.Files = append(result.Files, entry.GetPath())
	}

	return result, nil
}

// Compare returns the files changed between base and head (three-dot compare).
func (c *GitHubClient) Compare(ctx context.Context, repo Repo, base, head string) (*Comparison, error) {
	cmp, resp, err := c.client.Repositories.CompareCommits(ctx, repo.Owner, repo.Name, base, head, nil)
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("failed to compare %s %s...%s: %w", repo, base, head, err)
	}

	result := &Comparison{}
	if n := len(cmp.Commits); n > 0 {
		result.HeadSHA = cmp.Commits[n-1].GetSHA()
	}

	for _, f := range cmp.Files {
		result.Files = append(result.Files, ChangedFile{
			Filename:         f.GetFilename(),
			PreviousFilename: f.GetPreviousFilename(),
			Status:           f.GetStatus(),
			RawURL:           f.GetRawURL(),
			Changes:          f.GetChanges(),
		})
	}

	return result, nil
}

// Head returns the commit and tree SHA at the tip of branch.
func (c *GitHubClient) Head(ctx context.Context, repo Repo, branch string) (*Head, error) {
	commit, resp, err := c.client.Repositories.GetCommit(ctx, repo.Owner, repo.Name, branch, nil)
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("failed to resolve %s@%s: %w", repo, branch, err)
	}

	return &Head{
		CommitSHA: commit.GetSHA(),
		TreeSHA:   commit.GetCommit().GetTree().GetSHA(),
	}, nil
}

// RawURL returns the raw content URL of path at ref.
func (c *GitHubClient) RawURL(repo Repo, ref, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.rawBase + repo.Owner + "/" + repo.Name + "/" + url.PathEscape(ref) + "/" + strings.Join(segments, "/")
}

// ParseRepoURL extracts owner/name from a repository URL such as
// https://github.com/owner/name(.git).
func ParseRepoURL(repoURL string) (Repo, error) {
	parsed, err := url.Parse(repoURL)
	if err != nil {
		return Repo{}, fmt.Errorf("invalid repository URL: %w", err)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repository URL %q, expected <host>/owner/repo", repoURL)
	}

	return Repo{
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}, nil
}

// StatusCode returns the HTTP status carried by an API error, or 0.
func StatusCode(err error) int {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode
	}
	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// check folds the transport error and the 200/304 acceptance rule together.
func check(resp *github.Response, err error) error {
	if err != nil {
		return err
	}
	if resp == nil || resp.Response == nil || httputil.Accepted(resp.StatusCode) {
		return nil
	}
	statusErr := &httputil.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if resp.Request != nil {
		statusErr.URL = resp.Request.URL.String()
	}
	return statusErr
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
