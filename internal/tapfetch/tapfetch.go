// Package tapfetch checks a tap's freshness against its GitHub remote.
// Tap acquisition itself (cloning or mirroring a formula repository) is
// out of scope: velo only ever reads the "Formula/" tree of a tap that
// is already present on disk. This package exists so "velo update" can
// tell a user their locally present tap has moved behind upstream,
// without velo ever fetching or writing tap content itself.
package tapfetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
)

// Client checks tap freshness via the GitHub API.
type Client struct {
	gh *github.Client
}

// New constructs a Client. httpClient may be nil to use an unauthenticated,
// rate-limited anonymous client, which is sufficient for public taps.
func New(httpClient *http.Client) *Client {
	return &Client{gh: github.NewClient(httpClient)}
}

// LatestCommit returns the SHA of the current HEAD commit of org/repo's
// default branch, for comparison against whatever commit a locally
// present tap mirror was last acquired at.
func (c *Client) LatestCommit(ctx context.Context, org, repo string) (string, error) {
	repoInfo, _, err := c.gh.Repositories.Get(ctx, org, repo)
	if err != nil {
		return "", fmt.Errorf("tapfetch: get %s/%s: %w", org, repo, err)
	}
	branch := repoInfo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	commit, _, err := c.gh.Repositories.GetCommit(ctx, org, repo, branch, nil)
	if err != nil {
		return "", fmt.Errorf("tapfetch: get HEAD commit for %s/%s: %w", org, repo, err)
	}
	return commit.GetSHA(), nil
}
