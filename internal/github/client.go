// Package github provides a client for fetching mod release assets from
// the GitHub Releases API.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Sentinel errors for GitHub operations.
var (
	ErrInvalidRepo     = errors.New("repository must be in format 'owner/repo'")
	ErrReleaseNotFound = errors.New("release not found")
	ErrAssetNotFound   = errors.New("release asset not found")
)

// Client wraps the GitHub API client for release-asset operations.
type Client struct {
	client *github.Client
	owner  string
	repo   string
}

// NewClient creates a GitHub API client for the specified repository.
// Token may be empty for public repositories. Repository must be in the
// format "owner/repo".
func NewClient(token, repository string) (*Client, error) {
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return &Client{
		client: client,
		owner:  owner,
		repo:   repo,
	}, nil
}

// FetchAsset downloads the named asset of the release tagged tag.
// Returns ErrReleaseNotFound or ErrAssetNotFound when either is missing.
func (c *Client) FetchAsset(ctx context.Context, tag, assetName string) ([]byte, error) {
	if tag == "" {
		return nil, fmt.Errorf("release tag cannot be empty")
	}
	if assetName == "" {
		return nil, fmt.Errorf("asset name cannot be empty")
	}

	release, resp, err := c.client.Repositories.GetReleaseByTag(ctx, c.owner, c.repo, tag)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrReleaseNotFound
		}
		return nil, fmt.Errorf("failed to get release %s: %w", tag, err)
	}

	var assetID int64
	for _, asset := range release.Assets {
		if asset.GetName() == assetName {
			assetID = asset.GetID()
			break
		}
	}
	if assetID == 0 {
		return nil, ErrAssetNotFound
	}

	rc, _, err := c.client.Repositories.DownloadReleaseAsset(ctx, c.owner, c.repo, assetID, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("failed to download asset %s: %w", assetName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", assetName, err)
	}
	return data, nil
}

// parseRepository splits "owner/repo" into its parts.
func parseRepository(repository string) (owner, repo string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidRepo
	}
	return parts[0], parts[1], nil
}
