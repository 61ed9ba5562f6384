// Package github talks to GitHub pull requests through go-github.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

const maxCommitPages = 5

// Client is a GitHub client bound to one installation.
type Client struct {
	gh *gh.Client
}

// New builds a client from installation credentials. App credentials take
// precedence over a static token.
func New(inst coreprocessor.Installation, httpClient *http.Client) (coreprocessor.Platform, error) {
	return NewClient(inst.Credentials, httpClient)
}

func NewClient(creds coreprocessor.Credentials, httpClient *http.Client) (*Client, error) {
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	var authed *http.Client
	switch {
	case creds.AppID != 0 && creds.AppInstallID != 0 && creds.PrivateKey != "":
		itr, err := ghinstallation.New(base, creds.AppID, creds.AppInstallID, []byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("github app transport: %w", err)
		}
		if creds.BaseURL != "" {
			itr.BaseURL = strings.TrimSuffix(creds.BaseURL, "/")
		}
		authed = &http.Client{Transport: itr, Timeout: httpClient.Timeout}
	case creds.Token != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token})
		authed = &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}, Timeout: httpClient.Timeout}
	default:
		authed = httpClient
	}

	client := gh.NewClient(authed)
	if creds.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(creds.BaseURL, creds.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github enterprise url: %w", err)
		}
	}
	return &Client{gh: client}, nil
}

func (c *Client) Name() string { return coreprocessor.PlatformGitHub }

func splitRepo(target coreprocessor.Target) (string, string, error) {
	owner, repo, ok := strings.Cut(target.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid GitHub repository %q: expected owner/repo", target.Repository)
	}
	return owner, repo, nil
}

// ListRevisions returns the newest limit commits of the pull request, newest first.
func (c *Client) ListRevisions(ctx context.Context, target coreprocessor.Target, limit int) ([]coreprocessor.Revision, error) {
	owner, repo, err := splitRepo(target)
	if err != nil {
		return nil, err
	}

	var commits []*gh.RepositoryCommit
	opts := &gh.ListOptions{PerPage: 100}
	for page := 0; page < maxCommitPages; page++ {
		batch, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, repo, target.Number, opts)
		if err != nil {
			return nil, fmt.Errorf("list commits of %s: %w", target, err)
		}
		commits = append(commits, batch...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	// GitHub lists pull request commits oldest first.
	if limit > 0 && len(commits) > limit {
		commits = commits[len(commits)-limit:]
	}
	out := make([]coreprocessor.Revision, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		rc := commits[i]
		author := rc.GetCommit().GetAuthor().GetName()
		if login := rc.GetAuthor().GetLogin(); login != "" {
			author = login
		}
		out = append(out, coreprocessor.Revision{
			ID:        rc.GetSHA(),
			Message:   rc.GetCommit().GetMessage(),
			Author:    author,
			Timestamp: rc.GetCommit().GetAuthor().GetDate().Time,
			URL:       rc.GetHTMLURL(),
		})
	}
	return out, nil
}

func (c *Client) FetchDescription(ctx context.Context, target coreprocessor.Target) (string, string, error) {
	owner, repo, err := splitRepo(target)
	if err != nil {
		return "", "", err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, target.Number)
	if err != nil {
		return "", "", fmt.Errorf("get %s: %w", target, err)
	}
	return pr.GetTitle(), pr.GetBody(), nil
}

func (c *Client) FetchDiff(ctx context.Context, target coreprocessor.Target) (string, error) {
	owner, repo, err := splitRepo(target)
	if err != nil {
		return "", err
	}
	diff, _, err := c.gh.PullRequests.GetRaw(ctx, owner, repo, target.Number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", fmt.Errorf("get diff of %s: %w", target, err)
	}
	return diff, nil
}

// FetchFile reads path at the pull request head.
func (c *Client) FetchFile(ctx context.Context, target coreprocessor.Target, path string) (string, error) {
	owner, repo, err := splitRepo(target)
	if err != nil {
		return "", err
	}
	ref := target.HeadRef
	if ref == "" {
		pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, target.Number)
		if err != nil {
			return "", fmt.Errorf("get head of %s: %w", target, err)
		}
		ref = pr.GetHead().GetSHA()
	}
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", fmt.Errorf("get %s@%s: %w", path, ref, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return file.GetContent()
}

func (c *Client) PostComment(ctx context.Context, target coreprocessor.Target, doc coreprocessor.Document) (coreprocessor.CommentRef, error) {
	owner, repo, err := splitRepo(target)
	if err != nil {
		return coreprocessor.CommentRef{}, err
	}
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, target.Number, &gh.IssueComment{Body: gh.Ptr(doc.Markdown)})
	if err != nil {
		return coreprocessor.CommentRef{}, fmt.Errorf("%w: %s: %v", coreprocessor.ErrPost, target, err)
	}
	return coreprocessor.CommentRef{ID: strconv.FormatInt(comment.GetID(), 10), URL: comment.GetHTMLURL()}, nil
}
