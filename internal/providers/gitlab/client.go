// Package gitlab talks to GitLab merge requests through the official client.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

const defaultBaseURL = "https://gitlab.com"

// Client is a GitLab client bound to one installation.
type Client struct {
	gl *gitlab.Client
}

// New builds a client from installation credentials.
func New(inst coreprocessor.Installation, httpClient *http.Client) (coreprocessor.Platform, error) {
	return NewClient(inst.Credentials, httpClient)
}

func NewClient(creds coreprocessor.Credentials, httpClient *http.Client) (*Client, error) {
	base := strings.TrimSuffix(creds.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/api/v4") {
		base += "/api/v4"
	}
	gl, err := gitlab.NewClient(creds.Token, gitlab.WithBaseURL(base), gitlab.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %w", err)
	}
	return &Client{gl: gl}, nil
}

func (c *Client) Name() string { return coreprocessor.PlatformGitLab }

// ListRevisions returns the newest limit commits of the merge request, newest first.
func (c *Client) ListRevisions(ctx context.Context, target coreprocessor.Target, limit int) ([]coreprocessor.Revision, error) {
	opts := &gitlab.GetMergeRequestCommitsOptions{}
	opts.PerPage = 100
	var commits []*gitlab.Commit
	for {
		batch, resp, err := c.gl.MergeRequests.GetMergeRequestCommits(target.Repository, target.Number, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list commits of %s: %w", target, err)
		}
		commits = append(commits, batch...)
		if resp == nil || resp.NextPage == 0 || (limit > 0 && len(commits) >= limit) {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.SliceStable(commits, func(i, j int) bool {
		a, b := commits[i].CommittedDate, commits[j].CommittedDate
		return a != nil && b != nil && a.After(*b)
	})
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}

	out := make([]coreprocessor.Revision, 0, len(commits))
	for _, cm := range commits {
		rev := coreprocessor.Revision{
			ID:      cm.ID,
			Message: cm.Message,
			Author:  cm.AuthorName,
			URL:     cm.WebURL,
		}
		if rev.Message == "" {
			rev.Message = cm.Title
		}
		if cm.CommittedDate != nil {
			rev.Timestamp = *cm.CommittedDate
		}
		out = append(out, rev)
	}
	return out, nil
}

func (c *Client) FetchDescription(ctx context.Context, target coreprocessor.Target) (string, string, error) {
	mr, _, err := c.gl.MergeRequests.GetMergeRequest(target.Repository, target.Number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", "", fmt.Errorf("get %s: %w", target, err)
	}
	return mr.Title, mr.Description, nil
}

// FetchDiff stitches the per-file diffs into one unified diff.
func (c *Client) FetchDiff(ctx context.Context, target coreprocessor.Target) (string, error) {
	opts := &gitlab.ListMergeRequestDiffsOptions{}
	opts.PerPage = 100
	var b strings.Builder
	for {
		diffs, resp, err := c.gl.MergeRequests.ListMergeRequestDiffs(target.Repository, target.Number, opts, gitlab.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("get diff of %s: %w", target, err)
		}
		for _, d := range diffs {
			writeFileDiff(&b, d)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return b.String(), nil
}

func writeFileDiff(b *strings.Builder, d *gitlab.MergeRequestDiff) {
	fmt.Fprintf(b, "diff --git a/%s b/%s\n", d.OldPath, d.NewPath)
	switch {
	case d.NewFile:
		fmt.Fprintf(b, "new file mode %s\n--- /dev/null\n+++ b/%s\n", d.BMode, d.NewPath)
	case d.DeletedFile:
		fmt.Fprintf(b, "deleted file mode %s\n--- a/%s\n+++ /dev/null\n", d.AMode, d.OldPath)
	default:
		fmt.Fprintf(b, "--- a/%s\n+++ b/%s\n", d.OldPath, d.NewPath)
	}
	b.WriteString(d.Diff)
	if !strings.HasSuffix(d.Diff, "\n") {
		b.WriteString("\n")
	}
}

func (c *Client) FetchFile(ctx context.Context, target coreprocessor.Target, path string) (string, error) {
	ref := target.HeadRef
	if ref == "" {
		mr, _, err := c.gl.MergeRequests.GetMergeRequest(target.Repository, target.Number, nil, gitlab.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("get head of %s: %w", target, err)
		}
		ref = mr.SHA
	}
	raw, _, err := c.gl.RepositoryFiles.GetRawFile(target.Repository, path, &gitlab.GetRawFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("get %s@%s: %w", path, ref, err)
	}
	return string(raw), nil
}

func (c *Client) PostComment(ctx context.Context, target coreprocessor.Target, doc coreprocessor.Document) (coreprocessor.CommentRef, error) {
	note, _, err := c.gl.Notes.CreateMergeRequestNote(target.Repository, target.Number,
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(doc.Markdown)}, gitlab.WithContext(ctx))
	if err != nil {
		return coreprocessor.CommentRef{}, fmt.Errorf("%w: %s: %v", coreprocessor.ErrPost, target, err)
	}
	ref := coreprocessor.CommentRef{ID: fmt.Sprint(note.ID)}
	if target.URL != "" {
		ref.URL = target.URL + "#note_" + ref.ID
	}
	return ref, nil
}
