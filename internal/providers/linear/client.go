// Package linear talks to the Linear GraphQL API.
package linear

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shurcooL/graphql"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

const defaultEndpoint = "https://api.linear.app/graphql"

// ErrNoFiles is returned by FetchFile; issues carry no repository files.
var ErrNoFiles = errors.New("linear issues have no files")

// Client is a Linear client bound to one organization.
type Client struct {
	gql *graphql.Client
}

// New builds a client from installation credentials.
func New(inst coreprocessor.Installation, httpClient *http.Client) (coreprocessor.Platform, error) {
	return NewClient(inst.Credentials, httpClient)
}

func NewClient(creds coreprocessor.Credentials, httpClient *http.Client) (*Client, error) {
	if creds.Token == "" {
		return nil, errors.New("linear installation has no api key")
	}
	endpoint := creds.BaseURL
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	authed := &http.Client{
		Timeout:   httpClient.Timeout,
		Transport: &authTransport{base: base, key: creds.Token},
	}
	return &Client{gql: graphql.NewClient(endpoint, authed)}, nil
}

type authTransport struct {
	base http.RoundTripper
	key  string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	// OAuth tokens are sent as bearer tokens, personal API keys as is.
	if strings.HasPrefix(t.key, "lin_oauth_") {
		req.Header.Set("Authorization", "Bearer "+t.key)
	} else {
		req.Header.Set("Authorization", t.key)
	}
	return t.base.RoundTrip(req)
}

func (c *Client) Name() string { return coreprocessor.PlatformLinear }

type historyNode struct {
	ID                 graphql.String
	CreatedAt          graphql.String
	UpdatedDescription graphql.Boolean
	FromTitle          *graphql.String
	ToTitle            *graphql.String
	Actor              *struct {
		Name graphql.String
	}
	FromState *struct {
		Name graphql.String
	}
	ToState *struct {
		Name graphql.String
	}
}

// ListRevisions maps issue history entries to revisions, newest first.
func (c *Client) ListRevisions(ctx context.Context, target coreprocessor.Target, limit int) ([]coreprocessor.Revision, error) {
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	var q struct {
		Issue struct {
			URL     graphql.String
			History struct {
				Nodes []historyNode
			} `graphql:"history(first: $first)"`
		} `graphql:"issue(id: $id)"`
	}
	vars := map[string]any{
		"id":    graphql.String(target.Key),
		"first": graphql.Int(limit),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, fmt.Errorf("list history of %s: %w", target, err)
	}

	out := make([]coreprocessor.Revision, 0, len(q.Issue.History.Nodes))
	for _, n := range q.Issue.History.Nodes {
		rev := coreprocessor.Revision{
			ID:      string(n.ID),
			Message: describeHistory(n),
			URL:     string(q.Issue.URL),
		}
		if n.Actor != nil {
			rev.Author = string(n.Actor.Name)
		}
		if ts, err := time.Parse(time.RFC3339, string(n.CreatedAt)); err == nil {
			rev.Timestamp = ts
		}
		out = append(out, rev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func describeHistory(n historyNode) string {
	var parts []string
	if n.FromState != nil && n.ToState != nil {
		parts = append(parts, fmt.Sprintf("state: %s -> %s", n.FromState.Name, n.ToState.Name))
	} else if n.ToState != nil {
		parts = append(parts, fmt.Sprintf("state set to %s", n.ToState.Name))
	}
	if n.ToTitle != nil {
		parts = append(parts, fmt.Sprintf("title changed to %q", string(*n.ToTitle)))
	}
	if n.UpdatedDescription {
		parts = append(parts, "description updated")
	}
	if len(parts) == 0 {
		return "issue updated"
	}
	return strings.Join(parts, "; ")
}

func (c *Client) FetchDescription(ctx context.Context, target coreprocessor.Target) (string, string, error) {
	var q struct {
		Issue struct {
			Title       graphql.String
			Description graphql.String
		} `graphql:"issue(id: $id)"`
	}
	if err := c.gql.Query(ctx, &q, map[string]any{"id": graphql.String(target.Key)}); err != nil {
		return "", "", fmt.Errorf("get %s: %w", target, err)
	}
	return string(q.Issue.Title), string(q.Issue.Description), nil
}

// FetchDiff returns an empty diff; issue context comes from the description
// and history.
func (c *Client) FetchDiff(context.Context, coreprocessor.Target) (string, error) {
	return "", nil
}

func (c *Client) FetchFile(context.Context, coreprocessor.Target, string) (string, error) {
	return "", ErrNoFiles
}

// CommentCreateInput mirrors the Linear input type of the same name.
type CommentCreateInput struct {
	IssueID graphql.String `json:"issueId"`
	Body    graphql.String `json:"body"`
}

func (c *Client) PostComment(ctx context.Context, target coreprocessor.Target, doc coreprocessor.Document) (coreprocessor.CommentRef, error) {
	var m struct {
		CommentCreate struct {
			Success graphql.Boolean
			Comment struct {
				ID  graphql.String
				URL graphql.String
			}
		} `graphql:"commentCreate(input: $input)"`
	}
	vars := map[string]any{
		"input": CommentCreateInput{IssueID: graphql.String(target.Key), Body: graphql.String(doc.Markdown)},
	}
	if err := c.gql.Mutate(ctx, &m, vars); err != nil {
		return coreprocessor.CommentRef{}, fmt.Errorf("%w: %s: %v", coreprocessor.ErrPost, target, err)
	}
	if !m.CommentCreate.Success {
		return coreprocessor.CommentRef{}, fmt.Errorf("%w: %s: commentCreate was not successful", coreprocessor.ErrPost, target)
	}
	return coreprocessor.CommentRef{ID: string(m.CommentCreate.Comment.ID), URL: string(m.CommentCreate.Comment.URL)}, nil
}
