// Package jira talks to Jira Cloud issues over REST, authenticating as an
// Atlassian Connect app.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/recipebot/internal/command"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/webhookauth"
)

const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// ErrNoFiles is returned by FetchFile; issues carry no repository files.
var ErrNoFiles = errors.New("jira issues have no files")

// Client is a Jira client bound to one Connect installation.
type Client struct {
	baseURL      *url.URL
	appKey       string
	sharedSecret string
	token        string
	httpClient   *http.Client
	now          func() time.Time
}

// New builds a client from installation credentials.
func New(inst coreprocessor.Installation, httpClient *http.Client) (coreprocessor.Platform, error) {
	return NewClient(inst.Credentials, httpClient)
}

func NewClient(creds coreprocessor.Credentials, httpClient *http.Client) (*Client, error) {
	if creds.BaseURL == "" {
		return nil, errors.New("jira installation has no base url")
	}
	base, err := url.Parse(strings.TrimSuffix(creds.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("jira base url: %w", err)
	}
	if creds.SharedSecret == "" && creds.Token == "" {
		return nil, errors.New("jira installation has neither a shared secret nor a token")
	}
	return &Client{
		baseURL:      base,
		appKey:       creds.AppKey,
		sharedSecret: creds.SharedSecret,
		token:        creds.Token,
		httpClient:   httpClient,
		now:          time.Now,
	}, nil
}

func (c *Client) Name() string { return coreprocessor.PlatformJira }

// do sends one REST call. The Connect token is bound to the method, the
// API path and the query.
func (c *Client) do(ctx context.Context, method, apiPath string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + apiPath
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.sharedSecret != "" {
		token, err := webhookauth.SignConnectJWT(c.appKey, c.sharedSecret, method, apiPath, query, c.now())
		if err != nil {
			return fmt.Errorf("sign connect jwt: %w", err)
		}
		req.Header.Set("Authorization", "JWT "+token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jira %s %s: status %d: %s", method, apiPath, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

type changelogPage struct {
	StartAt    int  `json:"startAt"`
	MaxResults int  `json:"maxResults"`
	Total      int  `json:"total"`
	IsLast     bool `json:"isLast"`
	Values     []struct {
		ID     string `json:"id"`
		Author struct {
			DisplayName string `json:"displayName"`
		} `json:"author"`
		Created string       `json:"created"`
		Items   []changeItem `json:"items"`
	} `json:"values"`
}

type changeItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// ListRevisions maps changelog entries to revisions, newest first.
func (c *Client) ListRevisions(ctx context.Context, target coreprocessor.Target, limit int) ([]coreprocessor.Revision, error) {
	var out []coreprocessor.Revision
	startAt := 0
	for page := 0; page < 10; page++ {
		query := url.Values{"startAt": {strconv.Itoa(startAt)}, "maxResults": {"100"}}
		var p changelogPage
		if err := c.do(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(target.Key)+"/changelog", query, nil, &p); err != nil {
			return nil, fmt.Errorf("list changelog of %s: %w", target, err)
		}
		for _, v := range p.Values {
			rev := coreprocessor.Revision{
				ID:      v.ID,
				Message: describeChanges(v.Items),
				Author:  v.Author.DisplayName,
				URL:     c.browseURL(target.Key),
			}
			if ts, err := time.Parse(jiraTimeLayout, v.Created); err == nil {
				rev.Timestamp = ts
			}
			out = append(out, rev)
		}
		startAt += len(p.Values)
		if p.IsLast || len(p.Values) == 0 || startAt >= p.Total {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func describeChanges(items []changeItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		switch {
		case it.FromString == "" && it.ToString == "":
			parts = append(parts, it.Field+" changed")
		case it.FromString == "":
			parts = append(parts, fmt.Sprintf("%s set to %s", it.Field, it.ToString))
		case it.ToString == "":
			parts = append(parts, fmt.Sprintf("%s cleared (was %s)", it.Field, it.FromString))
		default:
			parts = append(parts, fmt.Sprintf("%s: %s -> %s", it.Field, it.FromString, it.ToString))
		}
	}
	if len(parts) == 0 {
		return "issue updated"
	}
	return strings.Join(parts, "; ")
}

func (c *Client) browseURL(key string) string {
	return c.baseURL.String() + "/browse/" + key
}

// FetchDescription returns the summary and the description flattened to text.
func (c *Client) FetchDescription(ctx context.Context, target coreprocessor.Target) (string, string, error) {
	var issue struct {
		Fields struct {
			Summary     string `json:"summary"`
			Description any    `json:"description"`
		} `json:"fields"`
	}
	query := url.Values{"fields": {"summary,description"}}
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(target.Key), query, nil, &issue); err != nil {
		return "", "", fmt.Errorf("get %s: %w", target, err)
	}
	return issue.Fields.Summary, command.ExtractText(issue.Fields.Description), nil
}

// FetchDiff returns an empty diff; ticket context comes from the description
// and changelog.
func (c *Client) FetchDiff(context.Context, coreprocessor.Target) (string, error) {
	return "", nil
}

func (c *Client) FetchFile(context.Context, coreprocessor.Target, string) (string, error) {
	return "", ErrNoFiles
}

// PostComment posts the ADF body of doc.
func (c *Client) PostComment(ctx context.Context, target coreprocessor.Target, doc coreprocessor.Document) (coreprocessor.CommentRef, error) {
	if doc.ADF == nil {
		return coreprocessor.CommentRef{}, fmt.Errorf("%w: %s: jira comments need an ADF body", coreprocessor.ErrPost, target)
	}
	var created struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(target.Key)+"/comment", url.Values{}, map[string]any{"body": doc.ADF}, &created)
	if err != nil {
		return coreprocessor.CommentRef{}, fmt.Errorf("%w: %s: %v", coreprocessor.ErrPost, target, err)
	}
	return coreprocessor.CommentRef{
		ID:  created.ID,
		URL: c.browseURL(target.Key) + "?focusedCommentId=" + created.ID,
	}, nil
}
