package linear

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newServer(t *testing.T, respond func(req gqlRequest) string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lin_api_key", r.Header.Get("Authorization"))
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, respond(req))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(coreprocessor.Credentials{Token: "lin_api_key", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	return c
}

var target = coreprocessor.Target{Platform: "linear", Key: "ENG-42"}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(coreprocessor.Credentials{}, http.DefaultClient)
	assert.Error(t, err)
}

func TestListRevisions_HistoryNewestFirst(t *testing.T) {
	c := newServer(t, func(req gqlRequest) string {
		assert.Contains(t, req.Query, "issue(id: $id)")
		assert.Contains(t, req.Query, "history(first: $first)")
		assert.Equal(t, "ENG-42", req.Variables["id"])
		return `{"data":{"issue":{"url":"https://linear.app/acme/issue/ENG-42","history":{"nodes":[
			{"id":"h1","createdAt":"2026-02-01T10:00:00Z","updatedDescription":false,"fromTitle":null,"toTitle":null,
			 "actor":{"name":"Alice"},"fromState":{"name":"Todo"},"toState":{"name":"In Progress"}},
			{"id":"h2","createdAt":"2026-02-03T10:00:00Z","updatedDescription":true,"fromTitle":null,"toTitle":null,
			 "actor":null,"fromState":null,"toState":null}
		]}}}}`
	})

	revs, err := c.ListRevisions(context.Background(), target, 50)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, "h2", revs[0].ID)
	assert.Equal(t, "description updated", revs[0].Message)
	assert.Equal(t, "state: Todo -> In Progress", revs[1].Message)
	assert.Equal(t, "Alice", revs[1].Author)
}

func TestFetchDescription(t *testing.T) {
	c := newServer(t, func(gqlRequest) string {
		return `{"data":{"issue":{"title":"Saved cards","description":"Let users save cards"}}}`
	})
	title, body, err := c.FetchDescription(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "Saved cards", title)
	assert.Equal(t, "Let users save cards", body)
}

func TestPostComment(t *testing.T) {
	c := newServer(t, func(req gqlRequest) string {
		assert.True(t, strings.HasPrefix(req.Query, "mutation"))
		assert.Contains(t, req.Query, "$input:CommentCreateInput!")
		input := req.Variables["input"].(map[string]any)
		assert.Equal(t, "ENG-42", input["issueId"])
		assert.Equal(t, "hello", input["body"])
		return `{"data":{"commentCreate":{"success":true,"comment":{"id":"c1","url":"https://linear.app/acme/issue/ENG-42#comment-c1"}}}}`
	})

	ref, err := c.PostComment(context.Background(), target, coreprocessor.Document{Markdown: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "c1", ref.ID)
}

func TestPostComment_Failures(t *testing.T) {
	c := newServer(t, func(gqlRequest) string {
		return `{"data":{"commentCreate":{"success":false,"comment":{"id":"","url":""}}}}`
	})
	_, err := c.PostComment(context.Background(), target, coreprocessor.Document{Markdown: "x"})
	assert.ErrorIs(t, err, coreprocessor.ErrPost)

	c = newServer(t, func(gqlRequest) string {
		return `{"errors":[{"message":"Entity not found"}],"data":null}`
	})
	_, err = c.PostComment(context.Background(), target, coreprocessor.Document{Markdown: "x"})
	assert.ErrorIs(t, err, coreprocessor.ErrPost)
}

const commentPayload = `{
	"action": "create",
	"type": "Comment",
	"organizationId": "org-1",
	"actor": {"id": "u1", "name": "Alice", "type": "user"},
	"data": {
		"id": "c9",
		"body": "/recipe max=3",
		"issueId": "uuid-1",
		"user": {"id": "u1", "name": "Alice"},
		"issue": {"id": "uuid-1", "identifier": "ENG-42", "title": "Saved cards", "url": "https://linear.app/acme/issue/ENG-42"}
	}
}`

func TestParseEvent_Comment(t *testing.T) {
	ev, err := ParseEvent(nil, []byte(commentPayload))
	require.NoError(t, err)
	assert.Equal(t, "org-1", ev.AccountID)
	assert.Equal(t, "ENG-42", ev.Target.Key)
	assert.Equal(t, "c9", ev.CommentID)
	assert.Equal(t, "/recipe max=3", ev.Body)
	assert.Equal(t, "Alice", ev.Author.Login)
	assert.False(t, ev.Author.IsBot)
}

func TestParseEvent_BotAndIgnored(t *testing.T) {
	bot := strings.Replace(commentPayload, `"type": "user"`, `"type": "OauthClient"`, 1)
	ev, err := ParseEvent(nil, []byte(bot))
	require.NoError(t, err)
	assert.True(t, ev.Author.IsBot)

	_, err = ParseEvent(nil, []byte(`{"action":"update","type":"Issue"}`))
	assert.ErrorIs(t, err, coreprocessor.ErrIgnoredEvent)

	_, err = ParseEvent(nil, []byte(`[]`))
	assert.ErrorIs(t, err, coreprocessor.ErrMalformedPayload)
}
