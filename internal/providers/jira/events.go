package jira

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

type commentWebhook struct {
	WebhookEvent string `json:"webhookEvent"`
	Comment      struct {
		ID     string          `json:"id"`
		Body   json.RawMessage `json:"body"`
		Author struct {
			AccountID   string `json:"accountId"`
			DisplayName string `json:"displayName"`
			AccountType string `json:"accountType"`
		} `json:"author"`
	} `json:"comment"`
	Issue struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Self   string `json:"self"`
		Fields struct {
			Summary string `json:"summary"`
		} `json:"fields"`
	} `json:"issue"`
}

// ParseEvent converts comment_created webhooks into trigger events. The
// account id comes from the verified Connect token, not the payload.
func ParseEvent(_ map[string]string, body []byte) (*coreprocessor.TriggerEvent, error) {
	var hook commentWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", coreprocessor.ErrMalformedPayload, err)
	}
	if hook.WebhookEvent != "comment_created" {
		return nil, fmt.Errorf("jira event %q: %w", hook.WebhookEvent, coreprocessor.ErrIgnoredEvent)
	}
	if hook.Issue.Key == "" {
		return nil, fmt.Errorf("%w: issue key missing", coreprocessor.ErrMalformedPayload)
	}

	// Bodies are ADF documents on v3 and plain strings on v2.
	var commentBody any
	if err := json.Unmarshal(hook.Comment.Body, &commentBody); err != nil {
		commentBody = string(hook.Comment.Body)
	}

	target := coreprocessor.Target{Platform: coreprocessor.PlatformJira, Key: hook.Issue.Key}
	if u, err := url.Parse(hook.Issue.Self); err == nil && u.Host != "" {
		target.Repository = u.Host
		target.URL = u.Scheme + "://" + u.Host + "/browse/" + hook.Issue.Key
	}

	author := hook.Comment.Author
	return &coreprocessor.TriggerEvent{
		Platform:  coreprocessor.PlatformJira,
		Target:    target,
		CommentID: hook.Comment.ID,
		Body:      commentBody,
		Author: coreprocessor.Author{
			ID:          author.AccountID,
			Login:       author.AccountID,
			DisplayName: author.DisplayName,
			IsBot:       author.AccountType == "app",
		},
		Title:      hook.Issue.Fields.Summary,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
