package linear

import (
	"encoding/json"
	"fmt"
	"time"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

type commentWebhook struct {
	Action         string `json:"action"`
	Type           string `json:"type"`
	OrganizationID string `json:"organizationId"`
	URL            string `json:"url"`
	Actor          *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"actor"`
	Data struct {
		ID       string          `json:"id"`
		Body     string          `json:"body"`
		IssueID  string          `json:"issueId"`
		BotActor json.RawMessage `json:"botActor"`
		User     *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"user"`
		Issue *struct {
			ID         string `json:"id"`
			Identifier string `json:"identifier"`
			Title      string `json:"title"`
			URL        string `json:"url"`
		} `json:"issue"`
	} `json:"data"`
}

// ParseEvent converts Comment create webhooks into trigger events.
func ParseEvent(_ map[string]string, body []byte) (*coreprocessor.TriggerEvent, error) {
	var hook commentWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", coreprocessor.ErrMalformedPayload, err)
	}
	if hook.Type != "Comment" || hook.Action != "create" {
		return nil, fmt.Errorf("linear %s/%s: %w", hook.Type, hook.Action, coreprocessor.ErrIgnoredEvent)
	}

	target := coreprocessor.Target{Platform: coreprocessor.PlatformLinear, Key: hook.Data.IssueID}
	title := ""
	if issue := hook.Data.Issue; issue != nil {
		if issue.Identifier != "" {
			target.Key = issue.Identifier
		}
		target.URL = issue.URL
		title = issue.Title
	}
	if target.Key == "" {
		return nil, fmt.Errorf("%w: issue id missing", coreprocessor.ErrMalformedPayload)
	}
	target.Repository = hook.OrganizationID

	author := coreprocessor.Author{}
	if u := hook.Data.User; u != nil {
		author.ID, author.Login, author.DisplayName = u.ID, u.Name, u.Name
	}
	isBot := len(hook.Data.BotActor) > 0 && string(hook.Data.BotActor) != "null"
	if hook.Actor != nil {
		if author.ID == "" {
			author.ID, author.Login, author.DisplayName = hook.Actor.ID, hook.Actor.Name, hook.Actor.Name
		}
		if hook.Actor.Type != "" && hook.Actor.Type != "user" {
			isBot = true
		}
	}
	author.IsBot = isBot

	return &coreprocessor.TriggerEvent{
		Platform:   coreprocessor.PlatformLinear,
		AccountID:  hook.OrganizationID,
		Target:     target,
		CommentID:  hook.Data.ID,
		Body:       hook.Data.Body,
		Author:     author,
		Title:      title,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
