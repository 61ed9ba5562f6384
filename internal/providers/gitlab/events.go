package gitlab

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/webhookutils"
)

type noteHook struct {
	ObjectKind string `json:"object_kind"`
	User       struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"user"`
	Project struct {
		ID                int    `json:"id"`
		PathWithNamespace string `json:"path_with_namespace"`
		WebURL            string `json:"web_url"`
	} `json:"project"`
	ObjectAttributes struct {
		ID           int    `json:"id"`
		Note         string `json:"note"`
		NoteableType string `json:"noteable_type"`
		System       bool   `json:"system"`
		URL          string `json:"url"`
		Action       string `json:"action"`
	} `json:"object_attributes"`
	MergeRequest *struct {
		IID        int    `json:"iid"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		LastCommit struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"merge_request"`
}

// ParseEvent converts merge request Note Hook webhooks into trigger events.
func ParseEvent(headers map[string]string, body []byte) (*coreprocessor.TriggerEvent, error) {
	if kind, ok := webhookutils.GetHeaderCaseInsensitive(headers, "X-Gitlab-Event"); ok && kind != "Note Hook" {
		return nil, fmt.Errorf("gitlab event %q: %w", kind, coreprocessor.ErrIgnoredEvent)
	}

	var hook noteHook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", coreprocessor.ErrMalformedPayload, err)
	}
	attrs := hook.ObjectAttributes
	if hook.ObjectKind != "note" || attrs.NoteableType != "MergeRequest" || attrs.System || hook.MergeRequest == nil {
		return nil, coreprocessor.ErrIgnoredEvent
	}
	if attrs.Action != "" && attrs.Action != "create" {
		return nil, coreprocessor.ErrIgnoredEvent
	}
	if hook.Project.PathWithNamespace == "" {
		return nil, fmt.Errorf("%w: project path missing", coreprocessor.ErrMalformedPayload)
	}

	namespace, _, _ := strings.Cut(hook.Project.PathWithNamespace, "/")
	return &coreprocessor.TriggerEvent{
		Platform:  coreprocessor.PlatformGitLab,
		AccountID: namespace,
		Target: coreprocessor.Target{
			Platform:   coreprocessor.PlatformGitLab,
			Repository: hook.Project.PathWithNamespace,
			Number:     hook.MergeRequest.IID,
			HeadRef:    hook.MergeRequest.LastCommit.ID,
			URL:        hook.MergeRequest.URL,
		},
		CommentID: strconv.Itoa(attrs.ID),
		Body:      attrs.Note,
		Author: coreprocessor.Author{
			ID:          strconv.Itoa(hook.User.ID),
			Login:       hook.User.Username,
			DisplayName: hook.User.Name,
			IsBot:       isBotUsername(hook.User.Username),
		},
		Title:      hook.MergeRequest.Title,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Project and group access tokens act as users named project_<id>_bot_<hash>.
func isBotUsername(username string) bool {
	u := strings.ToLower(username)
	return strings.Contains(u, "_bot_") || strings.HasSuffix(u, "_bot") || strings.HasSuffix(u, "-bot")
}
