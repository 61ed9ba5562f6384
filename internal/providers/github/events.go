package github

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v84/github"

	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/webhookutils"
)

// ParseEvent converts issue_comment and pull_request_review_comment webhooks
// on pull requests into trigger events.
func ParseEvent(headers map[string]string, body []byte) (*coreprocessor.TriggerEvent, error) {
	eventType, _ := webhookutils.GetHeaderCaseInsensitive(headers, "X-GitHub-Event")
	switch eventType {
	case "issue_comment", "pull_request_review_comment":
	default:
		return nil, fmt.Errorf("github event %q: %w", eventType, coreprocessor.ErrIgnoredEvent)
	}

	parsed, err := gh.ParseWebHook(eventType, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreprocessor.ErrMalformedPayload, err)
	}

	switch e := parsed.(type) {
	case *gh.IssueCommentEvent:
		if e.GetAction() != "created" || e.GetIssue().GetPullRequestLinks() == nil {
			return nil, coreprocessor.ErrIgnoredEvent
		}
		return &coreprocessor.TriggerEvent{
			Platform:  coreprocessor.PlatformGitHub,
			AccountID: accountID(e.GetInstallation(), e.GetRepo()),
			Target: coreprocessor.Target{
				Platform:   coreprocessor.PlatformGitHub,
				Repository: e.GetRepo().GetFullName(),
				Number:     e.GetIssue().GetNumber(),
				URL:        e.GetIssue().GetHTMLURL(),
			},
			CommentID:  strconv.FormatInt(e.GetComment().GetID(), 10),
			Body:       e.GetComment().GetBody(),
			Author:     author(e.GetComment().GetUser()),
			Title:      e.GetIssue().GetTitle(),
			ReceivedAt: time.Now().UTC(),
		}, nil
	case *gh.PullRequestReviewCommentEvent:
		if e.GetAction() != "created" {
			return nil, coreprocessor.ErrIgnoredEvent
		}
		return &coreprocessor.TriggerEvent{
			Platform:  coreprocessor.PlatformGitHub,
			AccountID: accountID(e.GetInstallation(), e.GetRepo()),
			Target: coreprocessor.Target{
				Platform:   coreprocessor.PlatformGitHub,
				Repository: e.GetRepo().GetFullName(),
				Number:     e.GetPullRequest().GetNumber(),
				HeadRef:    e.GetPullRequest().GetHead().GetSHA(),
				URL:        e.GetPullRequest().GetHTMLURL(),
			},
			CommentID:  strconv.FormatInt(e.GetComment().GetID(), 10),
			Body:       e.GetComment().GetBody(),
			Author:     author(e.GetComment().GetUser()),
			Title:      e.GetPullRequest().GetTitle(),
			ReceivedAt: time.Now().UTC(),
		}, nil
	}
	return nil, coreprocessor.ErrIgnoredEvent
}

func accountID(inst *gh.Installation, repo *gh.Repository) string {
	if id := inst.GetID(); id != 0 {
		return strconv.FormatInt(id, 10)
	}
	return repo.GetOwner().GetLogin()
}

func author(u *gh.User) coreprocessor.Author {
	login := u.GetLogin()
	return coreprocessor.Author{
		ID:          strconv.FormatInt(u.GetID(), 10),
		Login:       login,
		DisplayName: u.GetName(),
		IsBot:       u.GetType() == "Bot" || strings.HasSuffix(login, "[bot]"),
	}
}
