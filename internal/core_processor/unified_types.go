package core_processor

import (
	"context"
	"fmt"
	"time"
)

// Platform names accepted at ingress and stored on installations.
const (
	PlatformGitHub = "github"
	PlatformGitLab = "gitlab"
	PlatformJira   = "jira"
	PlatformLinear = "linear"
)

// Installation links one tenant to one platform account.
type Installation struct {
	ID          string      `json:"id"`
	Platform    string      `json:"platform"`
	AccountID   string      `json:"account_id"`
	Credentials Credentials `json:"credentials"`
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Credentials is the per-installation credential material. Which fields are
// populated depends on the platform.
type Credentials struct {
	Token         string `json:"token,omitempty"`
	AppID         int64  `json:"app_id,omitempty"`
	AppInstallID  int64  `json:"app_install_id,omitempty"`
	PrivateKey    string `json:"private_key,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	SharedSecret  string `json:"shared_secret,omitempty"`
	ClientKey     string `json:"client_key,omitempty"`
	AppKey        string `json:"app_key,omitempty"`
	Simulate      bool   `json:"simulate,omitempty"`
}

// Target is the (repository, PR) or (ticket) pair under analysis.
type Target struct {
	Platform   string `json:"platform"`
	Repository string `json:"repository,omitempty"`
	Number     int    `json:"number,omitempty"`
	Key        string `json:"key,omitempty"`
	HeadRef    string `json:"head_ref,omitempty"`
	URL        string `json:"url,omitempty"`
}

// String returns the stable cursor key for the target.
func (t Target) String() string {
	if t.Key != "" {
		return fmt.Sprintf("%s:%s", t.Platform, t.Key)
	}
	return fmt.Sprintf("%s:%s#%d", t.Platform, t.Repository, t.Number)
}

// Revision is a commit or an equivalent immutable change unit.
type Revision struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	URL       string    `json:"url,omitempty"`
}

// ShortID returns the first seven characters of the revision id.
func (r Revision) ShortID() string {
	if len(r.ID) <= 7 {
		return r.ID
	}
	return r.ID[:7]
}

// RevisionCursor marks the last fully analyzed revision for one target.
type RevisionCursor struct {
	InstallationID string    `json:"installation_id"`
	Target         string    `json:"target"`
	RevisionID     string    `json:"revision_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Run statuses. A run moves from pending to exactly one terminal status.
const (
	RunPending   = "pending"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunRecord is one append-only entry in the run log.
type RunRecord struct {
	ID                string     `json:"id"`
	InstallationID    string     `json:"installation_id"`
	Target            string     `json:"target"`
	RequestedBy       string     `json:"requested_by"`
	RequestedAt       time.Time  `json:"requested_at"`
	RevisionsAnalyzed []string   `json:"revisions_analyzed"`
	Status            string     `json:"status"`
	ResultRef         string     `json:"result_ref,omitempty"`
	Provenance        string     `json:"provenance,omitempty"`
	Error             string     `json:"error,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Author is the actor behind a comment.
type Author struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	IsBot       bool   `json:"is_bot"`
}

// TriggerEvent is the platform-neutral form of a comment webhook. It is
// JSON-serializable so it can be handed to a background worker.
type TriggerEvent struct {
	Platform   string    `json:"platform"`
	AccountID  string    `json:"account_id"`
	Target     Target    `json:"target"`
	CommentID  string    `json:"comment_id"`
	Body       any       `json:"body"`
	Author     Author    `json:"author"`
	Title      string    `json:"title,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Trigger is a parsed analysis command with its flags.
type Trigger struct {
	Command string            `json:"command"`
	Text    string            `json:"text"`
	Flags   map[string]bool   `json:"flags,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Flag reports whether a boolean flag was present.
func (t Trigger) Flag(name string) bool {
	return t.Flags[name]
}

// Document is a rendered, platform-native comment body.
type Document struct {
	Markdown string         `json:"markdown,omitempty"`
	ADF      map[string]any `json:"adf,omitempty"`
}

// CommentRef identifies a posted comment.
type CommentRef struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Source fetches the material a run needs from a platform.
type Source interface {
	// ListRevisions returns revisions newest first, at most limit entries.
	ListRevisions(ctx context.Context, target Target, limit int) ([]Revision, error)
	FetchDescription(ctx context.Context, target Target) (title, body string, err error)
	FetchDiff(ctx context.Context, target Target) (string, error)
	FetchFile(ctx context.Context, target Target, path string) (string, error)
}

// Platform is a per-installation client for one collaboration platform.
type Platform interface {
	Source
	Name() string
	PostComment(ctx context.Context, target Target, doc Document) (CommentRef, error)
}
