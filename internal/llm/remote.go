package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/retry"
)

// remoteResponse is the envelope returned by the reasoning endpoint.
type remoteResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// RemoteStrategy posts the payload to the external reasoning service.
type RemoteStrategy struct {
	url        string
	apiKey     string
	httpClient *http.Client
	retry      retry.Config
}

// NewRemoteStrategy creates a remote strategy. A nil client uses http.DefaultClient.
func NewRemoteStrategy(url, apiKey string, retries int, httpClient *http.Client) *RemoteStrategy {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RemoteStrategy{
		url:        url,
		apiKey:     apiKey,
		httpClient: httpClient,
		retry:      retry.ReasoningConfig(retries),
	}
}

func (r *RemoteStrategy) Name() string { return coreprocessor.ProvenanceRemote }

func (r *RemoteStrategy) Generate(ctx context.Context, payload coreprocessor.Payload) (any, error) {
	if r.url == "" {
		return nil, errors.New("reasoning url not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var data any
	result := retry.Do(ctx, r.retry, *zerolog.Ctx(ctx), func(ctx context.Context) error {
		d, err := r.call(ctx, body)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if !result.Success {
		return nil, fmt.Errorf("reasoning service failed after %d attempt(s): %w", result.Attempts, result.LastError)
	}
	return data, nil
}

func (r *RemoteStrategy) call(ctx context.Context, body []byte) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw[:min(len(raw), 300)])))
	}

	var envelope remoteResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "success=false"
		}
		return nil, fmt.Errorf("reasoning service reported failure: %s", msg)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, errors.New("reasoning service returned no data")
	}

	var data any
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return data, nil
}
