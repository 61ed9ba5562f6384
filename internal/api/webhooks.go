package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/recipebot/internal/command"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/webhookauth"
	"github.com/recipebot/internal/webhookutils"
)

// Webhook outcomes, used as response status and metric label.
const (
	outcomeAccepted     = "accepted"
	outcomeIgnored      = "ignored"
	outcomeSkipped      = "skipped"
	outcomeUnauthorized = "unauthorized"
	outcomeMalformed    = "malformed"
	outcomeError        = "error"
)

// handleWebhook authenticates, parses and screens one webhook, then hands the
// trigger to the dispatcher. The response never waits for the analysis.
func (s *Server) handleWebhook(platform string) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()
		logger := zerolog.Ctx(ctx).With().Str("platform", platform).Logger()
		ctx = logger.WithContext(ctx)

		// The signature covers the exact bytes received.
		body, err := io.ReadAll(req.Body)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to read webhook body")
			return s.reply(c, platform, http.StatusBadRequest, outcomeMalformed, "unreadable body")
		}
		headers := webhookutils.FlattenHeaders(req.Header)

		verified, err := s.opts.Verifier.Verify(ctx, webhookauth.Request{
			Platform: platform,
			Method:   req.Method,
			Path:     req.URL.Path,
			Query:    req.URL.Query(),
			Headers:  headers,
			Body:     body,
		})
		if err != nil {
			if errors.Is(err, coreprocessor.ErrAuthentication) {
				logger.Warn().Err(err).Msg("webhook rejected")
				return s.reply(c, platform, http.StatusUnauthorized, outcomeUnauthorized, "authentication failed")
			}
			logger.Error().Err(err).Msg("webhook verification failed")
			return s.reply(c, platform, http.StatusInternalServerError, outcomeError, "internal error")
		}

		event, err := s.opts.Parser.ParseEvent(platform, headers, body)
		switch {
		case errors.Is(err, coreprocessor.ErrIgnoredEvent):
			logger.Debug().Err(err).Msg("webhook ignored")
			return s.reply(c, platform, http.StatusOK, outcomeIgnored, "")
		case errors.Is(err, coreprocessor.ErrMalformedPayload):
			logger.Warn().Err(err).Msg("malformed webhook payload")
			return s.reply(c, platform, http.StatusBadRequest, outcomeMalformed, "malformed payload")
		case err != nil:
			logger.Error().Err(err).Msg("webhook parsing failed")
			return s.reply(c, platform, http.StatusInternalServerError, outcomeError, "internal error")
		}

		if event.AccountID == "" {
			event.AccountID = verified.AccountID
		}
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = time.Now().UTC()
		}

		trigger, skip := s.opts.Detector.Detect(*event)
		if skip != command.SkipNone {
			logger.Debug().Str("reason", string(skip)).Str("comment_id", event.CommentID).Msg("comment skipped")
			return s.reply(c, platform, http.StatusOK, outcomeSkipped, string(skip))
		}

		logger.Info().
			Str("target", event.Target.String()).
			Str("comment_id", event.CommentID).
			Str("command", trigger.Command).
			Msg("trigger accepted")
		if err := s.opts.Dispatcher.Dispatch(ctx, *event, trigger); err != nil {
			logger.Error().Err(err).Msg("failed to dispatch analysis")
			return s.reply(c, platform, http.StatusInternalServerError, outcomeError, "internal error")
		}
		return s.reply(c, platform, http.StatusOK, outcomeAccepted, "")
	}
}

func (s *Server) reply(c echo.Context, platform string, code int, outcome, reason string) error {
	s.opts.Metrics.Webhook(platform, outcome)
	body := map[string]string{"status": outcome, "platform": platform}
	if reason != "" {
		if code >= http.StatusBadRequest {
			body["error"] = reason
		} else {
			body["reason"] = reason
		}
	}
	return c.JSON(code, body)
}
