package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// MinAdminKeyLen is the shortest key accepted by HashAdminKey.
const MinAdminKeyLen = 16

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HashAdminKey hashes key for the server.admin_key_hash setting.
func HashAdminKey(key string) (string, error) {
	if len(key) < MinAdminKeyLen {
		return "", errors.New("admin key must be at least 16 characters long")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// compareKey checks if the provided key matches the hashed key
func compareKey(hashedKey, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(key)) == nil
}

// adminKeyAuth guards the read-only API with the X-API-Key header.
func adminKeyAuth(hash string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:X-API-Key",
		Validator: func(key string, c echo.Context) (bool, error) {
			return compareKey(hash, key), nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid or missing API key"})
		},
	})
}

// RunsResponse is the body of GET /api/v1/runs.
type RunsResponse struct {
	Runs  []coreprocessor.RunRecord `json:"runs"`
	Count int                       `json:"count"`
}

// listRuns returns the newest runs, optionally for one target.
func (s *Server) listRuns(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	runs, err := s.opts.Runs.ListRuns(c.Request().Context(), c.QueryParam("target"), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list runs"})
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}
