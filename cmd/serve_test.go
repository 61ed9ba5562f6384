package cmd

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recipebot/internal/config"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/jobqueue"
	"github.com/recipebot/internal/providers"
)

func TestRegisterPlatforms(t *testing.T) {
	r := providers.NewRegistry(5, 10)
	RegisterPlatforms(r)
	for _, p := range []string{
		coreprocessor.PlatformGitHub,
		coreprocessor.PlatformGitLab,
		coreprocessor.PlatformJira,
		coreprocessor.PlatformLinear,
	} {
		assert.True(t, r.Supports(p), p)
	}
	assert.False(t, r.Supports("bitbucket"))
}

func TestNewDispatcher(t *testing.T) {
	handler := func(context.Context, coreprocessor.TriggerEvent, coreprocessor.Trigger) error { return nil }

	cfg := &config.Config{}
	cfg.Queue.Driver = jobqueue.DriverGoroutine
	cfg.Queue.Workers = 2
	d, err := newDispatcher(context.Background(), cfg, handler, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &jobqueue.GoroutineDispatcher{}, d)

	cfg.Queue.Driver = "kafka"
	_, err = newDispatcher(context.Background(), cfg, handler, zerolog.Nop())
	assert.Error(t, err)
}

func TestRiverDSN(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.DSN = "postgres://db/recipebot"
	assert.Equal(t, "postgres://db/recipebot", riverDSN(cfg))

	cfg.Queue.DSN = "postgres://queue/river"
	assert.Equal(t, "postgres://queue/river", riverDSN(cfg))
}

func TestBuildInvoker_NoBackends(t *testing.T) {
	cfg := &config.Config{}
	cfg.Local.Backend = "none"
	inv, err := buildInvoker(cfg)
	require.NoError(t, err)
	assert.NotNil(t, inv)
}
