package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcrosbie/evalboard/internal/service"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:50051", cfg.GRPCAddr)
	assert.Equal(t, "file", cfg.StoreDriver)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 6, cfg.EvalConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.EvalTimeout)
	assert.Equal(t, []string{"admin", "viewer"}, cfg.PanelRoles)
	assert.Equal(t, []string{"admin"}, cfg.WriterRoles)
	assert.Empty(t, cfg.EvalModels)
	assert.Zero(t, cfg.EvalInterval)
}

func TestLoadParsesModelsAndOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"EVAL_MODELS":      "m-1=qwen-72b, llama-8b",
		"STORE_DRIVER":     "sqlite",
		"EVAL_CONCURRENCY": "2",
		"PANEL_ROLES":      "admin,ops",
	})
	require.NoError(t, err)

	assert.Equal(t, []service.Model{
		{ID: "m-1", Name: "qwen-72b"},
		{ID: "llama-8b", Name: "llama-8b"},
	}, cfg.EvalModels)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 2, cfg.EvalConcurrency)
	assert.Equal(t, []string{"admin", "ops"}, cfg.PanelRoles)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":        {"STORE_DRIVER": "mongo"},
		"postgres without dsn":  {"STORE_DRIVER": "postgres"},
		"zero concurrency":      {"EVAL_CONCURRENCY": "0"},
		"bad duration":          {"EVAL_TIMEOUT": "soon"},
		"negative interval":     {"EVAL_INTERVAL": "-1h"},
		"duplicate model":       {"EVAL_MODELS": "a,a"},
		"duplicate model name":  {"EVAL_MODELS": "a=gpt-x,b=gpt-x"},
		"bare name reused":      {"EVAL_MODELS": "x=y,y"},
		"model entry sans name": {"EVAL_MODELS": "id="},
	}
	for name, environment := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environment)
			require.Error(t, err)
		})
	}
}

func TestParseModelsRejectsSharedNames(t *testing.T) {
	_, err := ParseModels("a=gpt-x, b=gpt-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate model name "gpt-x"`)

	models, err := ParseModels("a=gpt-x,b=gpt-y")
	require.NoError(t, err)
	assert.Len(t, models, 2)
}
