package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trial-eligibility/internal/config"
)

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "trials.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestPricingRates(t *testing.T) {
	cfg = &config.Config{
		Pricing: config.PricingConfig{
			Anthropic: map[string]config.ModelPricing{
				"claude-test": {Input: 2, Output: 8, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			},
		},
	}

	rates := pricingRates()
	require.Contains(t, rates, "claude-test")
	assert.InDelta(t, 2.0, rates["claude-test"].Input, 1e-9)
	assert.InDelta(t, 8.0, rates["claude-test"].Output, 1e-9)
	assert.InDelta(t, 0.1, rates["claude-test"].CacheReadMul, 1e-9)
}

func TestInitAssessor_UsesConfig(t *testing.T) {
	cfg = &config.Config{
		Anthropic: config.AnthropicConfig{
			Key:              "sk-ant-test",
			Model:            "claude-haiku-4-5-20251001",
			MaxTokens:        1024,
			TimeoutSecs:      30,
			FailureThreshold: 3,
			ResetTimeoutSecs: 10,
		},
	}
	assert.NotNil(t, initAssessor())
}

func TestHeidiCredentials(t *testing.T) {
	cfg = &config.Config{
		Heidi: config.HeidiConfig{APIKey: "k", UserEmail: "e@test", ThirdPartyID: "tp"},
	}
	creds := heidiCredentials()
	assert.Equal(t, "k", creds.APIKey)
	assert.Equal(t, "e@test", creds.Email)
	assert.Equal(t, "tp", creds.ThirdPartyID)
	assert.NotNil(t, initHeidi())
}

func TestInitService_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "svc.db"),
		},
	}

	env, err := initService(context.Background(), "store")
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Service)
	assert.Len(t, env.Service.Catalog().All(), 5)
	assert.Equal(t, 0, env.Service.Cache().Len())
}

func TestInitService_ValidationFails(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "postgres"}}

	_, err := initService(context.Background(), "store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestInitService_BadCatalogPath(t *testing.T) {
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "svc.db")},
		Trials: config.TrialsConfig{Path: filepath.Join(t.TempDir(), "missing.yaml")},
	}

	_, err := initService(context.Background(), "store")
	require.Error(t, err)
}
