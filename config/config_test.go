package config_test

import (
	"os"
	"testing"

	"github.com/rskv-p/nodebus/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("NODE_DEFAULT_NETWORK_ID", "staging")
	t.Setenv("NODE_ROLE", "frontend")
	t.Setenv("NODE_NETWORK_IDS", "a,b,c")

	cfg := config.LoadFromEnv()
	assert.Equal(t, "staging", cfg.DefaultNetworkID)
	assert.Equal(t, config.RoleFrontend, cfg.Role)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.NetworkIDs)
}

func TestValidate_RejectsBadRole(t *testing.T) {
	cfg := config.Default()
	cfg.Role = "sideways"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroTimeouts(t *testing.T) {
	cfg := config.Default()
	cfg.RequestTimeoutMs = 0
	assert.Error(t, cfg.Validate())
}

func TestMustLoadFromEnv_PanicsOnInvalid(t *testing.T) {
	os.Clearenv()
	t.Setenv("NODE_ROLE", "invalid-role")
	assert.Panics(t, func() {
		config.MustLoadFromEnv()
	})
}
