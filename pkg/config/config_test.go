package config_test

import (
	"os"
	"testing"

	"github.com/chris-alexander-pop/zmqbridge/pkg/config"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Port     int    `env:"CONFIG_TEST_PORT" env-default:"8080"`
	LogLevel string `env:"CONFIG_TEST_LOG_LEVEL" env-default:"INFO" validate:"required"`
}

func TestLoadAppliesEnvDefaults(t *testing.T) {
	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("CONFIG_TEST_PORT", "9090")
	t.Setenv("CONFIG_TEST_LOG_LEVEL", "DEBUG")

	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadFailsValidation(t *testing.T) {
	t.Setenv("CONFIG_TEST_LOG_LEVEL", "")

	var cfg sampleConfig
	err := config.Load(&cfg)
	require.Error(t, err)
}

func TestMain(m *testing.M) {
	// cleanenv.ReadConfig looks for a .env file relative to the working
	// directory; make sure none of this package's own tests pick up a
	// stray one left by another test run.
	_ = os.Remove(".env")
	os.Exit(m.Run())
}
