package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `{
	"source": {"host": "127.0.0.1", "port": 7709, "token": "secret"}
}`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Source.Host)
	assert.Equal(t, 7709, cfg.Source.Port)
	assert.Equal(t, 30, cfg.Source.HeartbeatIntervalS)
	assert.Equal(t, 90, cfg.Source.NoDataTimeoutS)
	assert.Equal(t, 10<<20, cfg.Source.MaxFrameBytes)
	assert.Equal(t, 50000, cfg.Receiver.StagingCapacity)
	assert.Equal(t, 80, cfg.Memory.SoftCleanupMB)
	assert.Equal(t, 90, cfg.Memory.HardCleanupMB)
	assert.Equal(t, 100, cfg.Cache.HistoryLength)
	assert.Equal(t, 30, cfg.Engine.IntervalS)
	assert.Equal(t, 9.8, cfg.Engine.Filters.MaxChangePercent)
	assert.False(t, cfg.Engine.EnableBeijing)
	assert.Equal(t, "127.0.0.1:7700", cfg.Session.ListenAddr)
	assert.Equal(t, 30, cfg.Session.CommandTimeoutS)
	assert.Empty(t, cfg.Journal.Path)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigExplicitValuesWin(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"source": {"host": "10.0.0.5", "port": 7709, "token": "secret", "no_data_timeout_s": 120},
		"engine": {"interval_s": 10, "enable_beijing": true, "filters": {"min_volume": 5000}},
		"session": {"listen_addr": "0.0.0.0:9000"},
		"journal": {"path": "/var/lib/quote/journal"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Source.NoDataTimeoutS)
	assert.Equal(t, 10, cfg.Engine.IntervalS)
	assert.True(t, cfg.Engine.EnableBeijing)
	assert.Equal(t, int64(5000), cfg.Engine.Filters.MinVolume)
	// 未写的过滤项仍然有默认值
	assert.Equal(t, 9.8, cfg.Engine.Filters.MaxChangePercent)
	assert.Equal(t, "0.0.0.0:9000", cfg.Session.ListenAddr)
	assert.Equal(t, "/var/lib/quote/journal", cfg.Journal.Path)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{
		"source": {"host": "127.0.0.1", "port": 7709, "token": "secret"},
		"recevier": {"staging_capacity": 1000}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析失败")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestSourceTokenFromEnv(t *testing.T) {
	t.Setenv("SOURCE_TOKEN", "env-override")

	cfg, err := LoadConfig(writeConfig(t, `{
		"source": {"host": "127.0.0.1", "port": 7709, "token": "from-file"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "env-override", cfg.Source.Token)
}

func TestSourceTokenEnvSatisfiesRequired(t *testing.T) {
	t.Setenv("SOURCE_TOKEN", "env-only")

	cfg, err := LoadConfig(writeConfig(t, `{
		"source": {"host": "127.0.0.1", "port": 7709}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.Source.Token)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Setenv("SOURCE_TOKEN", "")

	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing host", `{"source": {"port": 7709, "token": "secret"}}`, "source.host"},
		{"bad port", `{"source": {"host": "127.0.0.1", "port": 70000, "token": "secret"}}`, "source.port"},
		{"missing token", `{"source": {"host": "127.0.0.1", "port": 7709}}`, "source.token"},
		{"watermarks inverted", `{
			"source": {"host": "127.0.0.1", "port": 7709, "token": "secret"},
			"memory": {"soft_cleanup_mb": 95, "hard_cleanup_mb": 90}
		}`, "soft_cleanup_mb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
