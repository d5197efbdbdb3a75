package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "PallasBot", cfg.Mongo.Database)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 3, cfg.Repeater.AnswerThreshold)
	assert.Equal(t, []int{7, 23, 70}, cfg.Repeater.AnswerThresholdWeights)
	assert.Equal(t, 2, cfg.Repeater.CrossGroupThreshold)
	assert.Equal(t, "牛牛", cfg.Repeater.CallName)
	assert.InDelta(t, 0.5, cfg.Repeater.SplitProbability, 1e-9)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
repeater:
  answer_threshold: 5
  call_name: 小牛
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Repeater.AnswerThreshold)
	assert.Equal(t, "小牛", cfg.Repeater.CallName)
	// 没写的字段走默认值
	assert.Equal(t, 16, cfg.Repeater.TopicsSize)
}
