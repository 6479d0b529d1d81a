package commons

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, MaxMemoryMBDefault, config.MaxMemoryMB)
	assert.Equal(t, MaxOpenFilesDefault, config.MaxOpenFiles)
	assert.Equal(t, int64(256*1024*1024), config.GetMaxMemoryBytes())
	assert.True(t, config.PrintUncaughtErrors)
	assert.NotEmpty(t, config.InstanceID)
	assert.NoError(t, config.Validate())
}

func TestConfigFromYAML(t *testing.T) {
	yamlBytes := []byte(`
max_memory_MB: 64
max_open_files: 2
autotile: 32
automip: true
stats_level: 2
`)

	config, err := NewConfigFromYAML(yamlBytes)
	require.NoError(t, err)

	assert.Equal(t, 64.0, config.MaxMemoryMB)
	assert.Equal(t, 2, config.MaxOpenFiles)
	assert.Equal(t, 32, config.AutoTile)
	assert.True(t, config.AutoMip)
	assert.Equal(t, 2, config.StatsLevel)
	// untouched fields keep defaults
	assert.True(t, config.PrintUncaughtErrors)
	assert.NoError(t, config.Validate())
}

func TestConfigFromYAMLInvalid(t *testing.T) {
	_, err := NewConfigFromYAML([]byte("max_open_files: [1, 2"))
	assert.Error(t, err)
}

func TestConfigFromENV(t *testing.T) {
	t.Setenv("TILECACHE_MAX_OPEN_FILES", "7")
	t.Setenv("TILECACHE_MAX_MEMORY_MB", "12.5")

	config, err := NewConfigFromENV()
	require.NoError(t, err)

	assert.Equal(t, 7, config.MaxOpenFiles)
	assert.Equal(t, 12.5, config.MaxMemoryMB)
	assert.Equal(t, AutoTileDefault, config.AutoTile)
}

func TestConfigValidate(t *testing.T) {
	config := NewDefaultConfig()
	config.MaxOpenFiles = 0
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.MaxMemoryMB = -1
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.AutoTile = -16
	assert.Error(t, config.Validate())
}

func TestGetLogFilePath(t *testing.T) {
	config := NewDefaultConfig()
	config.LogPath = "-"
	assert.Empty(t, config.GetLogFilePath())

	config.LogPath = os.TempDir() + "/tilecache.log"
	assert.Equal(t, config.LogPath, config.GetLogFilePath())
}
