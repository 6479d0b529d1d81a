package commons

import (
	"fmt"
	"time"

	irodsfs_common_utils "github.com/cyverse/irodsfs-common/utils"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/xid"
	"golang.org/x/xerrors"
	yaml "gopkg.in/yaml.v2"
)

var (
	instanceID string
)

// getInstanceID returns instance ID
func getInstanceID() string {
	if len(instanceID) == 0 {
		instanceID = xid.New().String()
	}

	return instanceID
}

// GetDefaultLogFilePath returns default log file path
func GetDefaultLogFilePath() string {
	return fmt.Sprintf("%s_%s.log", LogFilePathPrefixDefault, getInstanceID())
}

// Config holds the parameters list which can be configured
type Config struct {
	MaxMemoryMB         float64                       `envconfig:"TILECACHE_MAX_MEMORY_MB" yaml:"max_memory_MB"`
	MaxOpenFiles        int                           `envconfig:"TILECACHE_MAX_OPEN_FILES" yaml:"max_open_files"`
	AutoTile            int                           `envconfig:"TILECACHE_AUTOTILE" yaml:"autotile"`
	AutoMip             bool                          `envconfig:"TILECACHE_AUTOMIP" yaml:"automip"`
	StatsLevel          int                           `envconfig:"TILECACHE_STATS_LEVEL" yaml:"stats_level"`
	PrintUncaughtErrors bool                          `envconfig:"TILECACHE_PRINT_UNCAUGHT_ERRORS" yaml:"print_uncaught_errors"`
	ThreadInfoTimeout   irodsfs_common_utils.Duration `ignored:"true" yaml:"thread_info_timeout,omitempty"`

	LogPath string `envconfig:"TILECACHE_LOG_PATH" yaml:"log_path,omitempty"`

	Profile                bool `envconfig:"TILECACHE_PROFILE" yaml:"profile,omitempty"`
	ProfileServicePort     int  `envconfig:"TILECACHE_PROFILE_SERVICE_PORT" yaml:"profile_service_port,omitempty"`
	PrometheusExporterPort int  `envconfig:"TILECACHE_PROMETHEUS_EXPORTER_PORT" yaml:"prometheus_exporter_port,omitempty"`

	Debug bool `envconfig:"TILECACHE_DEBUG" yaml:"debug,omitempty"`

	InstanceID string `ignored:"true" yaml:"instanceid,omitempty"`
}

// NewDefaultConfig creates DefaultConfig
func NewDefaultConfig() *Config {
	return &Config{
		MaxMemoryMB:         MaxMemoryMBDefault,
		MaxOpenFiles:        MaxOpenFilesDefault,
		AutoTile:            AutoTileDefault,
		AutoMip:             AutoMipDefault,
		StatsLevel:          StatsLevelDefault,
		PrintUncaughtErrors: true,
		ThreadInfoTimeout:   irodsfs_common_utils.Duration(time.Duration(ThreadInfoTimeoutDefault) * time.Second),

		LogPath: "",

		Profile:                false,
		ProfileServicePort:     ProfileServicePortDefault,
		PrometheusExporterPort: PrometheusExporterPortDefault,

		Debug: false,

		InstanceID: getInstanceID(),
	}
}

// NewConfigFromYAML creates Config from YAML
func NewConfigFromYAML(yamlBytes []byte) (*Config, error) {
	config := NewDefaultConfig()

	err := yaml.Unmarshal(yamlBytes, config)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal YAML: %w", err)
	}

	return config, nil
}

// NewConfigFromENV creates Config from Environmental Variables
func NewConfigFromENV() (*Config, error) {
	config := NewDefaultConfig()

	err := envconfig.Process("", config)
	if err != nil {
		return nil, xerrors.Errorf("failed to read environmental variables: %w", err)
	}

	return config, nil
}

// GetLogFilePath returns log file path
func (config *Config) GetLogFilePath() string {
	if config.LogPath == "-" {
		return ""
	}
	return config.LogPath
}

// GetThreadInfoTimeout returns idle timeout of thread infos
func (config *Config) GetThreadInfoTimeout() time.Duration {
	return time.Duration(config.ThreadInfoTimeout)
}

// GetMaxMemoryBytes returns tile memory ceiling in bytes
func (config *Config) GetMaxMemoryBytes() int64 {
	return int64(config.MaxMemoryMB * 1024 * 1024)
}

// Validate validates configuration
func (config *Config) Validate() error {
	if config.MaxMemoryMB <= 0 {
		return xerrors.Errorf("max memory must be positive, got %f MB", config.MaxMemoryMB)
	}

	if config.MaxOpenFiles <= 0 {
		return xerrors.Errorf("max open files must be positive, got %d", config.MaxOpenFiles)
	}

	if config.AutoTile < 0 {
		return xerrors.Errorf("autotile must not be negative, got %d", config.AutoTile)
	}

	if config.ThreadInfoTimeout < 0 {
		return xerrors.Errorf("thread info timeout must not be negative")
	}

	if config.Profile && config.ProfileServicePort <= 0 {
		return xerrors.Errorf("profile service port must be given")
	}

	return nil
}
