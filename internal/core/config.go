package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
)

const (
	configDirName  = ".ngstep"
	configFileName = "config.json"

	// HomeEnv overrides the configuration directory.
	HomeEnv = "NGSTEP_HOME"
)

// ConfigManager handles reading and writing the ngstep configuration.
type ConfigManager struct {
	configDir string
	mu        sync.RWMutex
}

// NewConfigManager creates a ConfigManager using $NGSTEP_HOME, or ~/.ngstep/
// when it is unset.
func NewConfigManager() (*ConfigManager, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return &ConfigManager{configDir: dir}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Annotate(err, "getting home directory")
	}
	return &ConfigManager{
		configDir: filepath.Join(home, configDirName),
	}, nil
}

// NewConfigManagerWithDir creates a ConfigManager using a custom config directory.
// Useful for testing.
func NewConfigManagerWithDir(dir string) *ConfigManager {
	return &ConfigManager{configDir: dir}
}

// ConfigDir returns the configuration directory path.
func (cm *ConfigManager) ConfigDir() string {
	return cm.configDir
}

// ConfigPath returns the full path to the config file.
func (cm *ConfigManager) ConfigPath() string {
	return filepath.Join(cm.configDir, configFileName)
}

// RunnerDir returns where the migration runner script is installed.
func (cm *ConfigManager) RunnerDir() string {
	return filepath.Join(cm.configDir, "runner")
}

// Load reads the config from disk. Returns default config if file doesn't exist.
// Fields absent from the file keep their default values.
func (cm *ConfigManager) Load() (*Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	cfg := defaultConfig()
	data, err := os.ReadFile(cm.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Annotate(err, "reading config")
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotate(err, "parsing config")
	}
	return cfg, nil
}

// Save writes the config to disk, creating the directory if needed.
func (cm *ConfigManager) Save(cfg *Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.MkdirAll(cm.configDir, 0o755); err != nil {
		return errors.Annotate(err, "creating config directory")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Annotate(err, "marshaling config")
	}
	data = append(data, '\n')

	return errors.Annotate(writeFileAtomic(cm.ConfigPath(), data), "saving config")
}

func defaultConfig() *Config {
	return &Config{
		Settings: Settings{
			NpmCommand:        "npm",
			NodeCommand:       "node",
			RequiredNodeMajor: 22,
			InstallAttempts:   30,
			CascadeDepth:      20,
			RegistryTimeout:   Duration(60 * time.Second),
			InstallTimeout:    Duration(30 * time.Minute),
			MigrationTimeout:  Duration(10 * time.Minute),
			SilenceInterval:   Duration(30 * time.Second),
			SilenceThreshold:  Duration(15 * time.Second),
		},
	}
}
