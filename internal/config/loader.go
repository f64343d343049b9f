package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "annotate.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/annotate"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Environment overrides
const (
	EnvLogLevel  = "ANNOTATE_LOG_LEVEL"
	EnvLogFormat = "ANNOTATE_LOG_FORMAT"
	EnvStore     = "ANNOTATE_STORE"
	EnvStorePath = "ANNOTATE_STORE_PATH"
	EnvBackupDir = "ANNOTATE_BACKUP_DIR"
	EnvMaxNodes  = "ANNOTATE_MAX_NODES"
	EnvMaxEdges  = "ANNOTATE_MAX_EDGES"
	EnvDebounce  = "ANNOTATE_WATCH_DEBOUNCE"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	// ExplicitPath replaces the project config search when set (--config)
	ExplicitPath string
	// WorkDir is where the project config search starts; cwd when empty
	WorkDir string
	// HomeDir overrides the user's home directory; os.UserHomeDir when empty
	HomeDir string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/annotate/config.yaml)
// 3. Project config (annotate.yaml in current or parent directories, or --config)
// 4. .env file, then environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if userConfig, err := LoadFromFile(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	projectConfigPath := l.ExplicitPath
	if projectConfigPath == "" {
		projectConfigPath = l.findProjectConfig()
	}
	if projectConfigPath != "" {
		projectConfig, err := LoadFromFile(projectConfigPath)
		if err != nil {
			if l.ExplicitPath != "" {
				return nil, err
			}
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.loadEnv()
	config.Merge(fromEnv())

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadEnv reads a .env file from the working directory if there is one
func (l *Loader) loadEnv() {
	path := ".env"
	if l.WorkDir != "" {
		path = filepath.Join(l.WorkDir, ".env")
	}
	if err := godotenv.Load(path); err != nil {
		l.logger.Debug("No .env file found, using system environment variables")
	}
}

func fromEnv() *Config {
	return &Config{
		Log: LogConfig{
			Level:  GetEnv(EnvLogLevel),
			Format: GetEnv(EnvLogFormat),
		},
		Annotations: AnnotationsConfig{
			Backend: GetEnv(EnvStore),
			Path:    GetEnv(EnvStorePath),
		},
		Backups: BackupsConfig{Dir: GetEnv(EnvBackupDir)},
		Limits: LimitsConfig{
			MaxNodes: GetEnvInt(EnvMaxNodes, 0),
			MaxEdges: GetEnvInt(EnvMaxEdges, 0),
		},
		Watch: WatchConfig{Debounce: GetEnvDuration(EnvDebounce, 0)},
	}
}

// GetEnv returns the variable's value or "" when unset
func GetEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return ""
	}
	return value
}

func GetEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home := l.HomeDir
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for annotate.yaml in the work directory and its parents
func (l *Loader) findProjectConfig() string {
	dir := l.WorkDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}

	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
