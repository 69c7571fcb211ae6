// Package config holds the centralized application configuration.
// Values come from defaults, an optional YAML file, and environment
// variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5m" parse. Bare
// integers are treated as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Library    LibraryConfig    `yaml:"library" json:"library"`
	Inference  InferenceConfig  `yaml:"inference" json:"inference"`
	Processing ProcessingConfig `yaml:"processing" json:"processing"`
	Thumbnails ThumbnailConfig  `yaml:"thumbnails" json:"thumbnails"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `yaml:"host" json:"host"`
	Port         int      `yaml:"port" json:"port"`
	ReadTimeout  Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout"`
	EnableCORS   bool     `yaml:"enable_cors" json:"enable_cors"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	Type     string `yaml:"type" json:"type"` // sqlite or postgres
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	Path     string `yaml:"path" json:"path"` // sqlite file, defaults under DataDir
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
}

// LibraryConfig describes the media library on disk.
type LibraryConfig struct {
	WorkingDir         string   `yaml:"working_dir" json:"working_dir"`
	TraverseSubfolders bool     `yaml:"traverse_subfolders" json:"traverse_subfolders"`
	VideoExtensions    []string `yaml:"video_extensions" json:"video_extensions"`
	CaptionExtension   string   `yaml:"caption_extension" json:"caption_extension"`
}

// InferenceConfig points at the vision-language inference servers.
// Endpoints are index-aligned with discovered devices: endpoint 0 serves
// the first selected device, endpoint 1 the second, and so on.
type InferenceConfig struct {
	Endpoints      []string `yaml:"endpoints" json:"endpoints"`
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
}

// ProcessingConfig tunes the processing manager.
type ProcessingConfig struct {
	EventBufferSize  int      `yaml:"event_buffer_size" json:"event_buffer_size"`
	PushMinInterval  Duration `yaml:"push_min_interval" json:"push_min_interval"`
	FFmpegPath       string   `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath      string   `yaml:"ffprobe_path" json:"ffprobe_path"`
	FrameWorkDirName string   `yaml:"frame_work_dir_name" json:"frame_work_dir_name"`
}

// ThumbnailConfig controls thumbnail generation and caching.
type ThumbnailConfig struct {
	CacheDir string  `yaml:"cache_dir" json:"cache_dir"`
	Quality  float32 `yaml:"quality" json:"quality"`
	MinSize  int     `yaml:"min_size" json:"min_size"`
	MaxSize  int     `yaml:"max_size" json:"max_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // console or json
}

var (
	mu     sync.RWMutex
	global *Config
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8088,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			DataDir:  "./captiond-data",
			Host:     "localhost",
			Port:     5432,
			Username: "captiond",
			Database: "captiond",
		},
		Library: LibraryConfig{
			WorkingDir:         "./videos",
			TraverseSubfolders: false,
			VideoExtensions: []string{
				".mp4", ".webm", ".mov", ".avi", ".mkv", ".wmv", ".flv", ".m4v",
			},
			CaptionExtension: ".txt",
		},
		Inference: InferenceConfig{
			Endpoints:      []string{"http://127.0.0.1:8091"},
			RequestTimeout: Duration(10 * time.Minute),
		},
		Processing: ProcessingConfig{
			EventBufferSize:  256,
			PushMinInterval:  Duration(100 * time.Millisecond),
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			FrameWorkDirName: "captiond-frames",
		},
		Thumbnails: ThumbnailConfig{
			CacheDir: "", // defaults to <data_dir>/thumbnails
			Quality:  85,
			MinSize:  64,
			MaxSize:  320,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration from path (optional), applies environment
// overrides, validates, and installs the result as the global config.
func Load(path string) error {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	mu.Lock()
	global = cfg
	mu.Unlock()
	return nil
}

// Get returns the global configuration, loading defaults on first use.
func Get() *Config {
	mu.RLock()
	if global != nil {
		defer mu.RUnlock()
		return global
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = DefaultConfig()
	}
	return global
}

// Set installs a configuration directly. Intended for tests.
func Set(cfg *Config) {
	mu.Lock()
	global = cfg
	mu.Unlock()
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database.type %q", c.Database.Type)
	}
	if len(c.Inference.Endpoints) == 0 {
		return fmt.Errorf("config: at least one inference endpoint is required")
	}
	if c.Processing.EventBufferSize <= 0 {
		return fmt.Errorf("config: processing.event_buffer_size must be positive")
	}
	if c.Processing.PushMinInterval <= 0 {
		return fmt.Errorf("config: processing.push_min_interval must be positive")
	}
	return nil
}

// SQLitePath returns the resolved sqlite database file path.
func (c *DatabaseConfig) SQLitePath() string {
	if c.Path != "" {
		return c.Path
	}
	return c.DataDir + "/captiond.db"
}

// ThumbnailCacheDir returns the resolved thumbnail cache directory.
func (c *Config) ThumbnailCacheDir() string {
	if c.Thumbnails.CacheDir != "" {
		return c.Thumbnails.CacheDir
	}
	return c.Database.DataDir + "/thumbnails"
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAPTIOND_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CAPTIOND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("CAPTIOND_DATA_DIR"); v != "" {
		cfg.Database.DataDir = v
	}
	if v := os.Getenv("CAPTIOND_SQLITE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("CAPTIOND_WORKING_DIR"); v != "" {
		cfg.Library.WorkingDir = v
	}
	if v := os.Getenv("CAPTIOND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CAPTIOND_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
