package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"deepfrog/internal/logger"
)

const (
	defaultCacheDir    = "~/.cache/deepfrog/models"
	defaultHubEndpoint = "https://huggingface.co"
	defaultAPIEndpoint = "https://api-inference.huggingface.co"
	defaultMaxBytes    = 32 * 1024
)

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HubConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Revision string        `mapstructure:"revision"`
	Token    string        `mapstructure:"token"`
	RetryMax int           `mapstructure:"retry_max"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type InferenceConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryMax     int           `mapstructure:"retry_max"`
	WaitForModel bool          `mapstructure:"wait_for_model"`
	LoadAttempts uint          `mapstructure:"load_attempts"`
}

type ONNXConfig struct {
	Runtime     string `mapstructure:"runtime"`
	Python      string `mapstructure:"python"`
	LibraryPath string `mapstructure:"library_path"`
}

type PipelineConfig struct {
	Aggregation  string   `mapstructure:"aggregation"`
	IgnoreLabels []string `mapstructure:"ignore_labels"`
	MaxBytes     int      `mapstructure:"max_bytes"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	CacheDir  string          `mapstructure:"cache_dir"`
	Backend   string          `mapstructure:"backend"`
	Hub       HubConfig       `mapstructure:"hub"`
	Inference InferenceConfig `mapstructure:"inference"`
	ONNX      ONNXConfig      `mapstructure:"onnx"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Journal   JournalConfig   `mapstructure:"journal"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "warn")
	v.SetDefault("cache_dir", defaultCacheDir)
	v.SetDefault("backend", "local")

	v.SetDefault("hub.endpoint", defaultHubEndpoint)
	v.SetDefault("hub.revision", "main")
	v.SetDefault("hub.token", "")
	v.SetDefault("hub.retry_max", 2)
	v.SetDefault("hub.timeout", 10*time.Minute)

	v.SetDefault("inference.endpoint", defaultAPIEndpoint)
	v.SetDefault("inference.timeout", 60*time.Second)
	v.SetDefault("inference.retry_max", 2)
	v.SetDefault("inference.wait_for_model", true)
	v.SetDefault("inference.load_attempts", 5)

	v.SetDefault("onnx.runtime", "python")
	v.SetDefault("onnx.python", "python3")
	v.SetDefault("onnx.library_path", "")

	v.SetDefault("pipeline.aggregation", "none")
	v.SetDefault("pipeline.ignore_labels", []string{"O"})
	v.SetDefault("pipeline.max_bytes", defaultMaxBytes)

	v.SetDefault("journal.path", "")
}

// Load reads the config file (if any), .env and DEEPFROG_* environment
// variables. An explicit configFile must exist; the default locations are
// optional.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("deepfrog")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "deepfrog"))
		}
	}

	v.SetEnvPrefix("DEEPFROG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	loadDotEnv()

	if err := v.BindEnv("hub.token", "DEEPFROG_HUB_TOKEN", "HF_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.CacheDir = expandHome(cfg.CacheDir)
	cfg.Journal.Path = expandHome(cfg.Journal.Path)
	if cfg.CacheDir == "" {
		cfg.CacheDir = expandHome(defaultCacheDir)
	}
	if cfg.Pipeline.MaxBytes <= 0 {
		cfg.Pipeline.MaxBytes = defaultMaxBytes
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "local", "remote":
	default:
		return fmt.Errorf("invalid backend %q (want local or remote)", c.Backend)
	}
	switch c.ONNX.Runtime {
	case "python", "native":
	default:
		return fmt.Errorf("invalid onnx.runtime %q (want python or native)", c.ONNX.Runtime)
	}
	return nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		logger.GetLogger().Debug(".env file not found or unable to load")
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
