package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hello-tcp/internal/handler"
	"hello-tcp/internal/logger"
	"hello-tcp/internal/server"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix は環境変数の接頭辞
const EnvPrefix = "HELLO_TCP"

// Config は解決済みの設定
type Config struct {
	Server   server.Config
	Handler  handler.Config
	PoolSize int
	LogLevel string
	Admin    AdminConfig
}

// AdminConfig は管理APIの設定
type AdminConfig struct {
	Enabled bool
	Addr    string
}

// Default はデフォルト設定を返す
func Default() Config {
	return Config{
		Server:   server.DefaultConfig(),
		Handler:  handler.DefaultConfig(),
		PoolSize: 4,
		LogLevel: "info",
		Admin: AdminConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server  ServerSection  `yaml:"server" json:"server"`
	Handler HandlerSection `yaml:"handler" json:"handler"`
	Log     LogSection     `yaml:"log" json:"log"`
	Admin   AdminSection   `yaml:"admin" json:"admin"`
}

// ServerSection はアクセプタとプールの設定
type ServerSection struct {
	Addr         string `yaml:"addr" json:"addr"`
	PoolSize     *int   `yaml:"pool_size" json:"pool_size"`
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	ConnTimeout  string `yaml:"conn_timeout" json:"conn_timeout"`
	MaxConns     int    `yaml:"max_conns" json:"max_conns"`
}

// HandlerSection はハンドラの設定
type HandlerSection struct {
	StaticDir  string `yaml:"static_dir" json:"static_dir"`
	SleepDelay string `yaml:"sleep_delay" json:"sleep_delay"`
}

// LogSection はログ設定
type LogSection struct {
	Level string `yaml:"level" json:"level"`
}

// AdminSection は管理API設定
type AdminSection struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must be non-negative")
	}

	for name, value := range map[string]string{
		"server.poll_interval": f.Server.PollInterval,
		"server.conn_timeout":  f.Server.ConnTimeout,
		"handler.sleep_delay":  f.Handler.SleepDelay,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}

	return nil
}

// Apply はファイルの値で cfg を上書きする
// 指定されていない項目は変更しない
func (f *FileConfig) Apply(cfg *Config) error {
	sc := f.Server

	if sc.Addr != "" {
		cfg.Server.Addr = sc.Addr
	}
	if sc.PoolSize != nil {
		cfg.PoolSize = *sc.PoolSize
	}
	if sc.PollInterval != "" {
		d, err := time.ParseDuration(sc.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll interval: %w", err)
		}
		cfg.Server.PollInterval = d
	}
	if sc.ConnTimeout != "" {
		d, err := time.ParseDuration(sc.ConnTimeout)
		if err != nil {
			return fmt.Errorf("invalid conn timeout: %w", err)
		}
		cfg.Server.ConnTimeout = d
	}
	if sc.MaxConns > 0 {
		cfg.Server.MaxConns = sc.MaxConns
	}

	if f.Handler.StaticDir != "" {
		cfg.Handler.StaticDir = f.Handler.StaticDir
	}
	if f.Handler.SleepDelay != "" {
		d, err := time.ParseDuration(f.Handler.SleepDelay)
		if err != nil {
			return fmt.Errorf("invalid sleep delay: %w", err)
		}
		cfg.Handler.SleepDelay = d
	}

	if f.Log.Level != "" {
		cfg.LogLevel = f.Log.Level
	}

	if f.Admin.Enabled != nil {
		cfg.Admin.Enabled = *f.Admin.Enabled
	}
	if f.Admin.Addr != "" {
		cfg.Admin.Addr = f.Admin.Addr
	}

	return nil
}

// envConfig は環境変数で上書きできる項目
// 未設定の項目は nil のまま残る
type envConfig struct {
	Addr         *string        `envconfig:"ADDR"`
	PoolSize     *int           `envconfig:"POOL_SIZE"`
	PollInterval *time.Duration `envconfig:"POLL_INTERVAL"`
	ConnTimeout  *time.Duration `envconfig:"CONN_TIMEOUT"`
	MaxConns     *int           `envconfig:"MAX_CONNS"`
	StaticDir    *string        `envconfig:"STATIC_DIR"`
	SleepDelay   *time.Duration `envconfig:"SLEEP_DELAY"`
	LogLevel     *string        `envconfig:"LOG_LEVEL"`
	AdminEnabled *bool          `envconfig:"ADMIN_ENABLED"`
	AdminAddr    *string        `envconfig:"ADMIN_ADDR"`
}

// ApplyEnv は HELLO_TCP_* 環境変数で cfg を上書きする
func ApplyEnv(cfg *Config) error {
	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if env.Addr != nil {
		cfg.Server.Addr = *env.Addr
	}
	if env.PoolSize != nil {
		cfg.PoolSize = *env.PoolSize
	}
	if env.PollInterval != nil {
		cfg.Server.PollInterval = *env.PollInterval
	}
	if env.ConnTimeout != nil {
		cfg.Server.ConnTimeout = *env.ConnTimeout
	}
	if env.MaxConns != nil {
		cfg.Server.MaxConns = *env.MaxConns
	}
	if env.StaticDir != nil {
		cfg.Handler.StaticDir = *env.StaticDir
	}
	if env.SleepDelay != nil {
		cfg.Handler.SleepDelay = *env.SleepDelay
	}
	if env.LogLevel != nil {
		cfg.LogLevel = *env.LogLevel
	}
	if env.AdminEnabled != nil {
		cfg.Admin.Enabled = *env.AdminEnabled
	}
	if env.AdminAddr != nil {
		cfg.Admin.Addr = *env.AdminAddr
	}

	return nil
}

// Validate は解決済み設定を検証する
// プールサイズは worker.Build に任せる
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address must not be empty")
	}
	if c.Server.PollInterval < 0 || c.Server.ConnTimeout < 0 || c.Handler.SleepDelay < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("max conns must be non-negative")
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		return fmt.Errorf("admin address must not be empty when admin is enabled")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
