package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"kvload/internal/client"
	"kvload/internal/codec"
	"kvload/internal/logger"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Load   LoadConfig   `yaml:"load" json:"load"`
	Server ServerConfig `yaml:"server" json:"server"`
	Status StatusConfig `yaml:"status" json:"status"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// LoadConfig は負荷生成の設定
type LoadConfig struct {
	Clients    int      `yaml:"clients" json:"clients"`
	Iterations int      `yaml:"iterations" json:"iterations"`
	GetRatio   *float64 `yaml:"get_ratio" json:"get_ratio"`
	Keys       []string `yaml:"keys" json:"keys"`
	Seed       int64    `yaml:"seed" json:"seed"`
}

// ServerConfig は接続先の設定
type ServerConfig struct {
	Addr          string `yaml:"addr" json:"addr"`
	Framing       string `yaml:"framing" json:"framing"`
	ReadBuffer    int    `yaml:"read_buffer" json:"read_buffer"`
	RetryInterval string `yaml:"retry_interval" json:"retry_interval"`
	MaxAttempts   int    `yaml:"max_attempts" json:"max_attempts"`
	DialTimeout   string `yaml:"dial_timeout" json:"dial_timeout"`
	IOTimeout     string `yaml:"io_timeout" json:"io_timeout"`
}

// StatusConfig はステータスサーバーの設定
type StatusConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
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

// Validate は設定を検証し、全ての違反をまとめて返す
func (f *FileConfig) Validate() error {
	var errs error

	if f.Load.Clients < 0 {
		errs = multierr.Append(errs, errors.New("load.clients must be non-negative"))
	}
	if f.Load.Iterations < 0 {
		errs = multierr.Append(errs, errors.New("load.iterations must be non-negative"))
	}
	if r := f.Load.GetRatio; r != nil && (*r < 0 || *r > 1) {
		errs = multierr.Append(errs, errors.New("load.get_ratio must be between 0 and 1"))
	}
	for _, k := range f.Load.Keys {
		if k == "" || strings.ContainsAny(k, " =\r\n") {
			errs = multierr.Append(errs, fmt.Errorf("load.keys: invalid key %q", k))
		}
	}

	switch f.Server.Framing {
	case "", codec.FramingRaw, codec.FramingLengthPrefixed:
	default:
		errs = multierr.Append(errs, fmt.Errorf("server.framing: unknown framing %q", f.Server.Framing))
	}
	if f.Server.ReadBuffer < 0 {
		errs = multierr.Append(errs, errors.New("server.read_buffer must be non-negative"))
	}
	if f.Server.MaxAttempts < 0 {
		errs = multierr.Append(errs, errors.New("server.max_attempts must be non-negative"))
	}
	for name, d := range map[string]string{
		"server.retry_interval": f.Server.RetryInterval,
		"server.dial_timeout":   f.Server.DialTimeout,
		"server.io_timeout":     f.Server.IOTimeout,
	} {
		if _, err := parseDuration(d); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errs
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// ToClientConfig はFileConfigをclient.Configに変換する。未設定の項目はデフォルト値。
func (f *FileConfig) ToClientConfig() (client.Config, error) {
	config := client.DefaultConfig()

	if f.Load.Clients > 0 {
		config.NumClients = f.Load.Clients
	}
	if f.Load.Iterations > 0 {
		config.Session.Iterations = f.Load.Iterations
	}
	if f.Load.GetRatio != nil {
		config.Session.GetRatio = *f.Load.GetRatio
	}
	if len(f.Load.Keys) > 0 {
		config.Session.Keys = f.Load.Keys
	}
	config.Session.Seed = f.Load.Seed

	if f.Server.Addr != "" {
		config.Session.Addr = f.Server.Addr
	}

	framer, err := codec.NewFramer(f.Server.Framing, f.Server.ReadBuffer)
	if err != nil {
		return config, err
	}
	config.Session.Framer = framer

	retry, err := parseDuration(f.Server.RetryInterval)
	if err != nil {
		return config, fmt.Errorf("invalid retry interval: %w", err)
	}
	if retry > 0 {
		config.Session.Connector.RetryInterval = retry
	}
	config.Session.Connector.MaxAttempts = f.Server.MaxAttempts

	if config.Session.Connector.DialTimeout, err = parseDuration(f.Server.DialTimeout); err != nil {
		return config, fmt.Errorf("invalid dial timeout: %w", err)
	}
	if config.Session.IOTimeout, err = parseDuration(f.Server.IOTimeout); err != nil {
		return config, fmt.Errorf("invalid io timeout: %w", err)
	}

	return config, nil
}

// NewLogger はログ設定から out に出力するロガーを作成する
func (l LogConfig) NewLogger(out io.Writer) (*logger.Logger, error) {
	level, err := logger.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	if l.File == "" {
		return logger.New(out, level), nil
	}
	return logger.NewWithFile(out, level, logger.FileConfig{
		Path:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}), nil
}
