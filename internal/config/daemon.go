package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Daemon is the supervisor's own configuration file.
type Daemon struct {
	ConfigDir           string        `mapstructure:"config_dir"`
	StateDir            string        `mapstructure:"state_dir"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ServicePollInterval time.Duration `mapstructure:"service_poll_interval"`
	StopPollInterval    time.Duration `mapstructure:"stop_poll_interval"`
	Extensions          []string      `mapstructure:"extensions"`
	Artifact            string        `mapstructure:"artifact"`

	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	Log         LogConfig         `mapstructure:"log"`
	ServiceLogs ServiceLogsConfig `mapstructure:"service_logs"`
	History     HistoryConfig     `mapstructure:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// LogConfig configures the supervisor's own log output.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // text, json or color
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServiceLogsConfig decides where child stdout/stderr goes.
// Shipper, when set, is an argv for an external log shipper; "{name}" is
// replaced with the service name. Otherwise, when Dir is set, the built-in
// ship-logs command writes rotated files under Dir.
type ServiceLogsConfig struct {
	Dir        string   `mapstructure:"dir"`
	Shipper    []string `mapstructure:"shipper"`
	MaxSizeMB  int      `mapstructure:"max_size_mb"`
	MaxBackups int      `mapstructure:"max_backups"`
	MaxAgeDays int      `mapstructure:"max_age_days"`
	Compress   bool     `mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	// every key is registered so AutomaticEnv can override keys absent from the file
	for _, k := range []string{
		"config_dir", "state_dir", "artifact",
		"log.file.path", "history.dsn", "metrics.listen", "service_logs.dir",
	} {
		v.SetDefault(k, "")
	}
	for _, k := range []string{
		"log.file.max_size_mb", "log.file.max_backups", "log.file.max_age_days",
		"service_logs.max_size_mb", "service_logs.max_backups", "service_logs.max_age_days",
	} {
		v.SetDefault(k, 0)
	}
	v.SetDefault("log.file.compress", false)
	v.SetDefault("service_logs.compress", false)
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("service_logs.shipper", []string{})

	v.SetDefault("poll_interval", "5s")
	v.SetDefault("service_poll_interval", "1s")
	v.SetDefault("stop_poll_interval", "100ms")
	v.SetDefault("extensions", DefaultExtensions)
	v.SetDefault("use_os_env", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadDaemon reads the daemon config at path. Every key can be overridden by
// a DIRVISOR_ prefixed environment variable (log.level -> DIRVISOR_LOG_LEVEL).
// Relative directories are resolved against the config file's directory.
func LoadDaemon(path string) (*Daemon, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DIRVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var d Daemon
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	base := filepath.Dir(path)
	if d.ConfigDir == "" {
		return nil, fmt.Errorf("config_dir must be set in %s", path)
	}
	d.ConfigDir = resolvePath(base, d.ConfigDir)
	if d.StateDir == "" {
		d.StateDir = filepath.Join(filepath.Dir(d.ConfigDir), "state")
	}
	d.StateDir = resolvePath(base, d.StateDir)
	if d.ServiceLogs.Dir != "" {
		d.ServiceLogs.Dir = resolvePath(base, d.ServiceLogs.Dir)
	}
	if d.Log.File.Path != "" {
		d.Log.File.Path = resolvePath(base, d.Log.File.Path)
	}
	for i, f := range d.EnvFiles {
		d.EnvFiles[i] = resolvePath(base, f)
	}
	if d.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive")
	}
	if d.ServicePollInterval <= 0 {
		return nil, fmt.Errorf("service_poll_interval must be positive")
	}
	if d.StopPollInterval <= 0 {
		return nil, fmt.Errorf("stop_poll_interval must be positive")
	}
	return &d, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// GlobalEnv merges env files and the env list. OS environment, when enabled,
// is applied by the env package as the base layer.
// Precedence: env_files in order, then the env list.
func (d *Daemon) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range d.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range d.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
