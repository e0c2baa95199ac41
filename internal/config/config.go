package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appdefaults "github.com/omnitutor/tutor-server/config"

	"github.com/omnitutor/tutor-server/internal/logger"
	"github.com/spf13/viper"
)

// SystemConfig is the nested override block mirrored from the hosted
// deployment layout. Top-level keys win over it.
type SystemConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	RealtimeBackendURL  string `mapstructure:"realtime_backend_url"`
	RealtimeAccessToken string `mapstructure:"realtime_access_token"`
}

// Config represents a config.
type Config struct {
	RootDir             string `mapstructure:"-"`
	HTTPAddr            string `mapstructure:"http_addr"`
	RealtimeBackendURL  string `mapstructure:"realtime_backend_url"`
	RealtimeAccessToken string `mapstructure:"realtime_access_token"`
	AudioSampleRate     int    `mapstructure:"audio_sample_rate"`
	AudioChannels       int    `mapstructure:"audio_channels"`
	AudioFrameSamples   int    `mapstructure:"audio_frame_samples"`
	SessionParamsPath   string `mapstructure:"session_params_path"`
	SessionParamsURL    string `mapstructure:"session_params_url"`
	MCPRegistryPath     string `mapstructure:"mcp_registry_path"`
	TranscriptsDir      string `mapstructure:"transcripts_dir"`
	FrontendDir         string `mapstructure:"frontend_dir"`
	TLSCertPath         string `mapstructure:"tls_cert_path"`
	TLSKeyPath          string `mapstructure:"tls_key_path"`
	TLSRequired         bool   `mapstructure:"tls_required"`
	TLSDisable          bool   `mapstructure:"tls_disable"`

	SystemConfig SystemConfig  `mapstructure:"system_config"`
	Log          logger.Config `mapstructure:"log"`
}

// Load reads the embedded defaults, merges an optional conf.yaml found near
// the working directory, then applies TUTOR_* environment overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	setDefaults(v)
	bindEnv(v)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig loads an explicit config file; an empty path falls back to the
// default search.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("TUTOR_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	setDefaults(v)
	bindEnv(v)

	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, rootDir)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "")
	v.SetDefault("audio_sample_rate", 24000)
	v.SetDefault("audio_channels", 1)
	v.SetDefault("audio_frame_samples", 4096)
	v.SetDefault("session_params_url", "")
	v.SetDefault("tls_required", false)
	v.SetDefault("tls_disable", false)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "tutor-server.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("tutor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	applySystemConfig(&cfg)
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)

	return cfg, nil
}

func applySystemConfig(cfg *Config) {
	system := cfg.SystemConfig
	if cfg.RealtimeBackendURL == "" {
		cfg.RealtimeBackendURL = system.RealtimeBackendURL
	}
	if cfg.RealtimeAccessToken == "" {
		cfg.RealtimeAccessToken = system.RealtimeAccessToken
	}
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8101
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("TUTOR_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.SessionParamsPath = resolvePath(cfg.RootDir, cfg.SessionParamsPath, filepath.Join("data", "session_params.json"))
	cfg.MCPRegistryPath = resolvePath(cfg.RootDir, cfg.MCPRegistryPath, filepath.Join("data", "mcps.json"))
	cfg.TranscriptsDir = resolvePath(cfg.RootDir, cfg.TranscriptsDir, filepath.Join("data", "transcripts"))
	cfg.FrontendDir = resolvePath(cfg.RootDir, cfg.FrontendDir, filepath.Join("webassets", "frontend"))
	cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, filepath.Join("certs", "server.key"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
