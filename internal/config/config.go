package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	MaxParticipants int `mapstructure:"max_participants"`

	ChunkSize          int           `mapstructure:"chunk_size"`
	ChunkInterval      time.Duration `mapstructure:"chunk_interval"`
	ChunkRetryBackoff  time.Duration `mapstructure:"chunk_retry_backoff"`
	ChunkRetryLimit    int           `mapstructure:"chunk_retry_limit"`
	ChannelOpenTimeout time.Duration `mapstructure:"channel_open_timeout"`
	ReassemblyTTL      time.Duration `mapstructure:"reassembly_ttl"`

	TranslateURL string `mapstructure:"translate_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "parley-dev-secret")
	v.SetDefault("max_participants", 2)
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("chunk_interval", "100ms")
	v.SetDefault("chunk_retry_backoff", "500ms")
	v.SetDefault("chunk_retry_limit", 5)
	v.SetDefault("channel_open_timeout", "5s")
	v.SetDefault("reassembly_ttl", "30s")
	v.SetDefault("translate_url", "http://localhost:8000")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Room capacity: %d\n", cfg.Mode, cfg.Port, cfg.MaxParticipants)
	return &cfg, nil
}
