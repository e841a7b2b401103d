package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	Secret        string        `mapstructure:"secret"`
	RecordingsDir string        `mapstructure:"recordings_dir"`
	SegmentLength time.Duration `mapstructure:"segment_length"`
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	ReadLimit     int64         `mapstructure:"read_limit"`
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
	v.SetDefault("recordings_dir", "recordings")
	v.SetDefault("segment_length", "60s")
	v.SetDefault("answer_timeout", "20s")
	v.SetDefault("read_limit", 32768)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Recordings: %s\n", cfg.Mode, cfg.Port, cfg.RecordingsDir)
	return &cfg, nil
}
