package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	DeviceSecret   string        `mapstructure:"device_secret"`
	FrontendURL    string        `mapstructure:"frontend_url"`
	IdentityURL    string        `mapstructure:"identity_url"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	FrameInterval  time.Duration `mapstructure:"frame_interval"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	CookieSecret   string        `mapstructure:"cookie_secret"`
}

func Load() (*Config, error) {
	// .env is optional; real env always wins.
	_ = godotenv.Load()

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
	v.SetDefault("port", 3001)
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("token_ttl", "1h")
	v.SetDefault("session_timeout", "10m")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("frame_interval", "100ms")
	v.SetDefault("read_limit", 10<<20)
	v.SetDefault("send_buffer", 32)

	v.SetEnvPrefix("camrelay")
	v.AutomaticEnv()
	_ = v.BindEnv("device_secret", "DEVICE_SECRET")
	_ = v.BindEnv("frontend_url", "FRONTEND_URL")
	_ = v.BindEnv("identity_url", "IDENTITY_URL")
	_ = v.BindEnv("cookie_secret", "COOKIE_SECRET")
	_ = v.BindEnv("port", "PORT")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
