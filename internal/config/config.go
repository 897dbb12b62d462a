package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type BillingConfig struct {
	DefaultFee     float64 `mapstructure:"default_fee"`
	DoctorSharePct float64 `mapstructure:"doctor_share_pct"`
}

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	Secret    string `mapstructure:"secret"`
	ReadLimit int64  `mapstructure:"read_limit"`
	StatePath string `mapstructure:"state_path"`

	PingPeriod       time.Duration `mapstructure:"ping_period"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	AbandonGrace     time.Duration `mapstructure:"abandon_grace"`
	BillingRetry     time.Duration `mapstructure:"billing_retry"`
	CreatedTTL       time.Duration `mapstructure:"created_ttl"`

	Billing BillingConfig `mapstructure:"billing"`
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
	v.SetDefault("read_limit", 65536)
	v.SetDefault("state_path", "data/rooms.json")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("heartbeat_timeout", "45s")
	v.SetDefault("sweep_interval", "5s")
	v.SetDefault("abandon_grace", "60s")
	v.SetDefault("billing_retry", "30s")
	v.SetDefault("created_ttl", "15m")
	v.SetDefault("billing.default_fee", 150.00)
	v.SetDefault("billing.doctor_share_pct", 70.00)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
