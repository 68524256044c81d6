package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config covers both binaries; pulse reads the client keys, pulsed the
// server keys.
type Config struct {
	Mode string `mapstructure:"mode"`

	// client
	Identity          string        `mapstructure:"identity"`
	DisplayName       string        `mapstructure:"display_name"`
	StoreURL          string        `mapstructure:"store_url"`
	STUNServers       []string      `mapstructure:"stun_servers"`
	AutoAnswer        bool          `mapstructure:"auto_answer"`
	OfferingTimeout   time.Duration `mapstructure:"offering_timeout"`
	RingingTimeout    time.Duration `mapstructure:"ringing_timeout"`
	ConnectingTimeout time.Duration `mapstructure:"connecting_timeout"`
	StaleOfferAge     time.Duration `mapstructure:"stale_offer_age"`

	// server
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
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
	v.SetDefault("identity", "")
	v.SetDefault("display_name", "")
	v.SetDefault("store_url", "ws://localhost:8080/api/ws/store")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("auto_answer", true)
	v.SetDefault("offering_timeout", "10s")
	v.SetDefault("ringing_timeout", "15s")
	v.SetDefault("connecting_timeout", "20s")
	v.SetDefault("stale_offer_age", "10s")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "pulse-dev-secret")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
