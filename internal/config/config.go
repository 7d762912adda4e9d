package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	WSPath        string        `mapstructure:"ws_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Secret        string        `mapstructure:"secret"`

	Log        LogConfig        `mapstructure:"log"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RelayConfig tunes room fan-out.
type RelayConfig struct {
	// EchoAll delivers every broadcast back to its sender as well.
	EchoAll bool `mapstructure:"echo_all"`
	// EchoTypes lists event types echoed to the sender when EchoAll is off.
	EchoTypes      []string `mapstructure:"echo_types"`
	MaxDuelMembers int      `mapstructure:"max_duel_members"`
	// RateLimit caps inbound messages per connection per RateWindow.
	// Zero disables limiting.
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// RedisConfig enables the replication bridge when Addr is set.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	Channel     string        `mapstructure:"channel"`
	TTL         time.Duration `mapstructure:"ttl"`
	WriteBuffer int           `mapstructure:"write_buffer"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
	RetryMax    time.Duration `mapstructure:"retry_max"`
	HealthEvery time.Duration `mapstructure:"health_every"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// SettlementConfig points at the external settlement service. Empty BaseURL
// disables it.
type SettlementConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxTries uint          `mapstructure:"max_tries"`
}

func (s SettlementConfig) Enabled() bool { return s.BaseURL != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("ws_path", "/ws")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("secret", "duel-relay-dev-secret")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("relay.echo_all", true)
	v.SetDefault("relay.echo_types", []string{"hello"})
	v.SetDefault("relay.max_duel_members", 2)
	v.SetDefault("relay.rate_limit", 60)
	v.SetDefault("relay.rate_window", "1s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "duel")
	v.SetDefault("redis.channel", "duel:broadcast")
	v.SetDefault("redis.ttl", "60s")
	v.SetDefault("redis.write_buffer", 256)
	v.SetDefault("redis.retry_base", "1s")
	v.SetDefault("redis.retry_max", "30s")
	v.SetDefault("redis.health_every", "5s")

	v.SetDefault("settlement.base_url", "")
	v.SetDefault("settlement.api_key", "")
	v.SetDefault("settlement.timeout", "5s")
	v.SetDefault("settlement.max_tries", 3)
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

	// DUEL_REDIS_ADDR overrides redis.addr and so on.
	v.SetEnvPrefix("DUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Bool("bridge", cfg.Redis.Enabled()).
		Bool("settlement", cfg.Settlement.Enabled()).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("ws_path must start with '/', got %q", c.WSPath))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.Relay.MaxDuelMembers < 2 {
		errs = append(errs, fmt.Errorf("relay.max_duel_members must be at least 2, got %d", c.Relay.MaxDuelMembers))
	}
	if c.Relay.RateLimit > 0 && c.Relay.RateWindow <= 0 {
		errs = append(errs, errors.New("relay.rate_window must be positive when rate_limit is set"))
	}
	if c.Redis.Enabled() && c.Redis.TTL <= 0 {
		errs = append(errs, errors.New("redis.ttl must be positive when redis is enabled"))
	}
	return errors.Join(errs...)
}
