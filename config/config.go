package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"spread-arbitrage-scanner/market"
)

// EnvPrefix namespaces environment overrides: redis.address is read from
// ARB_REDIS_ADDRESS.
const EnvPrefix = "ARB"

type Config struct {
	Symbols       []string         `mapstructure:"symbols" yaml:"symbols"`
	Exchanges     []string         `mapstructure:"exchanges" yaml:"exchanges"`
	ChannelBuffer int              `mapstructure:"channel_buffer" yaml:"channel_buffer"`
	MetricsPeriod time.Duration    `mapstructure:"metrics_period" yaml:"metrics_period"`
	Connection    ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Arbitrage     ArbitrageConfig  `mapstructure:"arbitrage" yaml:"arbitrage"`
	Redis         RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Server        ServerConfig     `mapstructure:"server" yaml:"server"`
	Log           LogConfig        `mapstructure:"log" yaml:"log"`
}

type ConnectionConfig struct {
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

type ArbitrageConfig struct {
	Threshold   float64       `mapstructure:"threshold" yaml:"threshold"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	OnUpdate    bool          `mapstructure:"on_update" yaml:"on_update"`
	MaxQuoteAge time.Duration `mapstructure:"max_quote_age" yaml:"max_quote_age"`
	// Pairs restricts detection to these routes. Empty means every
	// exchange pair for every symbol.
	Pairs []PairConfig `mapstructure:"pairs" yaml:"pairs"`
}

type PairConfig struct {
	Symbol string `mapstructure:"symbol" yaml:"symbol"`
	Buy    string `mapstructure:"buy" yaml:"buy"`
	Sell   string `mapstructure:"sell" yaml:"sell"`
}

type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Address       string        `mapstructure:"address" yaml:"address"`
	Password      string        `mapstructure:"password" yaml:"password"`
	DB            int           `mapstructure:"db" yaml:"db"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	Buffer        int           `mapstructure:"buffer" yaml:"buffer"`
}

type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Address       string        `mapstructure:"address" yaml:"address"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown" yaml:"alert_cooldown"`
	QuoteInterval time.Duration `mapstructure:"quote_interval" yaml:"quote_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"BTC/USDT"})
	v.SetDefault("exchanges", []string{"binance", "okx", "bybit", "bitget"})
	v.SetDefault("channel_buffer", 1024)
	v.SetDefault("metrics_period", 30*time.Second)

	v.SetDefault("connection.retry_delay", 5*time.Second)
	v.SetDefault("connection.handshake_timeout", 15*time.Second)

	v.SetDefault("arbitrage.threshold", 0.0)
	v.SetDefault("arbitrage.interval", time.Second)
	v.SetDefault("arbitrage.on_update", false)
	v.SetDefault("arbitrage.max_quote_age", time.Duration(0))
	v.SetDefault("arbitrage.pairs", []map[string]string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.batch_size", 300)
	v.SetDefault("redis.flush_interval", 100*time.Millisecond)
	v.SetDefault("redis.buffer", 4096)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.alert_cooldown", 10*time.Second)
	v.SetDefault("server.quote_interval", 500*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads .env (if present), then path (if not empty), then ARB_*
// environment variables, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, ".env")
}

func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem it finds, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Symbols) == 0 {
		add("symbols: at least one symbol is required")
	}
	for _, s := range c.Symbols {
		if _, err := market.ParseSymbol(s); err != nil {
			add("symbols: %w", err)
		}
	}

	seen := make(map[market.Exchange]bool)
	for _, name := range c.Exchanges {
		ex, err := market.ParseExchange(name)
		if err != nil {
			add("exchanges: %w", err)
			continue
		}
		if seen[ex] {
			add("exchanges: %s listed twice", ex)
		}
		seen[ex] = true
	}
	if len(seen) < 2 {
		add("exchanges: at least two exchanges are required")
	}

	if c.ChannelBuffer <= 0 {
		add("channel_buffer: must be positive, got %d", c.ChannelBuffer)
	}
	if c.MetricsPeriod < 0 {
		add("metrics_period: must not be negative")
	}
	if c.Connection.RetryDelay <= 0 {
		add("connection.retry_delay: must be positive, got %s", c.Connection.RetryDelay)
	}
	if c.Arbitrage.Interval <= 0 {
		add("arbitrage.interval: must be positive, got %s", c.Arbitrage.Interval)
	}
	if c.Arbitrage.MaxQuoteAge < 0 {
		add("arbitrage.max_quote_age: must not be negative")
	}
	for i, p := range c.Arbitrage.Pairs {
		if _, err := market.ParseSymbol(p.Symbol); err != nil {
			add("arbitrage.pairs[%d]: %w", i, err)
		}
		buy, errBuy := market.ParseExchange(p.Buy)
		sell, errSell := market.ParseExchange(p.Sell)
		switch {
		case errBuy != nil:
			add("arbitrage.pairs[%d].buy: %w", i, errBuy)
		case errSell != nil:
			add("arbitrage.pairs[%d].sell: %w", i, errSell)
		case buy == sell:
			add("arbitrage.pairs[%d]: buy and sell are both %s", i, buy)
		case !seen[buy] || !seen[sell]:
			add("arbitrage.pairs[%d]: %s/%s not in exchanges", i, buy, sell)
		}
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		add("redis.address: required when redis is enabled")
	}
	if c.Server.Enabled && c.Server.Address == "" {
		add("server.address: required when the server is enabled")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format: want text or json, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// MarketSymbols returns the parsed symbols. Call after Validate.
func (c *Config) MarketSymbols() []market.Symbol {
	out := make([]market.Symbol, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		if sym, err := market.ParseSymbol(s); err == nil {
			out = append(out, sym)
		}
	}
	return out
}

// MarketExchanges returns the parsed exchanges. Call after Validate.
func (c *Config) MarketExchanges() []market.Exchange {
	out := make([]market.Exchange, 0, len(c.Exchanges))
	for _, name := range c.Exchanges {
		if ex, err := market.ParseExchange(name); err == nil {
			out = append(out, ex)
		}
	}
	return out
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() (string, error) {
	masked := *c
	if masked.Redis.Password != "" {
		masked.Redis.Password = "****"
	}
	out, err := yaml.Marshal(masked)
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return string(out), nil
}
