package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	// max_retries=0 is a legal setting (fail on the first throttled attempt),
	// so the default only applies when the key is absent entirely.
	if !v.IsSet("client.max_retries") {
		cfg.Client.MaxRetries = 3
	}
	if !v.IsSet("client.enforce_rate_limit") {
		cfg.Client.EnforceRateLimit = true
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Auth.TokenPath == "" {
		c.Auth.TokenPath = "secrets/questrade_token.json"
	}
	if c.Auth.LoginURL == "" {
		c.Auth.LoginURL = "https://login.questrade.com/oauth2/token"
	}
	if c.Client.TimeoutSeconds <= 0 {
		c.Client.TimeoutSeconds = 30
	}
	if c.Cache.SymbolsPath == "" {
		c.Cache.SymbolsPath = "data/symbols.db"
	}
	if c.Cache.CandlesPath == "" {
		c.Cache.CandlesPath = "data/market_data.db"
	}
	if c.Cache.StalenessHours <= 0 {
		c.Cache.StalenessHours = 24
	}
	if c.Sync.Interval == "" {
		c.Sync.Interval = "OneDay"
	}
	if c.Sync.Days <= 0 {
		c.Sync.Days = 90
	}
}

func validate(c *Config) error {
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries 不能为负数")
	}
	if strings.TrimSpace(c.Auth.LoginURL) == "" {
		return fmt.Errorf("auth.login_url 不能为空")
	}
	for _, sym := range c.Sync.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("sync.symbols 不允许空白项")
		}
	}
	return nil
}
