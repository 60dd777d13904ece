package config

import "time"

// Config 是 chronos 的主配置载体。
type Config struct {
	App    AppConfig    `toml:"app"`
	Auth   AuthConfig   `toml:"auth"`
	Client ClientConfig `toml:"client"`
	Cache  CacheConfig  `toml:"cache"`
	Sync   SyncConfig   `toml:"sync"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// AuthConfig 描述凭证来源：直接给 refresh_token，或从 token_path 读取。
type AuthConfig struct {
	RefreshToken string `toml:"refresh_token"`
	TokenPath    string `toml:"token_path"`
	LoginURL     string `toml:"login_url"`
}

type ClientConfig struct {
	MaxRetries       int  `toml:"max_retries"`
	EnforceRateLimit bool `toml:"enforce_rate_limit"`
	TimeoutSeconds   int  `toml:"timeout_seconds"`
}

type CacheConfig struct {
	SymbolsPath    string `toml:"symbols_path"`
	CandlesPath    string `toml:"candles_path"`
	StalenessHours int    `toml:"staleness_hours"`
}

type SyncConfig struct {
	Symbols  []string `toml:"symbols"`
	Interval string   `toml:"interval"`
	Days     int      `toml:"days"`
}

// StalenessThreshold 返回缓存过期阈值。
func (c CacheConfig) StalenessThreshold() time.Duration {
	hours := c.StalenessHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Timeout 返回单次 HTTP 请求超时。
func (c ClientConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
