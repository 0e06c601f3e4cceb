// Package config loads gateway configuration from a YAML file via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads, decodes and validates the config file at path.
func Load(path string) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*viper.Viper, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.UFX.EntrustWay == "" {
		c.UFX.EntrustWay = "7"
	}
	if c.UFX.HeartbeatInterval <= 0 {
		c.UFX.HeartbeatInterval = 10 * time.Second
	}
	if c.UFX.RequestTimeout <= 0 {
		c.UFX.RequestTimeout = 30 * time.Second
	}
	if c.UFX.SweepInterval <= 0 {
		c.UFX.SweepInterval = 5 * time.Second
	}
	if c.UFX.Reconnect.MaxAttempts <= 0 {
		c.UFX.Reconnect.MaxAttempts = 5
	}
	if c.UFX.Reconnect.BaseDelay <= 0 {
		c.UFX.Reconnect.BaseDelay = time.Second
	}
	if c.UFX.Reconnect.MaxDelay <= 0 {
		c.UFX.Reconnect.MaxDelay = time.Minute
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9991"
	}
}

func validate(c *Config) error {
	if strings.TrimSpace(c.UFX.FundAccount) == "" {
		return fmt.Errorf("ufx.fund_account cannot be empty")
	}
	if strings.TrimSpace(c.UFX.Password) == "" {
		return fmt.Errorf("ufx.password cannot be empty")
	}
	if !c.App.DryRun && strings.TrimSpace(c.UFX.Server1) == "" {
		return fmt.Errorf("ufx.server1 cannot be empty outside dry_run")
	}
	if c.UFX.Reconnect.BaseDelay > c.UFX.Reconnect.MaxDelay {
		return fmt.Errorf("ufx.reconnect.base_delay exceeds max_delay")
	}
	for _, sym := range c.Subscribe.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("subscribe.symbols contains an empty entry")
		}
	}
	return nil
}
