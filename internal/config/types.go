package config

import "time"

// Config is the root configuration consumed by the gateway process. It is
// loaded once at startup; only the log level is hot-reloadable.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	UFX       UFXConfig       `mapstructure:"ufx"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Subscribe SubscribeConfig `mapstructure:"subscribe"`
}

// AppConfig covers process-level settings.
type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	// DryRun routes the gateway through the simulated broker instead of the
	// native UFX library.
	DryRun bool `mapstructure:"dry_run"`
}

// UFXConfig holds broker session settings. Field names follow the UFX
// counter's vocabulary (branch/entrust way/fund account).
type UFXConfig struct {
	BranchNo    int    `mapstructure:"branch_no"`
	EntrustWay  string `mapstructure:"entrust_way"`
	Station     string `mapstructure:"station"`
	FundAccount string `mapstructure:"fund_account"`
	Password    string `mapstructure:"password"`
	Server1     string `mapstructure:"server1"`
	Server2     string `mapstructure:"server2"`
	LoginName   string `mapstructure:"login_name"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	// PollInterval drives the round-robin account/position refresh and the
	// market tick poll while the session is ready. Zero disables polling.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`

	// CancelGuard rejects cancels during the exchange lunch break and after
	// close, mirroring counter behavior. On by default.
	CancelGuard *bool `mapstructure:"cancel_guard"`
}

// ReconnectConfig bounds automatic re-login after a degraded session.
type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HTTPConfig configures the ops/status server.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SubscribeConfig lists instruments subscribed at login.
type SubscribeConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

// CancelGuardEnabled applies the default when the key is absent.
func (c UFXConfig) CancelGuardEnabled() bool {
	if c.CancelGuard == nil {
		return true
	}
	return *c.CancelGuard
}
