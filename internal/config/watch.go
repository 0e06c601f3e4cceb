package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"

	"ufxgate/internal/logger"
)

// WatchLogLevel re-applies app.log_level whenever the config file changes on
// disk. Only the log level is hot-reloaded; everything else requires a
// restart because it feeds a live broker session.
func WatchLogLevel(path string, apply func(level string)) error {
	v, err := read(path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		level := strings.TrimSpace(v.GetString("app.log_level"))
		if level == "" {
			return
		}
		logger.Infof("config changed (%s), log level now %q", evt.Name, level)
		apply(level)
	})
	v.WatchConfig()
	return nil
}
