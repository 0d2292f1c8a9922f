package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// Log level and the dialog section can be applied to a running server; a
// change to providers or audio devices needs a pipeline rebuild, which the
// watcher reports as RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DialogChanged is true if any dialog tuning field changed (prompts,
	// barge-in allowance, timeouts, turn-taking thresholds).
	DialogChanged bool
	NewDialog     DialogConfig

	// RestartRequired is true if providers, audio devices, or the metrics
	// address changed. These are wired at startup and cannot be swapped live.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Dialog != new.Dialog {
		d.DialogChanged = true
		d.NewDialog = new.Dialog
	}

	// ProviderEntry carries an Options map, so these sections are not
	// comparable with ==.
	if !reflect.DeepEqual(old.Providers, new.Providers) ||
		!reflect.DeepEqual(old.Audio, new.Audio) ||
		old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartRequired = true
	}

	return d
}
