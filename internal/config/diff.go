package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// OriginsChanged reports a change to the WebSocket origin allowlist.
	// Applies to new connections only.
	OriginsChanged bool
	NewOrigins     []string
}

// Empty reports whether no hot-reloadable field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.OriginsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.Server.OriginPatterns, new.Server.OriginPatterns) {
		d.OriginsChanged = true
		d.NewOrigins = slices.Clone(new.Server.OriginPatterns)
	}

	return d
}
