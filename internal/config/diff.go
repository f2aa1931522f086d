package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; the listen
// address is not among them.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ModemChanged is set when the modem profile changed. Links opened after
	// the reload use the new profile; open links keep theirs.
	ModemChanged bool
	NewModem     ModemConfig

	FeedChanged bool

	MaxLinksChanged bool
	NewMaxLinks     int
}

// Empty reports whether the diff carries no change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ModemChanged && !d.FeedChanged && !d.MaxLinksChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Modem != new.Modem {
		d.ModemChanged = true
		d.NewModem = new.Modem
	}
	if old.Feed != new.Feed {
		d.FeedChanged = true
	}
	if old.Server.MaxLinks != new.Server.MaxLinks {
		d.MaxLinksChanged = true
		d.NewMaxLinks = new.Server.MaxLinks
	}
	return d
}
