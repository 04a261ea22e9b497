package config

import "slices"

// ConfigDiff describes what changed between two configs. Fields that can be
// applied to a running player are reported individually; everything else
// sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     int

	LoopChanged bool
	NewLoop     bool

	// LibraryChanged is set when roots, extensions or the watch flag
	// changed. The library is rebuilt without a restart.
	LibraryChanged bool

	// RestartRequired is set when a field changed that only takes effect on
	// the next start (audio output, engine format, history, listen address).
	RestartRequired bool
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VolumeChanged || d.LoopChanged || d.LibraryChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if ov, nv := old.Engine.VolumeOrDefault(), new.Engine.VolumeOrDefault(); ov != nv {
		d.VolumeChanged = true
		d.NewVolume = nv
	}
	if old.Engine.Loop != new.Engine.Loop {
		d.LoopChanged = true
		d.NewLoop = new.Engine.Loop
	}
	if !slices.Equal(old.Library.Roots, new.Library.Roots) ||
		!slices.Equal(old.Library.Extensions, new.Library.Extensions) ||
		old.Library.Watch != new.Library.Watch ||
		old.Library.Workers != new.Library.Workers {
		d.LibraryChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.StatusInterval != new.Server.StatusInterval ||
		old.Audio != new.Audio ||
		old.History != new.History ||
		old.Engine.Backend != new.Engine.Backend ||
		old.Engine.Mono != new.Engine.Mono ||
		old.Engine.EightBit != new.Engine.EightBit ||
		old.Engine.Unsigned != new.Engine.Unsigned ||
		old.Engine.Interpolation != new.Engine.Interpolation {
		d.RestartRequired = true
	}

	return d
}
