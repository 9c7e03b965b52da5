package config

import "slices"

// Diff lists the settings that changed between two configs and can be
// applied without a restart. Everything else needs a restart to take
// effect; RestartRequired reports whether any such field differs.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DoctorNameChanged bool
	NewDoctorName     string

	MaxSessionsChanged bool
	NewMaxSessions     int

	RestartRequired bool
}

// Compare returns the [Diff] from old to new.
func Compare(old, new *Config) Diff {
	var d Diff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged, d.NewLogLevel = true, new.Server.LogLevel
	}
	if old.Dictation.DoctorName != new.Dictation.DoctorName {
		d.DoctorNameChanged, d.NewDoctorName = true, new.Dictation.DoctorName
	}
	if old.Dictation.MaxSessions != new.Dictation.MaxSessions {
		d.MaxSessionsChanged, d.NewMaxSessions = true, new.Dictation.MaxSessions
	}
	d.RestartRequired = old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFile != new.Server.LogFile ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		old.Storage != new.Storage ||
		!sameRecognition(old.Recognition, new.Recognition)
	return d
}

// Any reports whether d carries a hot-reloadable change.
func (d Diff) Any() bool {
	return d.LogLevelChanged || d.DoctorNameChanged || d.MaxSessionsChanged
}

func sameRecognition(a, b RecognitionConfig) bool {
	if a.Language != b.Language || a.SampleRate != b.SampleRate ||
		a.SnapThreshold != b.SnapThreshold || a.RetryInterval != b.RetryInterval {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) || !sameEntry(a.Primary, b.Primary) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

// sameEntry ignores Options; backend tuning changes are picked up on the
// next restart.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
