// Package config provides the configuration schema, loader and STT
// provider registry of the formvox dictation service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StorageDriver selects the record store backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StoragePostgres StorageDriver = "postgres"
	StorageSQLite   StorageDriver = "sqlite"
)

// IsValid reports whether d is a supported driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageMemory, StoragePostgres, StorageSQLite:
		return true
	}
	return false
}

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Dictation   DictationConfig   `yaml:"dictation"`
	Storage     StorageConfig     `yaml:"storage"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, switches logging to JSON lines in a rotating file.
	LogFile string `yaml:"log_file"`

	// AllowedOrigins are host patterns of cross-origin pages allowed to open
	// the audio WebSocket, e.g. "app.example.org" or "*.example.org".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS enables HTTPS when non-nil.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RecognitionConfig configures speech recognition.
type RecognitionConfig struct {
	// Primary is the preferred STT backend. An empty name disables speech
	// input; sessions then accept typed utterances only.
	Primary ProviderEntry `yaml:"primary"`

	// Fallbacks are tried in order when the primary cannot open a stream.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Language is the recognition language. Default: "ru".
	Language string `yaml:"language"`

	// SampleRate of PCM sent to the backend. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// SnapThreshold is the similarity needed to snap a misheard command onto
	// the grammar. Zero selects the default 0.85; a negative value disables
	// snapping.
	SnapThreshold float64 `yaml:"snap_threshold"`

	// RetryInterval is the delay between stream reconnects. Default: 2s.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ProviderEntry configures one STT backend. Name selects the factory in
// the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds backend-specific values such as "model_path" or
	// "silence_threshold_ms".
	Options map[string]any `yaml:"options"`
}

// DictationConfig configures dictation sessions.
type DictationConfig struct {
	// MaxSessions caps concurrent sessions. Default: 32.
	MaxSessions int `yaml:"max_sessions"`

	// DoctorName is recorded on forms when a session does not name one.
	DoctorName string `yaml:"doctor_name"`
}

// StorageConfig selects where finished records go.
type StorageConfig struct {
	// Driver defaults to "memory".
	Driver StorageDriver `yaml:"driver"`

	// PostgresDSN is required for the postgres driver.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SQLitePath is the database file of the sqlite driver.
	// Default: "formvox.db".
	SQLitePath string `yaml:"sqlite_path"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName defaults to "formvox".
	ServiceName string `yaml:"service_name"`

	// Environment is reported as deployment.environment, e.g. "field-hospital-3".
	Environment string `yaml:"environment"`

	// TraceSampleRatio is the fraction of new traces sampled, in [0,1].
	// Incoming sampled traces are always continued. Default: 1.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`

	// DisableMetrics turns off the Prometheus /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics"`
}

// Defaults for zero-valued fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultLanguage        = "ru"
	DefaultSampleRate      = 16000
	DefaultSnapThreshold   = 0.85
	DefaultRetryInterval   = 2 * time.Second
	DefaultMaxSessions     = 32
	DefaultSQLitePath      = "formvox.db"
	DefaultServiceName     = "formvox"
)

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	rc := &cfg.Recognition
	if rc.Language == "" {
		rc.Language = DefaultLanguage
	}
	if rc.SampleRate == 0 {
		rc.SampleRate = DefaultSampleRate
	}
	if rc.SnapThreshold == 0 {
		rc.SnapThreshold = DefaultSnapThreshold
	}
	if rc.RetryInterval <= 0 {
		rc.RetryInterval = DefaultRetryInterval
	}
	if cfg.Dictation.MaxSessions == 0 {
		cfg.Dictation.MaxSessions = DefaultMaxSessions
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if cfg.Storage.Driver == StorageSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultSQLitePath
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// EffectiveSnapThreshold returns the threshold to hand to the recognizer,
// where zero disables snapping.
func (rc RecognitionConfig) EffectiveSnapThreshold() float64 {
	if rc.SnapThreshold < 0 {
		return 0
	}
	return rc.SnapThreshold
}
