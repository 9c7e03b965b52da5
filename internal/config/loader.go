package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// KnownSTTProviders lists the built-in STT backend names. [Validate] warns
// about names outside this list.
var KnownSTTProviders = []string{"deepgram", "whisper", "whisper-native", "openai"}

// envOverrides are environment variables applied on top of the YAML file.
type envOverrides struct {
	ListenAddr    string        `env:"FORMVOX_LISTEN_ADDR"`
	LogLevel      string        `env:"FORMVOX_LOG_LEVEL"`
	LogFile       string        `env:"FORMVOX_LOG_FILE"`
	STTProvider   string        `env:"FORMVOX_STT_PROVIDER"`
	STTAPIKey     string        `env:"FORMVOX_STT_API_KEY"`
	STTBaseURL    string        `env:"FORMVOX_STT_BASE_URL"`
	STTModel      string        `env:"FORMVOX_STT_MODEL"`
	Language      string        `env:"FORMVOX_LANGUAGE"`
	RetryInterval time.Duration `env:"FORMVOX_RETRY_INTERVAL"`
	MaxSessions   int           `env:"FORMVOX_MAX_SESSIONS"`
	DoctorName    string        `env:"FORMVOX_DOCTOR_NAME"`
	StorageDriver string        `env:"FORMVOX_STORAGE_DRIVER"`
	PostgresDSN   string        `env:"FORMVOX_POSTGRES_DSN"`
	SQLitePath    string        `env:"FORMVOX_SQLITE_PATH"`
}

type loadOptions struct {
	environ map[string]string
}

// LoadOption customises loading.
type LoadOption func(*loadOptions)

// WithEnvironment replaces the process environment as the source of
// overrides. Tests use it to stay independent of the host.
func WithEnvironment(environ map[string]string) LoadOption {
	return func(o *loadOptions) { o.environ = environ }
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path skips the file.
func Load(path string, opts ...LoadOption) (*Config, error) {
	if path == "" {
		return LoadFromReader(bytes.NewReader(nil), opts...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r and runs the same pipeline as [Load].
// Unknown keys are rejected.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	var lo loadOptions
	for _, o := range opts {
		o(&lo)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg, lo.environ); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.ListenAddr, o.ListenAddr)
	set((*string)(&cfg.Server.LogLevel), o.LogLevel)
	set(&cfg.Server.LogFile, o.LogFile)
	set(&cfg.Recognition.Primary.Name, o.STTProvider)
	set(&cfg.Recognition.Primary.APIKey, o.STTAPIKey)
	set(&cfg.Recognition.Primary.BaseURL, o.STTBaseURL)
	set(&cfg.Recognition.Primary.Model, o.STTModel)
	set(&cfg.Recognition.Language, o.Language)
	set(&cfg.Dictation.DoctorName, o.DoctorName)
	set((*string)(&cfg.Storage.Driver), o.StorageDriver)
	set(&cfg.Storage.PostgresDSN, o.PostgresDSN)
	set(&cfg.Storage.SQLitePath, o.SQLitePath)
	if o.RetryInterval > 0 {
		cfg.Recognition.RetryInterval = o.RetryInterval
	}
	if o.MaxSessions > 0 {
		cfg.Dictation.MaxSessions = o.MaxSessions
	}
	return nil
}

// Validate checks cfg for coherence and returns every problem found,
// joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	rc := cfg.Recognition
	if rc.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("recognition.sample_rate %d must be positive", rc.SampleRate))
	}
	if rc.SnapThreshold > 1 {
		errs = append(errs, fmt.Errorf("recognition.snap_threshold %.2f is out of range (0, 1]", rc.SnapThreshold))
	}
	if rc.Primary.Name == "" && len(rc.Fallbacks) > 0 {
		errs = append(errs, errors.New("recognition.fallbacks require recognition.primary.name"))
	}
	warnUnknownProvider("recognition.primary", rc.Primary.Name)
	for i, fb := range rc.Fallbacks {
		field := fmt.Sprintf("recognition.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
			continue
		}
		warnUnknownProvider(field, fb.Name)
	}
	if rc.Primary.Name == "" {
		slog.Warn("recognition.primary.name is empty; sessions accept typed utterances only")
	}

	if cfg.Dictation.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("dictation.max_sessions %d must not be negative", cfg.Dictation.MaxSessions))
	}

	if r := cfg.Telemetry.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", *r))
	}

	st := cfg.Storage
	if st.Driver != "" && !st.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, postgres, sqlite", st.Driver))
	}
	if st.Driver == StoragePostgres && st.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(field, name string) {
	if name == "" || slices.Contains(KnownSTTProviders, name) {
		return
	}
	slog.Warn("unknown stt provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", KnownSTTProviders,
	)
}
