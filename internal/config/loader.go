package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadFromReader for fields left at their zero value.
const (
	DefaultListenAddr          = ":8085"
	DefaultQueueCapacity       = 64
	DefaultWorkerIdleTimeoutMs = 60_000
	DefaultPipelineWorkers     = 2
	DefaultSweepIntervalMs     = 30_000
)

// ValidProviderNames lists known backend names per provider kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued tunables with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Intake.QueueCapacity == 0 {
		cfg.Intake.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Intake.WorkerIdleTimeoutMs == 0 {
		cfg.Intake.WorkerIdleTimeoutMs = DefaultWorkerIdleTimeoutMs
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = DefaultPipelineWorkers
	}
	if cfg.Pipeline.SweepIntervalMs == 0 {
		cfg.Pipeline.SweepIntervalMs = DefaultSweepIntervalMs
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation warns for unknown names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// STT backend cross-validation.
	switch cfg.Providers.STT.Name {
	case "whisper":
		if cfg.Providers.STT.ServerURL == "" {
			errs = append(errs, errors.New("providers.stt.server_url is required when providers.stt.name is whisper"))
		}
	case "whisper-native":
		if cfg.Providers.STT.ModelPath == "" {
			errs = append(errs, errors.New("providers.stt.model_path is required when providers.stt.name is whisper-native"))
		}
	case "":
		errs = append(errs, errors.New("providers.stt.name is required; valid values: whisper, whisper-native"))
	}

	// The analysis pipelines silently idle without an LLM provider.
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; summary and mind-map pipelines will be unavailable")
	}

	// Embeddings backend cross-validation.
	if cfg.Providers.Embeddings.Name == "openai" && cfg.Providers.Embeddings.APIKey == "" {
		errs = append(errs, errors.New("providers.embeddings.api_key is required when providers.embeddings.name is openai"))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but database.embedding_dimensions is not set; the store defaults to 1536")
	}

	// Persistence availability.
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; running on the in-memory store, data will not survive restarts")
	}

	// Intake tunables.
	if cfg.Intake.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("intake.queue_capacity %d must be positive", cfg.Intake.QueueCapacity))
	}
	if cfg.Intake.WorkerIdleTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("intake.worker_idle_timeout_ms %d must be positive", cfg.Intake.WorkerIdleTimeoutMs))
	}

	// Pipeline tunables.
	if cfg.Pipeline.Workers < 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d must be positive", cfg.Pipeline.Workers))
	}
	if cfg.Pipeline.SweepIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sweep_interval_ms %d must be positive", cfg.Pipeline.SweepIntervalMs))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
