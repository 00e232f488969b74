package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  llm:
    name: ollama
    base_url: http://localhost:11434
  stt:
    name: whisper
    server_url: http://localhost:8090
  embeddings:
    name: ollama
    model: nomic-embed-text
database:
  postgres_dsn: postgres://localhost:5432/mindstream
  embedding_dimensions: 768
intake:
  queue_capacity: 128
pipeline:
  workers: 2
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("expected listen_addr :9000, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("expected log_level debug, got %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.STT.ServerURL != "http://localhost:8090" {
		t.Errorf("unexpected stt server_url %q", cfg.Providers.STT.ServerURL)
	}
	if cfg.Intake.QueueCapacity != 128 {
		t.Errorf("expected queue_capacity 128, got %d", cfg.Intake.QueueCapacity)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
providers:
  stt:
    name: whisper
    server_url: http://localhost:8090
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("expected default listen addr, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Intake.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("expected default queue_capacity, got %d", cfg.Intake.QueueCapacity)
	}
	if cfg.Pipeline.Workers != DefaultPipelineWorkers {
		t.Errorf("expected default workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.SweepIntervalMs != DefaultSweepIntervalMs {
		t.Errorf("expected default sweep interval, got %d", cfg.Pipeline.SweepIntervalMs)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
bogus_field: true
providers:
  stt:
    name: whisper
    server_url: http://localhost:8090
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{LogLevel: "loud"},
		Providers: ProvidersConfig{
			STT: STTConfig{Name: "whisper"}, // missing server_url
		},
		Intake:   IntakeConfig{QueueCapacity: -1},
		Pipeline: PipelineConfig{Workers: -3},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "server_url", "queue_capacity", "workers"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected joined error to mention %s, got: %s", want, msg)
		}
	}
}

func TestValidate_MissingSTT(t *testing.T) {
	err := Validate(&Config{})
	if err == nil || !strings.Contains(err.Error(), "providers.stt.name") {
		t.Fatalf("expected missing stt error, got %v", err)
	}
}

func TestValidate_NativeSTTRequiresModelPath(t *testing.T) {
	cfg := &Config{Providers: ProvidersConfig{STT: STTConfig{Name: "whisper-native"}}}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "model_path") {
		t.Fatalf("expected model_path error, got %v", err)
	}
}

func TestValidate_OpenAIEmbeddingsRequireKey(t *testing.T) {
	cfg := &Config{
		Providers: ProvidersConfig{
			STT:        STTConfig{Name: "whisper", ServerURL: "http://localhost:8090"},
			Embeddings: EmbeddingsConfig{Name: "openai"},
		},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "embeddings.api_key") {
		t.Fatalf("expected embeddings api_key error, got %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{TLS: &TLSConfig{CertFile: "cert.pem"}},
		Providers: ProvidersConfig{
			STT: STTConfig{Name: "whisper", ServerURL: "http://localhost:8090"},
		},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "tls") {
		t.Fatalf("expected tls error, got %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("expected %q to be valid", l)
		}
	}
	if LogLevel("verbose").IsValid() {
		t.Error("expected verbose to be invalid")
	}
}
