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

// ValidProviderNames lists known provider names per collaborator kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":     {"openai", "anthropic", "ollama", "gemini", "mistral", "groq"},
	"stt":     {"whisper"},
	"tts":     {"elevenlabs", "coqui"},
	"vad":     {"energy"},
	"urlscan": {"httpapi"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r over [Defaults] and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Broker.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("broker.max_sessions %d must be positive", cfg.Broker.MaxSessions))
	}
	if cfg.Broker.EgressQueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("broker.egress_queue_capacity %d must be positive", cfg.Broker.EgressQueueCapacity))
	}
	if cfg.Broker.PingMissLimit <= 0 {
		errs = append(errs, fmt.Errorf("broker.ping_miss_limit %d must be positive", cfg.Broker.PingMissLimit))
	}
	if cfg.Broker.IntelConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("broker.intel_concurrency %d must be positive", cfg.Broker.IntelConcurrency))
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"broker.ping_interval_ms", cfg.Broker.PingIntervalMS},
		{"broker.drain_grace_ms", cfg.Broker.DrainGraceMS},
		{"broker.drain_deadline_ms", cfg.Broker.DrainDeadlineMS},
		{"broker.slow_consumer_ms", cfg.Broker.SlowConsumerMS},
		{"transcription.endpoint_silence_ms", cfg.Transcription.EndpointSilenceMS},
		{"transcription.min_voiced_ms", cfg.Transcription.MinVoicedMS},
		{"transcription.discard_voiced_ms", cfg.Transcription.DiscardVoicedMS},
		{"transcription.discard_window_ms", cfg.Transcription.DiscardWindowMS},
		{"timeouts.stt_ms", cfg.Timeouts.STTMS},
		{"timeouts.llm_ms", cfg.Timeouts.LLMMS},
		{"timeouts.tts_ms", cfg.Timeouts.TTSMS},
		{"timeouts.url_scan_ms", cfg.Timeouts.URLScanMS},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s %d must be positive", f.name, f.value))
		}
	}
	if cfg.Transcription.STTWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("transcription.stt_window_seconds %.2f must be positive", cfg.Transcription.STTWindowSeconds))
	}
	if cfg.Transcription.MinVoicedMS > 0 && cfg.Transcription.DiscardVoicedMS > cfg.Transcription.MinVoicedMS {
		errs = append(errs, fmt.Errorf("transcription.discard_voiced_ms %d exceeds min_voiced_ms %d", cfg.Transcription.DiscardVoicedMS, cfg.Transcription.MinVoicedMS))
	}

	if cfg.Coaching.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("coaching.context_window %d must be positive", cfg.Coaching.ContextWindow))
	}

	if cfg.Recording.Enabled && cfg.Recording.Dir == "" {
		errs = append(errs, errors.New("recording.dir is required when recording.enabled is true"))
	}

	validateProviderEntry("llm", cfg.Providers.LLM)
	validateProviderEntry("stt", cfg.Providers.STT)
	validateProviderEntry("tts", cfg.Providers.TTS)
	validateProviderEntry("vad", cfg.Providers.VAD)
	validateProviderEntry("urlscan", cfg.Providers.URLScan)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; live transcription and both analysis lanes will be inactive")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; intelligence runs deterministic extraction only and coaching is disabled")
	}
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; transcripts and intelligence will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderEntry checks the entry's own name plus its fallbacks.
func validateProviderEntry(kind string, entry ProviderEntry) {
	validateProviderName(kind, entry.Name)
	for _, fb := range entry.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
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
