// Package config provides the configuration schema, loader, and provider
// registry for the Kavach call broker.
package config

import "time"

// LogLevel controls log verbosity for the broker.
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

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Broker        BrokerConfig        `yaml:"broker"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Coaching      CoachingConfig      `yaml:"coaching"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Recording     RecordingConfig     `yaml:"recording"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AuthToken, when set, enables bearer-token auth on the control plane
	// and the WebSocket endpoint.
	AuthToken string `yaml:"auth_token"`

	// OriginPatterns lists allowed WebSocket origins. Empty means
	// same-origin only.
	OriginPatterns []string `yaml:"origin_patterns"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// BrokerConfig tunes session capacity and the relay path.
type BrokerConfig struct {
	// MaxSessions caps concurrently live sessions. Attaches beyond the cap
	// are rejected.
	MaxSessions int `yaml:"max_sessions"`

	// EgressQueueCapacity is the per-leg outbound envelope queue depth.
	EgressQueueCapacity int `yaml:"egress_queue_capacity"`

	// PingIntervalMS is the liveness ping period per leg.
	PingIntervalMS int `yaml:"ping_interval_ms"`

	// PingMissLimit is how many consecutive unanswered pings detach a leg.
	PingMissLimit int `yaml:"ping_miss_limit"`

	// DrainGraceMS is how long a call survives with one leg missing.
	DrainGraceMS int `yaml:"drain_grace_ms"`

	// DrainDeadlineMS bounds the egress flush during teardown.
	DrainDeadlineMS int `yaml:"drain_deadline_ms"`

	// SlowConsumerMS is how long a control push may block before the leg is
	// declared a slow consumer and detached.
	SlowConsumerMS int `yaml:"slow_consumer_ms"`

	// IntelConcurrency caps in-flight intelligence extractions per session.
	IntelConcurrency int `yaml:"intel_concurrency"`

	// CodecAllowlist restricts accepted ingress codecs. Empty means all
	// built-in codecs are accepted.
	CodecAllowlist []string `yaml:"codec_allowlist"`
}

// TranscriptionConfig tunes utterance segmentation.
type TranscriptionConfig struct {
	// STTWindowSeconds is the maximum voiced span per STT window.
	STTWindowSeconds float64 `yaml:"stt_window_seconds"`

	// EndpointSilenceMS is the trailing silence that finalises an utterance.
	EndpointSilenceMS int `yaml:"endpoint_silence_ms"`

	// MinVoicedMS is the minimum voiced audio for a silence endpoint to fire.
	MinVoicedMS int `yaml:"min_voiced_ms"`

	// DiscardVoicedMS and DiscardWindowMS drop essentially silent windows:
	// less than DiscardVoicedMS of speech within DiscardWindowMS.
	DiscardVoicedMS int `yaml:"discard_voiced_ms"`
	DiscardWindowMS int `yaml:"discard_window_ms"`

	// LanguageHint is passed through to the STT provider. Empty lets the
	// provider auto-detect.
	LanguageHint string `yaml:"language_hint"`
}

// TimeoutConfig bounds each collaborator call.
type TimeoutConfig struct {
	STTMS     int `yaml:"stt_ms"`
	LLMMS     int `yaml:"llm_ms"`
	TTSMS     int `yaml:"tts_ms"`
	URLScanMS int `yaml:"url_scan_ms"`
}

// ProvidersConfig declares which implementation to use for each collaborator
// slot. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM     ProviderEntry `yaml:"llm"`
	STT     ProviderEntry `yaml:"stt"`
	TTS     ProviderEntry `yaml:"tts"`
	VAD     ProviderEntry `yaml:"vad"`
	URLScan ProviderEntry `yaml:"urlscan"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "whisper", "energy").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists additional backends tried in order when this one
	// fails or its circuit breaker is open. Fallbacks of fallbacks are not
	// supported.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// CoachingConfig tunes the operator coaching lane.
type CoachingConfig struct {
	// ContextWindow is how many recent transcript lines feed a suggestion.
	ContextWindow int `yaml:"context_window"`

	// VoiceID selects the TTS voice for spoken suggestions. Empty disables
	// synthesis; suggestions stay text-only.
	VoiceID string `yaml:"voice_id"`
}

// ArchiveConfig holds settings for the durable call archive.
type ArchiveConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty disables
	// archival; calls run purely in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RecordingConfig controls per-call audio recording.
type RecordingConfig struct {
	// Enabled switches recording on. Off by default.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory recordings are written to. Required when Enabled.
	Dir string `yaml:"dir"`
}

// Defaults returns a Config carrying the documented default for every
// tunable. Loading merges the file over these values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Broker: BrokerConfig{
			MaxSessions:         1024,
			EgressQueueCapacity: 256,
			PingIntervalMS:      10_000,
			PingMissLimit:       3,
			DrainGraceMS:        60_000,
			DrainDeadlineMS:     2_000,
			SlowConsumerMS:      5_000,
			IntelConcurrency:    4,
		},
		Transcription: TranscriptionConfig{
			STTWindowSeconds:  3.0,
			EndpointSilenceMS: 800,
			MinVoicedMS:       500,
			DiscardVoicedMS:   300,
			DiscardWindowMS:   5_000,
		},
		Timeouts: TimeoutConfig{
			STTMS:     8_000,
			LLMMS:     6_000,
			TTSMS:     4_000,
			URLScanMS: 10_000,
		},
		Coaching: CoachingConfig{
			ContextWindow: 6,
		},
	}
}

// ms converts a millisecond count to a duration.
func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// STTWindow returns the STT window as a duration.
func (t TranscriptionConfig) STTWindow() time.Duration {
	return time.Duration(t.STTWindowSeconds * float64(time.Second))
}

// EndpointSilence returns the endpoint silence as a duration.
func (t TranscriptionConfig) EndpointSilence() time.Duration { return ms(t.EndpointSilenceMS) }

// MinVoiced returns the endpoint minimum voiced span as a duration.
func (t TranscriptionConfig) MinVoiced() time.Duration { return ms(t.MinVoicedMS) }

// DiscardVoiced returns the silent-window voiced threshold as a duration.
func (t TranscriptionConfig) DiscardVoiced() time.Duration { return ms(t.DiscardVoicedMS) }

// DiscardWindow returns the silent-window span as a duration.
func (t TranscriptionConfig) DiscardWindow() time.Duration { return ms(t.DiscardWindowMS) }

// PingInterval returns the liveness ping period as a duration.
func (b BrokerConfig) PingInterval() time.Duration { return ms(b.PingIntervalMS) }

// DrainGrace returns the single-leg grace period as a duration.
func (b BrokerConfig) DrainGrace() time.Duration { return ms(b.DrainGraceMS) }

// DrainDeadline returns the teardown flush bound as a duration.
func (b BrokerConfig) DrainDeadline() time.Duration { return ms(b.DrainDeadlineMS) }

// SlowConsumerAfter returns the control-push block limit as a duration.
func (b BrokerConfig) SlowConsumerAfter() time.Duration { return ms(b.SlowConsumerMS) }

// STT returns the STT call bound as a duration.
func (t TimeoutConfig) STT() time.Duration { return ms(t.STTMS) }

// LLM returns the LLM call bound as a duration.
func (t TimeoutConfig) LLM() time.Duration { return ms(t.LLMMS) }

// TTS returns the TTS call bound as a duration.
func (t TimeoutConfig) TTS() time.Duration { return ms(t.TTSMS) }

// URLScan returns the URL reputation call bound as a duration.
func (t TimeoutConfig) URLScan() time.Duration { return ms(t.URLScanMS) }
