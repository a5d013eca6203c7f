// Command kavach is the main entry point for the Kavach live call broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/kavachlabs/kavach/internal/broker"
	"github.com/kavachlabs/kavach/internal/coach"
	"github.com/kavachlabs/kavach/internal/config"
	"github.com/kavachlabs/kavach/internal/health"
	"github.com/kavachlabs/kavach/internal/intel"
	"github.com/kavachlabs/kavach/internal/observe"
	"github.com/kavachlabs/kavach/internal/recording"
	"github.com/kavachlabs/kavach/internal/resilience"
	"github.com/kavachlabs/kavach/internal/server"
	"github.com/kavachlabs/kavach/pkg/audio"
	"github.com/kavachlabs/kavach/pkg/memory/postgres"
	"github.com/kavachlabs/kavach/pkg/provider/llm"
	"github.com/kavachlabs/kavach/pkg/provider/llm/anyllm"
	openaillm "github.com/kavachlabs/kavach/pkg/provider/llm/openai"
	"github.com/kavachlabs/kavach/pkg/provider/stt"
	"github.com/kavachlabs/kavach/pkg/provider/stt/whisper"
	"github.com/kavachlabs/kavach/pkg/provider/tts"
	"github.com/kavachlabs/kavach/pkg/provider/tts/coqui"
	"github.com/kavachlabs/kavach/pkg/provider/tts/elevenlabs"
	"github.com/kavachlabs/kavach/pkg/provider/urlscan"
	"github.com/kavachlabs/kavach/pkg/provider/urlscan/httpapi"
	"github.com/kavachlabs/kavach/pkg/provider/vad"
	"github.com/kavachlabs/kavach/pkg/provider/vad/energy"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kavach: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kavach: %v\n", err)
		}
		return 1
	}

	// Logger with a hot-swappable level; the config watcher updates it on
	// reload without a restart.
	level := &slog.LevelVar{}
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("kavach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "kavach",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	collab, store, cleanup, err := buildCollaborators(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build collaborators", "error", err)
		return 1
	}
	defer cleanup()

	registry := broker.NewRegistry(brokerConfig(cfg), collab, logger)

	var checkers []health.Checker
	if store != nil {
		checkers = append(checkers, health.Checker{Name: "archive", Check: store.Ping})
	}

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithHealth(health.New(checkers...)),
	}
	if cfg.Server.AuthToken != "" {
		srvOpts = append(srvOpts, server.WithAuthToken(cfg.Server.AuthToken))
	}
	if len(cfg.Server.OriginPatterns) > 0 {
		srvOpts = append(srvOpts, server.WithOriginPatterns(cfg.Server.OriginPatterns...))
	}
	srv := server.New(registry, srvOpts...)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(collab.Metrics)(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "log_level", d.NewLogLevel)
		}
		if d.OriginsChanged {
			slog.Warn("origin_patterns changed; restart required to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var serveErr error
		if tls := cfg.Server.TLS; tls != nil {
			serveErr = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")

		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// Stop accepting new connections first, then drain live calls.
		shutdownErr := httpSrv.Shutdown(sctx)
		if err := registry.Close(sctx); err != nil {
			slog.Warn("session drain incomplete", "error", err)
		}
		return shutdownErr
	})

	slog.Info("kavach ready", "addr", cfg.Server.ListenAddr)
	if err := g.Wait(); err != nil {
		slog.Error("run error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// brokerConfig maps the YAML schema onto the call core's tunables.
func brokerConfig(cfg *config.Config) broker.Config {
	return broker.Config{
		MaxSessions:         cfg.Broker.MaxSessions,
		EgressQueueCapacity: cfg.Broker.EgressQueueCapacity,
		SlowConsumerAfter:   cfg.Broker.SlowConsumerAfter(),
		PingInterval:        cfg.Broker.PingInterval(),
		PingMissLimit:       cfg.Broker.PingMissLimit,
		DrainGrace:          cfg.Broker.DrainGrace(),
		DrainDeadline:       cfg.Broker.DrainDeadline(),
		STTWindow:           cfg.Transcription.STTWindow(),
		EndpointSilence:     cfg.Transcription.EndpointSilence(),
		MinVoiced:           cfg.Transcription.MinVoiced(),
		DiscardVoiced:       cfg.Transcription.DiscardVoiced(),
		DiscardWindow:       cfg.Transcription.DiscardWindow(),
		STTTimeout:          cfg.Timeouts.STT(),
		LLMTimeout:          cfg.Timeouts.LLM(),
		TTSTimeout:          cfg.Timeouts.TTS(),
		URLScanTimeout:      cfg.Timeouts.URLScan(),
		IntelConcurrency:    cfg.Broker.IntelConcurrency,
		LanguageHint:        cfg.Transcription.LanguageHint,
		CodecAllowlist:      cfg.Broker.CodecAllowlist,
	}
}

// buildCollaborators instantiates every configured collaborator. STT is
// required; the rest degrade gracefully when unconfigured. The returned
// cleanup closes held resources (the archive pool).
func buildCollaborators(ctx context.Context, cfg *config.Config, reg *config.Registry) (broker.Collaborators, *postgres.Store, func(), error) {
	collab := broker.Collaborators{
		Metrics:    observe.DefaultMetrics(),
		Normaliser: audio.NewNormaliser(cfg.Broker.CodecAllowlist),
	}
	cleanup := func() {}
	breakerCfg := resilience.BreakerConfig{}

	// STT is mandatory: without transcription there are no analysis lanes
	// and no transcript relay.
	if cfg.Providers.STT.Name == "" {
		return collab, nil, cleanup, errors.New("providers.stt is required")
	}
	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return collab, nil, cleanup, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	sttGroup := resilience.NewSTTFailover(sttPrimary, breakerCfg, nil)
	for _, fb := range cfg.Providers.STT.Fallbacks {
		p, err := reg.CreateSTT(fb)
		if err != nil {
			return collab, nil, cleanup, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		sttGroup.AddFallback(p)
	}
	collab.STT = sttGroup
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "fallbacks", len(cfg.Providers.STT.Fallbacks))

	// VAD defaults to the built-in energy detector.
	if cfg.Providers.VAD.Name != "" {
		collab.VAD, err = reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return collab, nil, cleanup, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
		}
		slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)
	} else {
		collab.VAD = energy.New()
	}

	// LLM powers both analysis lanes. Without it, intelligence falls back
	// to deterministic extraction and coaching is disabled.
	var llmGroup *resilience.LLMFailover
	if cfg.Providers.LLM.Name != "" {
		primary, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return collab, nil, cleanup, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
		}
		llmGroup = resilience.NewLLMFailover(primary, breakerCfg, nil)
		for _, fb := range cfg.Providers.LLM.Fallbacks {
			p, err := reg.CreateLLM(fb)
			if err != nil {
				return collab, nil, cleanup, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			llmGroup.AddFallback(p)
		}
		slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "fallbacks", len(cfg.Providers.LLM.Fallbacks))
	}

	extractorOpts := []intel.Option{}
	if llmGroup != nil {
		extractorOpts = append(extractorOpts, intel.WithLLM(llmGroup))
	}
	collab.Extractor = intel.NewExtractor(extractorOpts...)

	if llmGroup != nil {
		coachOpts := []coach.Option{coach.WithWindow(cfg.Coaching.ContextWindow)}
		if cfg.Providers.TTS.Name != "" {
			primary, err := reg.CreateTTS(cfg.Providers.TTS)
			if err != nil {
				return collab, nil, cleanup, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
			}
			ttsGroup := resilience.NewTTSFailover(primary, breakerCfg, nil)
			for _, fb := range cfg.Providers.TTS.Fallbacks {
				p, err := reg.CreateTTS(fb)
				if err != nil {
					return collab, nil, cleanup, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
				}
				ttsGroup.AddFallback(p)
			}
			coachOpts = append(coachOpts, coach.WithTTS(ttsGroup, cfg.Coaching.VoiceID))
			slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "fallbacks", len(cfg.Providers.TTS.Fallbacks))
		}
		collab.Coach = coach.New(llmGroup, coachOpts...)
	}

	if cfg.Providers.URLScan.Name != "" {
		collab.Scanner, err = reg.CreateURLScan(cfg.Providers.URLScan)
		if err != nil {
			return collab, nil, cleanup, fmt.Errorf("create urlscan provider %q: %w", cfg.Providers.URLScan.Name, err)
		}
		slog.Info("provider created", "kind", "urlscan", "name", cfg.Providers.URLScan.Name)
	}

	var store *postgres.Store
	if cfg.Archive.PostgresDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.Archive.PostgresDSN)
		if err != nil {
			return collab, nil, cleanup, fmt.Errorf("connect archive: %w", err)
		}
		collab.Store = store
		cleanup = store.Close
		slog.Info("archive connected")
	}

	if cfg.Recording.Enabled {
		collab.Recorder = recording.NewFactory(cfg.Recording.Dir)
		slog.Info("recording enabled", "dir", cfg.Recording.Dir)
	}

	return collab, store, cleanup, nil
}

// registerBuiltinProviders wires the provider factories that ship with
// Kavach into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// LLM: openai uses the native client; the other vendors go through the
	// any-llm bridge.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, name := range []string{"anthropic", "gemini", "mistral", "groq"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(entry.Name, entry.Model, opts...)
		})
	}
	// ollama is a local server; BaseURL carries the address.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := optString(entry.Options, "speaker_id"); speaker != "" {
			opts = append(opts, coqui.WithDefaultSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if rms := optFloat(entry.Options, "threshold_rms"); rms > 0 {
			opts = append(opts, energy.WithThreshold(rms))
		}
		return energy.New(opts...), nil
	})

	reg.RegisterURLScan("httpapi", func(entry config.ProviderEntry) (urlscan.Scanner, error) {
		var opts []httpapi.Option
		if entry.APIKey != "" {
			opts = append(opts, httpapi.WithAPIKey(entry.APIKey))
		}
		return httpapi.New(entry.BaseURL, opts...)
	})
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// optFloat extracts a numeric value from a provider Options map. YAML
// decodes whole numbers as int.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
