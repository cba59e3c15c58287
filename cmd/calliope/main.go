// Command calliope is the main entry point for the Calliope voice assistant
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/calliope-voice/calliope/internal/app"
	"github.com/calliope-voice/calliope/internal/config"
	"github.com/calliope-voice/calliope/internal/observe"
	"github.com/calliope-voice/calliope/internal/resilience"
	"github.com/calliope-voice/calliope/pkg/provider/enhance"
	"github.com/calliope-voice/calliope/pkg/provider/llm"
	"github.com/calliope-voice/calliope/pkg/provider/llm/anyllm"
	"github.com/calliope-voice/calliope/pkg/provider/stt"
	"github.com/calliope-voice/calliope/pkg/provider/stt/whisper"
	"github.com/calliope-voice/calliope/pkg/provider/tts"
	oaitts "github.com/calliope-voice/calliope/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch-interval", 5*time.Second, "config file poll interval (0 disables hot reload)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "calliope: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "calliope: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config rewrite can change it without
	// rebuilding the handler.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("calliope starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "calliope",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watchInterval > 0 {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.SlogLevel())
				slog.Info("log level changed", "log_level", d.NewLogLevel)
			}
			if err := application.ApplyConfig(ctx, new); err != nil {
				slog.Error("config reload error", "err", err)
			}
		}, config.WithInterval(*watchInterval))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq and llamacpp all share
	// the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Completer, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Completer, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	// ── Enhance ───────────────────────────────────────────────────────────────

	reg.RegisterEnhance("http", func(entry config.ProviderEntry) (enhance.Enhancer, error) {
		return enhance.NewHTTP(entry.BaseURL)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not built in — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT, err = withSTTFallbacks(p, cfg.Providers.STT, reg)
			if err != nil {
				return nil, err
			}
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not built in — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM, err = withLLMFallbacks(p, cfg.Providers.LLM, reg)
			if err != nil {
				return nil, err
			}
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not built in — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS, err = withTTSFallbacks(p, cfg.Providers.TTS, reg)
			if err != nil {
				return nil, err
			}
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.Enhance.Name; name != "" {
		p, err := reg.CreateEnhance(cfg.Providers.Enhance)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not built in — skipping", "kind", "enhance", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create enhance provider %q: %w", name, err)
		} else {
			ps.Enhance = p
			slog.Info("provider created", "kind", "enhance", "name", name)
		}
	}

	return ps, nil
}

// withSTTFallbacks wraps primary in a failover chain when the entry declares
// fallback providers. Unregistered fallback names are skipped the same way an
// unregistered primary is.
func withSTTFallbacks(primary stt.Transcriber, entry config.ProviderEntry, reg *config.Registry) (stt.Transcriber, error) {
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	chain := resilience.NewFallbackTranscriber(primary, entry.Name, resilience.ChainConfig{})
	for _, alt := range entry.Fallbacks {
		p, err := reg.CreateSTT(alt)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("fallback provider not built in — skipping", "kind", "stt", "name", alt.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", alt.Name, err)
		}
		chain.Add(alt.Name, p)
		slog.Info("fallback provider created", "kind", "stt", "name", alt.Name)
	}
	return chain, nil
}

// withLLMFallbacks is the [llm.Completer] counterpart of withSTTFallbacks.
func withLLMFallbacks(primary llm.Completer, entry config.ProviderEntry, reg *config.Registry) (llm.Completer, error) {
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	chain := resilience.NewFallbackCompleter(primary, entry.Name, resilience.ChainConfig{})
	for _, alt := range entry.Fallbacks {
		p, err := reg.CreateLLM(alt)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("fallback provider not built in — skipping", "kind", "llm", "name", alt.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", alt.Name, err)
		}
		chain.Add(alt.Name, p)
		slog.Info("fallback provider created", "kind", "llm", "name", alt.Name)
	}
	return chain, nil
}

// withTTSFallbacks is the [tts.Synthesizer] counterpart of withSTTFallbacks.
func withTTSFallbacks(primary tts.Synthesizer, entry config.ProviderEntry, reg *config.Registry) (tts.Synthesizer, error) {
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	chain := resilience.NewFallbackSynthesizer(primary, entry.Name, resilience.ChainConfig{})
	for _, alt := range entry.Fallbacks {
		p, err := reg.CreateTTS(alt)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("fallback provider not built in — skipping", "kind", "tts", "name", alt.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", alt.Name, err)
		}
		chain.Add(alt.Name, p)
		slog.Info("fallback provider created", "kind", "tts", "name", alt.Name)
	}
	return chain, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Calliope — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Enhance", cfg.Providers.Enhance.Name, "")
	fmt.Printf("║  Adapters        : %-19d ║\n", len(cfg.Adapters))
	fmt.Printf("║  Sessions        : %-19d ║\n", len(cfg.Sessions))
	fmt.Printf("║  Tool backends   : %-19d ║\n", len(cfg.MCP.Backends))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
