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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":     {"whisper", "mock"},
	"llm":     {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "mock"},
	"tts":     {"openai", "mock"},
	"enhance": {"http", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("enhance", cfg.Providers.Enhance.Name)
	for _, fb := range cfg.Providers.STT.Fallbacks {
		validateProviderName("stt", fb.Name)
	}
	for _, fb := range cfg.Providers.LLM.Fallbacks {
		validateProviderName("llm", fb.Name)
	}
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		validateProviderName("tts", fb.Name)
	}

	// Pipeline ↔ provider cross-validation. Numeric pipeline bounds are
	// checked by pipeline.New after defaults are applied.
	if len(cfg.Pipeline.WakePhrases) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("pipeline.wake_phrases requires providers.stt"))
	}
	if (cfg.Pipeline.Denoise || cfg.Pipeline.Enhance) && cfg.Providers.Enhance.Name == "" {
		errs = append(errs, errors.New("pipeline.denoise/enhance requires providers.enhance"))
	}
	// Sessions cannot generate responses without a completer, and the
	// application refuses to assemble without one.
	if cfg.Providers.LLM.Name == "" && len(cfg.Sessions) > 0 {
		errs = append(errs, errors.New("sessions require providers.llm"))
	}

	// Adapters.
	adapterNames := make(map[string]AdapterDirection, len(cfg.Adapters))
	inputs := make(map[string]bool)
	outputs := make(map[string]bool)
	for i, a := range cfg.Adapters {
		prefix := fmt.Sprintf("adapters[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if !a.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: websocket, discord, mock", prefix, a.Kind))
		}
		if !a.Direction.IsValid() {
			errs = append(errs, fmt.Errorf("%s.direction %q is invalid; valid values: input, output", prefix, a.Direction))
		}
		if a.Name != "" {
			if prev, dup := adapterNames[a.Name]; dup && prev == a.Direction {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate %s adapter", prefix, a.Name, a.Direction))
			}
			adapterNames[a.Name] = a.Direction
			switch a.Direction {
			case DirectionInput:
				inputs[a.Name] = true
			case DirectionOutput:
				outputs[a.Name] = true
			}
		}
		if a.Kind == AdapterWebSocket && a.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required for websocket adapters", prefix))
		}
		if a.Kind == AdapterDiscord && (a.Token == "" || a.GuildID == "" || a.ChannelID == "") {
			errs = append(errs, fmt.Errorf("%s requires token, guild_id, and channel_id for discord adapters", prefix))
		}
	}

	// Sessions reference declared adapters.
	sessionIDs := make(map[string]int, len(cfg.Sessions))
	for i, s := range cfg.Sessions {
		prefix := fmt.Sprintf("sessions[%d]", i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, dup := sessionIDs[s.ID]; dup {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of sessions[%d]", prefix, s.ID, prev))
			}
			sessionIDs[s.ID] = i
		}
		if s.Input == "" || !inputs[s.Input] {
			errs = append(errs, fmt.Errorf("%s.input %q does not name a declared input adapter", prefix, s.Input))
		}
		if s.Output == "" || !outputs[s.Output] {
			errs = append(errs, fmt.Errorf("%s.output %q does not name a declared output adapter", prefix, s.Output))
		}
	}

	// Tool backends.
	backendNames := make(map[string]int, len(cfg.MCP.Backends))
	for i, b := range cfg.MCP.Backends {
		prefix := fmt.Sprintf("mcp.backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, dup := backendNames[b.Name]; dup {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.backends[%d]", prefix, b.Name, prev))
			}
			backendNames[b.Name] = i
		}
		if !b.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, b.Transport))
		}
		if b.Transport == TransportStdio && b.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if b.Transport == TransportHTTP && b.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
		}
	}

	return errors.Join(errs...)
}

// SlogLevel maps l onto the slog level, defaulting to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
