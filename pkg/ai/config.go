package ai

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Supported chat providers.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGrok   = "grok"
	ProviderOllama = "ollama"
)

// DefaultOpenAIKey is used for the openai provider when no key is configured, which is
// what local OpenAI-compatible gateways expect.
const DefaultOpenAIKey = "yolo_key_1"

// Config selects and authenticates a chat completion backend.
type Config struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Base     string        `yaml:"base"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether a provider was selected.
func (c Config) Enabled() bool { return c.Provider != "" }

// AIConfig implements flag.Value to parse key=value pairs for --ai.
// Example: --ai "provider=claude model=opus base=https://... profile=work"
// Multiple --ai flags merge; values later override earlier ones.
type AIConfig map[string]string

func (a *AIConfig) String() string {
	if a == nil || *a == nil {
		return ""
	}
	var parts []string
	for k, v := range *a {
		if k == "key" || k == "api_key" || k == "apikey" {
			v = "***"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, " ")
}

func (a *AIConfig) Set(s string) error {
	if *a == nil {
		*a = make(map[string]string)
	}
	mergeKV(*a, s)
	return nil
}

func mergeKV(dst map[string]string, s string) {
	for _, chunk := range strings.Split(s, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		for _, tok := range fieldsRespectQuotes(chunk) {
			k, v, ok := strings.Cut(tok, "=")
			if !ok {
				continue
			}
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.Trim(strings.TrimSpace(v), `"'`)
			dst[k] = v
		}
	}
}

// fieldsRespectQuotes splits on spaces outside single or double quotes.
func fieldsRespectQuotes(s string) []string {
	var out []string
	var cur strings.Builder
	inSingle, inDouble := false, false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch r {
		case ' ':
			if inSingle || inDouble {
				cur.WriteRune(r)
			} else {
				flush()
			}
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
			cur.WriteRune(r)
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// Sources feeds Resolve. Env is consulted for the composite PROMQL_ASSIST_AI value and the
// provider key variables; a nil Env reads nothing.
type Sources struct {
	Flags       map[string]string
	Env         func(string) string
	ProfilePath string
	// Base holds values from the config file; every other source overrides it.
	Base Config
}

// Resolve merges, in precedence order, the composite --ai flag, the PROMQL_ASSIST_AI
// environment value, the selected profile, the config file and provider defaults.
func Resolve(src Sources) (Config, error) {
	env := src.Env
	if env == nil {
		env = func(string) string { return "" }
	}
	cfg := map[string]string{}
	if v := strings.TrimSpace(env("PROMQL_ASSIST_AI")); v != "" {
		mergeKV(cfg, v)
	}
	for k, v := range src.Flags {
		cfg[strings.ToLower(k)] = v
	}

	profile := firstNonEmpty(cfg["profile"], env("PROMQL_ASSIST_AI_PROFILE"))
	prof, err := loadProfile(src.ProfilePath, profile)
	if err != nil {
		return Config{}, err
	}
	for k, v := range prof {
		if _, ok := cfg[k]; !ok {
			cfg[k] = v
		}
	}

	out := Config{
		Provider: normalizeProvider(firstNonEmpty(cfg["provider"], cfg["prov"], src.Base.Provider)),
		Model:    firstNonEmpty(cfg["model"], src.Base.Model),
		Base:     firstNonEmpty(cfg["base"], cfg["host"], src.Base.Base),
		APIKey:   firstNonEmpty(cfg["key"], cfg["api_key"], cfg["apikey"], src.Base.APIKey),
		Timeout:  src.Base.Timeout,
	}
	if v := cfg["timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("ai timeout %q: %w", v, err)
		}
		out.Timeout = d
	}
	return withDefaults(out, env), nil
}

func normalizeProvider(p string) string {
	switch p = strings.ToLower(strings.TrimSpace(p)); p {
	case "anthropic":
		return ProviderClaude
	case "xai":
		return ProviderGrok
	}
	return p
}

func withDefaults(c Config, env func(string) string) Config {
	switch c.Provider {
	case ProviderOpenAI:
		c.Model = firstNonEmpty(c.Model, "gpt-4o-mini")
		c.Base = firstNonEmpty(c.Base, "https://api.openai.com/v1")
		c.APIKey = firstNonEmpty(c.APIKey, env("OPENAI_API_KEY"), DefaultOpenAIKey)
	case ProviderClaude:
		c.Model = firstNonEmpty(c.Model, "claude-3-5-sonnet-20240620")
		c.Base = firstNonEmpty(c.Base, "https://api.anthropic.com/v1")
		c.APIKey = firstNonEmpty(c.APIKey, env("ANTHROPIC_API_KEY"))
	case ProviderGrok:
		c.Model = firstNonEmpty(c.Model, "grok-2")
		c.Base = firstNonEmpty(c.Base, "https://api.x.ai/v1")
		c.APIKey = firstNonEmpty(c.APIKey, env("XAI_API_KEY"))
	case ProviderOllama:
		c.Model = firstNonEmpty(c.Model, "llama3.1")
		c.Base = firstNonEmpty(c.Base, "http://localhost:11434")
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// DefaultProfilePath is ~/.config/promql-assist/ai.toml.
func DefaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "promql-assist", "ai.toml")
}

type profileFile struct {
	Profiles map[string]map[string]any `toml:"profiles"`
}

// loadProfile reads [profiles.<name>] from path. A missing file is not an error.
func loadProfile(path, profile string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var pf profileFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return nil, fmt.Errorf("parse ai profiles %s: %w", path, err)
	}
	if profile == "" {
		profile = "default"
	}
	vals := map[string]string{}
	for k, v := range pf.Profiles[profile] {
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			vals[strings.ToLower(k)] = s
		}
	}
	return vals, nil
}
