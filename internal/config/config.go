// Package config resolves the agent's configuration from `.agent.yml`,
// environment variables, and CLI flags, in the precedence §6 specifies:
// CLI flag > env var > user-level config > repo config > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const fileName = ".agent.yml"

// Config is the resolved configuration (§6's recognized keys).
type Config struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	PlannerModel   string `yaml:"planner_model"`
	DeveloperModel string `yaml:"developer_model"`
	ReviewerModel  string `yaml:"reviewer_model"`
	EmbedModel     string `yaml:"embed_model"`

	// ChatSystemPrompt overrides the default chat system prompt; bound
	// only from AGENT_CHAT_SYSTEM_PROMPT, there is no file key for it.
	ChatSystemPrompt string `yaml:"-"`

	Ollama    OllamaConfig    `yaml:"ollama"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Safety    SafetyConfig    `yaml:"safety"`
	Auto      AutoConfig      `yaml:"auto"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

type OllamaConfig struct {
	Host string `yaml:"host"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
}

// SafetyConfig maps onto safety.Config (§4.1). Defaults are restrictive:
// an empty Allow list permits nothing.
type SafetyConfig struct {
	Allow            []string `yaml:"allow"`
	Deny             []string `yaml:"deny"`
	ProgramAllowlist []string `yaml:"program_allowlist"`
}

type AutoConfig struct {
	TestCommand string `yaml:"test_command"`
	DryRun      bool   `yaml:"dry_run"`
	MaxCycles   int    `yaml:"max_cycles"`
}

type RetrievalConfig struct {
	Limit        int `yaml:"limit"`
	ChunkChars   int `yaml:"chunk_chars"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// Defaults returns the built-in baseline every other layer overrides.
func Defaults() Config {
	return Config{
		Provider: "ollama",
		Ollama:   OllamaConfig{Host: "http://localhost:11434"},
		Safety: SafetyConfig{
			Allow:            []string{},
			Deny:             []string{".env", ".git/**", "**/.ssh/**"},
			ProgramAllowlist: []string{"go", "git"},
		},
		Auto: AutoConfig{
			MaxCycles: 6,
		},
		Retrieval: RetrievalConfig{
			Limit:        8,
			ChunkChars:   1500,
			ChunkOverlap: 200,
		},
	}
}

// BindFlags registers the §6 CLI surface's config-affecting flags onto fs.
// Call once, before fs.Parse.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("provider", "", "LLM provider: ollama or openai")
	fs.String("planner_model", "", "model name for the planner role")
	fs.String("developer_model", "", "model name for the developer/executor role")
	fs.String("reviewer_model", "", "model name for the reviewer role")
	fs.Bool("dry-run", false, "report write and exec steps without performing them")
}

// Load resolves Config for repoRoot: defaults, then repo `.agent.yml`,
// then the user-level `~/.agent.yml`, then environment variables, then
// fs's flags (only those the user actually set — pflag.Changed gates
// each one, so an unset flag never clobbers a lower layer).
func Load(repoRoot string, fs *pflag.FlagSet) (Config, error) {
	cfg := Defaults()

	if repo, ok, err := loadFile(filepath.Join(repoRoot, fileName)); err != nil {
		return Config{}, err
	} else if ok {
		mergeInto(&cfg, repo)
	}

	if home, err := os.UserHomeDir(); err == nil {
		if user, ok, err := loadFile(filepath.Join(home, fileName)); err != nil {
			return Config{}, err
		} else if ok {
			mergeInto(&cfg, user)
		}
	}

	// .env is optional local convenience for OPENAI_ACCESS_TOKEN etc.;
	// absence is not an error, matching godotenv's typical call site.
	_ = godotenv.Load(filepath.Join(repoRoot, ".env"))
	applyEnvOverrides(&cfg)

	if fs != nil {
		applyFlagOverrides(&cfg, fs)
	}

	return cfg, nil
}

func loadFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, true, nil
}

// mergeInto copies every field src sets (non-zero) over dst, field by
// field — deliberately explicit rather than reflection-driven, matching
// applyEnvOverrides's style below.
func mergeInto(dst *Config, src Config) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.PlannerModel != "" {
		dst.PlannerModel = src.PlannerModel
	}
	if src.DeveloperModel != "" {
		dst.DeveloperModel = src.DeveloperModel
	}
	if src.ReviewerModel != "" {
		dst.ReviewerModel = src.ReviewerModel
	}
	if src.EmbedModel != "" {
		dst.EmbedModel = src.EmbedModel
	}
	if src.Ollama.Host != "" {
		dst.Ollama.Host = src.Ollama.Host
	}
	if src.OpenAI.APIKey != "" {
		dst.OpenAI.APIKey = src.OpenAI.APIKey
	}
	if src.Safety.Allow != nil {
		dst.Safety.Allow = src.Safety.Allow
	}
	if src.Safety.Deny != nil {
		dst.Safety.Deny = src.Safety.Deny
	}
	if src.Safety.ProgramAllowlist != nil {
		dst.Safety.ProgramAllowlist = src.Safety.ProgramAllowlist
	}
	if src.Auto.TestCommand != "" {
		dst.Auto.TestCommand = src.Auto.TestCommand
	}
	if src.Auto.DryRun {
		dst.Auto.DryRun = true
	}
	if src.Auto.MaxCycles != 0 {
		dst.Auto.MaxCycles = src.Auto.MaxCycles
	}
	if src.Retrieval.Limit != 0 {
		dst.Retrieval.Limit = src.Retrieval.Limit
	}
	if src.Retrieval.ChunkChars != 0 {
		dst.Retrieval.ChunkChars = src.Retrieval.ChunkChars
	}
	if src.Retrieval.ChunkOverlap != 0 {
		dst.Retrieval.ChunkOverlap = src.Retrieval.ChunkOverlap
	}
}

// applyEnvOverrides binds the three recognized env vars. OPENAI_ACCESS_TOKEN
// is the external name for what internal/llm's OpenAILike adapter reads as
// OPENAI_API_KEY — Config bridges the two in ApplyToEnv rather than
// renaming the adapter's variable.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.Ollama.Host = host
	}
	if token := os.Getenv("OPENAI_ACCESS_TOKEN"); token != "" {
		cfg.OpenAI.APIKey = token
	}
	if prompt := os.Getenv("AGENT_CHAT_SYSTEM_PROMPT"); prompt != "" {
		cfg.ChatSystemPrompt = prompt
	}
}

func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) {
	if fs.Changed("provider") {
		if v, err := fs.GetString("provider"); err == nil {
			cfg.Provider = v
		}
	}
	if fs.Changed("planner_model") {
		if v, err := fs.GetString("planner_model"); err == nil {
			cfg.PlannerModel = v
		}
	}
	if fs.Changed("developer_model") {
		if v, err := fs.GetString("developer_model"); err == nil {
			cfg.DeveloperModel = v
		}
	}
	if fs.Changed("reviewer_model") {
		if v, err := fs.GetString("reviewer_model"); err == nil {
			cfg.ReviewerModel = v
		}
	}
	if fs.Changed("dry-run") {
		if v, err := fs.GetBool("dry-run"); err == nil {
			cfg.Auto.DryRun = v
		}
	}
}

// ApplyToEnv sets the process environment variables internal/llm's
// adapters read, so a Config resolved from file/env/flags takes effect
// without plumbing parameters through NewTier's env-var-only interface.
func (c Config) ApplyToEnv() {
	setIfNonEmpty("OLLAMA_HOST", c.Ollama.Host)
	setIfNonEmpty("OLLAMA_MODEL", c.Model)
	setIfNonEmpty("OLLAMA_EMBED_MODEL", c.EmbedModel)
	setIfNonEmpty("OPENAI_API_KEY", c.OpenAI.APIKey)
	setIfNonEmpty("OPENAI_MODEL", c.Model)
	setIfNonEmpty("OPENAI_EMBED_MODEL", c.EmbedModel)
	setIfNonEmpty("PLANNER_MODEL", c.PlannerModel)
	setIfNonEmpty("DEVELOPER_MODEL", c.DeveloperModel)
	setIfNonEmpty("REVIEWER_MODEL", c.ReviewerModel)
	setIfNonEmpty("AGENT_CHAT_SYSTEM_PROMPT", c.ChatSystemPrompt)
}

func setIfNonEmpty(key, value string) {
	if value != "" {
		os.Setenv(key, value)
	}
}

// Save writes cfg as `.agent.yml` under repoRoot, creating the directory
// if needed. The `agentcore config` subcommand only prints the resolved
// configuration and does not call Save.
func Save(cfg Config, repoRoot string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(repoRoot, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", repoRoot, err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, fileName), data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", fileName, err)
	}
	return nil
}
