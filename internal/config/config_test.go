package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadAppliesDefaultsWhenNoFilesPresent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OPENAI_ACCESS_TOKEN", "")
	t.Setenv("AGENT_CHAT_SYSTEM_PROMPT", "")

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", cfg.Provider)
	}
	if cfg.Auto.MaxCycles != 6 {
		t.Errorf("MaxCycles = %d, want 6", cfg.Auto.MaxCycles)
	}
	if cfg.Retrieval.ChunkChars != 1500 {
		t.Errorf("ChunkChars = %d, want 1500", cfg.Retrieval.ChunkChars)
	}
}

func TestLoadMergesRepoThenUserConfig(t *testing.T) {
	repoDir := t.TempDir()
	userDir := t.TempDir()
	t.Setenv("HOME", userDir)

	writeFile(t, filepath.Join(repoDir, ".agent.yml"), "provider: openai\nmodel: repo-model\n")
	writeFile(t, filepath.Join(userDir, ".agent.yml"), "model: user-model\n")

	cfg, err := Load(repoDir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("Provider = %q, want openai (from repo config)", cfg.Provider)
	}
	if cfg.Model != "user-model" {
		t.Errorf("Model = %q, want user-model (user config overrides repo)", cfg.Model)
	}
}

func TestLoadEnvOverridesFileConfig(t *testing.T) {
	repoDir := t.TempDir()
	userDir := t.TempDir()
	t.Setenv("HOME", userDir)

	writeFile(t, filepath.Join(repoDir, ".agent.yml"), "ollama:\n  host: http://file-host:11434\n")
	t.Setenv("OLLAMA_HOST", "http://env-host:11434")

	cfg, err := Load(repoDir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ollama.Host != "http://env-host:11434" {
		t.Errorf("Host = %q, want env override", cfg.Ollama.Host)
	}
}

func TestLoadFlagOverridesEverything(t *testing.T) {
	repoDir := t.TempDir()
	userDir := t.TempDir()
	t.Setenv("HOME", userDir)

	writeFile(t, filepath.Join(repoDir, ".agent.yml"), "provider: openai\n")
	t.Setenv("OLLAMA_HOST", "http://env-host:11434")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse([]string{"--provider=ollama"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(repoDir, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama (flag wins)", cfg.Provider)
	}
}

func TestUnsetFlagDoesNotClobberLowerLayers(t *testing.T) {
	repoDir := t.TempDir()
	writeFile(t, filepath.Join(repoDir, ".agent.yml"), "planner_model: repo-planner\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse([]string{}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(repoDir, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PlannerModel != "repo-planner" {
		t.Errorf("PlannerModel = %q, want repo-planner", cfg.PlannerModel)
	}
}

func TestApplyToEnvBridgesOpenAIAccessTokenToAdapterVar(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := Config{OpenAI: OpenAIConfig{APIKey: "sk-test"}}
	cfg.ApplyToEnv()
	if got := os.Getenv("OPENAI_API_KEY"); got != "sk-test" {
		t.Errorf("OPENAI_API_KEY = %q, want sk-test", got)
	}
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.Provider = "openai"
	cfg.Model = "gpt-test"

	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Provider != "openai" || loaded.Model != "gpt-test" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
