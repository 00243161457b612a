package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	defaults "github.com/esannihith/Image-meta-attribute-ai/config"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("default server URL = %q, want %q", cfg.Server.URL, DefaultServerURL)
	}
	if cfg.Server.QuestionTimeout != DefaultQuestionTimeout {
		t.Errorf("default question timeout = %v, want %v", cfg.Server.QuestionTimeout, DefaultQuestionTimeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level = %q, want info", cfg.Log.Level)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
server:
  url: "https://analysis.example.com"
  question_timeout: "30s"
prompts:
  - name: "Location"
    prompt: "Where was this photo taken?"
  - prompt: "What camera settings were used?"
  - name: "empty prompt is skipped"
log:
  level: debug
  file: /tmp/imagechat.log
  max_size_mb: 5
  max_backups: 2
  json: true
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.URL != "https://analysis.example.com" {
		t.Errorf("server URL = %q", cfg.Server.URL)
	}
	if cfg.Server.QuestionTimeout != 30*time.Second {
		t.Errorf("question timeout = %v, want 30s", cfg.Server.QuestionTimeout)
	}

	if len(cfg.Prompts) != 2 {
		t.Fatalf("prompts = %+v, want 2 entries", cfg.Prompts)
	}
	if cfg.Prompts[0].Name != "Location" || cfg.Prompts[0].Prompt != "Where was this photo taken?" {
		t.Errorf("prompt 0 = %+v", cfg.Prompts[0])
	}
	// A prompt without a name uses its text as the name.
	if cfg.Prompts[1].Name != "What camera settings were used?" {
		t.Errorf("prompt 1 name = %q", cfg.Prompts[1].Name)
	}

	if cfg.Log.Level != "debug" || cfg.Log.File != "/tmp/imagechat.log" {
		t.Errorf("log config = %+v", cfg.Log)
	}
	if cfg.Log.MaxSizeMB != 5 || cfg.Log.MaxBackups != 2 || !cfg.Log.JSON {
		t.Errorf("log rotation config = %+v", cfg.Log)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "server: [unclosed"},
		{"bad timeout", "server:\n  question_timeout: \"soon\""},
		{"negative timeout", "server:\n  question_timeout: \"-5s\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParsePartial(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  url: \"http://localhost:8080\"\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Server.URL != "http://localhost:8080" {
		t.Errorf("server URL = %q", cfg.Server.URL)
	}
	// Unspecified fields keep their defaults.
	if cfg.Server.QuestionTimeout != DefaultQuestionTimeout {
		t.Errorf("question timeout = %v, want default", cfg.Server.QuestionTimeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("server URL = %q, want default", cfg.Server.URL)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".imagechatrc")
	content := "server:\n  url: \"http://backend:5000\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != "http://backend:5000" {
		t.Errorf("server URL = %q", cfg.Server.URL)
	}
}

func TestEmbeddedDefaultParses(t *testing.T) {
	cfg, err := Parse(defaults.DefaultConfigYAML)
	if err != nil {
		t.Fatalf("embedded default config does not parse: %v", err)
	}
	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("embedded server URL = %q, want %q", cfg.Server.URL, DefaultServerURL)
	}
	if cfg.Server.QuestionTimeout != DefaultQuestionTimeout {
		t.Errorf("embedded question timeout = %v, want %v", cfg.Server.QuestionTimeout, DefaultQuestionTimeout)
	}
	if len(cfg.Prompts) == 0 {
		t.Error("embedded config should suggest prompts")
	}
}

func TestDefaultConfigPathEnvOverride(t *testing.T) {
	t.Setenv("IMAGECHATRC", "/custom/path/rc")
	if got := DefaultConfigPath(); got != "/custom/path/rc" {
		t.Errorf("DefaultConfigPath = %q, want the env override", got)
	}
}
