package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"buddyline/internal/buddy"
	"buddyline/internal/channel"
	"buddyline/internal/config"
	"buddyline/internal/eventbus"
	"buddyline/internal/secrets"
)

func startApp(t *testing.T, mutate func(cfg *config.Config)) (*App, string) {
	t.Helper()
	return startAppWithEnv(t, nil, mutate)
}

func startAppWithEnv(t *testing.T, env map[string]string, mutate func(cfg *config.Config)) (*App, string) {
	t.Helper()
	keyring.MockInit()
	for _, name := range config.EnvVars {
		t.Setenv(name, "")
	}
	for name, v := range env {
		t.Setenv(name, v)
	}

	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Providers.Order = []string{config.BackendAnthropic}
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.json")
	data, _ := json.Marshal(cfg)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	loader, err := config.NewLoaderAt(path)
	if err != nil {
		t.Fatal(err)
	}
	app := NewApp(loader)
	if err := app.Startup(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { app.Shutdown(context.Background()) })
	return app, path
}

func TestAppConsoleChat(t *testing.T) {
	app, _ := startApp(t, nil)
	ctx := context.Background()

	b, err := app.Service().AddBuddy(ctx, buddy.Profile{Name: "Jester", PersonalityType: "funny"})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := app.Chat(b, channel.NewConsoleChannel(strings.NewReader("hi\n"), &out, b.Name)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "[Jester]: ") {
		t.Fatalf("no reply printed:\n%s", out.String())
	}

	msgs, err := app.Service().GetConversation(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	var topics []string
	for _, e := range app.GetLogs() {
		topics = append(topics, e.Topic)
	}
	joined := strings.Join(topics, ",")
	for _, want := range []eventbus.Topic{eventbus.TopicProviderState, eventbus.TopicBuddyChanged, eventbus.TopicFallbackUsed} {
		if !strings.Contains(joined, string(want)) {
			t.Errorf("missing %s event in %v", want, topics)
		}
	}
}

func TestStartupMovesPlainSecretsToKeyring(t *testing.T) {
	app, path := startApp(t, func(cfg *config.Config) {
		cfg.Providers.OpenAI.APIKey = "sk-plaintext-key"
	})

	if app.cfg.Providers.OpenAI.APIKey != "sk-plaintext-key" {
		t.Fatalf("in-memory key changed: %q", app.cfg.Providers.OpenAI.APIKey)
	}
	raw, _ := os.ReadFile(path)
	if bytes.Contains(raw, []byte("sk-plaintext-key")) || !bytes.Contains(raw, []byte(secrets.Placeholder)) {
		t.Fatalf("config file still holds the key:\n%s", raw)
	}
	if got, err := app.secrets.Get(secrets.OpenAIKey); err != nil || got != "sk-plaintext-key" {
		t.Fatalf("keyring has %q, %v", got, err)
	}
}

func TestStartupLeavesEnvKeysAlone(t *testing.T) {
	env := map[string]string{config.EnvOpenAIKey: "sk-from-env"}
	app, path := startAppWithEnv(t, env, nil)
	before, _ := os.ReadFile(path)

	if app.cfg.Providers.OpenAI.APIKey != "sk-from-env" {
		t.Fatalf("env key not loaded: %q", app.cfg.Providers.OpenAI.APIKey)
	}
	if _, err := app.secrets.Get(secrets.OpenAIKey); err == nil {
		t.Fatal("env key copied into the keyring")
	}
	if bytes.Contains(before, []byte("\n")) {
		t.Fatalf("config rewritten at startup:\n%s", before)
	}

	if err := app.SaveProviderConfig(config.BackendOpenAI, "", "gpt-4o", ""); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(path)
	if bytes.Contains(after, []byte("sk-from-env")) {
		t.Fatalf("env key written to config:\n%s", after)
	}
	if bytes.Equal(before, after) {
		t.Fatal("model change not saved")
	}
}

func TestSaveProviderConfigKeepsBaseURL(t *testing.T) {
	app, path := startApp(t, nil)

	if err := app.SaveProviderConfig(config.BackendOpenAI, "", "", "https://proxy.example.com/v1"); err != nil {
		t.Fatal(err)
	}
	if err := app.SaveProviderConfig(config.BackendOpenAI, "", "gpt-4o-mini", ""); err != nil {
		t.Fatal(err)
	}

	loader, _ := config.NewLoaderAt(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.OpenAI.BaseURL != "https://proxy.example.com/v1" || cfg.Providers.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected openai settings %+v", cfg.Providers.OpenAI)
	}
}

func TestSaveProviderConfig(t *testing.T) {
	app, path := startApp(t, nil)

	if err := app.SaveProviderConfig(config.BackendLocal, "", "mistral", "ftp://x"); err == nil {
		t.Fatal("expected base URL rejection")
	}
	if err := app.SaveProviderConfig("gemini", "", "", ""); err == nil {
		t.Fatal("expected unknown backend rejection")
	}
	if err := app.SaveProviderConfig(config.BackendLocal, "", "mistral", "http://10.0.0.2:11434"); err != nil {
		t.Fatal(err)
	}

	loader, _ := config.NewLoaderAt(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Local.Model != "mistral" || cfg.Providers.Local.BaseURL != "http://10.0.0.2:11434" {
		t.Fatalf("not saved: %+v", cfg.Providers.Local)
	}
}

func TestLogRingIsBounded(t *testing.T) {
	app := NewApp(nil)
	for i := 0; i < maxLogEntries+1; i++ {
		app.addLog("info", eventbus.Event{Topic: eventbus.TopicStatusChange, Payload: "tick"})
	}
	logs := app.GetLogs()
	if len(logs) != maxLogEntries/2 || logs[0].Message != "tick" {
		t.Fatalf("unexpected ring size %d", len(logs))
	}
}

func TestValidateBaseURL(t *testing.T) {
	for _, tt := range []struct {
		url string
		ok  bool
	}{
		{"http://localhost:11434", true},
		{"https://api.openai.com/v1", true},
		{"file:///etc/passwd", false},
		{"http://", false},
	} {
		if err := validateBaseURL(tt.url); (err == nil) != tt.ok {
			t.Errorf("validateBaseURL(%q) = %v", tt.url, err)
		}
	}
}
