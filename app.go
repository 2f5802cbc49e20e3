package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"buddyline/internal/buddy"
	"buddyline/internal/channel"
	"buddyline/internal/config"
	"buddyline/internal/conversation"
	"buddyline/internal/eventbus"
	"buddyline/internal/httpapi"
	"buddyline/internal/llm"
	"buddyline/internal/memorylog"
	"buddyline/internal/prompt"
	"buddyline/internal/secrets"
	"buddyline/internal/server"
	"buddyline/internal/store"
)

const maxLogEntries = 1000

// App holds the application state shared by every command.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex // protects cfg
	cfg       *config.Config
	cfgLoader *config.Loader

	bus      *eventbus.Bus
	db       *store.SQLite
	memories *memorylog.Log
	svc      *server.Service
	secrets  *secrets.Store
	chanMgr  *channel.Manager
	cron     *cron.Cron

	logsMu sync.Mutex // protects logs
	logs   []LogEntry
}

// LogEntry is one pipeline event kept for GetLogs.
type LogEntry struct {
	Level   string `json:"level"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// NewApp creates an App that reads its config through loader.
func NewApp(loader *config.Loader) *App {
	return &App{
		cfgLoader: loader,
		bus:       eventbus.New(),
	}
}

// Startup loads config and secrets, opens storage and probes the backends.
func (a *App) Startup(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.ctx = ctx
	a.cancel = cancel

	cfg, err := a.cfgLoader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	var vault *secrets.Vault
	if cfg.Security.VaultPassword != "" {
		vault, err = secrets.OpenVault(filepath.Join(cfg.DataDir, secrets.VaultFile), cfg.Security.VaultPassword)
		if err != nil {
			log.Printf("warning: failed to open vault: %v (keyring only)", err)
		}
	}
	a.secrets = secrets.New(vault)
	a.resolveSecrets()

	a.subscribeLogs()

	db, err := store.OpenDir(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.db = db

	mem, err := memorylog.Open(filepath.Join(cfg.DataDir, "memories"))
	if err != nil {
		return fmt.Errorf("open memory log: %w", err)
	}
	mem.SetRedactor(memorylog.NewRedactor(cfg.Security.PIIFiltering))
	a.memories = mem

	convs := conversation.NewStore(db, conversation.Options{
		CompactThreshold: cfg.Conversation.CompactThreshold,
		RetainCount:      cfg.Conversation.RetainCount,
		Bus:              a.bus,
	})
	orch, err := llm.NewOrchestratorFromConfig(cfg.Providers, a.bus)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	a.svc = server.New(db, convs, orch, server.Options{
		HistoryForPrompt: cfg.Conversation.HistoryForPrompt,
		Prompt:           prompt.Builder{HistoryTurns: cfg.Prompt.HistoryTurns},
		Memories:         mem,
		Bus:              a.bus,
	})
	a.chanMgr = channel.NewManager(a.svc)

	st := a.svc.Reinitialize(ctx)
	log.Printf("[app] providers %s, selected %q", st.Phase, st.Selected)
	return nil
}

// Shutdown stops background work and closes storage.
func (a *App) Shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.chanMgr != nil {
		a.chanMgr.StopAll(ctx)
	}
	if a.memories != nil {
		a.memories.Wait()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// Service returns the buddy service. Valid after Startup.
func (a *App) Service() *server.Service { return a.svc }

// StartReprobe re-runs provider probing on the configured cron schedule.
// An empty schedule disables it.
func (a *App) StartReprobe() error {
	a.mu.RLock()
	schedule := a.cfg.Providers.ReprobeSchedule
	a.mu.RUnlock()
	if schedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		st := a.svc.Reinitialize(a.ctx)
		if !st.Ready() {
			a.bus.Publish(eventbus.TopicError, fmt.Sprintf("reprobe: no backend available (%v)", st.Available()))
		}
	}); err != nil {
		return fmt.Errorf("reprobe schedule %q: %w", schedule, err)
	}
	c.Start()
	a.cron = c
	log.Printf("[app] reprobing providers on %q", schedule)
	return nil
}

// StartChannels bridges the configured Telegram bot to its buddy.
func (a *App) StartChannels() error {
	a.mu.RLock()
	tg := a.cfg.Channels.Telegram
	a.mu.RUnlock()
	if tg == nil || tg.Token == "" {
		return nil
	}

	b, err := a.svc.GetBuddy(a.ctx, tg.BuddyID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("telegram: %w: %s", server.ErrNotFound, tg.BuddyID)
	}
	a.chanMgr.Register(channel.NewTelegramChannel(channel.TelegramConfig{
		Token:      tg.Token,
		BuddyName:  b.Name,
		AllowedIDs: tg.AllowedIDs,
	}), b.ID)
	if err := a.chanMgr.StartAll(a.ctx); err != nil {
		a.bus.Publish(eventbus.TopicError, err)
		return err
	}
	a.bus.Publish(eventbus.TopicStatusChange, "telegram bridge started for "+b.Name)
	return nil
}

// Chat runs an interactive console conversation with one buddy until the
// input ends.
func (a *App) Chat(b *buddy.Buddy, con *channel.ConsoleChannel) error {
	a.chanMgr.Register(con, b.ID)
	if err := a.chanMgr.StartAll(a.ctx); err != nil {
		return err
	}
	select {
	case <-con.Done():
	case <-a.ctx.Done():
	}
	return nil
}

// Serve runs the HTTP API until ctx is cancelled.
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(a.svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.bus.Publish(eventbus.TopicStatusChange, "http api listening on "+addr)
		log.Printf("[app] http api listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// resolveSecrets loads [keyring] placeholders into the in-memory config.
// Plaintext hosted keys found in the file are moved to the secret store.
func (a *App) resolveSecrets() {
	pending := a.plainSecrets()
	if err := a.secrets.Resolve(a.cfg); err != nil {
		log.Printf("warning: %v", err)
	}

	if len(pending) > 0 {
		if err := a.saveConfig(); err != nil {
			log.Printf("warning: failed to save config after secret migration: %v", err)
		}
	}
}

// plainSecrets returns the secrets currently held as literal config values.
// Keys supplied through the environment stay there and are skipped.
func (a *App) plainSecrets() map[string]string {
	out := make(map[string]string)
	add := func(name, env, val string) {
		if env != "" && a.cfgLoader.FromEnv(env) {
			return
		}
		if val != "" && val != secrets.Placeholder {
			out[name] = val
		}
	}
	add(secrets.OpenAIKey, config.EnvOpenAIKey, a.cfg.Providers.OpenAI.APIKey)
	add(secrets.AnthropicKey, config.EnvAnthropicKey, a.cfg.Providers.Anthropic.APIKey)
	if a.cfg.Channels.Telegram != nil {
		add(secrets.TelegramToken, "", a.cfg.Channels.Telegram.Token)
	}
	return out
}

// saveConfig writes config to disk with stored secrets replaced by
// placeholders. In-memory a.cfg always retains real keys.
func (a *App) saveConfig() error {
	cfgForDisk := *a.cfg
	for name, val := range a.plainSecrets() {
		if err := a.secrets.Set(name, val); err != nil {
			log.Printf("warning: failed to store %s: %v", name, err)
			continue
		}
		log.Printf("[app] stored %s in secure storage", name)
		switch name {
		case secrets.OpenAIKey:
			cfgForDisk.Providers.OpenAI.APIKey = secrets.Placeholder
		case secrets.AnthropicKey:
			cfgForDisk.Providers.Anthropic.APIKey = secrets.Placeholder
		case secrets.TelegramToken:
			tgCopy := *cfgForDisk.Channels.Telegram
			tgCopy.Token = secrets.Placeholder
			cfgForDisk.Channels.Telegram = &tgCopy
		}
	}
	return a.cfgLoader.Save(&cfgForDisk)
}

// SaveProviderConfig updates one hosted or local backend. Empty arguments
// keep the saved values. Backends are built at startup, so the change takes
// effect on the next run.
func (a *App) SaveProviderConfig(name, apiKey, model, baseURL string) error {
	if baseURL != "" {
		if err := validateBaseURL(baseURL); err != nil {
			return err
		}
	}

	a.mu.Lock()
	switch name {
	case config.BackendLocal:
		if baseURL != "" {
			a.cfg.Providers.Local.BaseURL = baseURL
			a.cfgLoader.ClaimEnv(config.EnvOllamaURL)
		}
		if model != "" {
			a.cfg.Providers.Local.Model = model
		}
	case config.BackendOpenAI, config.BackendAnthropic:
		hosted, env := &a.cfg.Providers.OpenAI, config.EnvOpenAIKey
		if name == config.BackendAnthropic {
			hosted, env = &a.cfg.Providers.Anthropic, config.EnvAnthropicKey
		}
		if apiKey != "" {
			hosted.APIKey = apiKey
			a.cfgLoader.ClaimEnv(env)
		}
		if model != "" {
			hosted.Model = model
		}
		if baseURL != "" {
			hosted.BaseURL = baseURL
		}
	default:
		a.mu.Unlock()
		return fmt.Errorf("unknown backend %q", name)
	}
	err := a.saveConfig()
	a.mu.Unlock()
	return err
}

// validateBaseURL checks that a base URL is valid and uses http/https scheme.
func validateBaseURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("base URL must use http or https scheme, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must have a host")
	}
	return nil
}

func (a *App) subscribeLogs() {
	info := func(e eventbus.Event) { a.addLog("info", e) }
	a.bus.Subscribe(eventbus.TopicStatusChange, info)
	a.bus.Subscribe(eventbus.TopicProviderState, info)
	a.bus.Subscribe(eventbus.TopicCompacted, info)
	a.bus.Subscribe(eventbus.TopicBuddyChanged, info)
	a.bus.Subscribe(eventbus.TopicFallbackUsed, func(e eventbus.Event) { a.addLog("warn", e) })
	a.bus.Subscribe(eventbus.TopicCompactFailed, func(e eventbus.Event) { a.addLog("error", e) })
	a.bus.Subscribe(eventbus.TopicError, func(e eventbus.Event) { a.addLog("error", e) })
}

func (a *App) addLog(level string, e eventbus.Event) {
	entry := LogEntry{
		Level: level,
		Topic: string(e.Topic),
		Time:  e.Timestamp.Format(time.RFC3339),
	}
	switch v := e.Payload.(type) {
	case string:
		entry.Message = v
	case error:
		entry.Message = v.Error()
	case llm.ProviderState:
		entry.Message = fmt.Sprintf("providers %s, selected %q", v.Phase, v.Selected)
	case server.BuddyEvent:
		entry.Message = fmt.Sprintf("buddy %s %s", v.Buddy.Name, v.Action)
	case conversation.CompactedEvent:
		entry.Message = fmt.Sprintf("compacted %d messages for %s", v.Removed, v.BuddyID)
	case llm.FallbackEvent:
		entry.Message = fmt.Sprintf("fallback reply (backend %q): %v", v.Backend, v.Err)
	default:
		entry.Message = fmt.Sprintf("%v", v)
	}
	a.logsMu.Lock()
	a.logs = append(a.logs, entry)
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries/2:]
	}
	a.logsMu.Unlock()
}

// GetLogs returns recent log entries.
func (a *App) GetLogs() []LogEntry {
	a.logsMu.Lock()
	copied := make([]LogEntry, len(a.logs))
	copy(copied, a.logs)
	a.logsMu.Unlock()
	return copied
}

// GetChannelStatus returns the status of all channels.
func (a *App) GetChannelStatus() map[string]bool {
	if a.chanMgr == nil {
		return nil
	}
	return a.chanMgr.List()
}

// GetMemStats returns current memory usage statistics.
func (a *App) GetMemStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"alloc_mb":     float64(m.Alloc) / 1024 / 1024,
		"sys_mb":       float64(m.Sys) / 1024 / 1024,
		"heap_objects": m.HeapObjects,
		"goroutines":   runtime.NumGoroutine(),
		"gc_cycles":    m.NumGC,
	}
}
