// Package config provides hot-reload functionality for the daemon's YAML
// configuration file: an initial load plus a debounced fsnotify watch that
// re-parses on write and fans the new Config out to registered callbacks.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Duration type alias for YAML parsing
type Duration time.Duration

// Config is the daemon's full hot-reloadable configuration (§6): session
// timeouts, viewport, stealth, stream quality, and the scheduling/polling
// cadences, plus structured-logging and metrics-listener settings carried
// the way the teacher's ambient config section does.
type Config struct {
	SessionTimeoutMinutes   int    `yaml:"session_timeout_minutes"`
	MaxIdleMinutes          int    `yaml:"max_idle_minutes"`
	MaxConcurrentSessions   int    `yaml:"max_concurrent_sessions"`
	CleanupDelaySeconds     int    `yaml:"cleanup_delay_seconds"`
	ManualProtectionSeconds int    `yaml:"manual_protection_seconds"`
	TabScanIntervalMillis   int    `yaml:"tab_scan_interval_millis"`
	ViewportWidth           int    `yaml:"viewport_width"`
	ViewportHeight          int    `yaml:"viewport_height"`
	StealthEnabled          bool   `yaml:"stealth_enabled"`
	Headless                bool   `yaml:"headless"`
	StreamQuality           int    `yaml:"stream_jpeg_quality"`
	EvalRatePerSecond       float64 `yaml:"eval_rate_per_second"`
	FingerprintSeed         int64  `yaml:"fingerprint_seed"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogOutput string `yaml:"log_output"`

	MetricsAddr string `yaml:"metrics_addr"`

	// Derived, not loaded from YAML.
	SessionTimeout     time.Duration `yaml:"-"`
	MaxIdle            time.Duration `yaml:"-"`
	CleanupDelay       time.Duration `yaml:"-"`
	ManualProtection   time.Duration `yaml:"-"`
	TabScanInterval    time.Duration `yaml:"-"`
}

// ChangeCallback is called when config changes
type ChangeCallback func(newCfg *Config)

// Reloader watches config file for changes and reloads it
type Reloader struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
	
	watcher    *fsnotify.Watcher
	callbacks  []ChangeCallback
	cbMu       sync.RWMutex
	
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	debounceDelay time.Duration
	
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	
	logger Logger
}

// Logger interface for logging
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// defaultLogger is a no-op logger
type defaultLogger struct{}

func (d *defaultLogger) Info(msg string, fields ...interface{})  {}
func (d *defaultLogger) Error(msg string, fields ...interface{}) {}

// NewReloader creates a new config reloader
func NewReloader(configPath string) *Reloader {
	return &Reloader{
		configPath:    configPath,
		callbacks:     make([]ChangeCallback, 0),
		debounceDelay: 1 * time.Second,
		logger:        &defaultLogger{},
	}
}

// SetLogger sets a custom logger
func (r *Reloader) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetDebounceDelay sets the debounce delay (default: 1 second)
func (r *Reloader) SetDebounceDelay(delay time.Duration) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	r.debounceDelay = delay
}

// OnChange registers a callback to be called when config changes
func (r *Reloader) OnChange(callback ChangeCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// GetConfig returns the current config (thread-safe)
func (r *Reloader) GetConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Load loads the config from file (initial load)
func (r *Reloader) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	
	cfg, err := r.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	
	r.config = cfg
	r.logger.Info("config_loaded", "path", r.configPath)
	return nil
}

// Start starts watching the config file for changes
func (r *Reloader) Start() error {
	if r.ctx != nil {
		return fmt.Errorf("reloader already started")
	}
	
	// Load initial config
	if err := r.Load(); err != nil {
		return err
	}
	
	// Create watcher
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	r.watcher = watcher
	
	// Get the directory and filename
	dir := filepath.Dir(r.configPath)
	
	// Watch the directory (to catch renames/atomic writes)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	
	// Also try to watch the file directly if it exists
	if _, err := os.Stat(r.configPath); err == nil {
		if err := watcher.Add(r.configPath); err != nil {
			// Log but don't fail - directory watching might be enough
			r.logger.Error("failed_to_watch_file", "path", r.configPath, "error", err)
		}
	}
	
	// Setup context
	r.ctx, r.cancel = context.WithCancel(context.Background())
	
	// Start watching
	r.wg.Add(1)
	go r.watch()
	
	r.logger.Info("config_reloader_started", "path", r.configPath)
	return nil
}

// Stop stops watching and cleans up resources
func (r *Reloader) Stop() error {
	if r.ctx == nil {
		return nil // Not started
	}
	
	// Cancel context
	r.cancel()
	
	// Close watcher
	if r.watcher != nil {
		r.watcher.Close()
	}
	
	// Stop debounce timer
	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()
	
	// Wait for goroutine to finish
	r.wg.Wait()
	
	r.logger.Info("config_reloader_stopped")
	return nil
}

// watch is the main watch loop
func (r *Reloader) watch() {
	defer r.wg.Done()
	
	for {
		select {
		case <-r.ctx.Done():
			return
			
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			
			// Check if event is for our config file
			if filepath.Base(event.Name) != filepath.Base(r.configPath) {
				continue
			}
			
			// Handle write or create events
			if event.Op&fsnotify.Write == fsnotify.Write ||
			   event.Op&fsnotify.Create == fsnotify.Create ||
			   event.Op&fsnotify.Rename == fsnotify.Rename {
				r.logger.Info("config_file_changed", "op", event.Op.String())
				r.triggerReload()
			}
			
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("watcher_error", "error", err)
		}
	}
}

// triggerReload triggers a debounced reload
func (r *Reloader) triggerReload() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	
	// Stop existing timer if any
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	
	// Start new timer
	r.debounceTimer = time.AfterFunc(r.debounceDelay, func() {
		r.reload()
	})
}

// reload performs the actual config reload
func (r *Reloader) reload() {
	// Load new config
	newCfg, err := r.loadConfig()
	if err != nil {
		r.logger.Error("config_reload_failed", "error", err)
		return
	}
	
	// Get old config for diff
	r.mu.RLock()
	oldCfg := r.config
	r.mu.RUnlock()
	
	// Update config
	r.mu.Lock()
	r.config = newCfg
	r.mu.Unlock()
	
	r.logger.Info("config_reloaded",
		"path", r.configPath,
		"max_concurrent_sessions", newCfg.MaxConcurrentSessions,
		"stealth_enabled", newCfg.StealthEnabled)
	
	// Notify callbacks
	r.notifyCallbacks(newCfg, oldCfg)
}

// loadConfig loads config from file
func (r *Reloader) loadConfig() (*Config, error) {
	data, err := os.ReadFile(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	
	cfg.ApplyDefaults()
	cfg.ComputeDerived()
	
	return &cfg, nil
}

// notifyCallbacks calls all registered callbacks
func (r *Reloader) notifyCallbacks(newCfg, oldCfg *Config) {
	r.cbMu.RLock()
	callbacks := make([]ChangeCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()
	
	for _, cb := range callbacks {
		// Run callbacks in goroutine to prevent blocking
		go func(callback ChangeCallback) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("callback_panic", "recover", rec)
				}
			}()
			callback(newCfg)
		}(cb)
	}
}

// ApplyDefaults fills zero-valued fields with the §6 configuration
// defaults.
func (c *Config) ApplyDefaults() {
	if c.SessionTimeoutMinutes <= 0 {
		c.SessionTimeoutMinutes = 30
	}
	if c.MaxIdleMinutes <= 0 {
		c.MaxIdleMinutes = 10
	}
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 50
	}
	if c.CleanupDelaySeconds <= 0 {
		c.CleanupDelaySeconds = 120
	}
	if c.ManualProtectionSeconds <= 0 {
		c.ManualProtectionSeconds = 5
	}
	if c.TabScanIntervalMillis <= 0 {
		c.TabScanIntervalMillis = 2500
	}
	if c.ViewportWidth <= 0 || c.ViewportWidth > 1920 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 || c.ViewportHeight > 1080 {
		c.ViewportHeight = 1080
	}
	if c.StreamQuality <= 0 {
		c.StreamQuality = 95
	}
	if c.EvalRatePerSecond <= 0 {
		c.EvalRatePerSecond = 50
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.LogOutput == "" {
		c.LogOutput = "stdout"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}

// ComputeDerived turns the YAML integer/millisecond fields into the
// time.Duration values the rest of the system consumes.
func (c *Config) ComputeDerived() {
	c.SessionTimeout = time.Duration(c.SessionTimeoutMinutes) * time.Minute
	c.MaxIdle = time.Duration(c.MaxIdleMinutes) * time.Minute
	c.CleanupDelay = time.Duration(c.CleanupDelaySeconds) * time.Second
	c.ManualProtection = time.Duration(c.ManualProtectionSeconds) * time.Second
	c.TabScanInterval = time.Duration(c.TabScanIntervalMillis) * time.Millisecond
}

// Diff reports which top-level fields changed between two configs, used
// to log what a hot reload actually changed.
func Diff(oldCfg, newCfg *Config) map[string]struct{ Old, New interface{} } {
	diff := make(map[string]struct{ Old, New interface{} })

	if oldCfg == nil || newCfg == nil {
		return diff
	}

	if oldCfg.MaxConcurrentSessions != newCfg.MaxConcurrentSessions {
		diff["max_concurrent_sessions"] = struct{ Old, New interface{} }{oldCfg.MaxConcurrentSessions, newCfg.MaxConcurrentSessions}
	}
	if oldCfg.SessionTimeoutMinutes != newCfg.SessionTimeoutMinutes {
		diff["session_timeout_minutes"] = struct{ Old, New interface{} }{oldCfg.SessionTimeoutMinutes, newCfg.SessionTimeoutMinutes}
	}
	if oldCfg.MaxIdleMinutes != newCfg.MaxIdleMinutes {
		diff["max_idle_minutes"] = struct{ Old, New interface{} }{oldCfg.MaxIdleMinutes, newCfg.MaxIdleMinutes}
	}
	if oldCfg.StealthEnabled != newCfg.StealthEnabled {
		diff["stealth_enabled"] = struct{ Old, New interface{} }{oldCfg.StealthEnabled, newCfg.StealthEnabled}
	}
	if oldCfg.LogLevel != newCfg.LogLevel {
		diff["log_level"] = struct{ Old, New interface{} }{oldCfg.LogLevel, newCfg.LogLevel}
	}

	return diff
}
