package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences
const FileName = "config.toml"

// Config represents user-facing configuration in TOML format
type Config struct {
	// Telegram defines bot transport settings
	Telegram TelegramSettings `toml:"telegram"`

	// Tmux defines multiplexer bridge settings
	Tmux TmuxSettings `toml:"tmux"`

	// Refresh defines live update engine tuning
	Refresh RefreshSettings `toml:"refresh"`

	// Exec defines one-shot command executor settings
	Exec ExecSettings `toml:"exec"`

	// Screen defines activity detection settings
	Screen ScreenSettings `toml:"screen"`

	// Logs defines debug log management settings
	Logs LogSettings `toml:"logs"`

	// Store defines the embedded database settings
	Store StoreSettings `toml:"store"`

	// Notify defines desktop notification settings
	Notify NotifySettings `toml:"notify"`
}

// TelegramSettings defines the bot transport configuration
type TelegramSettings struct {
	// Token is the bot API token. The TELEGRAM_BOT_TOKEN environment
	// variable takes precedence when set.
	Token string `toml:"token"`

	// AllowedChatIDs lists the numeric chat ids permitted to use the bot.
	// Empty means no one is allowed (the bot logs and ignores everything).
	AllowedChatIDs []int64 `toml:"allowed_chat_ids"`

	// PollTimeoutSecs is the long-poll timeout for updates
	// Default: 60
	PollTimeoutSecs int `toml:"poll_timeout_secs"`

	// MessageLimitChars is the outbound message size budget. Telegram caps
	// messages at 4096 characters; the default leaves headroom for markup.
	// Default: 4000
	MessageLimitChars int `toml:"message_limit_chars"`

	// FileThresholdChars is the size above which output is uploaded as a
	// document instead of chunked messages
	// Default: 12000
	FileThresholdChars int `toml:"file_threshold_chars"`
}

// TmuxSettings defines multiplexer bridge configuration
type TmuxSettings struct {
	// SessionPrefix is prepended to per-user default session names,
	// producing names like "claude-123456789"
	// Default: "claude"
	SessionPrefix string `toml:"session_prefix"`

	// CaptureLines is how much scrollback a pane capture includes
	// Default: 500
	CaptureLines int `toml:"capture_lines"`

	// PasteChunkBytes is the chunk size for long keystroke sends
	// Default: 4096
	PasteChunkBytes int `toml:"paste_chunk_bytes"`
}

// RefreshSettings defines live update engine tuning
type RefreshSettings struct {
	// PollIntervalSecs is how often a live session is captured
	// Default: 3
	PollIntervalSecs int `toml:"poll_interval_secs"`

	// EditIntervalSecs is the minimum gap between progress message edits
	// Default: 8
	EditIntervalSecs int `toml:"edit_interval_secs"`

	// MaxMinutes is the hard ceiling on one live update run
	// Default: 10
	MaxMinutes int `toml:"max_minutes"`

	// StableDeltaLines: a poll counts as stable when fewer than this many
	// lines changed versus the previous capture
	// Default: 2
	StableDeltaLines int `toml:"stable_delta_lines"`

	// DoneStablePolls is the consecutive stable polls (while not thinking)
	// that complete a run
	// Default: 5
	DoneStablePolls int `toml:"done_stable_polls"`

	// ForceStablePolls is the consecutive stable polls that complete a run
	// regardless of what activity detection says
	// Default: 8
	ForceStablePolls int `toml:"force_stable_polls"`
}

// ExecSettings defines one-shot command executor configuration
type ExecSettings struct {
	// Shell is the shell binary for one-shot commands
	// Default: $SHELL, falling back to /bin/bash
	Shell string `toml:"shell"`

	// TimeoutSecs is the default command timeout
	// Default: 120
	TimeoutSecs int `toml:"timeout_secs"`

	// MaxOutputKB is the output budget per command; the tail is kept
	// Default: 64
	MaxOutputKB int `toml:"max_output_kb"`
}

// ScreenSettings defines activity detection configuration
type ScreenSettings struct {
	// Profile selects the glyph/token set: "claude", "codex", or "plain"
	// Default: "claude"
	Profile string `toml:"profile"`

	// BusyPatterns adds extra busy indicators to the profile.
	// Plain strings match as substrings; the "re:" prefix marks a regex.
	BusyPatterns []string `toml:"busy_patterns"`

	// PromptPatterns adds extra ready-prompt indicators to the profile.
	// Same "re:" convention as busy_patterns.
	PromptPatterns []string `toml:"prompt_patterns"`
}

// LogSettings defines debug log management configuration
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB for chatmux.log before rotation
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// Backups is the number of rotated log files to keep
	// Default: 5
	Backups int `toml:"backups"`

	// RetentionDays is the number of days to keep rotated logs
	// Default: 10
	RetentionDays int `toml:"retention_days"`

	// Compress enables gzip compression for rotated logs
	// Default: true (nil = use default true)
	Compress *bool `toml:"compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// PprofEnabled starts a pprof server on localhost:6061
	// Default: false
	PprofEnabled bool `toml:"pprof_enabled"`

	// AggregateIntervalSecs is the event aggregation flush interval
	// Default: 30
	AggregateIntervalSecs int `toml:"aggregate_interval_secs"`
}

// GetCompress returns whether rotated logs are compressed, defaulting to true
func (l LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

// StoreSettings defines the embedded database configuration
type StoreSettings struct {
	// Path overrides the database location
	// Default: <chatmux dir>/chatmux.db
	Path string `toml:"path"`
}

// NotifySettings defines desktop notification configuration
type NotifySettings struct {
	// Enabled turns completion notifications on or off
	// Default: true (nil = use default true)
	Enabled *bool `toml:"enabled"`

	// MinDurationSecs: only runs at least this long trigger a notification
	// Default: 10
	MinDurationSecs int `toml:"min_duration_secs"`
}

// GetEnabled returns whether notifications fire, defaulting to true
func (n NotifySettings) GetEnabled() bool {
	if n.Enabled == nil {
		return true
	}
	return *n.Enabled
}

// BotToken returns the bot token, preferring the environment variable.
func (t TelegramSettings) BotToken() string {
	if env := os.Getenv("TELEGRAM_BOT_TOKEN"); env != "" {
		return env
	}
	return t.Token
}

// Allowed reports whether a chat id is on the allow list.
func (t TelegramSettings) Allowed(chatID int64) bool {
	for _, id := range t.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// PollInterval returns the engine poll interval with its default applied.
func (r RefreshSettings) PollInterval() time.Duration {
	if r.PollIntervalSecs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(r.PollIntervalSecs) * time.Second
}

// EditInterval returns the minimum edit gap with its default applied.
func (r RefreshSettings) EditInterval() time.Duration {
	if r.EditIntervalSecs <= 0 {
		return 8 * time.Second
	}
	return time.Duration(r.EditIntervalSecs) * time.Second
}

// MaxDuration returns the run ceiling with its default applied.
func (r RefreshSettings) MaxDuration() time.Duration {
	if r.MaxMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(r.MaxMinutes) * time.Minute
}

// StableDelta returns the stable line-change threshold with its default.
func (r RefreshSettings) StableDelta() int {
	if r.StableDeltaLines <= 0 {
		return 2
	}
	return r.StableDeltaLines
}

// DonePolls returns the not-thinking completion threshold with its default.
func (r RefreshSettings) DonePolls() int {
	if r.DoneStablePolls <= 0 {
		return 5
	}
	return r.DoneStablePolls
}

// ForcePolls returns the unconditional completion threshold with its default.
func (r RefreshSettings) ForcePolls() int {
	if r.ForceStablePolls <= 0 {
		return 8
	}
	return r.ForceStablePolls
}

// CommandShell returns the executor shell with its default applied.
func (e ExecSettings) CommandShell() string {
	if e.Shell != "" {
		return e.Shell
	}
	if env := os.Getenv("SHELL"); env != "" {
		return env
	}
	return "/bin/bash"
}

// CommandTimeout returns the executor timeout with its default applied.
func (e ExecSettings) CommandTimeout() time.Duration {
	if e.TimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(e.TimeoutSecs) * time.Second
}

// MaxOutputBytes returns the executor output budget with its default applied.
func (e ExecSettings) MaxOutputBytes() int {
	if e.MaxOutputKB <= 0 {
		return 64 * 1024
	}
	return e.MaxOutputKB * 1024
}

// MessageLimit returns the outbound message budget with its default applied.
func (t TelegramSettings) MessageLimit() int {
	if t.MessageLimitChars <= 0 {
		return 4000
	}
	return t.MessageLimitChars
}

// FileThreshold returns the upload-as-file threshold with its default applied.
func (t TelegramSettings) FileThreshold() int {
	if t.FileThresholdChars <= 0 {
		return 12000
	}
	return t.FileThresholdChars
}

// PollTimeout returns the long-poll timeout with its default applied.
func (t TelegramSettings) PollTimeout() int {
	if t.PollTimeoutSecs <= 0 {
		return 60
	}
	return t.PollTimeoutSecs
}

// Prefix returns the session name prefix with its default applied.
func (t TmuxSettings) Prefix() string {
	if t.SessionPrefix != "" {
		return t.SessionPrefix
	}
	return "claude"
}

var defaultConfig = Config{}

// Cache for the config (loaded once per process unless reloaded)
var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Dir returns the chatmux home directory (~/.chatmux, or $CHATMUX_HOME).
func Dir() (string, error) {
	if env := os.Getenv("CHATMUX_HOME"); env != "" {
		return env, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".chatmux"), nil
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads the configuration from the TOML file.
// Returns cached config after the first load.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring the write lock.
	if cache != nil {
		return cache, nil
	}

	configPath, err := Path()
	if err != nil {
		cache = &defaultConfig
		return cache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cache = &defaultConfig
		return cache, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		// Cache the default anyway to prevent repeated parse attempts.
		cache = &defaultConfig
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}

	cache = &cfg
	return cache, nil
}

// Reload forces a fresh read of the config file.
func Reload() (*Config, error) {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return Load()
}

// Save writes the config to config.toml using the atomic write pattern and
// clears the cache so the next Load reads fresh values.
func Save(cfg *Config) error {
	configPath, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# chatmux configuration\n")
	buf.WriteString("# Edit this file, or run `chatmux doctor` to check it\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write to a temp file, fsync, then rename into place.
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearCache()
	return nil
}

// ClearCache drops the cached config. The next Load reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}
