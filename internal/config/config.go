// Package config loads MAGI's typed runtime configuration from the
// environment (a local .env file via github.com/joho/godotenv, then
// process environment variables), per §2 Configuration. No command-line
// flag overrides a Config field: the cobra commands in cmd/ only choose the
// .env path and their own run options. Grounded on the teacher's loader.go
// env-expansion idiom, trimmed from its YAML/$include file format to the
// env-only shape the teacher's own godotenv use implies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ProviderKeys carries one API key per LLM provider named in §1, keyed by
// the provider name used throughout internal/providers and internal/rotation.
type ProviderKeys struct {
	Anthropic  string
	OpenAI     string
	Google     string
	Grok       string
	OpenRouter string
	Deepseek   string
}

// Config is MAGI's process-wide configuration, shared by magi-controller
// and magi-engine.
type Config struct {
	// ControllerPort is the port the Controller's websocket listener binds,
	// and the port Engine workers dial per §4.J.
	ControllerPort int

	// DataDir holds per-process history logs (messages.json) and the
	// sqlite-backed memory store.
	DataDir string

	// HistoryCompactionTokens is loaded from MAGI_HISTORY_COMPACTION_TOKENS.
	// internal/history does not read it; Store.Compact uses its own fixed
	// 50,000-token threshold.
	HistoryCompactionTokens int

	// TaskHealthCheckInterval gates internal/supervisor.CheckAllTaskHealth
	// sweeps, driven by internal/overseer's cron-scheduled ticking.
	TaskHealthCheckInterval time.Duration

	// MaxControllerDisconnect bounds how long an Engine keeps reconnecting
	// to an unreachable Controller before exiting non-zero, per §6 Exit
	// codes. Zero reconnects forever.
	MaxControllerDisconnect time.Duration

	// PerProcessQuotaUSD and GlobalQuotaUSD configure internal/usage's
	// QuotaGuard ceilings. Zero means unlimited.
	PerProcessQuotaUSD float64
	GlobalQuotaUSD     float64

	// TestMode is loaded from MAGI_TEST_MODE. cmd/magi-engine does not read
	// it; the engine takes test mode from its --test-mode flag.
	TestMode bool

	// StaticPort is the port internal/staticserve binds to serve
	// /magi_output/<processId>/, per §6 Persistent state.
	StaticPort int

	// DiscordBotToken and DiscordChannelID configure the internal/bridge
	// Discord adapter. Empty means the bridge is disabled.
	DiscordBotToken  string
	DiscordChannelID string

	Keys ProviderKeys
}

// Default returns a Config populated with the teacher-idiom defaults,
// before env overrides are applied.
func Default() Config {
	return Config{
		ControllerPort:          8080,
		StaticPort:              8081,
		DataDir:                 "./magi_output",
		HistoryCompactionTokens: 50_000,
		TaskHealthCheckInterval: 2 * time.Minute,
		MaxControllerDisconnect: 5 * time.Minute,
	}
}

// Load reads envPath (if it exists) via godotenv, then layers process
// environment variables onto a Default() Config. A missing envPath is not
// an error, matching the teacher's local-.env-is-optional convention.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", envPath, err)
			}
		}
	}

	cfg := Default()
	applyString(&cfg.DataDir, "MAGI_DATA_DIR")
	if err := applyInt(&cfg.ControllerPort, "MAGI_CONTROLLER_PORT"); err != nil {
		return Config{}, err
	}
	if err := applyInt(&cfg.HistoryCompactionTokens, "MAGI_HISTORY_COMPACTION_TOKENS"); err != nil {
		return Config{}, err
	}
	if err := applyDuration(&cfg.TaskHealthCheckInterval, "MAGI_TASK_HEALTH_CHECK_INTERVAL_MS"); err != nil {
		return Config{}, err
	}
	if err := applyDuration(&cfg.MaxControllerDisconnect, "MAGI_MAX_CONTROLLER_DISCONNECT_MS"); err != nil {
		return Config{}, err
	}
	if err := applyFloat(&cfg.PerProcessQuotaUSD, "MAGI_PER_PROCESS_QUOTA_USD"); err != nil {
		return Config{}, err
	}
	if err := applyFloat(&cfg.GlobalQuotaUSD, "MAGI_GLOBAL_QUOTA_USD"); err != nil {
		return Config{}, err
	}
	if err := applyBool(&cfg.TestMode, "MAGI_TEST_MODE"); err != nil {
		return Config{}, err
	}
	if err := applyInt(&cfg.StaticPort, "MAGI_STATIC_PORT"); err != nil {
		return Config{}, err
	}

	applyString(&cfg.DiscordBotToken, "DISCORD_BOT_TOKEN")
	applyString(&cfg.DiscordChannelID, "DISCORD_CHANNEL_ID")

	applyString(&cfg.Keys.Anthropic, "ANTHROPIC_API_KEY")
	applyString(&cfg.Keys.OpenAI, "OPENAI_API_KEY")
	applyString(&cfg.Keys.Google, "GOOGLE_API_KEY")
	applyString(&cfg.Keys.Grok, "GROK_API_KEY")
	applyString(&cfg.Keys.OpenRouter, "OPENROUTER_API_KEY")
	applyString(&cfg.Keys.Deepseek, "DEEPSEEK_API_KEY")

	return cfg, nil
}

func applyString(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}

func applyInt(dst *int, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s must be an integer: %w", envVar, err)
	}
	*dst = n
	return nil
}

func applyFloat(dst *float64, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s must be a number: %w", envVar, err)
	}
	*dst = f
	return nil
}

func applyBool(dst *bool, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s must be a boolean: %w", envVar, err)
	}
	*dst = b
	return nil
}

func applyDuration(dst *time.Duration, envVarMillis string) error {
	v := os.Getenv(envVarMillis)
	if v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s must be milliseconds as an integer: %w", envVarMillis, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
