package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaultsWithoutEnv(t *testing.T) {
	clearEnv(t, "MAGI_DATA_DIR", "MAGI_CONTROLLER_PORT", "MAGI_HISTORY_COMPACTION_TOKENS",
		"MAGI_TASK_HEALTH_CHECK_INTERVAL_MS", "MAGI_MAX_CONTROLLER_DISCONNECT_MS",
		"MAGI_PER_PROCESS_QUOTA_USD", "MAGI_GLOBAL_QUOTA_USD",
		"MAGI_TEST_MODE", "MAGI_STATIC_PORT",
		"DISCORD_BOT_TOKEN", "DISCORD_CHANNEL_ID",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY",
		"GROK_API_KEY", "OPENROUTER_API_KEY", "DEEPSEEK_API_KEY")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("MAGI_CONTROLLER_PORT", "9090")
	t.Setenv("MAGI_DATA_DIR", "/tmp/magi")
	t.Setenv("MAGI_HISTORY_COMPACTION_TOKENS", "1000")
	t.Setenv("MAGI_TASK_HEALTH_CHECK_INTERVAL_MS", "5000")
	t.Setenv("MAGI_PER_PROCESS_QUOTA_USD", "2.5")
	t.Setenv("MAGI_GLOBAL_QUOTA_USD", "10")
	t.Setenv("MAGI_TEST_MODE", "true")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControllerPort != 9090 {
		t.Errorf("ControllerPort = %d, want 9090", cfg.ControllerPort)
	}
	if cfg.DataDir != "/tmp/magi" {
		t.Errorf("DataDir = %q, want /tmp/magi", cfg.DataDir)
	}
	if cfg.HistoryCompactionTokens != 1000 {
		t.Errorf("HistoryCompactionTokens = %d, want 1000", cfg.HistoryCompactionTokens)
	}
	if cfg.TaskHealthCheckInterval != 5*time.Second {
		t.Errorf("TaskHealthCheckInterval = %v, want 5s", cfg.TaskHealthCheckInterval)
	}
	if cfg.PerProcessQuotaUSD != 2.5 {
		t.Errorf("PerProcessQuotaUSD = %v, want 2.5", cfg.PerProcessQuotaUSD)
	}
	if cfg.GlobalQuotaUSD != 10 {
		t.Errorf("GlobalQuotaUSD = %v, want 10", cfg.GlobalQuotaUSD)
	}
	if !cfg.TestMode {
		t.Errorf("TestMode = false, want true")
	}
	if cfg.Keys.Anthropic != "sk-test" {
		t.Errorf("Keys.Anthropic = %q, want sk-test", cfg.Keys.Anthropic)
	}
}

func TestLoadRejectsInvalidInt(t *testing.T) {
	t.Setenv("MAGI_CONTROLLER_PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("Load: expected error for invalid MAGI_CONTROLLER_PORT")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("MAGI_TASK_HEALTH_CHECK_INTERVAL_MS", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("Load: expected error for invalid MAGI_TASK_HEALTH_CHECK_INTERVAL_MS")
	}
}

func TestLoadMissingEnvFileIsNotAnError(t *testing.T) {
	if _, err := Load("/nonexistent/path/.env"); err != nil {
		t.Fatalf("Load with missing env file: %v", err)
	}
}
