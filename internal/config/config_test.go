package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SECRET", "s3cr3t")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Target != "/config" {
		t.Errorf("unexpected default Target: %q", cfg.Target)
	}
	if cfg.RetryNumber != 3 {
		t.Errorf("unexpected default RetryNumber: %d", cfg.RetryNumber)
	}
	if cfg.MasterDispatch != true {
		t.Error("expected MasterDispatch to default true")
	}
	if cfg.Hostname == "" {
		t.Error("expected Hostname to be populated")
	}
}

func TestLoad_RequiresSecret(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error when SECRET is unset")
	}
}

func TestLoad_SlaveRequiresAPIMaster(t *testing.T) {
	setRequired(t)
	t.Setenv("IS_SLAVE", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when IS_SLAVE=true without API_MASTER")
	}

	t.Setenv("API_MASTER", "https://master.internal")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.IsSlave {
		t.Error("expected IsSlave true")
	}
}

func TestLoad_DurationParsesBareIntegerAsSeconds(t *testing.T) {
	setRequired(t)
	t.Setenv("RETRY_DELAY", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RetryDelay != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.RetryDelay)
	}
}

func TestLoad_DurationParsesGoDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("WATCH_SOURCE_INTERVAL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WatchSourceInterval != 2*time.Minute {
		t.Errorf("expected 2m, got %v", cfg.WatchSourceInterval)
	}
}

func TestLoad_SplitColonLists(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV_PREFIXES", "MUTUALIZED_:APP_")
	t.Setenv("SLAVE_URLS", "https://a.internal,https://b.internal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.EnvPrefixes) != 2 || cfg.EnvPrefixes[0] != "MUTUALIZED_" || cfg.EnvPrefixes[1] != "APP_" {
		t.Errorf("unexpected EnvPrefixes: %v", cfg.EnvPrefixes)
	}
	if len(cfg.SlaveURLs) != 2 {
		t.Errorf("unexpected SlaveURLs: %v", cfg.SlaveURLs)
	}
}

func TestStandalone(t *testing.T) {
	c := &Config{MasterConfigInline: ""}
	if c.Standalone() {
		t.Error("expected Standalone false when MasterConfigInline is empty")
	}

	c.MasterConfigInline = "sources: {}"
	if !c.Standalone() {
		t.Error("expected Standalone true when MasterConfigInline is set")
	}
}
