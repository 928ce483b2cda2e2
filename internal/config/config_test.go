package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ReloadDelay() != 500*time.Millisecond {
		t.Errorf("reload delay = %v", c.ReloadDelay())
	}
	if c.FlushDelay() != 100*time.Millisecond {
		t.Errorf("flush delay = %v", c.FlushDelay())
	}
	if c.SubscriptionInterval() != 120*time.Minute || c.SubscriptionDelay() != time.Minute {
		t.Errorf("subscription schedule = %v/%v", c.SubscriptionDelay(), c.SubscriptionInterval())
	}
}

func TestLoadOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "sqlite:\n  dsn: test.db\nlog:\n  level: debug\n  writer: [file]\ncookie:\n  flushDelayMS: 250\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Sqlite.Dsn != "test.db" || c.Sqlite.Prefix != "requestx_" {
		t.Errorf("sqlite = %+v", c.Sqlite)
	}
	if c.Log.Level != "debug" || len(c.Log.Writer) != 1 || c.Log.Writer[0] != "file" {
		t.Errorf("log = %+v", c.Log)
	}
	if c.FlushDelay() != 250*time.Millisecond {
		t.Errorf("flush delay = %v", c.FlushDelay())
	}
	if c.Sync.ReloadDelayMS != 500 {
		t.Errorf("untouched default changed: %d", c.Sync.ReloadDelayMS)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sqlite: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
