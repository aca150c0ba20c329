package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
engine:
  workers: 0
  rule_cooldown: 30s
ingest:
  queue_size: -1
storage:
  driver: memory
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %q", cfg.LogLevel)
	}
	if cfg.Engine.Workers != 4 || cfg.Ingest.QueueSize != 1024 {
		t.Fatalf("defaults not applied: workers=%d queue=%d", cfg.Engine.Workers, cfg.Ingest.QueueSize)
	}
	if cfg.Engine.RuleCooldown != 30*time.Second {
		t.Fatalf("cooldown: %v", cfg.Engine.RuleCooldown)
	}
	if cfg.Engine.StoreTimeout != 5*time.Second {
		t.Fatalf("store timeout default: %v", cfg.Engine.StoreTimeout)
	}
	if cfg.Engine.Timezone != "UTC" || cfg.Engine.RefreshSchedule == "" {
		t.Fatalf("engine defaults missing: %+v", cfg.Engine)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"faces":{"foes":["p-1"]},"storage":{"driver":"memory"},"api":{"enabled":false}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Faces.Foes) != 1 || cfg.Faces.Foes[0] != "p-1" {
		t.Fatalf("faces: %+v", cfg.Faces)
	}
	if cfg.API.Enabled {
		t.Fatalf("api should be disabled")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":         "   ",
		"timezone":      "engine:\n  timezone: Mars/Olympus\n",
		"driver":        "storage:\n  driver: cassandra\n",
		"kafka":         "ingest:\n  kafka:\n    enabled: true\n",
		"file tail":     "ingest:\n  file_tail:\n    enabled: true\n",
		"dynamo tables": "storage:\n  driver: dynamodb\n",
		"device id":     "devices:\n  known:\n    - name: porch\n",
		"device cmds":   "actions:\n  devices:\n    enabled: true\n",
		"rate":          "actions:\n  notification:\n    rate_per_minute: -1\n",
	}
	for name, content := range cases {
		if _, err := Parse([]byte(content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestManagerUpdateAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeguard.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: memory\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if needs, _ := m.NeedsReload(); needs {
		t.Fatalf("fresh manager should not need reload")
	}

	next := *m.Get()
	next.Faces.Friends = []string{"alice"}
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := m.Get().Faces.Friends; len(got) != 1 || got[0] != "alice" {
		t.Fatalf("update not applied: %v", got)
	}

	reloaded, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Faces.Friends) != 1 {
		t.Fatalf("update not persisted: %+v", reloaded.Faces)
	}

	bad := *m.Get()
	bad.Storage.Driver = "cassandra"
	if err := m.Update(&bad); err == nil {
		t.Fatalf("invalid update should fail")
	}
	if m.Get().Storage.Driver != "memory" {
		t.Fatalf("invalid update must not replace the current config")
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Get() == nil || m.Path() != "" {
		t.Fatalf("static manager should carry defaults without a path")
	}
	cfg, err := m.Reload()
	if err != nil || cfg != m.Get() {
		t.Fatalf("reload without a file should return the current config")
	}
	if err := m.Update(m.Get()); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestSaveJSONByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Fatalf("expected JSON output")
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load saved config: %v", err)
	}
}
