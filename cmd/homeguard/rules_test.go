package main

import (
	"context"
	"testing"

	"homeguard/internal/config"
	"homeguard/internal/model"
	"homeguard/internal/storage"
)

func TestDecodeRulesSingleYAML(t *testing.T) {
	data := []byte(`
id: porch-loiter
condition:
  type: behavior
  operator: contains
  value: loitering
sensitivity: low
actions:
  - type: light
    value: "on"
enabled: true
`)
	list, err := decodeRules(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "porch-loiter" || list[0].Condition.Type != model.ConditionBehavior {
		t.Fatalf("unexpected rules: %+v", list)
	}
	if len(list[0].Actions) != 1 || list[0].Actions[0].Type != model.ActionLight {
		t.Fatalf("unexpected actions: %+v", list[0].Actions)
	}
}

func TestDecodeRulesJSONList(t *testing.T) {
	data := []byte(`[{"id":"a","condition":{"type":"face","operator":"equals","value":"Foe"}},` +
		`{"id":"b","condition":{"type":"time","operator":"after","value":"22:00"}}]`)
	list, err := decodeRules(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[1].Condition.Value != "22:00" {
		t.Fatalf("unexpected rules: %+v", list)
	}
}

func TestDecodeRulesEmpty(t *testing.T) {
	if _, err := decodeRules([]byte("  \n")); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestActionSummary(t *testing.T) {
	if got := actionSummary(nil); got != "-" {
		t.Fatalf("got %q", got)
	}
	got := actionSummary([]model.Action{{Type: model.ActionSpeaker}, {Type: model.ActionPolice}})
	if got != "speaker,police" {
		t.Fatalf("got %q", got)
	}
}

func TestVolatileStoreForEveryMemorySpelling(t *testing.T) {
	for _, driver := range []string{"", "memory", "Memory", "MEMORY"} {
		store, err := storage.NewStore(context.Background(), config.StorageConfig{Driver: driver})
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if !volatileStore(store) {
			t.Fatalf("driver %q should be reported as volatile", driver)
		}
	}
	sqlite, err := storage.NewStore(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: "file::memory:"})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer sqlite.Close()
	if volatileStore(sqlite) {
		t.Fatalf("sqlite store is durable")
	}
}
