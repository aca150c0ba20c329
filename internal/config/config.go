package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string        `json:"log_level" yaml:"log_level"`
	LogFormat string        `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig  `json:"ingest" yaml:"ingest"`
	Engine    EngineConfig  `json:"engine" yaml:"engine"`
	Faces     FacesConfig   `json:"faces" yaml:"faces"`
	Devices   DevicesConfig `json:"devices" yaml:"devices"`
	Actions   ActionsConfig `json:"actions" yaml:"actions"`
	Rules     RulesConfig   `json:"rules" yaml:"rules"`
	API       APIConfig     `json:"api" yaml:"api"`
	Storage   StorageConfig `json:"storage" yaml:"storage"`
	Alerts    AlertsConfig  `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	QueueSize int             `json:"queue_size" yaml:"queue_size"`
	REST      RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail  FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type EngineConfig struct {
	Workers         int           `json:"workers" yaml:"workers"`
	ActionTimeout   time.Duration `json:"action_timeout" yaml:"action_timeout"`
	Timezone        string        `json:"timezone" yaml:"timezone"`
	RefreshSchedule string        `json:"refresh_schedule" yaml:"refresh_schedule"`
	SnapshotMaxAge  time.Duration `json:"snapshot_max_age" yaml:"snapshot_max_age"`
	StoreTimeout    time.Duration `json:"store_timeout" yaml:"store_timeout"`
	DedupeWindow    time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	RuleCooldown    time.Duration `json:"rule_cooldown" yaml:"rule_cooldown"`
	MaxClockSkew    time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew   time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

// FacesConfig maps recognized face profile ids to Friend/Foe labels.
type FacesConfig struct {
	Friends       []string            `json:"friends" yaml:"friends"`
	Foes          []string            `json:"foes" yaml:"foes"`
	DeviceFriends map[string][]string `json:"device_friends" yaml:"device_friends"`
	DeviceFoes    map[string][]string `json:"device_foes" yaml:"device_foes"`
}

type DevicesConfig struct {
	Strict      bool           `json:"strict" yaml:"strict"`
	LivenessTTL time.Duration  `json:"liveness_ttl" yaml:"liveness_ttl"`
	Known       []DeviceConfig `json:"known" yaml:"known"`
}

type DeviceConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

type ActionsConfig struct {
	Notification NotificationConfig  `json:"notification" yaml:"notification"`
	Devices      DeviceCommandConfig `json:"devices" yaml:"devices"`
	Police       PoliceConfig        `json:"police" yaml:"police"`
}

type NotificationConfig struct {
	WebhookURL    string  `json:"webhook_url" yaml:"webhook_url"`
	RatePerMinute float64 `json:"rate_per_minute" yaml:"rate_per_minute"`
	Burst         int     `json:"burst" yaml:"burst"`
}

// DeviceCommandConfig drives light, speaker and alarm actions over Kafka.
type DeviceCommandConfig struct {
	Enabled       bool              `json:"enabled" yaml:"enabled"`
	Brokers       []string          `json:"brokers" yaml:"brokers"`
	Topic         string            `json:"topic" yaml:"topic"`
	CommandTTL    time.Duration     `json:"command_ttl" yaml:"command_ttl"`
	DefaultTarget map[string]string `json:"default_target" yaml:"default_target"`
}

type PoliceConfig struct {
	WebhookURL  string        `json:"webhook_url" yaml:"webhook_url"`
	AutoConfirm bool          `json:"auto_confirm" yaml:"auto_confirm"`
	ArmDuration time.Duration `json:"arm_duration" yaml:"arm_duration"`
}

type RulesConfig struct {
	SeedDefaults bool `json:"seed_defaults" yaml:"seed_defaults"`
}

type APIConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	Addr             string `json:"addr" yaml:"addr"`
	JWTSecret        string `json:"jwt_secret" yaml:"jwt_secret"`
	RequireAdminRole bool   `json:"require_admin_role" yaml:"require_admin_role"`
}

type StorageConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	DSN      string         `json:"dsn" yaml:"dsn"`
	DynamoDB DynamoDBConfig `json:"dynamodb" yaml:"dynamodb"`
}

type DynamoDBConfig struct {
	Region      string `json:"region" yaml:"region"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	RulesTable  string `json:"rules_table" yaml:"rules_table"`
	AlertsTable string `json:"alerts_table" yaml:"alerts_table"`
}

type AlertsConfig struct {
	StoreLimit   int `json:"store_limit" yaml:"store_limit"`
	StreamBuffer int `json:"stream_buffer" yaml:"stream_buffer"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			QueueSize: 1024,
			REST:      RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream: TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:  FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:     KafkaConfig{Enabled: false},
		},
		Engine: EngineConfig{
			Workers:         4,
			ActionTimeout:   5 * time.Second,
			Timezone:        "UTC",
			RefreshSchedule: "@every 30s",
			SnapshotMaxAge:  time.Minute,
			StoreTimeout:    5 * time.Second,
			DedupeWindow:    10 * time.Second,
			RuleCooldown:    0,
			MaxClockSkew:    0,
			MaxFutureSkew:   5 * time.Second,
		},
		Devices: DevicesConfig{LivenessTTL: 5 * time.Minute},
		Actions: ActionsConfig{
			Notification: NotificationConfig{RatePerMinute: 30, Burst: 5},
			Devices:      DeviceCommandConfig{Topic: "homeguard.commands", CommandTTL: time.Minute},
			Police:       PoliceConfig{ArmDuration: 12 * time.Hour},
		},
		Rules:   RulesConfig{SeedDefaults: true},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:homeguard.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 1000, StreamBuffer: 64},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes JSON or YAML config content on top of the defaults.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = def.Ingest.QueueSize
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = def.Engine.Workers
	}
	if cfg.Engine.ActionTimeout <= 0 {
		cfg.Engine.ActionTimeout = def.Engine.ActionTimeout
	}
	if cfg.Engine.Timezone == "" {
		cfg.Engine.Timezone = "UTC"
	}
	if cfg.Engine.RefreshSchedule == "" {
		cfg.Engine.RefreshSchedule = def.Engine.RefreshSchedule
	}
	if cfg.Engine.SnapshotMaxAge <= 0 {
		cfg.Engine.SnapshotMaxAge = def.Engine.SnapshotMaxAge
	}
	if cfg.Engine.StoreTimeout <= 0 {
		cfg.Engine.StoreTimeout = def.Engine.StoreTimeout
	}
	if cfg.Devices.LivenessTTL <= 0 {
		cfg.Devices.LivenessTTL = def.Devices.LivenessTTL
	}
	if cfg.Actions.Devices.Topic == "" {
		cfg.Actions.Devices.Topic = def.Actions.Devices.Topic
	}
	if cfg.Actions.Devices.CommandTTL <= 0 {
		cfg.Actions.Devices.CommandTTL = def.Actions.Devices.CommandTTL
	}
	if cfg.Actions.Notification.Burst <= 0 {
		cfg.Actions.Notification.Burst = def.Actions.Notification.Burst
	}
	if cfg.Actions.Police.ArmDuration <= 0 {
		cfg.Actions.Police.ArmDuration = def.Actions.Police.ArmDuration
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Alerts.StreamBuffer <= 0 {
		cfg.Alerts.StreamBuffer = def.Alerts.StreamBuffer
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Actions.Devices.Enabled && len(cfg.Actions.Devices.Brokers) == 0 {
		return errors.New("actions.devices.brokers required when actions.devices.enabled is true")
	}
	if cfg.Actions.Notification.RatePerMinute < 0 {
		return errors.New("actions.notification.rate_per_minute must be >= 0")
	}
	if _, err := time.LoadLocation(cfg.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql", "mysql":
	case "dynamodb":
		if cfg.Storage.DynamoDB.RulesTable == "" || cfg.Storage.DynamoDB.AlertsTable == "" {
			return errors.New("storage.dynamodb requires rules_table and alerts_table")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	for i, d := range cfg.Devices.Known {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("devices.known[%d].id is empty", i)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

// Update validates cfg, writes it to the backing file when there is one and
// makes it current.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
