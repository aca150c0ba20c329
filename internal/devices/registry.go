package devices

import (
	"sort"
	"strings"
	"sync"
	"time"

	"homeguard/internal/config"
)

type Type string

const (
	TypeCamera   Type = "camera"
	TypeDetector Type = "detector"
	TypeMonitor  Type = "monitor"
	TypeHome     Type = "home"
)

type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Type     Type      `json:"type,omitempty"`
	Known    bool      `json:"known"`
	LastSeen time.Time `json:"last_seen,omitempty"`
	Live     bool      `json:"live"`
}

// Registry tracks configured devices and when each was last heard from.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	strict  bool
	ttl     time.Duration
	now     func() time.Time
}

func NewRegistry(cfg config.DevicesConfig) *Registry {
	r := &Registry{
		devices: make(map[string]*Device),
		now:     func() time.Time { return time.Now().UTC() },
	}
	r.Configure(cfg)
	return r
}

// Configure replaces the known device list. Last-seen times survive.
func (r *Registry) Configure(cfg config.DevicesConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strict = cfg.Strict
	r.ttl = cfg.LivenessTTL
	for _, d := range r.devices {
		d.Known = false
	}
	for _, dc := range cfg.Known {
		id := strings.TrimSpace(dc.ID)
		if id == "" {
			continue
		}
		d, ok := r.devices[id]
		if !ok {
			d = &Device{ID: id}
			r.devices[id] = d
		}
		d.Name = dc.Name
		d.Type = Type(strings.ToLower(dc.Type))
		d.Known = true
	}
	for id, d := range r.devices {
		if !d.Known && d.LastSeen.IsZero() {
			delete(r.devices, id)
		}
	}
}

func (r *Registry) Touch(id string, at time.Time) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	if at.IsZero() {
		at = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		d = &Device{ID: id}
		r.devices[id] = d
	}
	if at.After(d.LastSeen) {
		d.LastSeen = at
	}
}

// Known reports whether id may take part in rule matching. Outside strict
// mode every device is accepted.
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.strict {
		return true
	}
	d, ok := r.devices[id]
	return ok && d.Known
}

func (r *Registry) Live(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return false
	}
	return r.liveLocked(d)
}

func (r *Registry) Get(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	out := *d
	out.Live = r.liveLocked(d)
	return out, true
}

func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		cp := *d
		cp.Live = r.liveLocked(d)
		out = append(out, cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) liveLocked(d *Device) bool {
	if d.LastSeen.IsZero() {
		return false
	}
	if r.ttl <= 0 {
		return true
	}
	return r.now().Sub(d.LastSeen) <= r.ttl
}
