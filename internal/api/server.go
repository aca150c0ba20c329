package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"homeguard/internal/alerts"
	"homeguard/internal/config"
	"homeguard/internal/devices"
	"homeguard/internal/dispatch"
	"homeguard/internal/engine"
	"homeguard/internal/metrics"
	"homeguard/internal/model"
	"homeguard/internal/rules"
	"homeguard/internal/stream"
)

type EngineControl interface {
	UpdateConfig(cfg *config.Config)
	Reset()
	QueueDepth() int
	QueueCapacity() int
	InFlight() map[engine.Phase]int64
}

// AlertHistory reads alerts back from durable storage.
type AlertHistory interface {
	ListAlerts(ctx context.Context, limit int) ([]model.Alert, error)
}

type Deps struct {
	Config  *config.Manager
	Rules   *rules.Store
	Alerts  *alerts.Store
	History AlertHistory
	Devices *devices.Registry
	Gate    *dispatch.ArmGate
	Metrics *metrics.Metrics
	Bus     *stream.Bus
	Engine  EngineControl
	Events  http.HandlerFunc
	Logger  *slog.Logger
	Version string
}

type Server struct {
	cfg     *config.Manager
	rules   *rules.Store
	alerts  *alerts.Store
	history AlertHistory
	devices *devices.Registry
	gate    *dispatch.ArmGate
	metrics *metrics.Metrics
	bus     *stream.Bus
	engine  EngineControl
	events  http.HandlerFunc
	logger  *slog.Logger
	version string
	started time.Time
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:     d.Config,
		rules:   d.Rules,
		alerts:  d.Alerts,
		history: d.History,
		devices: d.Devices,
		gate:    d.Gate,
		metrics: d.Metrics,
		bus:     d.Bus,
		engine:  d.Engine,
		events:  d.Events,
		logger:  d.Logger,
		version: d.Version,
		started: time.Now().UTC(),
	}
}

// Handler builds the router. Reads are open to any authenticated caller;
// mutations pass requireAdmin.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Get("/templates", s.handleListTemplates)
		r.Get("/{id}", s.handleGetRule)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/", s.handleCreateRule)
			r.Post("/templates/{key}", s.handleApplyTemplate)
			r.Patch("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/{id}/enable", s.handleSetEnabled(true))
			r.Post("/{id}/disable", s.handleSetEnabled(false))
		})
	})

	r.Get("/alerts", s.handleAlerts)
	if s.bus != nil {
		r.Get("/alerts/stream", s.handleAlertStream)
	}
	r.Get("/devices", s.handleDevices)
	r.Get("/police", s.handlePoliceState)
	r.Get("/config/faces", s.handleGetFaces)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/police/arm", s.handlePoliceArm)
		r.Post("/police/disarm", s.handlePoliceDisarm)
		r.Post("/config/faces", s.handleSetFaces)
		r.Post("/admin/refresh", s.handleRefresh)
		r.Post("/admin/clear", s.handleClear)
	})

	if s.events != nil {
		r.Post("/events", s.events)
	}
	return r
}

func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	logger := s.logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr, "auth", current.JWTSecret != "")
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

type statusResponse struct {
	Status     string                 `json:"status"`
	Time       string                 `json:"time"`
	Uptime     string                 `json:"uptime"`
	Version    string                 `json:"version"`
	ConfigPath string                 `json:"config_path,omitempty"`
	Rules      rulesStatus            `json:"rules"`
	Queue      queueStatus            `json:"queue"`
	InFlight   map[engine.Phase]int64 `json:"in_flight,omitempty"`
	Police     dispatch.ArmState      `json:"police"`
	Ingest     ingestStatus           `json:"ingest"`
	Stats      metrics.Stats          `json:"stats"`
	Streams    int                    `json:"stream_subscribers"`
}

type rulesStatus struct {
	Count    int       `json:"count"`
	Enabled  int       `json:"enabled"`
	Version  uint64    `json:"version"`
	TakenAt  time.Time `json:"taken_at"`
	Degraded bool      `json:"degraded"`
	Error    string    `json:"error,omitempty"`
}

type queueStatus struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
	}
	if s.rules != nil {
		snap := s.rules.Snapshot()
		resp.Rules = rulesStatus{
			Count:    snap.Len(),
			Enabled:  len(snap.Enabled()),
			Version:  snap.Version,
			TakenAt:  snap.TakenAt,
			Degraded: snap.Degraded,
			Error:    snap.Err,
		}
		if snap.Degraded {
			resp.Status = "degraded"
		}
	}
	if s.engine != nil {
		resp.Queue = queueStatus{Depth: s.engine.QueueDepth(), Capacity: s.engine.QueueCapacity()}
		resp.InFlight = s.engine.InFlight()
	}
	if s.gate != nil {
		resp.Police = s.gate.State()
	}
	if s.metrics != nil {
		resp.Stats = s.metrics.Stats()
	}
	if s.bus != nil {
		resp.Streams = s.bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAlerts serves the in-memory ring by default and durable history
// with ?source=store. All filters combine.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := alerts.Filter{
		RuleID:    q.Get("rule_id"),
		EventID:   q.Get("event_id"),
		EventKind: q.Get("event_kind"),
		DeviceID:  q.Get("device_id"),
	}
	if v := q.Get("severity"); v != "" {
		f.Severity = model.Severity(strings.ToLower(v))
		if !f.Severity.Valid() {
			badRequest(w, "invalid severity, want low, medium, high or critical")
			return
		}
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "invalid since, want RFC3339")
			return
		}
		f.Since = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "invalid limit")
			return
		}
		f.Limit = n
	}

	var list []model.Alert
	if q.Get("source") == "store" {
		if s.history == nil {
			writeError(w, newAPIError(http.StatusNotImplemented, "", "no durable alert store configured", nil))
			return
		}
		limit := f.Limit
		if limit == 0 {
			limit = 100
		}
		stored, err := s.history.ListAlerts(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		list = f.Apply(stored)
	} else {
		list = s.alerts.Query(f)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	list := []devices.Device{}
	if s.devices != nil {
		list = s.devices.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": list, "count": len(list)})
}

func (s *Server) handlePoliceState(w http.ResponseWriter, _ *http.Request) {
	if s.gate == nil {
		writeJSON(w, http.StatusOK, map[string]any{"auto_confirm": true})
		return
	}
	writeJSON(w, http.StatusOK, s.gate.State())
}

func (s *Server) handlePoliceArm(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		writeError(w, newAPIError(http.StatusConflict, "", "police contact is auto-confirmed", nil))
		return
	}
	var req struct {
		Duration string `json:"duration"`
	}
	if err := decodeOptional(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	d := s.cfg.Get().Actions.Police.ArmDuration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed <= 0 {
			badRequest(w, "invalid duration")
			return
		}
		d = parsed
	}
	by := actor(r)
	until := s.gate.Arm(by, d)
	if s.logger != nil {
		s.logger.Warn("police contact armed", "by", by, "until", until)
	}
	s.publish(stream.PoliceArmed, "police contact armed", s.gate.State())
	writeJSON(w, http.StatusOK, s.gate.State())
}

func (s *Server) handlePoliceDisarm(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		writeError(w, newAPIError(http.StatusConflict, "", "police contact is auto-confirmed", nil))
		return
	}
	s.gate.Disarm()
	if s.logger != nil {
		s.logger.Info("police contact disarmed", "by", actor(r))
	}
	s.publish(stream.PoliceDisarmed, "police contact disarmed", nil)
	writeJSON(w, http.StatusOK, s.gate.State())
}

func (s *Server) handleGetFaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"faces": s.cfg.Get().Faces})
}

// handleSetFaces replaces the Friend/Foe profile lists and saves the config.
func (s *Server) handleSetFaces(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		badRequest(w, "invalid request body")
		return
	}
	var faces config.FacesConfig
	if err := json.Unmarshal(body, &faces); err != nil {
		badRequest(w, "invalid faces config")
		return
	}
	faces.Friends = sanitizeIDList(faces.Friends)
	faces.Foes = sanitizeIDList(faces.Foes)
	faces.DeviceFriends = sanitizeDeviceLists(faces.DeviceFriends)
	faces.DeviceFoes = sanitizeDeviceLists(faces.DeviceFoes)
	next := *s.cfg.Get()
	next.Faces = faces
	if err := s.cfg.Update(&next); err != nil {
		writeError(w, err)
		return
	}
	if s.engine != nil {
		s.engine.UpdateConfig(&next)
	}
	writeJSON(w, http.StatusOK, map[string]any{"faces": faces})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	snap := s.rules.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"version": snap.Version, "rules": snap.Len()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := decodeOptional(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.alerts.Clear()
		if s.engine != nil {
			s.engine.Reset()
		}
	case "alerts":
		s.alerts.Clear()
	case "engine":
		if s.engine != nil {
			s.engine.Reset()
		}
	default:
		badRequest(w, "unknown target "+target)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

func (s *Server) publish(t stream.Type, summary string, detail any) {
	if s.bus != nil {
		s.bus.Publish(stream.Message{Type: t, Summary: summary, Detail: detail})
	}
}

// decodeOptional decodes a JSON body into v; an empty body leaves v as is.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func sanitizeIDList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func sanitizeDeviceLists(values map[string][]string) map[string][]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string][]string, len(values))
	for device, list := range values {
		device = strings.TrimSpace(device)
		if device == "" {
			continue
		}
		clean := sanitizeIDList(list)
		if len(clean) == 0 {
			continue
		}
		out[device] = clean
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
