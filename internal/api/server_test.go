package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"homeguard/internal/alerts"
	"homeguard/internal/config"
	"homeguard/internal/devices"
	"homeguard/internal/dispatch"
	"homeguard/internal/metrics"
	"homeguard/internal/model"
	"homeguard/internal/rules"
	"homeguard/internal/storage"
	"homeguard/internal/stream"
)

const vexorJSON = `{"id":"vexor","name":"Vexor warning","condition":{"type":"face","operator":"equals","value":"Foe"},` +
	`"sensitivity":"high","actions":[{"type":"speaker","value":"Leave the property now."}],"enabled":true}`

type testServer struct {
	srv  *httptest.Server
	cfg  *config.Manager
	ring *alerts.Store
	gate *dispatch.ArmGate
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	mgr := config.NewStaticManager(cfg)
	rs := rules.NewStore(storage.NewMemory(), rules.WithMaxAge(0))
	if err := rs.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ts := &testServer{cfg: mgr, ring: alerts.NewStore(10), gate: dispatch.NewArmGate()}
	s := NewServer(Deps{
		Config:  mgr,
		Rules:   rs,
		Alerts:  ts.ring,
		Devices: devices.NewRegistry(cfg.Devices),
		Gate:    ts.gate,
		Metrics: metrics.New(),
		Bus:     stream.NewBus(8),
		Version: "test",
	})
	ts.srv = httptest.NewServer(s.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) (int, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func signToken(t *testing.T, secret, subject string, roles ...string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestRuleLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	if code, body := ts.do(t, http.MethodPost, "/rules", vexorJSON, ""); code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}
	if code, body := ts.do(t, http.MethodPost, "/rules", vexorJSON, ""); code != http.StatusConflict {
		t.Fatalf("duplicate create: %d %s", code, body)
	}
	code, body := ts.do(t, http.MethodGet, "/rules/vexor", "", "")
	if code != http.StatusOK || !strings.Contains(body, `"notification_type":"alert"`) {
		t.Fatalf("get: %d %s", code, body)
	}
	code, body = ts.do(t, http.MethodPatch, "/rules/vexor", `{"sensitivity":"low"}`, "")
	if code != http.StatusOK || !strings.Contains(body, `"sensitivity":"low"`) {
		t.Fatalf("patch: %d %s", code, body)
	}
	code, body = ts.do(t, http.MethodPost, "/rules/vexor/disable", "", "")
	if code != http.StatusOK || !strings.Contains(body, `"enabled":false`) {
		t.Fatalf("disable: %d %s", code, body)
	}
	code, body = ts.do(t, http.MethodGet, "/rules?enabled=false", "", "")
	if code != http.StatusOK || !strings.Contains(body, `"count":1`) {
		t.Fatalf("list disabled: %d %s", code, body)
	}
	if code, _ := ts.do(t, http.MethodDelete, "/rules/vexor", "", ""); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/rules/vexor", "", ""); code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", code)
	}
	if code, _ := ts.do(t, http.MethodDelete, "/rules/vexor", "", ""); code != http.StatusNotFound {
		t.Fatalf("second delete: %d", code)
	}
}

func TestInvalidRuleRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	bad := `{"id":"late","condition":{"type":"time","operator":"equals","value":"22:00"},"actions":[]}`
	code, body := ts.do(t, http.MethodPost, "/rules", bad, "")
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", code, body)
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.Error.Code != "invalid_rule" {
		t.Fatalf("unexpected envelope: %s", body)
	}
	if code, _ := ts.do(t, http.MethodPost, "/rules", "{", ""); code != http.StatusBadRequest {
		t.Fatalf("malformed json should be 400, got %d", code)
	}
}

func TestTemplates(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.do(t, http.MethodGet, "/rules/templates", "", "")
	if code != http.StatusOK || !strings.Contains(body, "vexor-warning") {
		t.Fatalf("list templates: %d %s", code, body)
	}
	code, body = ts.do(t, http.MethodPost, "/rules/templates/vexor-warning", `{"id":"v1"}`, "")
	if code != http.StatusCreated || !strings.Contains(body, `"id":"v1"`) {
		t.Fatalf("apply template: %d %s", code, body)
	}
	if code, _ := ts.do(t, http.MethodPost, "/rules/templates/nope", "", ""); code != http.StatusNotFound {
		t.Fatalf("unknown template should be 404, got %d", code)
	}
}

func TestAuthRequiresAdminForMutations(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.API.JWTSecret = secret
		cfg.API.RequireAdminRole = true
	})

	if code, _ := ts.do(t, http.MethodGet, "/rules", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing token should be 401, got %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/rules", "", signToken(t, "other", "u1")); code != http.StatusUnauthorized {
		t.Fatalf("bad signature should be 401, got %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/health", "", ""); code != http.StatusOK {
		t.Fatalf("health is open, got %d", code)
	}
	viewer := signToken(t, secret, "u1", "authenticated")
	if code, _ := ts.do(t, http.MethodGet, "/rules", "", viewer); code != http.StatusOK {
		t.Fatalf("viewer read should pass, got %d", code)
	}
	if code, _ := ts.do(t, http.MethodPost, "/rules", vexorJSON, viewer); code != http.StatusForbidden {
		t.Fatalf("viewer write should be 403, got %d", code)
	}
	admin := signToken(t, secret, "svc", "service_role")
	if code, body := ts.do(t, http.MethodPost, "/rules", vexorJSON, admin); code != http.StatusCreated {
		t.Fatalf("admin write: %d %s", code, body)
	}
}

func TestPoliceArmDisarm(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.do(t, http.MethodPost, "/police/arm", `{"duration":"1h"}`, "")
	if code != http.StatusOK || !strings.Contains(body, `"armed":true`) {
		t.Fatalf("arm: %d %s", code, body)
	}
	if !ts.gate.State().Armed {
		t.Fatalf("gate should be armed")
	}
	if code, _ := ts.do(t, http.MethodPost, "/police/arm", `{"duration":"soon"}`, ""); code != http.StatusBadRequest {
		t.Fatalf("bad duration should be 400")
	}
	code, body = ts.do(t, http.MethodPost, "/police/disarm", "", "")
	if code != http.StatusOK || !strings.Contains(body, `"armed":false`) {
		t.Fatalf("disarm: %d %s", code, body)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.do(t, http.MethodGet, "/status", "", "")
	if code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"version":"test"`) {
		t.Fatalf("status: %d %s", code, body)
	}
	code, body = ts.do(t, http.MethodGet, "/metrics", "", "")
	if code != http.StatusOK || !strings.Contains(body, "homeguard_events_dropped_total") {
		t.Fatalf("metrics: %d", code)
	}
}

func TestAlertsQuery(t *testing.T) {
	ts := newTestServer(t, nil)
	now := time.Now().UTC()
	ts.ring.AddBatch([]model.Alert{
		{ID: "a1", RuleID: "r1", EventID: "e1", CreatedAt: now.Add(-time.Hour)},
		{ID: "a2", RuleID: "r2", EventID: "e2", CreatedAt: now},
	})
	code, body := ts.do(t, http.MethodGet, "/alerts?rule_id=r2", "", "")
	if code != http.StatusOK || !strings.Contains(body, `"count":1`) || !strings.Contains(body, `"a2"`) {
		t.Fatalf("by rule: %d %s", code, body)
	}
	code, body = ts.do(t, http.MethodGet, "/alerts?limit=5", "", "")
	if code != http.StatusOK || !strings.Contains(body, `"count":2`) {
		t.Fatalf("list: %d %s", code, body)
	}
	if code, _ := ts.do(t, http.MethodGet, "/alerts?since=yesterday", "", ""); code != http.StatusBadRequest {
		t.Fatalf("bad since should be 400")
	}
	if code, _ := ts.do(t, http.MethodGet, "/alerts?source=store", "", ""); code != http.StatusNotImplemented {
		t.Fatalf("no history configured should be 501")
	}
	if code, _ := ts.do(t, http.MethodPost, "/admin/clear", `{"target":"alerts"}`, ""); code != http.StatusOK {
		t.Fatalf("clear failed")
	}
	if ts.ring.Len() != 0 {
		t.Fatalf("ring should be empty")
	}
}

func TestAlertsFiltersCombine(t *testing.T) {
	ts := newTestServer(t, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ts.ring.AddBatch([]model.Alert{
		{ID: "a1", RuleID: "r1", EventID: "e1", EventKind: "Foe", DeviceID: "porch", Severity: model.SeverityCritical, CreatedAt: base},
		{ID: "a2", RuleID: "r2", EventID: "e1", EventKind: "Foe", DeviceID: "porch", Severity: model.SeverityHigh, CreatedAt: base.Add(time.Minute)},
		{ID: "a3", RuleID: "r1", EventID: "e2", EventKind: "Fire", DeviceID: "hall", Severity: model.SeverityCritical, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "a4", RuleID: "r1", EventID: "e3", EventKind: "Foe", DeviceID: "hall", Severity: model.SeverityLow, CreatedAt: base.Add(3 * time.Minute)},
	})
	since := url.QueryEscape(base.Add(90 * time.Second).Format(time.RFC3339))
	cases := map[string][]string{
		"device_id=hall":                       {"a3", "a4"},
		"severity=critical":                    {"a1", "a3"},
		"severity=CRITICAL&device_id=hall":     {"a3"},
		"event_kind=foe":                       {"a1", "a2", "a4"},
		"event_kind=Foe&rule_id=r1":            {"a1", "a4"},
		"rule_id=r1&device_id=porch":           {"a1"},
		"event_id=e1":                          {"a1", "a2"},
		"event_id=e1&severity=high":            {"a2"},
		"since=" + since:                       {"a3", "a4"},
		"since=" + since + "&event_kind=Fire":  {"a3"},
		"limit=2":                              {"a3", "a4"},
		"rule_id=r1&limit=1":                   {"a4"},
		"device_id=porch&event_kind=Fire":      {},
		"device_id=porch&event_id=e1&limit=10": {"a1", "a2"},
	}
	for query, want := range cases {
		code, body := ts.do(t, http.MethodGet, "/alerts?"+query, "", "")
		if code != http.StatusOK {
			t.Fatalf("%s: %d %s", query, code, body)
		}
		var resp struct {
			Alerts []model.Alert `json:"alerts"`
			Count  int           `json:"count"`
		}
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			t.Fatalf("%s: decode: %v", query, err)
		}
		got := make([]string, 0, len(resp.Alerts))
		for _, a := range resp.Alerts {
			got = append(got, a.ID)
		}
		if strings.Join(got, ",") != strings.Join(want, ",") || resp.Count != len(want) {
			t.Fatalf("%s: got %v (count %d), want %v", query, got, resp.Count, want)
		}
	}
	if code, _ := ts.do(t, http.MethodGet, "/alerts?severity=extreme", "", ""); code != http.StatusBadRequest {
		t.Fatalf("unknown severity should be 400")
	}
}

func TestFacesUpdate(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.do(t, http.MethodPost, "/config/faces", `{"friends":[" alice ",""],"foes":["p-77"],"device_foes":{"porch":["p-9"]," ":["x"]}}`, "")
	if code != http.StatusOK {
		t.Fatalf("set faces: %d %s", code, body)
	}
	faces := ts.cfg.Get().Faces
	if len(faces.Friends) != 1 || faces.Friends[0] != "alice" {
		t.Fatalf("friends not sanitized: %v", faces.Friends)
	}
	if len(faces.DeviceFoes) != 1 || faces.DeviceFoes["porch"][0] != "p-9" {
		t.Fatalf("device foes not sanitized: %v", faces.DeviceFoes)
	}
}
