package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/xela07ax/opsguard/internal/audit"
	"github.com/xela07ax/opsguard/internal/domain"
	"github.com/xela07ax/opsguard/internal/engine"
	"github.com/xela07ax/opsguard/internal/infra/auth"
	"github.com/xela07ax/opsguard/internal/repository/sqlstore"
	"go.uber.org/zap"
)

type staticSource struct {
	mu     sync.Mutex
	sample domain.SystemMetricSample
}

func (s *staticSource) set(v domain.SystemMetricSample) {
	s.mu.Lock()
	s.sample = v
	s.mu.Unlock()
}

func (s *staticSource) Sample(context.Context) (domain.SystemMetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample, nil
}

type fixture struct {
	core   *engine.Engine
	source *staticSource
	srv    *APIServer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	src := &staticSource{}
	core, err := engine.New(engine.Config{
		TickInterval: time.Hour,
		Rules: []domain.AlertRule{{
			ID: "cpu-high", Name: "High CPU", MetricPath: "cpu", Threshold: 90,
			Severity: domain.SeverityCritical, Enabled: true, CooldownMinutes: 5,
		}},
	}, engine.Deps{
		Source:  src,
		Runners: func(domain.ActionSpec) engine.Runner { return engine.RunnerFunc(func(context.Context) error { return nil }) },
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(core.Stop)
	return &fixture{core: core, source: src, srv: NewAPIServer(core, opts, zap.NewNop())}
}

func (f *fixture) raiseAlert(t *testing.T) domain.Alert {
	t.Helper()
	f.source.set(domain.SystemMetricSample{CPU: 99})
	f.core.Tick(context.Background())
	f.core.Wait()
	active := f.core.ActiveAlerts()
	if len(active) == 0 {
		t.Fatalf("no alert raised")
	}
	return active[len(active)-1]
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	if rec := f.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped engine: got %d", rec.Code)
	}
	if err := f.core.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Trace-ID") == "" {
		t.Fatalf("running engine: got %d, trace %q", rec.Code, rec.Header().Get("X-Trace-ID"))
	}
}

func TestTraceIDIsPropagated(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/v1/alerts", nil, "X-Trace-ID", "trace-42")
	if rec.Header().Get("X-Trace-ID") != "trace-42" {
		t.Fatalf("incoming trace id must be kept")
	}
}

func TestAlertLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.raiseAlert(t)

	list := decode[[]domain.Alert](t, f.do(t, http.MethodGet, "/v1/alerts?state=critical", nil))
	if len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("unexpected critical list: %+v", list)
	}
	if rec := f.do(t, http.MethodGet, "/v1/alerts?state=bogus", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad state: got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/v1/alerts/1/ack", nil)
	if rec.Code != http.StatusOK || !decode[domain.Alert](t, rec).Acknowledged {
		t.Fatalf("ack: %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/v1/alerts/1/resolve", nil)
	if rec.Code != http.StatusOK || decode[domain.Alert](t, rec).ResolvedAt == nil {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body)
	}

	if rec := f.do(t, http.MethodPost, "/v1/alerts/999/ack", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown alert: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/alerts/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: got %d", rec.Code)
	}
	if list := decode[[]domain.Alert](t, f.do(t, http.MethodGet, "/v1/alerts", nil)); len(list) != 0 {
		t.Fatalf("active list should be empty, got %d", len(list))
	}
}

type recordingToggler struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingToggler) Publish(_ context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := "off"
	if enabled {
		state = "on"
	}
	r.calls = append(r.calls, id+":"+state)
	return nil
}

func TestRuleEndpoints(t *testing.T) {
	toggler := &recordingToggler{}
	f := newFixture(t, Options{Toggler: toggler})

	body := map[string]any{
		"name": "Disk full", "metric_path": "disk", "threshold": 90,
		"severity": "warning", "enabled": true, "cooldown_minutes": 10,
	}
	rec := f.do(t, http.MethodPut, "/v1/rules/disk-full", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", rec.Code, rec.Body)
	}
	st := decode[domain.RuleStatus](t, rec)
	if st.ID != "disk-full" || st.State != domain.RuleArmed {
		t.Fatalf("unexpected status: %+v", st)
	}

	body["severity"] = "fatal"
	if rec := f.do(t, http.MethodPut, "/v1/rules/disk-full", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule: got %d %s", rec.Code, rec.Body)
	}

	if rec := f.do(t, http.MethodPost, "/v1/rules/disk-full/disable", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("disable: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/rules/nope/enable", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown rule: got %d", rec.Code)
	}
	if len(toggler.calls) != 1 || toggler.calls[0] != "disk-full:off" {
		t.Fatalf("unexpected toggles: %v", toggler.calls)
	}

	rules := decode[[]domain.RuleStatus](t, f.do(t, http.MethodGet, "/v1/rules", nil))
	if len(rules) != 2 || rules[1].Enabled {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestRecoveryEndpoints(t *testing.T) {
	f := newFixture(t, Options{})

	specs := decode[[]map[string]any](t, f.do(t, http.MethodGet, "/v1/recovery/actions?type=client", nil))
	if len(specs) != 2 || specs[0]["id"] != "cache-clear" || specs[0]["running"] != false {
		t.Fatalf("unexpected actions: %+v", specs)
	}
	if rec := f.do(t, http.MethodGet, "/v1/recovery/actions?type=cosmic", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/v1/recovery/actions/cache-clear/execute", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("execute: %d %s", rec.Code, rec.Body)
	}
	f.core.Wait()
	if rec := f.do(t, http.MethodPost, "/v1/recovery/actions/nope/execute", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action: got %d", rec.Code)
	}

	history := decode[[]domain.ExecutionRecord](t, f.do(t, http.MethodGet, "/v1/recovery/history", nil))
	if len(history) != 1 || history[0].TriggeredBy != "manual" || !history[0].Success {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestErrorEndpoints(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/v1/errors", map[string]any{
		"error_type": "database", "severity": "critical", "message": "pool exhausted",
		"context": map[string]any{"component": "database"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("report: %d %s", rec.Code, rec.Body)
	}
	resp := decode[struct {
		Event    domain.ErrorEvent `json:"event"`
		Launched []string          `json:"launched_actions"`
	}](t, rec)
	if resp.Event.ID == "" || len(resp.Launched) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	f.core.Wait()

	events := decode[[]domain.ErrorEvent](t, f.do(t, http.MethodGet, "/v1/errors", nil))
	if len(events) != 1 || !events[0].AutoResolved {
		t.Fatalf("event should be auto-resolved: %+v", events)
	}

	rec = f.do(t, http.MethodPost, "/v1/errors", map[string]any{"error_type": "client", "severity": "info", "message": "retry"})
	launched := decode[map[string]json.RawMessage](t, rec)["launched_actions"]
	if string(launched) != "[]" {
		t.Fatalf("launched_actions must be [], got %s", launched)
	}

	if rec := f.do(t, http.MethodPost, "/v1/errors", map[string]any{"error_type": "cosmic", "severity": "info", "message": "x"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid event: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/errors/missing/resolve", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown error: got %d", rec.Code)
	}
}

func TestReportEndpoints(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodGet, "/v1/report?download=1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("report: %d %v", rec.Code, rec.Header())
	}
	if !strings.Contains(rec.Body.String(), `"execution_history":[]`) {
		t.Fatalf("empty history must be []: %s", rec.Body)
	}

	comps := decode[[]domain.ComponentHealth](t, f.do(t, http.MethodGet, "/v1/components", nil))
	if len(comps) != 3 {
		t.Fatalf("expected 3 components, got %d", len(comps))
	}

	if rec := f.do(t, http.MethodGet, "/v1/journal", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("journal without storage: got %d", rec.Code)
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	f := newFixture(t, Options{})

	if rec := f.do(t, http.MethodGet, "/v1/samples", nil); rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty window: %d %s", rec.Code, rec.Body)
	}
	f.raiseAlert(t)
	samples := decode[[]domain.SystemMetricSample](t, f.do(t, http.MethodGet, "/v1/samples", nil))
	if len(samples) != 1 || samples[0].CPU != 99 {
		t.Fatalf("unexpected window: %+v", samples)
	}

	if rec := f.do(t, http.MethodPost, "/v1/monitoring/pause", nil); rec.Code != http.StatusConflict {
		t.Fatalf("pause of a stopped engine: got %d", rec.Code)
	}
	if err := f.core.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	type state struct {
		Instance   string `json:"instance"`
		Monitoring bool   `json:"monitoring"`
	}
	paused := decode[state](t, f.do(t, http.MethodPost, "/v1/monitoring/pause", nil))
	if paused.Monitoring || paused.Instance != f.core.InstanceID() {
		t.Fatalf("unexpected pause state: %+v", paused)
	}
	if rec := f.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("paused health: got %d", rec.Code)
	}
	if resumed := decode[state](t, f.do(t, http.MethodPost, "/v1/monitoring/resume", nil)); !resumed.Monitoring {
		t.Fatalf("unexpected resume state: %+v", resumed)
	}
}

type stubJournal struct {
	got sqlstore.Filter
	err error
}

func (s *stubJournal) FetchEvents(_ context.Context, f sqlstore.Filter) ([]audit.Event, error) {
	s.got = f
	return []audit.Event{{ID: "1", Kind: audit.KindAlertRaised}}, s.err
}

func TestJournalEndpoint(t *testing.T) {
	j := &stubJournal{}
	f := newFixture(t, Options{Journal: j})

	rec := f.do(t, http.MethodGet, "/v1/journal?kind=alert_raised&since=2024-03-01T00:00:00Z&limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("journal: %d %s", rec.Code, rec.Body)
	}
	if j.got.Kind != audit.KindAlertRaised || j.got.Limit != 5 || j.got.Since.IsZero() {
		t.Fatalf("filter not parsed: %+v", j.got)
	}
	if rec := f.do(t, http.MethodGet, "/v1/journal?since=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/journal?limit=-1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: got %d", rec.Code)
	}
	j.err = errors.New("db down")
	if rec := f.do(t, http.MethodGet, "/v1/journal", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("storage error: got %d", rec.Code)
	}
}

func TestMutatingRoutesRequireScope(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := newFixture(t, Options{Validator: auth.NewRSAValidator(&key.PublicKey)})
	f.raiseAlert(t)

	token := func(scopes map[string]bool) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, auth.Claims{
			UserID:           "oncall-1",
			Scopes:           scopes,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + s
	}

	if rec := f.do(t, http.MethodPost, "/v1/alerts/1/ack", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/alerts/1/ack", nil, "Authorization", token(map[string]bool{"ops.read": true})); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong scope: got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/alerts/1/ack", nil, "Authorization", token(map[string]bool{auth.ScopeOpsWrite: true})); rec.Code != http.StatusOK {
		t.Fatalf("valid token: got %d", rec.Code)
	}
	// Чтение остается открытым
	if rec := f.do(t, http.MethodGet, "/v1/alerts", nil); rec.Code != http.StatusOK {
		t.Fatalf("read: got %d", rec.Code)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	f := newFixture(t, Options{})
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Подписка на сервере появляется асинхронно: генерируем события, пока не придет первое
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = f.core.ExecuteAction(context.Background(), "cache-clear")
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev engine.StreamEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != engine.EventExecution || ev.Execution == nil || ev.Execution.ActionID != "cache-clear" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
