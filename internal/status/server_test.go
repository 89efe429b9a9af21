package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"polofeed/config"
	"polofeed/internal/connection"
	"polofeed/internal/events"
	"polofeed/internal/metrics"
	"polofeed/logger"
	"polofeed/models"
)

type fakeStatus struct {
	public connection.Status
}

func (f fakeStatus) Status() map[models.ChannelKind]connection.ChannelStatus {
	return map[models.ChannelKind]connection.ChannelStatus{
		models.ChannelPublic:  {Channel: models.ChannelPublic, Status: f.public, ActiveSubscriptions: 3},
		models.ChannelPrivate: {Channel: models.ChannelPrivate, Status: connection.StatusDisconnected},
	}
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	srv, err := NewServer(config.StatusConfig{Enabled: true, Address: ":0"}, logger.Logger(), opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)
	return srv
}

func serve(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                           "0.0.0.0:8080",
		"  :9090  ":                  "0.0.0.0:9090",
		"localhost":                  "localhost:8080",
		"[::1]:443":                  "[::1]:443",
		"::1":                        "[::1]:8080",
		"*:8080":                     "0.0.0.0:8080",
		"http://10.0.0.5:8080":       "10.0.0.5:8080",
		"https://status.example.com": "status.example.com:8080",
	}
	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.StatusConfig{Enabled: false}, logger.Logger(), Options{})
	if err != nil || srv != nil {
		t.Fatalf("expected nil server when disabled, got %v, %v", srv, err)
	}
	if _, err := NewServer(config.StatusConfig{Enabled: true}, logger.Logger(), Options{}); err == nil {
		t.Fatal("expected error without a status provider")
	}
}

func TestHealthzFollowsPublicChannel(t *testing.T) {
	up := newTestServer(t, Options{Connection: fakeStatus{public: connection.StatusConnected}})
	if rec := serve(t, up, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}

	down := newTestServer(t, Options{Connection: fakeStatus{public: connection.StatusConnecting}})
	rec := serve(t, down, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Connecting") {
		t.Fatalf("healthz body missing status: %s", rec.Body.String())
	}
}

func TestStatusReportsChannelsSinkAndEvents(t *testing.T) {
	bus := events.NewBus()
	srv := newTestServer(t, Options{
		Service:    "polofeed",
		Connection: fakeStatus{public: connection.StatusConnected},
		Bus:        bus,
		Sink:       func() metrics.SinkStats { return metrics.SinkStats{WritesOK: 7, Workers: 4} },
	})

	bus.Emit(events.Event{Name: events.Connected, Channel: models.ChannelPublic})
	bus.Emit(events.Event{Name: events.Error, Channel: models.ChannelPrivate, Err: errors.New("no credential")})

	rec := serve(t, srv, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Service  string                              `json:"service"`
		Channels map[string]connection.ChannelStatus `json:"channels"`
		Events   map[string]int64                    `json:"events"`
		Sink     metrics.SinkStats                   `json:"sink"`
		Last     *errorRecord                        `json:"last_error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != "polofeed" {
		t.Errorf("service = %q", body.Service)
	}
	if body.Channels["public"].ActiveSubscriptions != 3 {
		t.Errorf("unexpected channels: %+v", body.Channels)
	}
	if body.Events["connected"] != 1 || body.Events["error"] != 1 {
		t.Errorf("unexpected event counts: %v", body.Events)
	}
	if body.Sink.WritesOK != 7 {
		t.Errorf("unexpected sink stats: %+v", body.Sink)
	}
	if body.Last == nil || body.Last.Error != "no credential" {
		t.Errorf("last error not reported: %+v", body.Last)
	}
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	prom := metrics.NewPrometheus()
	prom.Start()
	t.Cleanup(prom.Stop)

	srv := newTestServer(t, Options{Connection: fakeStatus{public: connection.StatusConnected}, Prometheus: prom})
	metrics.EmitMetric(nil, "router", "frames_dropped", 1, "counter", logger.Fields{"reason": "parse_error"})

	rec := serve(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "polofeed_frames_dropped_total") {
		t.Fatalf("prometheus exposition missing counter")
	}

	api := serve(t, srv, "/api/metrics")
	if !strings.Contains(api.Body.String(), "frames_dropped") {
		t.Fatalf("recent metrics missing: %s", api.Body.String())
	}
}

func TestLogStoreKeepsWarnings(t *testing.T) {
	log := logger.Logger()
	srv, err := NewServer(config.StatusConfig{Enabled: true}, log, Options{Connection: fakeStatus{}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cleanup)

	log.WithComponent("sink").Info("ignored")
	log.WithComponent("sink").WithField("key", "BTC_USDT").Warn("sink write failed")

	logs := srv.logStore.snapshot()
	if len(logs) != 1 || logs[0].Component != "sink" || logs[0].Fields["key"] != "BTC_USDT" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}
