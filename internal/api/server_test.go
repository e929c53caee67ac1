package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pdarray-engine/config"
	"pdarray-engine/internal/analyzer"
	"pdarray-engine/internal/auth"
	"pdarray-engine/internal/events"
	"pdarray-engine/internal/pdarray"
	"pdarray-engine/internal/sink"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewEventBus(zerolog.Nop())
	a := analyzer.New(analyzer.Options{PdArray: pdarray.DefaultOptions(), Timeframes: []string{"5m"}}, bus, zerolog.Nop())
	hub := NewWSHub(nil, zerolog.Nop())
	hub.Attach(bus)
	go hub.Run()
	t.Cleanup(hub.Stop)

	cfg := config.Default().ServerConfig
	cfg.JWTSecret = secret
	return NewServer(cfg, "TEST", a, hub, zerolog.Nop())
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Expected JSON body, got %q", w.Body.String())
	}
	if into != nil {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("Unexpected data %s: %v", env.Data, err)
		}
	}
	return env
}

func TestHealthEchoesRequestID(t *testing.T) {
	s := newTestServer(t, "")
	w := do(s, http.MethodGet, "/api/v1/health", "", map[string]string{RequestIDHeader: "req-1"})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) != "req-1" {
		t.Errorf("Expected request id echoed, got %q", w.Header().Get(RequestIDHeader))
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["symbol"] != "TEST" {
		t.Errorf("Unexpected health body %v", body)
	}

	if w := do(s, http.MethodGet, "/api/v1/health", "", nil); len(w.Header().Get(RequestIDHeader)) != 32 {
		t.Error("Expected a generated request id")
	}
}

func TestPostBarsReturnsEvents(t *testing.T) {
	s := newTestServer(t, "")

	bars := []string{
		`{"open":100,"high":105,"low":95,"close":101,"time":"2024-03-04T09:30:00Z"}`,
		`{"open":100,"high":102,"low":90,"close":91,"time":"2024-03-04T09:31:00Z"}`,
		`{"index":2,"open":99,"high":103,"low":88,"close":89,"time":"2024-03-04T09:32:00Z"}`,
	}
	var last struct {
		Index  int            `json:"index"`
		Events []sink.Payload `json:"events"`
	}
	for _, b := range bars {
		w := do(s, http.MethodPost, "/api/v1/bars", b, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		decode(t, w, &last)
	}

	if last.Index != 2 {
		t.Errorf("Expected index 2, got %d", last.Index)
	}
	var detected int
	for _, ev := range last.Events {
		if ev.Type == events.EventSwingPointDetected {
			detected++
		}
	}
	if detected != 2 {
		t.Errorf("Expected a high and a low from the bearish bar, got %d detections", detected)
	}

	var points []sink.SwingPointPayload
	decode(t, do(s, http.MethodGet, "/api/v1/swing-points", "", nil), &points)
	if len(points) == 0 || points[len(points)-1].Index != 2 {
		t.Errorf("Unexpected swing points %+v", points)
	}
}

func TestPostBarRejectsMalformedInput(t *testing.T) {
	s := newTestServer(t, "")

	if w := do(s, http.MethodPost, "/api/v1/bars", `{"open":100}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing prices, got %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/v1/bars", `{"open":100,"high":90,"low":95,"close":99}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for high below low, got %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/v1/key-levels", `{"price":100,"kind":"middle","label":"PDH"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown kind, got %d", w.Code)
	}
}

func TestLevelQueryValidation(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?type=cisd", http.StatusOK},
		{"?type=CISD&active=true", http.StatusOK},
		{"?type=bogus", http.StatusBadRequest},
		{"?active=maybe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(s, http.MethodGet, "/api/v1/levels"+tt.query, "", nil); w.Code != tt.want {
			t.Errorf("%q: expected %d, got %d", tt.query, tt.want, w.Code)
		}
	}

	if w := do(s, http.MethodGet, "/api/v1/swing-points?period=2m", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown period, got %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/swing-points?period=5m", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for a configured period, got %d", w.Code)
	}
}

func TestIngestionRequiresTokenWhenSecretSet(t *testing.T) {
	s := newTestServer(t, "secret")
	bar := `{"open":100,"high":105,"low":95,"close":101}`

	if w := do(s, http.MethodPost, "/api/v1/bars", bar, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/levels", "", nil); w.Code != http.StatusOK {
		t.Errorf("Reads should stay public, got %d", w.Code)
	}

	token, _ := auth.NewTokenManager("secret", time.Hour).GenerateToken("feeder", auth.ScopeIngest)
	w := do(s, http.MethodPost, "/api/v1/bars", bar, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestKeyLevelAndFlush(t *testing.T) {
	s := newTestServer(t, "")
	do(s, http.MethodPost, "/api/v1/bars", `{"open":100,"high":105,"low":95,"close":101}`, nil)
	do(s, http.MethodPost, "/api/v1/bars", `{"open":100,"high":102,"low":90,"close":91}`, nil)

	var marker sink.SwingPointPayload
	w := do(s, http.MethodPost, "/api/v1/key-levels", `{"index":1,"price":104,"kind":"high","label":"PDH"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &marker)
	if marker.Label != "PDH" || marker.Price != 104 {
		t.Errorf("Unexpected marker %+v", marker)
	}

	if w := do(s, http.MethodPost, "/api/v1/flush", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from flush, got %d", w.Code)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	s := newTestServer(t, "")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var welcome map[string]interface{}
	if err := conn.ReadJSON(&welcome); err != nil || welcome["type"] != "CONNECTED" {
		t.Fatalf("Expected welcome message, got %v (%v)", welcome, err)
	}

	// Registration happens after the welcome is queued; wait for it before publishing
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.GetClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/v1/bars", "application/json",
		bytes.NewBufferString(`{"open":100,"high":105,"low":95,"close":101}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var p sink.Payload
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatalf("Expected an event, got %v", err)
	}
	if p.Type != events.EventSwingPointDetected || p.SwingPoint == nil || p.SwingPoint.Price != 105 {
		t.Errorf("Unexpected event %+v", p)
	}
}
