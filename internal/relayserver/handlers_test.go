package relayserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgefn/gemini-relay/internal/config"
	"github.com/edgefn/gemini-relay/internal/relay"
)

const testKey = "sk-test-upstream-credential"

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Upstream.BaseURL = baseURL
	cfg.Upstream.Model = "gemini-2.0-flash"
	cfg.Relay.ExposeUpstreamErrorDetails = true
	cfg.Logging.DisableAccessLog = true
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config, key string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := &state{}
	st.SetUpstreamKey(key)
	client := &relay.Client{
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: 5 * time.Second,
	}
	return NewRouter(cfg, st, client, nil, false)
}

// untouchableUpstream fails the test if the relay ever reaches it.
func untouchableUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream must not be called, got %s %s", r.Method, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(r *gin.Engine, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/generate", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestGenerate_MethodNotAllowed_NoUpstreamCall(t *testing.T) {
	mock := untouchableUpstream(t)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		req := httptest.NewRequest(method, "/api/generate", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: code=%d body=%s", method, w.Code, w.Body.String())
		}
		if out := decodeBody(t, w); out["error"] == "" {
			t.Fatalf("%s: missing error field: %s", method, w.Body.String())
		}
	}
}

func TestGenerate_BadContentType_NoUpstreamCall(t *testing.T) {
	mock := untouchableUpstream(t)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("prompt=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGenerate_MissingFields_NoUpstreamCall(t *testing.T) {
	mock := untouchableUpstream(t)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	for _, body := range []string{
		`{}`,
		`{"question":"hi"}`,
		`{"prompt":""}`,
		`{"contents":[]}`,
		`not json`,
	} {
		w := doJSON(r, http.MethodPost, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: code=%d resp=%s", body, w.Code, w.Body.String())
		}
	}
}

func TestGenerate_MissingCredential_NoUpstreamCall(t *testing.T) {
	mock := untouchableUpstream(t)
	r := newTestRouter(t, testConfig(t, mock.URL), "")

	w := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	out := decodeBody(t, w)
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "not configured") {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestGenerate_Success(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"X"}]}}]}`))
	}))
	t.Cleanup(mock.Close)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	w := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	out := decodeBody(t, w)
	if out["success"] != true || out["content"] != "X" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestGenerate_UpstreamErrorPassthrough(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	t.Cleanup(mock.Close)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	w := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	out := decodeBody(t, w)
	if out["success"] != false {
		t.Fatalf("success should be false: %s", w.Body.String())
	}
	details, _ := out["details"].(string)
	if !strings.Contains(details, "rate limited") {
		t.Fatalf("details should carry the upstream error text: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), testKey) {
		t.Fatalf("credential leaked into response: %s", w.Body.String())
	}
}

func TestGenerate_UpstreamErrorDetailsHidden(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"upstream detail"}`))
	}))
	t.Cleanup(mock.Close)
	cfg := testConfig(t, mock.URL)
	cfg.Relay.ExposeUpstreamErrorDetails = false
	r := newTestRouter(t, cfg, testKey)

	w := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	out := decodeBody(t, w)
	if _, ok := out["details"]; ok {
		t.Fatalf("details must be hidden: %s", w.Body.String())
	}
	if out["success"] != false || out["error"] == "" {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}
}

func TestGenerate_MalformedUpstreamResponse(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	t.Cleanup(mock.Close)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	w := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	out := decodeBody(t, w)
	if out["error"] != "failed to generate response" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestGenerate_UpstreamUnreachable(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	mock.Close()
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	w := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	out := decodeBody(t, w)
	if out["error"] != "internal server error" || out["success"] != false {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), testKey) {
		t.Fatalf("credential leaked: %s", w.Body.String())
	}
}

func TestGenerate_DeviceCompare_VerbatimUpstreamPrompt(t *testing.T) {
	var upstreamBody string
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		b, _ := json.Marshal(req)
		upstreamBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"comparison"}]}}]}`))
	}))
	t.Cleanup(mock.Close)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	w := doJSON(r, http.MethodPost, `{"device1":"USB-C charger","device2":"Lightning cable"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(upstreamBody, "USB-C charger") || !strings.Contains(upstreamBody, "Lightning cable") {
		t.Fatalf("device names must reach upstream verbatim: %s", upstreamBody)
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"deterministic"}]}}]}`))
	}))
	t.Cleanup(mock.Close)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	first := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	second := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	if first.Code != second.Code || first.Body.String() != second.Body.String() {
		t.Fatalf("responses differ:\n%s\n%s", first.Body.String(), second.Body.String())
	}
}

func TestGenerate_BodyTooLarge(t *testing.T) {
	mock := untouchableUpstream(t)
	cfg := testConfig(t, mock.URL)
	cfg.Relay.MaxBodyBytes = 64
	r := newTestRouter(t, cfg, testKey)

	big := `{"prompt":"` + strings.Repeat("a", 256) + `"}`
	w := doJSON(r, http.MethodPost, big)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGenerate_ShapeDisabled(t *testing.T) {
	mock := untouchableUpstream(t)
	cfg := testConfig(t, mock.URL)
	cfg.Relay.AcceptedShapes = []string{config.ShapeContents}
	r := newTestRouter(t, cfg, testKey)

	w := doJSON(r, http.MethodPost, `{"prompt":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	mock := untouchableUpstream(t)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	out := decodeBody(t, w)
	if out["ok"] != true {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestRequestID_EchoedOnResponse(t *testing.T) {
	mock := untouchableUpstream(t)
	r := newTestRouter(t, testConfig(t, mock.URL), testKey)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "fixed-id")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got != "fixed-id" {
		t.Fatalf("request id not echoed: %q", got)
	}

	// generated when absent
	w2 := doJSON(r, http.MethodPost, `{}`)
	if w2.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id should be generated")
	}
}
