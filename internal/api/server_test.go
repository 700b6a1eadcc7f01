package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/defrag/fragd/internal/api"
	"github.com/defrag/fragd/internal/batch"
	"github.com/defrag/fragd/internal/engine"
	"github.com/defrag/fragd/internal/models"
	"github.com/defrag/fragd/internal/ratelimit"
	"github.com/defrag/fragd/internal/store"
	"github.com/defrag/fragd/internal/tz"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

type fakeTrigger struct {
	err     error
	utcDate string
	runTS   time.Time
}

func (f *fakeTrigger) ComputeDay(_ context.Context, utcDate string, runTS time.Time) (*batch.Summary, error) {
	f.utcDate, f.runTS = utcDate, runTS
	if f.err != nil {
		return nil, f.err
	}
	return &batch.Summary{RunID: "r1", UTCDate: utcDate, Errors: []string{}, OK: true}, nil
}

func newServer(t *testing.T, st *store.Store, trig api.Trigger) http.Handler {
	t.Helper()
	return api.NewServer(st, trig, ratelimit.New(60, 2, 16), tz.NewIANA(), ":0", zerolog.Nop()).Handler()
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)
	h := newServer(t, st, &fakeTrigger{})

	w := do(h, "GET", "/healthz")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), &fakeTrigger{})

	w := do(h, "GET", "/metrics")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default collectors in metrics output")
	}
}

func TestComputeDay_Summary(t *testing.T) {
	t.Parallel()
	trig := &fakeTrigger{}
	h := newServer(t, setupTestStore(t), trig)

	w := do(h, "POST", "/v1/admin/compute-day?utcDate=2024-06-01&utcRunTs=2024-06-01T00:05:00Z")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"runId", "utcDate", "nasaRawHash", "usersProcessed", "eventsWritten", "fragsWritten", "errors", "ok"} {
		if _, ok := got[key]; !ok {
			t.Errorf("summary missing %q: %s", key, w.Body.String())
		}
	}
	if trig.utcDate != "2024-06-01" || !trig.runTS.Equal(time.Date(2024, 6, 1, 0, 5, 0, 0, time.UTC)) {
		t.Errorf("trigger got %s %v", trig.utcDate, trig.runTS)
	}
}

func TestComputeDay_DateDefaultsFromRunTimestamp(t *testing.T) {
	t.Parallel()
	trig := &fakeTrigger{}
	h := newServer(t, setupTestStore(t), trig)

	w := do(h, "POST", "/v1/admin/compute-day?utcRunTs=2024-06-02T23:30:00-04:00")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if trig.utcDate != "2024-06-03" {
		t.Errorf("utcDate = %s, want 2024-06-03", trig.utcDate)
	}
}

func TestComputeDay_BadParams(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), &fakeTrigger{})

	for _, target := range []string{
		"/v1/admin/compute-day?utcDate=June",
		"/v1/admin/compute-day?utcRunTs=yesterday",
	} {
		if w := do(h, "POST", target); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestComputeDay_DataUnavailable(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), &fakeTrigger{err: errors.Join(batch.ErrDataUnavailable, errors.New("503"))})

	w := do(h, "POST", "/v1/admin/compute-day?utcDate=2024-06-01")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"DATA_UNAVAILABLE"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestComputeDay_RateLimited(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), &fakeTrigger{})

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(h, "POST", "/v1/admin/compute-day?utcDate=2024-06-01").Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestComputeDay_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := newServer(t, setupTestStore(t), &fakeTrigger{})
	if w := do(h, "GET", "/v1/admin/compute-day"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestAssetLookup(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)
	ctx := context.Background()
	hash := strings.Repeat("ab", 32)
	if err := st.EnsurePublicAsset(ctx, hash); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertPrivateAsset(ctx, models.AssetPrivate{Hash: hash, Canonical: "c", ParamsJSON: `{"pressure_bucket":"HIGH"}`}); err != nil {
		t.Fatal(err)
	}
	h := newServer(t, st, &fakeTrigger{})

	w := do(h, "GET", "/v1/assets/"+hash)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"MISSING"`) || !strings.Contains(body, `"type":"STILL"`) {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, "pressure_bucket") {
		t.Error("public lookup leaked private parameters")
	}

	if w := do(h, "GET", "/v1/assets/"+strings.Repeat("cd", 32)); w.Code != http.StatusNotFound {
		t.Errorf("unknown hash: expected 404, got %d", w.Code)
	}
	if w := do(h, "GET", "/v1/assets/not-a-hash"); w.Code != http.StatusNotFound {
		t.Errorf("malformed hash: expected 404, got %d", w.Code)
	}
}

func TestFragReadout(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)
	ctx := context.Background()
	hash := strings.Repeat("ef", 32)
	if err := st.UpsertFrag(ctx, models.Frag{
		UserID: "u1", LocalDate: "2024-06-01", EngineVersion: engine.Version,
		TopEventID: "e1", SimpleTextState: "Open road today.", SimpleTextAction: "Say the thing plainly.", AssetHash: hash,
	}); err != nil {
		t.Fatal(err)
	}
	h := newServer(t, st, &fakeTrigger{})

	w := do(h, "GET", "/v1/frags/u1/2024-06-01")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Status string `json:"status"`
		Frag   struct {
			SimpleTextState string `json:"simple_text_state"`
			AssetHash       string `json:"asset_hash"`
			AssetStatus     string `json:"asset_status"`
		} `json:"frag"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "READY" || got.Frag.SimpleTextState != "Open road today." || got.Frag.AssetHash != hash {
		t.Errorf("got %+v", got)
	}
	if got.Frag.AssetStatus != "MISSING" {
		t.Errorf("AssetStatus = %q, want MISSING", got.Frag.AssetStatus)
	}
	if strings.Contains(w.Body.String(), "top_event_id") {
		t.Error("readout should not expose the event id")
	}

	w = do(h, "GET", "/v1/frags/u1/2024-06-02")
	if !strings.Contains(w.Body.String(), `"status":"PENDING"`) {
		t.Errorf("missing frag body = %s", w.Body.String())
	}

	if w := do(h, "GET", "/v1/frags/u1/June"); w.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", w.Code)
	}
	if w := do(h, "GET", "/v1/frags/u1/today"); w.Code != 200 {
		t.Errorf("today: expected 200, got %d", w.Code)
	}
}
