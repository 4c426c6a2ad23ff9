package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qavit/smorrery/internal/auth"
	"github.com/qavit/smorrery/internal/sbdb"
	"github.com/qavit/smorrery/internal/store"
	"github.com/qavit/smorrery/web"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// testServer wires a full server against fake upstream endpoints and
// temp-dir cache files.
func testServer(t *testing.T, authCfg auth.Config, queryURL, cadURL string) (http.Handler, *store.Store, *store.Store) {
	t.Helper()
	logger := testLogger()
	dir := t.TempDir()

	bodies := store.New("bodies", filepath.Join(dir, "neo20.json"), logger)
	approaches := store.New("close_approaches", filepath.Join(dir, "neoCA.json"), logger)
	client := sbdb.NewClient(queryURL, cadURL, logger)

	srv, err := NewServer(":0", logger, authCfg, client, bodies, approaches, web.Content, "")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv.HTTPServer().Handler, bodies, approaches
}

func TestSmallBodiesPassthroughAndCache(t *testing.T) {
	body := `{"count":1,"fields":["full_name","a"],"data":[["433 Eros","1.458"]]}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer upstream.Close()

	handler, bodies, _ := testServer(t, auth.Config{}, upstream.URL, "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/sbdb_query", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != body {
		t.Errorf("response should be the upstream body verbatim, got %s", w.Body.String())
	}

	// The cache file mirrors the response, pretty-printed.
	raw, err := os.ReadFile(bodies.Path())
	if err != nil {
		t.Fatalf("cache file not written: %v", err)
	}
	var fromFile, fromUpstream any
	json.Unmarshal(raw, &fromFile)
	json.Unmarshal([]byte(body), &fromUpstream)
	if fromFile == nil {
		t.Fatal("cache file is not valid JSON")
	}
}

// TestSmallBodiesIdempotent verifies the cache file reflects exactly the
// final call's response after repeated queries.
func TestSmallBodiesIdempotent(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]int{"call": calls})
	}))
	defer upstream.Close()

	handler, bodies, _ := testServer(t, auth.Config{}, upstream.URL, "")

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/sbdb_query", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d", i, w.Code)
		}
	}

	raw, err := os.ReadFile(bodies.Path())
	if err != nil {
		t.Fatalf("cache file not written: %v", err)
	}
	var snapshot map[string]int
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("cache file not valid JSON: %v", err)
	}
	if snapshot["call"] != 2 {
		t.Errorf("cache file holds call %d, want 2", snapshot["call"])
	}
}

func TestSmallBodiesUpstreamErrorEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("SBDB maintenance"))
	}))
	defer upstream.Close()

	handler, bodies, _ := testServer(t, auth.Config{}, upstream.URL, "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/sbdb_query", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 mirrored from upstream", w.Code)
	}

	var envelope map[string]string
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope["error"] != "Unable to fetch data" {
		t.Errorf("error = %q", envelope["error"])
	}
	if envelope["details"] != "SBDB maintenance" {
		t.Errorf("details = %q, want upstream body", envelope["details"])
	}

	if _, err := os.Stat(bodies.Path()); !os.IsNotExist(err) {
		t.Error("cache file must not be written on failure")
	}
}

func TestSmallBodiesTransportErrorIs502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // refuse connections

	handler, _, _ := testServer(t, auth.Config{}, upstream.URL, "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/sbdb_query", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 for transport failure", w.Code)
	}
}

func TestCloseApproachesProjectionAndCache(t *testing.T) {
	cad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("dist-max"); got != "0.1" {
			t.Errorf("dist-max = %q, want pass-through of caller value", got)
		}
		w.Write([]byte(`{"count":"1","fields":["des","orbit_id","jd","cd","dist"],"data":[["2023 AB","1","2460310.5","2024-01-01","0.02"]]}`))
	}))
	defer cad.Close()

	handler, _, approaches := testServer(t, auth.Config{}, "", cad.URL)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/sbdb_CA_query?dist-max=0.1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var records []map[string]string
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	want := map[string]string{"des": "2023 AB", "cd": "2024-01-01", "dist": "0.02"}
	for k, v := range want {
		if records[0][k] != v {
			t.Errorf("%s = %q, want %q", k, records[0][k], v)
		}
	}

	if _, err := os.Stat(approaches.Path()); err != nil {
		t.Errorf("close-approach cache file not written: %v", err)
	}
}

func TestOrreryNoData(t *testing.T) {
	handler, _, _ := testServer(t, auth.Config{}, "", "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/orrery", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var envelope map[string]string
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope["error"] != "No data available" {
		t.Errorf("error = %q, want %q", envelope["error"], "No data available")
	}
}

// TestOrreryDiskFallback verifies the view renders from the snapshot file
// when the memory cache is empty.
func TestOrreryDiskFallback(t *testing.T) {
	handler, bodies, _ := testServer(t, auth.Config{}, "", "")

	if err := os.WriteFile(bodies.Path(), []byte(`{"x":1}`), 0644); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/orrery", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Content-Type = %q, want html page", ct)
	}
	if !strings.Contains(w.Body.String(), `"x":1`) {
		t.Error("page should embed the cached dataset")
	}
}

func TestIndexPage(t *testing.T) {
	handler, _, _ := testServer(t, auth.Config{}, "", "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/orrery") {
		t.Error("landing page should link to the orrery")
	}
}

func TestAuthGuardsAPIOnly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":0,"data":[]}`))
	}))
	defer upstream.Close()

	authCfg := auth.Config{Enabled: true, Token: "secret"}
	handler, _, _ := testServer(t, authCfg, upstream.URL, "")

	// API without token: rejected.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/sbdb_query", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated API status = %d, want 401", w.Code)
	}

	// API with token: allowed.
	req := httptest.NewRequest("GET", "/api/sbdb_query", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated API status = %d, want 200", w.Code)
	}

	// Pages stay public.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("landing page status = %d, want 200 without auth", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	handler, bodies, _ := testServer(t, auth.Config{}, "", "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with no data = %d, want 503", w.Code)
	}

	if err := bodies.Set(json.RawMessage(`{"count":1,"data":[[1]]}`)); err != nil {
		t.Fatal(err)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("readyz with data = %d, want 200", w.Code)
	}
}
