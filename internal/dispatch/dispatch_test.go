package dispatch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/searchgate/searchgate/internal/dispatch"
	"github.com/searchgate/searchgate/pkg/models"
)

// mockDriver is a test Driver.
type mockDriver struct {
	kind string
}

func (d *mockDriver) Kind() string { return d.kind }
func (d *mockDriver) Search(_ context.Context, backend *models.Backend, _ *models.SearchRequest) (*models.SearchResult, error) {
	return &models.SearchResult{Payload: json.RawMessage(`[]`), TokensUsed: 1}, nil
}
func (d *mockDriver) HealthCheck(context.Context, *models.Backend) error { return nil }

func TestBuiltinDriversRegistered(t *testing.T) {
	drivers := dispatch.NewDrivers()

	for _, kind := range []string{"grep", "vector"} {
		if drivers.Get(kind) == nil {
			t.Errorf("built-in driver %q not registered", kind)
		}
	}
}

func TestRegisterOverridesBuiltin(t *testing.T) {
	drivers := dispatch.NewDrivers()
	drivers.Register(&mockDriver{kind: "grep"})

	got := drivers.Get("grep")
	if got == nil {
		t.Fatal("Get() returned nil after override")
	}
	res, err := got.Search(context.Background(), &models.Backend{ID: "b"}, &models.SearchRequest{Text: "x"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.TokensUsed != 1 {
		t.Errorf("Search().TokensUsed = %d, want 1 (mock)", res.TokensUsed)
	}
}

func TestFor_UnknownKind(t *testing.T) {
	drivers := dispatch.NewDrivers()

	_, err := drivers.For(&models.Backend{ID: "b", Kind: "carrier-pigeon"})
	if err == nil {
		t.Fatal("For() should fail for an unregistered kind")
	}
}

func TestGrepDriver_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "handle_call" {
			t.Errorf("query = %q, want handle_call", req.Query)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"hits":        []map[string]string{{"file": "lib/server.ex", "line": "42"}},
			"took_ms":     3,
			"tokens_used": 17,
		})
	}))
	defer srv.Close()

	drivers := dispatch.NewDrivers()
	backend := &models.Backend{ID: "grep-local", Kind: "grep", Endpoint: srv.URL}

	driver, err := drivers.For(backend)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}

	res, err := driver.Search(context.Background(), backend, &models.SearchRequest{Text: "handle_call"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.TokensUsed != 17 {
		t.Errorf("TokensUsed = %d, want 17", res.TokensUsed)
	}
	if !strings.Contains(string(res.Payload), "lib/server.ex") {
		t.Errorf("Payload = %s, expected the hit to pass through opaquely", res.Payload)
	}
}

func TestGrepDriver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	drivers := dispatch.NewDrivers()
	backend := &models.Backend{ID: "grep-local", Kind: "grep", Endpoint: srv.URL}
	driver, _ := drivers.For(backend)

	_, err := driver.Search(context.Background(), backend, &models.SearchRequest{Text: "x"})
	if err == nil {
		t.Fatal("Search() should surface non-200 status as an error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q should carry the status code", err)
	}
}

func TestVectorDriver_SearchWithAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"matches": []map[string]string{{"chunk": "GenServer handles calls"}},
			"usage":   map[string]int64{"total_tokens": 120},
		})
	}))
	defer srv.Close()

	drivers := dispatch.NewDrivers()
	backend := &models.Backend{
		ID:       "vec",
		Kind:     "vector",
		Endpoint: srv.URL,
		Config:   map[string]interface{}{"api_key": "sk-test"},
	}
	driver, _ := drivers.For(backend)

	res, err := driver.Search(context.Background(), backend, &models.SearchRequest{Text: "how are calls handled"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.TokensUsed != 120 {
		t.Errorf("TokensUsed = %d, want 120", res.TokensUsed)
	}
}

func TestVectorDriver_EstimatesTokensWhenUnpriced(t *testing.T) {
	payload := `[{"chunk":"some matched text"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"matches":` + payload + `}`))
	}))
	defer srv.Close()

	drivers := dispatch.NewDrivers()
	backend := &models.Backend{ID: "vec", Kind: "vector", Endpoint: srv.URL}
	driver, _ := drivers.For(backend)

	res, err := driver.Search(context.Background(), backend, &models.SearchRequest{Text: "x"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.TokensUsed == 0 {
		t.Error("TokensUsed should be estimated from payload size when the service reports no usage")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	drivers := dispatch.NewDrivers()
	backend := &models.Backend{ID: "grep-local", Kind: "grep", Endpoint: srv.URL}
	driver, _ := drivers.For(backend)

	if err := driver.HealthCheck(context.Background(), backend); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
