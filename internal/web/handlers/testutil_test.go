package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/database/mock"
	"github.com/kozaktomas/reunite/internal/matching"
	"github.com/kozaktomas/reunite/internal/registry"
	"github.com/kozaktomas/reunite/internal/web/middleware"
)

const testDim = 4

// testRegistry creates a registry on top of an in-memory store
func testRegistry(t *testing.T) (*registry.Registry, *mock.Store) {
	t.Helper()
	store := mock.NewStore()
	reg, err := registry.New(store, registry.Config{
		Thresholds:    matching.DefaultThresholds(),
		Dim:           testDim,
		Workers:       2,
		RetryAttempts: 1,
		RetryInterval: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	t.Cleanup(reg.Close)
	return reg, store
}

// addRecord puts a record straight into the store, bypassing matching
func addRecord(store *mock.Store, id string, pool database.Pool, vec []float32) {
	store.AddRecord(database.EmbeddingRecord{
		ID:        id,
		Pool:      pool,
		Vector:    vec,
		Valid:     len(vec) > 0,
		Label:     id,
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// asOperator marks a request as authenticated with the operator token
func asOperator(r *http.Request) *http.Request {
	return r.WithContext(middleware.SetOperatorInContext(r.Context()))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
