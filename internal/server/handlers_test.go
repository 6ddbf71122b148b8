package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daeun-ops/promql-assistant-cli/internal/config"
	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	"github.com/daeun-ops/promql-assistant-cli/internal/observability"
	"github.com/daeun-ops/promql-assistant-cli/internal/promapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newBackendStub serves the handful of Prometheus API endpoints the server
// proxies to
func newBackendStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/query" || r.URL.Path == "/api/v1/query_range":
			resultType := "vector"
			result := `[{"metric":{"job":"api"},"value":[1700000000,"1"]}]`
			if r.URL.Path == "/api/v1/query_range" {
				resultType = "matrix"
				result = `[{"metric":{"job":"api"},"values":[[1700000000,"1"],[1700000060,"2"]]}]`
			}
			w.Write([]byte(`{"status":"success","data":{"resultType":"` + resultType + `","result":` + result + `}}`))
		case r.URL.Path == "/api/v1/label/__name__/values":
			w.Write([]byte(`{"status":"success","data":["http_requests_total","node_cpu_seconds_total","node_memory_Active_bytes"]}`))
		case r.URL.Path == "/api/v1/labels":
			w.Write([]byte(`{"status":"success","data":["__name__","instance","job"]}`))
		case strings.HasPrefix(r.URL.Path, "/api/v1/label/"):
			w.Write([]byte(`{"status":"success","data":["api","worker"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":"error","errorType":"not_found","error":"unknown path"}`))
		}
	}))
}

func newTestRouter(t *testing.T, mutate func(*config.Config)) (*gin.Engine, *httptest.Server) {
	t.Helper()

	stub := newBackendStub(t)
	t.Cleanup(stub.Close)

	cfg := config.Defaults()
	cfg.Backend.URL = stub.URL
	if mutate != nil {
		mutate(cfg)
	}

	eng, err := engine.New()
	require.NoError(t, err)

	client := promapi.NewClient(stub.URL, promapi.AuthConfig{}, 0)
	backend := promapi.NewBreakerClient(client, "test", promapi.DefaultBreakerConfig)

	logger := observability.NewLogger("server-test").WithLevel(observability.LevelError)

	srv, err := New(*cfg, eng, backend, nil, nil, logger)
	require.NoError(t, err)
	return srv.Router(), stub
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestTranslateEndpoint tests that a translatable phrase returns the query
// and its trace
func TestTranslateEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/translate",
		`{"phrase":"p95 latency of checkout_service last 1h"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TranslateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Query, "histogram_quantile(0.95")
	assert.Equal(t, "latency_quantile", resp.RuleID)
	assert.False(t, resp.Cached)
	assert.NotEmpty(t, resp.Trace)
}

// TestTranslateEndpointNoMatch tests that gibberish maps to 422 with the
// NO_MATCH code
func TestTranslateEndpointNoMatch(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/translate",
		`{"phrase":"please show me the things"}`, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_MATCH")
}

// TestTranslateEndpointMissingPhrase tests rejection of empty bodies
func TestTranslateEndpointMissingPhrase(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/translate", `{}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
}

// TestQueryEndpointInstant tests executing a raw query at the current instant
func TestQueryEndpointInstant(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/query", `{"query":"up"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "up", resp.Query)
	assert.Empty(t, resp.RuleID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "vector", resp.Result.ResultType)
	require.Len(t, resp.Result.Series, 1)
}

// TestQueryEndpointTranslatesPhrase tests that a phrase is translated before
// execution and the provenance travels with the result
func TestQueryEndpointTranslatesPhrase(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/query",
		`{"phrase":"rate of http_requests_total last 5m"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Query, "rate(http_requests_total")
	assert.NotEmpty(t, resp.RuleID)
	require.NotNil(t, resp.Result)
}

// TestQueryEndpointRange tests range execution with RFC 3339 bounds
func TestQueryEndpointRange(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/query",
		`{"query":"up","start":"2026-08-26T10:00:00Z","end":"2026-08-26T11:00:00Z","step":"1m"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, "matrix", resp.Result.ResultType)
}

// TestQueryEndpointBadRange tests that malformed range bounds are rejected
func TestQueryEndpointBadRange(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	cases := []string{
		`{"query":"up","start":"yesterday","end":"2026-08-26T11:00:00Z"}`,
		`{"query":"up","start":"2026-08-26T11:00:00Z","end":"2026-08-26T10:00:00Z"}`,
		`{"query":"up","start":"2026-08-26T10:00:00Z","end":"2026-08-26T11:00:00Z","step":"-5m"}`,
	}
	for _, body := range cases {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/query", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	}
}

// TestSuggestMetrics tests metric name discovery with prefix filtering
func TestSuggestMetrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/suggest/metrics?prefix=node", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Metrics []string `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"node_cpu_seconds_total", "node_memory_Active_bytes"}, resp.Metrics)
}

// TestSuggestLabelValues tests that the label parameter is required
func TestSuggestLabelValues(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/suggest/label-values", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/suggest/label-values?label=job", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "worker")
}

// TestBearerAuth tests that a configured token gates the API routes but not
// the health endpoint
func TestBearerAuth(t *testing.T) {
	router, _ := newTestRouter(t, func(cfg *config.Config) {
		cfg.Server.BearerToken = "sekrit"
	})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/translate", `{"phrase":"rate of up"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/translate", `{"phrase":"rate of up"}`,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/translate", `{"phrase":"rate of up"}`,
		map[string]string{"Authorization": "Bearer sekrit"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestHealthEndpoint tests the aggregate health response with a healthy
// backend
func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend"`)
	assert.Contains(t, rec.Body.String(), "healthy")
}

// TestHistoryDisabled tests the response when no history store is wired
func TestHistoryDisabled(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/history", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "HISTORY_DISABLED")
}

// TestMetricsEndpoint tests that the Prometheus registry is exposed
func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	// Generate one translation so the counters have samples.
	doJSON(t, router, http.MethodPost, "/api/v1/translate", `{"phrase":"rate of up"}`, nil)

	rec := doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "promql_assistant_translations_total")
}
