package promapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
)

// TestNewClient tests client creation and endpoint normalization
func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		auth    AuthConfig
		timeout time.Duration
	}{
		{
			name:    "basic auth client",
			baseURL: "http://localhost:9090",
			auth:    AuthConfig{Type: "basic", Username: "admin", Password: "password"},
			timeout: 30 * time.Second,
		},
		{
			name:    "bearer auth client with tenant",
			baseURL: "http://localhost:9090",
			auth:    AuthConfig{Type: "bearer", BearerToken: "test-token", TenantID: "tenant1"},
			timeout: 30 * time.Second,
		},
		{
			name:    "trailing slash trimmed",
			baseURL: "http://localhost:9090/",
			auth:    AuthConfig{Type: "none"},
			timeout: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.baseURL, tt.auth, tt.timeout)
			require.NotNil(t, client)
			assert.Equal(t, "http://localhost:9090", client.BaseURL())
			assert.Equal(t, tt.timeout, client.httpClient.Timeout)
		})
	}
}

// TestQuery tests instant queries against a stub backend
func TestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "up", r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [
					{"metric": {"__name__": "up", "job": "prometheus"}, "value": [1700000000, "1"]},
					{"metric": {"__name__": "up", "job": "node"}, "value": [1700000000, "0"]}
				]
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, AuthConfig{Type: "none"}, 5*time.Second)
	result, err := client.Query(context.Background(), "up", time.Time{})

	require.NoError(t, err)
	assert.Equal(t, "vector", result.ResultType)
	require.Len(t, result.Series, 2)
	assert.Equal(t, "prometheus", result.Series[0].Metric["job"])
	require.Len(t, result.Series[0].Points, 1)
	assert.Equal(t, float64(1), result.Series[0].Points[0].Value)
	assert.Equal(t, float64(0), result.Series[1].Points[0].Value)
}

// TestQueryRange tests range queries and matrix decoding
func TestQueryRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query_range", r.URL.Path)
		assert.Equal(t, "60", r.URL.Query().Get("step"))
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "matrix",
				"result": [
					{"metric": {"job": "api"}, "values": [[1700000000, "1.5"], [1700000060, "2.5"]]}
				]
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, AuthConfig{Type: "none"}, 5*time.Second)
	end := time.Unix(1700000060, 0)
	result, err := client.QueryRange(context.Background(), "rate(x[5m])", end.Add(-time.Minute), end, time.Minute)

	require.NoError(t, err)
	assert.Equal(t, "matrix", result.ResultType)
	require.Len(t, result.Series, 1)
	require.Len(t, result.Series[0].Points, 2)
	assert.Equal(t, 2.5, result.Series[0].Points[1].Value)
}

// TestAuthHeaders tests that each auth mode produces the right headers
func TestAuthHeaders(t *testing.T) {
	var gotAuth, gotOrg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOrg = r.Header.Get("X-Scope-OrgID")
		w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, AuthConfig{Type: "bearer", BearerToken: "tok", TenantID: "team-a"}, time.Second)
	_, err := client.Query(context.Background(), "up", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "team-a", gotOrg)

	client = NewClient(srv.URL, AuthConfig{Type: "basic", Username: "u", Password: "p"}, time.Second)
	_, err = client.Query(context.Background(), "up", time.Time{})
	require.NoError(t, err)
	assert.Contains(t, gotAuth, "Basic ")
}

// TestValidate tests that a bad_data rejection maps to a validation failure
// while other backend errors do not
func TestValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("query") {
		case "rate(http_requests_total[5m])":
			w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
		case "rate(broken":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error: unclosed left parenthesis"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status":"error","errorType":"internal","error":"boom"}`))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, AuthConfig{Type: "none"}, time.Second)

	assert.NoError(t, client.Validate(context.Background(), "rate(http_requests_total[5m])"))

	err := client.Validate(context.Background(), "rate(broken")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeQueryValidation))
	assert.Contains(t, err.Error(), "parse error")

	err = client.Validate(context.Background(), "anything else")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBackendRequest))
}

// TestMetricAndLabelDiscovery tests the suggestion endpoints
func TestMetricAndLabelDiscovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/label/__name__/values":
			w.Write([]byte(`{"status":"success","data":["http_requests_total","up"]}`))
		case "/api/v1/labels":
			w.Write([]byte(`{"status":"success","data":["__name__","job","service"]}`))
		case "/api/v1/label/service/values":
			assert.Equal(t, "up", r.URL.Query().Get("match[]"))
			w.Write([]byte(`{"status":"success","data":["billing","checkout"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, AuthConfig{Type: "none"}, time.Second)

	names, err := client.MetricNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http_requests_total", "up"}, names)

	labels, err := client.LabelNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, labels, "service")

	values, err := client.LabelValues(context.Background(), "service", "up")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "checkout"}, values)
}

// TestQueryBackendDown tests the unreachable-backend error path
func TestQueryBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, AuthConfig{Type: "none"}, time.Second)
	_, err := client.Query(context.Background(), "up", time.Time{})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBackendRequest))
}

// TestPointUnmarshalRejectsGarbage tests sample decoding failures
func TestPointUnmarshalRejectsGarbage(t *testing.T) {
	var p Point
	assert.Error(t, p.UnmarshalJSON([]byte(`[1700000000, "not a number"]`)))
	assert.Error(t, p.UnmarshalJSON([]byte(`"scalar"`)))

	require.NoError(t, p.UnmarshalJSON([]byte(`[1700000000, "NaN"]`)))
}
