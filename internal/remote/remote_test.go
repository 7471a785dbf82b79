package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/telemetry"
)

func testCaller(baseURL string) *Caller {
	return &Caller{
		BaseURL:      baseURL,
		Component:    "huly",
		HTTP:         NewHTTPClient(),
		Logger:       zap.NewNop(),
		Metrics:      telemetry.NewSyncMetrics(),
		RetryInitial: time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		wantCode  string
		retryable bool
	}{
		{"500", 500, nil, "HTTP_500", true},
		{"502", 502, nil, "HTTP_502", true},
		{"503", 503, nil, "HTTP_503", true},
		{"504", 504, nil, "HTTP_504", true},
		{"429", 429, nil, "HTTP_429", true},
		{"408", 408, nil, "HTTP_408", true},
		{"400", 400, nil, "HTTP_400", false},
		{"401", 401, nil, "HTTP_401", false},
		{"422", 422, nil, "HTTP_422", false},
		{"network", 0, errors.New("connection refused"), "NETWORK_ERROR", true},
		{"timeout", 0, context.DeadlineExceeded, "TIMEOUT", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify("huly", "listIssues", tt.status, tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(e))
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("boom")
	e := Classify("vibe", "createTask", 500, inner)
	assert.ErrorIs(t, e, inner)
	assert.Contains(t, e.Error(), "vibe createTask")
	assert.Contains(t, e.Error(), "HTTP_500")

	wrapped := fmt.Errorf("phase 1: %w", e)
	assert.True(t, IsRetryable(wrapped))
}

func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/issues/ACME-1", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"identifier":"ACME-1","title":"Add retry"}`)
	}))
	defer srv.Close()

	var out struct {
		Identifier string `json:"identifier"`
		Title      string `json:"title"`
	}
	err := testCaller(srv.URL).Do(context.Background(), "getIssue", http.MethodGet, "/issues/ACME-1", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "ACME-1", out.Identifier)
	assert.Equal(t, "Add retry", out.Title)
}

func TestDoSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, decodeJSON(r, &body))
		assert.Equal(t, "Add retry", body["title"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"t1"}`)
	}))
	defer srv.Close()

	var out struct {
		ID string `json:"id"`
	}
	err := testCaller(srv.URL).Do(context.Background(), "createTask", http.MethodPost, "/tasks", map[string]string{"title": "Add retry"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "t1", out.ID)
}

func TestDo404IsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := testCaller(srv.URL).Do(context.Background(), "getIssue", http.MethodGet, "/issues/GONE-1", nil, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRetryable(err), "404 must never retry")
}

func TestDoRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	err := testCaller(srv.URL).Do(context.Background(), "listIssues", http.MethodGet, "/issues", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoStopsAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testCaller(srv.URL).Do(context.Background(), "listIssues", http.MethodGet, "/issues", nil, nil)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
}

func TestDoDoesNotRetryValidation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := testCaller(srv.URL).Do(context.Background(), "createIssue", http.MethodPost, "/issues", map[string]string{}, nil)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "HTTP_422", re.Code)
}

func TestDoHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := testCaller(srv.URL).Do(ctx, "listIssues", http.MethodGet, "/issues", nil, nil)
	assert.Error(t, err)
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
