package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("db", true, healthy)
	assert.Equal(t, StatusUnknown, c.OverallStatus(), "critical component not yet checked")

	c.Check(context.Background())
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	failing := true
	c.RegisterFunc("snapshot", false, FlagCheck("last save failed", func() bool { return failing }))
	c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	c.RegisterFunc("db", true, DatabaseCheck(func(context.Context) error { return errors.New("gone") }))
	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
	assert.Equal(t, "gone", results["db"].Error)
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("broken", false, func(context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, "check panicked", results["broken"].Message)
	assert.Equal(t, "boom", results["broken"].Error)
}

func TestWritableDirCheck(t *testing.T) {
	dir := t.TempDir()
	res := WritableDirCheck(dir)(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file left behind")

	res = WritableDirCheck(filepath.Join(dir, "missing"))(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("dir", true, healthy)
	mux := http.NewServeMux()
	c.Mount(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "dir")

	c.RegisterFunc("dir", true, func(context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
	assert.Equal(t, http.StatusServiceUnavailable, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
}
