package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sitemaster/app/site"
	"github.com/umputun/sitemaster/app/store"
)

// bcrypt hash for "testpass"
const testPasswordHash = "$2y$10$qOIpGITktzktHpcnWXiow.penxJmMcapV3G2ZRQaK0QRW7BSmAuJG" //nolint:gosec // test password hash

func newTestServer(t *testing.T, cfg Config) (*Server, *store.SQLite) {
	t.Helper()
	tmpDir := t.TempDir()
	st, err := store.NewSQLite(context.Background(), filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg.App = site.New(st, site.Params{})
	cfg.Feed = st
	cfg.DataDir = tmpDir
	if cfg.Version == "" {
		cfg.Version = "test"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	return srv, st
}

// doJSON sends body encoded as json and returns the recorded response
func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decodeBody decodes the recorded json response into T
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var res T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func TestNew(t *testing.T) {
	t.Run("requires app", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "App is required")
	})

	t.Run("requires feed", func(t *testing.T) {
		st, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		defer st.Close()
		_, err = New(Config{App: site.New(st, site.Params{})})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Feed is required")
	})

	t.Run("defaults", func(t *testing.T) {
		st, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		defer st.Close()
		srv, err := New(Config{App: site.New(st, site.Params{}), Feed: st})
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, srv.loginTTL)
		assert.Equal(t, int64(16*1024*1024), srv.maxBodySize)
		assert.Equal(t, time.Second, srv.pollInterval)
		assert.NotNil(t, srv.csrfProtection)
	})
}

func TestServer_Ping(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	rec := doJSON(t, srv.routes(), "GET", "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.Equal(t, "sitemaster", rec.Header().Get("App-Name"))
}

func TestServer_handlerBaseURL(t *testing.T) {
	srv, _ := newTestServer(t, Config{BaseURL: "/sitemaster"})
	h := srv.handler()

	t.Run("redirects base without slash", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/sitemaster", nil)
		assert.Equal(t, http.StatusMovedPermanently, rec.Code)
		assert.Equal(t, "/sitemaster/", rec.Header().Get("Location"))
	})

	t.Run("serves api under base", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/sitemaster/api/v1/jobs", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("root is not served", func(t *testing.T) {
		rec := doJSON(t, h, "GET", "/api/v1/jobs", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Run(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- srv.Run(ctx, "127.0.0.1:0")
	}()

	// give server time to start
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
	}
}
