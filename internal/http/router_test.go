package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/rate"
	"github.com/dropDatabas3/cfgvault/internal/source"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/memory"
	"github.com/dropDatabas3/cfgvault/internal/syncer"
	"github.com/dropDatabas3/cfgvault/internal/vcs"
)

type fixture struct {
	srv    *httptest.Server
	local  *memory.Repo
	remote *memory.Repo
	ctl    *vcs.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local := memory.NewFromTree("local", map[string]any{"app": map[string]any{"name": "demo"}})
	remote := memory.NewFromTree("defaults", map[string]any{"app": map[string]any{"name": "base", "port": 80}})
	defaults := source.Source{Repo: remote, Priority: 10, ReadOnly: true}
	mgr := source.New(source.Options{}, source.Source{Repo: local, Priority: 1}, defaults)

	ctl := vcs.New(vcs.Options{})
	require.NoError(t, ctl.Set("app.name", "demo"))
	require.NoError(t, ctl.Stage())
	_, err := ctl.Commit(context.Background(), "initial app", "ana")
	require.NoError(t, err)
	require.NoError(t, ctl.Set("app.port", 8080))
	require.NoError(t, ctl.Stage())
	_, err = ctl.Commit(context.Background(), "open port", "bob")
	require.NoError(t, err)

	eng, err := syncer.New(syncer.Options{Local: local, Remote: memory.New("peer")})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	h, err := NewRouter(Deps{Config: mgr, History: ctl, Sync: eng, Registry: reg, Gatherer: reg})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, local: local, remote: remote, ctl: ctl}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && !strings.HasPrefix(path, "/metrics") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestConfigReadWrite(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/config/app/name", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "app.name", body["key"])
	require.Equal(t, "demo", body["value"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	// port sólo existe en el repo de menor prioridad
	_, body = f.do(t, http.MethodGet, "/v1/config/app/port", "")
	require.Equal(t, float64(80), body["value"])

	resp, _ = f.do(t, http.MethodPut, "/v1/config/app/mode", `{"value":"blue"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v, ok, err := f.local.Get(context.Background(), "app.mode")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "blue", v)

	resp, body = f.do(t, http.MethodGet, "/v1/config/app", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"name": "demo", "mode": "blue"}, body["value"])

	resp, _ = f.do(t, http.MethodDelete, "/v1/config/app/mode", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/v1/config/app/mode", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", body["code"])

	resp, body = f.do(t, http.MethodPut, "/v1/config/app/mode?repo=defaults", `{"value":"x"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "READ_ONLY", body["code"])

	resp, body = f.do(t, http.MethodPut, "/v1/config/app/mode", `{"value":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_JSON", body["code"])

	_, body = f.do(t, http.MethodGet, "/v1/keys?prefix=app", "")
	require.Equal(t, []any{"app.name", "app.port"}, body["keys"])
}

func TestHistorySearch(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/history?author=bob", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	commits := body["commits"].([]any)
	require.Len(t, commits, 1)
	first := commits[0].(map[string]any)
	require.Equal(t, "open port", first["message"])

	_, body = f.do(t, http.MethodGet, "/v1/history?limit=1", "")
	require.Len(t, body["commits"].([]any), 1)

	_, body = f.do(t, http.MethodGet, "/v1/history?q=initial", "")
	commits = body["commits"].([]any)
	require.Len(t, commits, 1)
	id := commits[0].(map[string]any)["id"].(string)

	resp, body = f.do(t, http.MethodGet, "/v1/commits/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["changes"].([]any), 1)

	resp, _ = f.do(t, http.MethodGet, "/v1/commits/nope", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/v1/history?path=app.port", "")
	commits = body["commits"].([]any)
	require.Len(t, commits, 1)
	require.Equal(t, "open port", commits[0].(map[string]any)["message"])

	_, body = f.do(t, http.MethodGet, "/v1/history?path=app.port&q=initial", "")
	require.Empty(t, body["commits"].([]any))

	resp, body = f.do(t, http.MethodGet, "/v1/history?limit=-3", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "BAD_REQUEST", body["code"])
}

func TestSyncEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "idle", body["state"])

	resp, body = f.do(t, http.MethodPost, "/v1/sync", `{"strategy":"full","direction":"push"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "completed", body["status"])
	require.Equal(t, float64(1), body["pushed"])

	resp, body = f.do(t, http.MethodPost, "/v1/sync", `{"strategy":"sideways"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "BAD_REQUEST", body["code"])

	resp, _ = f.do(t, http.MethodPost, "/v1/sync", `{"strategy":"selective"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "healthy", body["status"])
	require.Len(t, body["repositories"].([]any), 2)

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/nowhere", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", body["code"])
}

func TestFromErrorMapping(t *testing.T) {
	require.Equal(t, http.StatusConflict, FromError(ErrSyncBusy).HTTPStatus)
	require.Equal(t, http.StatusInternalServerError, FromError(context.Canceled).HTTPStatus)
}

func TestWritesAreRateLimited(t *testing.T) {
	mgr := source.New(source.Options{}, source.Source{Repo: memory.New("local")})
	h, err := NewRouter(Deps{Config: mgr, Limiter: rate.NewMemoryLimiter(1, time.Hour)})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()
	f := &fixture{srv: srv}

	resp, _ := f.do(t, http.MethodPut, "/v1/config/app/a", `{"value":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp, body := f.do(t, http.MethodPut, "/v1/config/app/b", `{"value":2}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "RATE_LIMITED", body["code"])
	require.NotEmpty(t, resp.Header.Get("Retry-After"))

	// las lecturas no cuentan
	resp, _ = f.do(t, http.MethodGet, "/v1/config/app/a", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
