package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskv-p/nodebus/busapi"
	"github.com/rskv-p/nodebus/config"
	"github.com/rskv-p/nodebus/httpapi"
	"github.com/rskv-p/nodebus/logger"
	"github.com/rskv-p/nodebus/node"
)

type fixtureService struct{ networkID string }

func (s *fixtureService) Name() string            { return "Fixture" }
func (s *fixtureService) Version() string         { return "0.1.0" }
func (s *fixtureService) Path() string            { return "fixture" }
func (s *fixtureService) Description() string     { return "admin surface test fixture" }
func (s *fixtureService) NetworkID() string       { return s.networkID }
func (s *fixtureService) SetNetworkID(id string) { s.networkID = id }

func (s *fixtureService) Init(ctx busapi.LifecycleContext) error  { return nil }
func (s *fixtureService) Start(ctx busapi.LifecycleContext) error { return nil }
func (s *fixtureService) Stop(ctx busapi.LifecycleContext) error  { return nil }

func newTestServer(t *testing.T) (*node.Node, http.Handler) {
	t.Helper()
	cfg := config.Default()
	n := node.New(cfg, logger.Nop(), nil, nil)
	n.AddService("local", &fixtureService{})
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)

	srv := httpapi.New(n, "127.0.0.1:0")
	return n, srv.Handler()
}

func TestHandleListServices(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))

	found := false
	for _, e := range entries {
		if e["service_path"] == "fixture" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHandlePauseAndResume(t *testing.T) {
	_, h := newTestServer(t)

	pause := httptest.NewRequest(http.MethodPost, "/services/fixture/pause", nil)
	pauseRec := httptest.NewRecorder()
	h.ServeHTTP(pauseRec, pause)
	require.Equal(t, http.StatusOK, pauseRec.Code)

	state := httptest.NewRequest(http.MethodGet, "/services/fixture/state", nil)
	stateRec := httptest.NewRecorder()
	h.ServeHTTP(stateRec, state)
	require.Equal(t, http.StatusOK, stateRec.Code)

	var stateBody map[string]any
	require.NoError(t, json.Unmarshal(stateRec.Body.Bytes(), &stateBody))
	assert.Equal(t, "Paused", stateBody["state"])

	resume := httptest.NewRequest(http.MethodPost, "/services/fixture/resume", nil)
	resumeRec := httptest.NewRecorder()
	h.ServeHTTP(resumeRec, resume)
	require.Equal(t, http.StatusOK, resumeRec.Code)
}

func TestHandleResumeWhileRunningFails(t *testing.T) {
	_, h := newTestServer(t)

	resume := httptest.NewRequest(http.MethodPost, "/services/fixture/resume", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, resume)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetUnknownService(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/services/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}
