package service

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"trade_sim/internal/authz"
	"trade_sim/internal/feed"
	"trade_sim/internal/models"
	"trade_sim/internal/modules/config"
	"trade_sim/internal/runner"
	"trade_sim/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type stubSource struct{}

func (stubSource) Fetch(context.Context, string) (*models.Tick, error) {
	return nil, errors.New("no tick")
}

type nopSink struct{}

func (nopSink) Save(context.Context, []models.TradeRecord, map[string]string, string) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Send(string)          {}
func (nopNotifier) Sendf(string, ...any) {}

func testConfig() *config.Config {
	return &config.Config{
		StartBalance:     1000,
		EntryThreshold:   0.03,
		ExitThreshold:    0.03,
		FeePct:           0.075,
		MAEStopThreshold: 50,
		StopLossPct:      1.5,
		PollIntervals: map[string]time.Duration{
			"1m": 50 * time.Millisecond,
		},
		WSRefresh: 10 * time.Millisecond,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *runner.Manager) {
	t.Helper()
	cfg := testConfig()

	auth, err := authz.New(filepath.Join(t.TempDir(), "auth.yaml"))
	require.NoError(t, err)

	var src feed.Source = stubSource{}
	mgr := runner.NewManager(context.Background(), cfg, src, nopSink{}, nopNotifier{}, nil)
	t.Cleanup(func() { mgr.StopAll(context.Background()) })

	srv := httptest.NewServer(NewServer(cfg, mgr, auth).Routes())
	t.Cleanup(srv.Close)
	return srv, mgr
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "qwerty63")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, data
}

func TestRequiresBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	// старт с дефолтами из конфига
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{"interval":"1m"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]string
	require.NoError(t, sonic.Unmarshal(body, &created))
	id := created["session_id"]
	require.NotEmpty(t, id)

	// в списке одна сессия с параметрами из конфига
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.SessionSummary
	require.NoError(t, sonic.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].SessionID)
	assert.Equal(t, 1000.0, list[0].Balance)
	assert.Equal(t, 0.03, list[0].EntryThreshold)

	// снапшот
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/1m/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap models.SessionSnapshot
	require.NoError(t, sonic.Unmarshal(body, &snap))
	assert.Equal(t, id, snap.SessionID)
	assert.True(t, snap.Running)

	// пауза и снятие
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/1m/"+id+"/pause", `{"pause":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/1m/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, sonic.Unmarshal(body, &snap))
	assert.True(t, snap.Paused)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/1m/"+id+"/pause", `{"pause":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// стоп
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/1m/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/1m/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/1m/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// метка, которой нет в poll_intervals, — не сессия, а опечатка
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{"interval":"xx"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.SessionSummary
	require.NoError(t, sonic.Unmarshal(data, &list))
	assert.Empty(t, list, "rejected starts must not leave sessions behind")
}

func TestStartOverridesDefaults(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions",
		`{"interval":"1m","balance":500,"entry_threshold":0.1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	require.NoError(t, sonic.Unmarshal(body, &created))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.SessionSummary
	require.NoError(t, sonic.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 500.0, list[0].Balance)
	assert.Equal(t, 0.1, list[0].EntryThreshold)
	assert.Equal(t, 0.075, list[0].FeePct, "unset fields fall back to config")
}

func TestPasswordUpdate(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/password", `{"password":"newpass"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// старые креды больше не работают
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/sessions", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "newpass")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestWSPushesSummaries(t *testing.T) {
	srv, mgr := newTestServer(t)

	id, err := mgr.StartSimulation(context.Background(), models.SessionParams{
		Interval:     "1m",
		StartBalance: 1000,
	})
	require.NoError(t, err)
	defer func() { _ = mgr.StopSimulation(context.Background(), "1m", id) }()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions"
	header := http.Header{}
	header.Set("Authorization", "Basic "+basicAuth("admin", "qwerty63"))

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var list []models.SessionSummary
	require.NoError(t, sonic.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].SessionID)
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
