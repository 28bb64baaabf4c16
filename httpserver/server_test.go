package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/frost-blueprint/coordinator"
	"github.com/tangle-network/frost-blueprint/jobs"
	"github.com/tangle-network/frost-blueprint/metrics"
	"github.com/tangle-network/frost-blueprint/party"
	"github.com/tangle-network/frost-blueprint/wire"
)

type recordingQueue struct {
	events []jobs.Event
	err    error
}

func (q *recordingQueue) Push(_ context.Context, ev jobs.Event) error {
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Status(serviceID, callID uint64) (*coordinator.SessionInfo, bool) {
	args := m.Called(serviceID, callID)
	info, _ := args.Get(0).(*coordinator.SessionInfo)
	return info, args.Bool(1)
}

type fixture struct {
	srv      *Server
	queue    *recordingQueue
	results  *jobs.MemorySink
	sessions *mockSessions
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:    &recordingQueue{},
		results:  jobs.NewMemorySink(),
		sessions: &mockSessions{},
		metrics:  metrics.New(),
	}
	log := zerolog.Nop()
	srv, err := New(&HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		Log:        log,
	}, NewHandler(f.queue, f.results, f.sessions, log), f.metrics)
	require.NoError(t, err)
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	return rr
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Status
}

func TestHealthAndDrain(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alive", decodeStatus(t, rr))

	rr = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/drain", "")
	assert.Equal(t, "draining", decodeStatus(t, rr))
	rr = f.do(t, http.MethodGet, "/drain", "")
	assert.Equal(t, "already draining", decodeStatus(t, rr))

	rr = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = f.do(t, http.MethodGet, "/undrain", "")
	assert.Equal(t, "ready", decodeStatus(t, rr))
	rr = f.do(t, http.MethodGet, "/undrain", "")
	assert.Equal(t, "already ready", decodeStatus(t, rr))

	rr = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/livez", "")
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("X-Request-Id", "abc")
	rr = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, "abc", rr.Header().Get("X-Request-Id"))
}

func TestKeygenIsQueued(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/api/jobs/keygen", `{
		"service_id": 7,
		"call_id": 1,
		"participants": ["0x0102", "0x0304"],
		"threshold": 2,
		"ciphersuite": "FROST-ED25519-SHA512-v1"
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Len(t, f.queue.events, 1)
	ev := f.queue.events[0]
	assert.Equal(t, jobs.KeygenRequested, ev.Kind)
	assert.Equal(t, uint64(7), ev.ServiceID)
	assert.Equal(t, uint64(1), ev.CallID)
	assert.Equal(t, [][]byte{{1, 2}, {3, 4}}, ev.Participants)
	assert.Equal(t, 2, ev.Threshold)
	assert.Equal(t, "FROST-ED25519-SHA512-v1", ev.Ciphersuite)
}

func TestSignIsQueued(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/api/jobs/sign", `{
		"service_id": 7,
		"call_id": 2,
		"signers": ["0x0102"],
		"message": "0x68656c6c6f"
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Len(t, f.queue.events, 1)
	ev := f.queue.events[0]
	assert.Equal(t, jobs.SignRequested, ev.Kind)
	assert.Equal(t, [][]byte{{1, 2}}, ev.Participants)
	assert.Equal(t, []byte("hello"), ev.Message)
}

func TestTerminateIsQueued(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/api/services/9/terminate", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, f.queue.events, 1)
	assert.Equal(t, jobs.ServiceTerminated, f.queue.events[0].Kind)
	assert.Equal(t, uint64(9), f.queue.events[0].ServiceID)

	rr = f.do(t, http.MethodPost, "/api/services/nine/terminate", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBadJobRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, path, body string
	}{
		{"not json", "/api/jobs/keygen", `{`},
		{"bad hex", "/api/jobs/keygen", `{"participants":["zz"],"threshold":1,"ciphersuite":"x"}`},
		{"no participants", "/api/jobs/keygen", `{"threshold":1,"ciphersuite":"x"}`},
		{"no threshold", "/api/jobs/keygen", `{"participants":["0x01"],"ciphersuite":"x"}`},
		{"no signers", "/api/jobs/sign", `{"message":"0x01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
	assert.Empty(t, f.queue.events)
}

func TestQueueUnavailable(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("closed")
	rr := f.do(t, http.MethodPost, "/api/services/1/terminate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestResultLookup(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/jobs/7/1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(t, http.MethodGet, "/api/jobs/x/1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	require.NoError(t, f.results.Submit(context.Background(), jobs.Result{
		Kind:      wire.KindKeygen,
		ServiceID: 7,
		CallID:    1,
		Self:      2,
		Success:   true,
		Artifact:  []byte{0xaa},
	}))

	rr = f.do(t, http.MethodGet, "/api/jobs/7/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var res jobs.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, party.Index(2), res.Self)
	assert.Equal(t, []byte{0xaa}, res.Artifact)
}

func TestSessionLookup(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Status", uint64(7), uint64(1)).Return(&coordinator.SessionInfo{
		Kind:      wire.KindSigning,
		ServiceID: 7,
		CallID:    1,
		State:     coordinator.Running,
		Round:     "round1",
		Missing:   []party.Index{3},
	}, true)
	f.sessions.On("Status", uint64(7), uint64(2)).Return(nil, false)

	rr := f.do(t, http.MethodGet, "/api/sessions/7/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, "running", info["state"])
	assert.Equal(t, "round1", info["round"])
	assert.Equal(t, []interface{}{float64(3)}, info["missing"])

	rr = f.do(t, http.MethodGet, "/api/sessions/7/2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	f.sessions.AssertExpectations(t)
}

func TestMetricsOnAPIRouter(t *testing.T) {
	f := newFixture(t)
	f.metrics.SessionStarted("keygen")

	rr := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, bytes.Contains(rr.Body.Bytes(), []byte("frostd_session_started_total")))
}

func TestRunStopsOnCancel(t *testing.T) {
	log := zerolog.Nop()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:  "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
		Log:         log,
	}, NewHandler(&recordingQueue{}, jobs.NewMemorySink(), &mockSessions{}, log), metrics.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}
