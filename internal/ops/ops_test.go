package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puddlebot/internal/notifier"
	"puddlebot/internal/runtime/supervisor"
	"puddlebot/internal/tracker"
	logx "puddlebot/pkg/logx"
)

type stubTracker struct {
	state tracker.CycleState
	sum   *tracker.CycleSummary
}

func (s stubTracker) State() tracker.CycleState { return s.state }

func (s stubTracker) LastSummary() (tracker.CycleSummary, bool) {
	if s.sum == nil {
		return tracker.CycleSummary{}, false
	}
	return *s.sum, true
}

type stubQueue struct{ stats notifier.Stats }

func (s stubQueue) Stats() notifier.Stats { return s.stats }

type healthFunc func(ctx context.Context) bool

func (f healthFunc) Health(ctx context.Context) bool { return f(ctx) }

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(b)
}

func TestHealthzIsOpen(t *testing.T) {
	h := Handler(Config{Token: "secret"}, Sources{}, logx.Nop())
	res, body := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestStatusRequiresToken(t *testing.T) {
	h := Handler(Config{Token: "secret"}, Sources{}, logx.Nop())

	res, _ := get(t, h, "/status", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Bearer", res.Header.Get("WWW-Authenticate"))

	res, _ = get(t, h, "/status", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = get(t, h, "/status", map[string]string{"Authorization": "Bearer secre"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = get(t, h, "/status", map[string]string{"Authorization": "secret"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = get(t, h, "/status", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestQueryTokenIsRejected(t *testing.T) {
	h := Handler(Config{Token: "secret"}, Sources{}, logx.Nop())
	res, _ := get(t, h, "/status?token=secret", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestStatusBody(t *testing.T) {
	sum := &tracker.CycleSummary{Players: 3, Succeeded: 2, NewMatches: 5}
	checked := false
	src := Sources{
		Tracker:  stubTracker{state: tracker.StateDegraded, sum: sum},
		Notifier: stubQueue{stats: notifier.Stats{Running: true, Sent: 7}},
		Upstream: healthFunc(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			checked = ok
			return true
		}),
		Started: time.Now().Add(-time.Minute),
	}
	res, body := get(t, Handler(Config{}, src, logx.Nop()), "/status", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.True(t, checked)

	var st Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "degraded", st.State)
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, 5, st.LastCycle.NewMatches)
	require.NotNil(t, st.Notifier)
	assert.Equal(t, uint64(7), st.Notifier.Sent)
	require.NotNil(t, st.UpstreamHealthy)
	assert.True(t, *st.UpstreamHealthy)
	assert.Nil(t, st.Scheduler)
	assert.NotEmpty(t, st.Uptime)
}

func TestBuildStatusWithoutSources(t *testing.T) {
	st := BuildStatus(context.Background(), Sources{})
	assert.Equal(t, "unknown", st.State)
	assert.Nil(t, st.LastCycle)
	assert.Nil(t, st.UpstreamHealthy)
}

func TestPprofRoutes(t *testing.T) {
	off := Handler(Config{}, Sources{}, logx.Nop())
	res, _ := get(t, off, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	on := Handler(Config{Pprof: true, Token: "k"}, Sources{}, logx.Nop())
	res, _ = get(t, on, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	auth := map[string]string{"Authorization": "Bearer k"}
	res, body := get(t, on, "/debug/pprof/", auth)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "goroutine")
	res, _ = get(t, on, "/debug/pprof/goroutine?debug=1", auth)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestNeedsRestart(t *testing.T) {
	a := Config{Enabled: true}
	b := Config{Enabled: true, Addr: defaultAddr}
	assert.False(t, needsRestart(a, b))
	b.Token = "x"
	assert.True(t, needsRestart(a, b))
}

func waitAddr(t *testing.T, s *Service) string {
	t.Helper()
	var addr string
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)
	return addr
}

func TestServiceLifecycle(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)

	addr := waitAddr(t, s)
	res, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	require.Eventually(t, func() bool { return s.Addr() == "" }, 2*time.Second, 10*time.Millisecond)

	_, err = http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}

func TestServiceRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Addr())
}

func TestReconfigureDisableStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	waitAddr(t, s)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.False(t, s.Enabled())
	require.Eventually(t, func() bool { return s.Addr() == "" }, 2*time.Second, 10*time.Millisecond)
}

func TestBuildStatusIncludesRuntime(t *testing.T) {
	sup := supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(logx.Nop()))
	running, done := make(chan struct{}), make(chan struct{})
	sup.Go0("tracker.poll", func(ctx context.Context) {
		close(running)
		<-done
	})
	<-running
	defer func() {
		close(done)
		_ = sup.Wait(context.Background())
	}()

	st := BuildStatus(context.Background(), Sources{Runtime: sup})
	require.NotNil(t, st.Runtime)
	require.Len(t, st.Runtime.Goroutines, 1)
	assert.Equal(t, "tracker.poll", st.Runtime.Goroutines[0].Name)
}
