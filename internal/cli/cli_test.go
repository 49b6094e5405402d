package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puddlebot/internal/storage"
	logx "puddlebot/pkg/logx"
)

// fakeFarm serves a minimal puddle.farm API with one player who has one
// Ky match.
func fakeFarm(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/player/1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": 1, "name": "Tester", "ratings": [{"char_short": "KY", "character": "Ky Kiske", "rating": 1500}]}`))
	})
	mux.HandleFunc("/api/player/1/history/KY", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"history": [{"timestamp": "2024-05-01 10:00:00", "opponent_id": 9, "opponent_name": "Foe", "result_win": true}]}`))
	})
	mux.HandleFunc("/api/top", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ranks": [{"id": 1, "name": "Tester", "rating": 1500, "char_short": "KY"}, {"id": 2, "name": "Other", "rating": 1400, "char_short": "SO"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`{
  "telegram": {"token": "t"},
  "logging": {"level": "error"},
  "api": {"base_url": %q, "timeout": "2s"},
  "retry": {"max_attempts": 2, "backoff_base": "1ms", "backoff_factor": 2, "retry_statuses": [500]},
  "tracker": {"schedule": "2m", "players": [{"id": "1", "name": "Tester", "characters": ["KY"]}]},
  "storage": {"driver": "file", "path": %q}
}`, baseURL+"/api", filepath.Join(dir, "state.json"))
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHealthExitCodes(t *testing.T) {
	up := writeConfig(t, fakeFarm(t, true).URL)
	out, err := run(t, "-c", up, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "healthy")

	down := writeConfig(t, fakeFarm(t, false).URL)
	out, err = run(t, "-c", down, "health")
	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Code)
	assert.Contains(t, out, "unhealthy")
	assert.Equal(t, 1, Execute(context.Background(), []string{"-c", down, "health"}))
}

func TestPlayersAddListRemove(t *testing.T) {
	path := writeConfig(t, fakeFarm(t, true).URL)

	out, err := run(t, "-c", path, "players", "add", "77", "Newcomer", "--char", "sol")
	require.NoError(t, err)
	assert.Contains(t, out, "tracking Newcomer (77)")

	out, err = run(t, "-c", path, "players", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Newcomer")
	assert.Contains(t, out, "SO")

	_, err = run(t, "-c", path, "players", "add", "78", "Bad", "--char", "nobody")
	require.Error(t, err)

	out, err = run(t, "-c", path, "players", "remove", "77")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 77")

	_, err = run(t, "-c", path, "players", "remove", "77")
	require.Error(t, err)
}

func TestTopPrintsLeaderboard(t *testing.T) {
	path := writeConfig(t, fakeFarm(t, true).URL)
	out, err := run(t, "-c", path, "top", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Tester")
	assert.NotContains(t, out, "Other")

	_, err = run(t, "-c", path, "top", "nobody")
	require.Error(t, err)
}

func TestPollDryRunTakesBaseline(t *testing.T) {
	path := writeConfig(t, fakeFarm(t, true).URL)
	out, err := run(t, "-c", path, "poll", "--dry-run", "--memory")
	require.NoError(t, err)
	assert.Contains(t, out, "1 ok / 1")
}

func openState(t *testing.T, cfgPath string) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(filepath.Dir(cfgPath), "state.json")}, logx.Nop())
	require.NoError(t, err)
	return st
}

func TestPollDryRunLeavesStoredCursors(t *testing.T) {
	path := writeConfig(t, fakeFarm(t, true).URL)
	key := storage.CursorKey{PlayerID: "1", Scope: "KY"}
	old := storage.Cursor{LastSeen: "2024-04-30 09:00:00_5", Seen: []string{"2024-04-30 09:00:00_5"}}

	st := openState(t, path)
	require.NoError(t, st.PutCursor(context.Background(), key, old))
	require.NoError(t, st.Close())

	out, err := run(t, "-c", path, "poll", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Foe")
	assert.Contains(t, out, "1 ok / 1")

	st = openState(t, path)
	defer st.Close()
	got, ok, err := st.GetCursor(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, old.LastSeen, got.LastSeen)
	assert.Equal(t, old.Seen, got.Seen)
}

func TestCursorReset(t *testing.T) {
	path := writeConfig(t, fakeFarm(t, true).URL)
	st := openState(t, path)
	require.NoError(t, st.PutCursor(context.Background(), storage.CursorKey{PlayerID: "1", Scope: "KY"}, storage.Cursor{LastSeen: "a", Seen: []string{"a"}}))
	require.NoError(t, st.Close())

	out, err := run(t, "-c", path, "cursor", "reset", "1", "ky")
	require.NoError(t, err)
	assert.Contains(t, out, "reset 1 cursor(s) for 1")

	out, err = run(t, "-c", path, "cursor", "reset", "1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "reset 0"))
}

func TestMissingConfigFails(t *testing.T) {
	_, err := run(t, "-c", filepath.Join(t.TempDir(), "nope.json"), "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
