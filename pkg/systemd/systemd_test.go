package systemd

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	ok, err := Notifier{}.Ready()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatesReachSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	var n Notifier
	read := func() string {
		buf := make([]byte, 256)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		k, _, err := conn.ReadFromUnix(buf)
		require.NoError(t, err)
		return string(buf[:k])
	}

	ok, err := n.Ready()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "READY=1", read())

	_, err = n.Status("polling 3 players")
	require.NoError(t, err)
	assert.Equal(t, "STATUS=polling 3 players", read())

	_, err = n.Watchdog()
	require.NoError(t, err)
	assert.Equal(t, "WATCHDOG=1", read())
}

func TestWatchdogInterval(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	assert.Zero(t, WatchdogInterval())
}
