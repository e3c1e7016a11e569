package tm

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnnounceNoneIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.txt")
	require.NoError(t, Announce(AnnounceNone, path, "127.0.0.1:9000"))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestAnnounceCatNodesAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.txt")
	require.NoError(t, os.WriteFile(path, []byte("proxy p tcp:1.2.3.4:9\n"), 0644))

	require.NoError(t, Announce(AnnounceCatNodes, path, "127.0.0.1:9000"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "node 127.0.0.1:9000\n")
	require.Contains(t, string(data), "proxy p tcp:1.2.3.4:9\n")
}

func TestResolveConnectableAddrLeavesSpecificHostUnchanged(t *testing.T) {
	addr, err := ResolveConnectableAddr("127.0.0.1:9000")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", addr)
}

func TestResolveConnectableAddrRewritesUnspecifiedHost(t *testing.T) {
	addr, err := ResolveConnectableAddr("0.0.0.0:9000")
	require.NoError(t, err)

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	require.Equal(t, "9000", port)
	require.NotEqual(t, "0.0.0.0", host)
	require.NotNil(t, net.ParseIP(host))
}
