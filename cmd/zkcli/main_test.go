package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikekulinski/zkclient/pkg/persistence"
	"github.com/mikekulinski/zkclient/pkg/zktest"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func zkcli(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    config
		wantErr bool
	}{
		{
			name:    "empty file keeps defaults",
			content: "",
			want:    defaultConfig(),
		},
		{
			name: "overrides",
			content: `
server = "zk1:2181,zk2:2181/app"
session_timeout = "5s"
spin_delay = "250ms"
session_dir = " /tmp/zk "
read_only = true
`,
			want: func() config {
				c := defaultConfig()
				c.Server = "zk1:2181,zk2:2181/app"
				c.SessionTimeout = 5 * time.Second
				c.SpinDelay = 250 * time.Millisecond
				c.SessionDir = "/tmp/zk"
				c.ReadOnly = true
				return c
			}(),
		},
		{
			name:    "bad duration",
			content: `session_timeout = "soon"`,
			wantErr: true,
		},
		{
			name:    "unknown key",
			content: `servers = "zk1"`,
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "zkcli.toml")
			require.NoError(t, os.WriteFile(path, []byte(test.content), 0o600))

			got, err := loadConfig(path)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestCommands(t *testing.T) {
	srv, err := zktest.NewServer()
	require.NoError(t, err)
	defer srv.Close()
	server := "--server=" + srv.Addr()

	out, err := zkcli(t, server, "mkdirp", "/apps/web")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = zkcli(t, server, "create", "/apps/web/config", "port=80")
	require.NoError(t, err)
	assert.Equal(t, "/apps/web/config\n", out)

	out, err = zkcli(t, server, "create", "--sequential", "/apps/web/worker-")
	require.NoError(t, err)
	assert.Equal(t, "/apps/web/worker-0000000001\n", out)

	out, err = zkcli(t, server, "set", "--version=0", "/apps/web/config", "port=8080")
	require.NoError(t, err)
	assert.Equal(t, "version 1\n", out)

	out, err = zkcli(t, server, "get", "/apps/web/config")
	require.NoError(t, err)
	assert.Equal(t, "port=8080\n", out)

	out, err = zkcli(t, server, "ls", "/apps/web")
	require.NoError(t, err)
	assert.Equal(t, "config\nworker-0000000001\n", out)

	out, err = zkcli(t, server, "stat", "--output=yaml", "/apps/web/config")
	require.NoError(t, err)
	var stat statView
	require.NoError(t, yaml.Unmarshal([]byte(out), &stat))
	assert.Equal(t, "/apps/web/config", stat.Path)
	assert.Equal(t, int32(1), stat.Version)
	assert.Equal(t, int32(9), stat.DataLength)

	out, err = zkcli(t, server, "stat", "/apps/web")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "/apps/web\n"), out)
	assert.Contains(t, out, "numChildren = 2")

	_, err = zkcli(t, server, "delete", "/apps/web")
	assert.ErrorIs(t, err, zookeeper.ErrNotEmpty)

	_, err = zkcli(t, server, "delete", "/apps/web/config")
	require.NoError(t, err)
	_, err = zkcli(t, server, "get", "/apps/web/config")
	assert.ErrorIs(t, err, zookeeper.ErrNoNode)
}

func TestSessionDir(t *testing.T) {
	srv, err := zktest.NewServer()
	require.NoError(t, err)
	defer srv.Close()
	server := "--server=" + srv.Addr()
	dir := filepath.Join(t.TempDir(), "session")

	_, err = zkcli(t, server, "--session-dir="+dir, "create", "--ephemeral", "/leader", "me")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The next run resumes the same session, so the ephemeral node is still
	// there and still owned by it.
	out, err := zkcli(t, server, "--session-dir="+dir, "get", "/leader")
	require.NoError(t, err)
	assert.Equal(t, "me\n", out)
	assert.Equal(t, 1, srv.SessionCount())
}

func TestSessionDir_Expired(t *testing.T) {
	srv, err := zktest.NewServer()
	require.NoError(t, err)
	defer srv.Close()
	server := "--server=" + srv.Addr()
	dir := filepath.Join(t.TempDir(), "session")

	_, err = zkcli(t, server, "--session-dir="+dir, "create", "/a", "kept")
	require.NoError(t, err)
	store, err := persistence.NewStore(dir)
	require.NoError(t, err)
	snap, err := store.Load()
	require.NoError(t, err)
	srv.Expire(snap.SessionID)

	_, err = zkcli(t, server, "--session-dir="+dir, "get", "/a")
	assert.ErrorIs(t, err, zookeeper.ErrSessionExpired)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The dead session is not resumed again.
	for i := 0; i < 2; i++ {
		out, err := zkcli(t, server, "--session-dir="+dir, "get", "/a")
		require.NoError(t, err)
		assert.Equal(t, "kept\n", out)
	}
	assert.Equal(t, 1, srv.SessionCount())
}

func TestVersion(t *testing.T) {
	out, err := zkcli(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "zkcli dev\n", out)
}
