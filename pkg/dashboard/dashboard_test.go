package dashboard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xds-dev/dashboard/pkg/sockio/sockiotest"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

func TestNewAppliesOverrides(t *testing.T) {
	d, err := New(Options{
		ServerURL:    "http://localhost:8000/api/v1",
		AgentURL:     "http://localhost:8010",
		SyncthingURL: "http://localhost:8385",
		Retry:        3,
	})
	require.NoError(t, err)
	defer d.Close()

	cfg := d.Config.Config()
	assert.Equal(t, "http://localhost:8000/api/v1", cfg.XDSServerURL)
	assert.Equal(t, "http://localhost:8010", cfg.XDSAgent.URL)
	assert.Equal(t, 3, cfg.XDSAgent.Retry)
	assert.Equal(t, "http://localhost:8385", cfg.LocalSThg.URL)

	svc := d.Services()
	assert.Same(t, d.Config, svc.Config)
	assert.Same(t, d.Console, svc.Console)
	assert.NotNil(t, svc.History)
}

func TestNewRejectsBadServerURL(t *testing.T) {
	_, err := New(Options{ServerURL: "not a url"})
	assert.Error(t, err)
}

func TestSettingsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	d, err := New(Options{ServerURL: "http://localhost:8000/api/v1", DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, d.Config.SetProjectsRootDir("/home/dev/src"))
	require.NoError(t, d.Close())

	d, err = New(Options{ServerURL: "http://localhost:8000/api/v1", DataDir: dir})
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, "/home/dev/src", d.Config.Config().ProjectsRootDir)
}

func TestStartFeedsConsole(t *testing.T) {
	sock := sockiotest.NewServer()
	defer sock.Close()

	d, err := New(Options{ServerURL: sock.URL + "/api/v1"})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	require.True(t, sock.WaitClient(2*time.Second))

	require.NoError(t, sock.Emit(xdsserver.EventExecOutput, map[string]interface{}{"cmdID": "1", "stdout": "compiling"}))
	require.NoError(t, sock.Emit(xdsserver.EventExecExit, map[string]interface{}{"cmdID": "1", "code": 1}))

	require.Eventually(t, func() bool {
		return strings.Contains(d.Console.Output(), "--- Command exited with code 1 ---")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(d.Console.Output(), "compiling\n"))
}
