package projects

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTrip(t *testing.T) {
	store, err := NewInMemorySettingsStore(nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.LoadSettings()
	assert.ErrorIs(t, err, ErrNoSettings)

	cfg := DefaultConfig("http://build:8000/api/v1")
	cfg.ProjectsRootDir = "/home/dev/src"
	cfg.Projects = []Project{{ID: "p1", PathClient: "/home/dev/src/p1", Type: CloudSync}}
	require.NoError(t, store.SaveSettings(cfg))

	got, err := store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/src", got.ProjectsRootDir)
	assert.Equal(t, "http://build:8000/api/v1", got.XDSServerURL)
	assert.Empty(t, got.Projects)
}

func TestCommandHistoryNewestFirst(t *testing.T) {
	store, err := NewInMemorySettingsStore(nil)
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, cmd := range []string{"cmake ..", "make", "make install"} {
		require.NoError(t, store.SaveCommand(CommandRecord{
			ProjectID: "p1",
			Cmd:       cmd,
			Started:   start.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListCommands(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "make install", all[0].Cmd)
	assert.Equal(t, "cmake ..", all[2].Cmd)
	assert.NotEmpty(t, all[0].ID)

	last, err := store.ListCommands(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "make", last[1].Cmd)
}

func TestDBSettingsStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDBSettingsStore(dir, nil)
	require.NoError(t, err)
	cfg := DefaultConfig("http://localhost:8000/api/v1")
	cfg.XDSAgent.Retry = 3
	require.NoError(t, store.SaveSettings(cfg))
	require.NoError(t, store.Close())

	store, err = NewDBSettingsStore(dir, nil)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 3, got.XDSAgent.Retry)
}
