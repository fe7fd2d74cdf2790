package syncthing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xds-dev/dashboard/pkg/httpclient"
)

func init() {
	httpclient.DefaultProbeDelay = 10 * time.Millisecond
}

const initialConfig = `{
  "version": 20,
  "folders": [
    {"id": "keep", "label": "keep", "path": "/home/dev/keep", "devices": [], "autoNormalize": false, "rescanIntervalS": 60, "fsync": true}
  ],
  "devices": [
    {"deviceID": "LOCAL-DEVICE-ID-0123456789", "name": "laptop", "addresses": ["dynamic"], "compression": "metadata"}
  ],
  "gui": {"enabled": true, "address": "127.0.0.1:8384", "apiKey": "1234abcezam"},
  "options": {"listenAddresses": ["default"]},
  "ignoredDevices": []
}`

type fakeDaemon struct {
	mu     sync.Mutex
	config []byte
	posts  int
}

func (d *fakeDaemon) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/system/version", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultAPIKey, r.Header.Get(APIKeyHeader))
		w.Write([]byte(`{"version":"v1.27.0"}`))
	})
	mux.HandleFunc("/rest/system/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"myID":"LOCAL-DEVICE-ID-0123456789","tilde":"/home/dev","uptime":12}`))
	})
	mux.HandleFunc("/rest/system/config", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			d.config = body
			d.posts++
			return
		}
		w.Write(d.config)
	})
	return mux
}

func (d *fakeDaemon) current(t *testing.T) map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(d.config, &m))
	return m
}

func newDaemon(t *testing.T, config string) (*fakeDaemon, *httptest.Server) {
	d := &fakeDaemon{config: []byte(config)}
	return d, httptest.NewServer(d.handler(t))
}

func TestConnect(t *testing.T) {
	_, srv := newDaemon(t, initialConfig)
	defer srv.Close()

	c := NewClient(nil)
	st, err := c.Connect(context.Background(), 3, srv.URL)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, "LOCAL-DEVICE-ID-0123456789", st.ID)
	assert.Equal(t, "/home/dev", st.Tilde)
	assert.Equal(t, float64(12), st.RawStatus["uptime"])

	id, err := c.GetID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st.ID, id)
}

func TestAddAndDeleteProject(t *testing.T) {
	d, srv := newDaemon(t, initialConfig)
	defer srv.Close()
	ctx := context.Background()

	c := NewClient(nil)
	_, err := c.Connect(ctx, 3, srv.URL)
	require.NoError(t, err)

	builder := "BUILDER-DEVICE-ID-ABCDEFGHIJKL"
	fld, err := c.AddProject(ctx, Project{ID: "prj1", Path: "/home/dev/prj1", Label: "prj1", ServerSyncThingID: builder})
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/prj1", fld.Path)
	assert.True(t, fld.AutoNormalize)
	require.Len(t, fld.Devices, 1)
	assert.Equal(t, builder, fld.Devices[0].DeviceID)

	cfg := d.current(t)
	assert.Contains(t, cfg, "gui")
	assert.Contains(t, cfg, "options")
	devices := cfg["devices"].([]interface{})
	require.Len(t, devices, 2)
	assert.Equal(t, "metadata", devices[0].(map[string]interface{})["compression"])
	added := devices[1].(map[string]interface{})
	assert.Equal(t, "Builder_BUILDER-DEVICE-", added["name"])
	assert.Equal(t, []interface{}{"dynamic"}, added["addresses"])
	kept := cfg["folders"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(60), kept["rescanIntervalS"])

	//same id again: device reused and folder merged in place
	_, err = c.AddProject(ctx, Project{ID: "keep", Path: "/home/dev/moved", ServerSyncThingID: builder})
	require.NoError(t, err)
	cfg = d.current(t)
	assert.Len(t, cfg["devices"], 2)
	folders := cfg["folders"].([]interface{})
	require.Len(t, folders, 2)
	merged := folders[0].(map[string]interface{})
	assert.Equal(t, "/home/dev/moved", merged["path"])
	assert.Equal(t, true, merged["fsync"])

	prjs, err := c.GetProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, prjs, 2)

	del, err := c.DeleteProject(ctx, "prj1")
	require.NoError(t, err)
	assert.Equal(t, "prj1", del.ID)
	prjs, err = c.GetProjects(ctx)
	require.NoError(t, err)
	require.Len(t, prjs, 1)
	assert.Equal(t, "keep", prjs[0].ID)

	_, err = c.DeleteProject(ctx, "prj1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, d.posts)
}

func TestUnsupportedConfigVersion(t *testing.T) {
	_, srv := newDaemon(t, `{"version": 18, "folders": [], "devices": []}`)
	defer srv.Close()

	c := NewClient(nil)
	_, err := c.Connect(context.Background(), 3, srv.URL)
	assert.EqualError(t, err, "Unsupported Syncthing version api (18 < 19) !")
	assert.False(t, c.Status().Connected)
}

func TestDaemonNotResponding(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(nil)
	_, err := c.Connect(context.Background(), 2, url)
	assert.EqualError(t, err, "Syncthing local daemon not responding (url="+url+")")
}

func TestConfigurationKeepsUnknownKeys(t *testing.T) {
	var cfg Configuration
	require.NoError(t, json.Unmarshal([]byte(initialConfig), &cfg))
	assert.Equal(t, 20, cfg.Version)
	assert.Contains(t, cfg.Extra, "gui")
	assert.NotContains(t, cfg.Extra, "folders")
	require.Len(t, cfg.Folders, 1)
	assert.Contains(t, cfg.Folders[0].Extra, "rescanIntervalS")

	cfg.Folders[0].Label = "renamed"
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []interface{}{}, back["ignoredDevices"])
	fld := back["folders"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "renamed", fld["label"])
	assert.Equal(t, true, fld["fsync"])
}
