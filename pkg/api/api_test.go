package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xds-dev/dashboard/pkg/alert"
	"github.com/xds-dev/dashboard/pkg/devel"
	"github.com/xds-dev/dashboard/pkg/projects"
	"github.com/xds-dev/dashboard/pkg/sdks"
	"github.com/xds-dev/dashboard/pkg/syncthing"
	"github.com/xds-dev/dashboard/pkg/util"
	"github.com/xds-dev/dashboard/pkg/xdsagent"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

type fakeBuildServer struct {
	mu      sync.Mutex
	folders []xdsserver.FolderConfig
	status  *util.Subject[xdsserver.Status]
	output  *util.Subject[xdsserver.CmdOutput]
	exit    *util.Subject[xdsserver.CmdExit]
}

func newFakeBuildServer() *fakeBuildServer {
	return &fakeBuildServer{
		status: util.NewBehaviorSubject(xdsserver.Status{WSConnected: true}),
		output: util.NewSubject[xdsserver.CmdOutput](),
		exit:   util.NewSubject[xdsserver.CmdExit](),
	}
}

func (f *fakeBuildServer) Status() xdsserver.Status {
	s, _ := f.status.Value()
	return s
}
func (f *fakeBuildServer) SubscribeStatus() (<-chan xdsserver.Status, func()) {
	return f.status.Subscribe()
}
func (f *fakeBuildServer) SubscribeOutput() (<-chan xdsserver.CmdOutput, func()) {
	return f.output.Subscribe()
}
func (f *fakeBuildServer) SubscribeExit() (<-chan xdsserver.CmdExit, func()) {
	return f.exit.Subscribe()
}
func (f *fakeBuildServer) GetVersion(context.Context) (*xdsserver.Version, error) {
	return &xdsserver.Version{ID: "srv", Version: "1.1.0", APIVersion: "1"}, nil
}
func (f *fakeBuildServer) GetSdks(context.Context) ([]xdsserver.SDK, error) {
	return []xdsserver.SDK{{ID: "sdk-1", Profile: "agl", Arch: "aarch64"}}, nil
}
func (f *fakeBuildServer) Origin() string {
	return "http://localhost:8000"
}
func (f *fakeBuildServer) GetXdsAgentInfo(context.Context) (*xdsserver.AgentInfo, error) {
	return &xdsserver.AgentInfo{Tarballs: []xdsserver.AgentTarball{{OS: "linux", Arch: "amd64", Version: "1.0.0", FileURL: "agent.zip"}}}, nil
}
func (f *fakeBuildServer) GetProjects(context.Context) ([]xdsserver.FolderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]xdsserver.FolderConfig{}, f.folders...), nil
}
func (f *fakeBuildServer) AddProject(_ context.Context, cfg xdsserver.FolderConfig) (*xdsserver.FolderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg.ID = "prj-" + cfg.Label
	f.folders = append(f.folders, cfg)
	return &cfg, nil
}
func (f *fakeBuildServer) DeleteProject(_ context.Context, id string) (*xdsserver.FolderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, fld := range f.folders {
		if fld.ID == id {
			f.folders = append(f.folders[:i], f.folders[i+1:]...)
			return &fld, nil
		}
	}
	return &xdsserver.FolderConfig{ID: id}, nil
}
func (f *fakeBuildServer) Exec(_ context.Context, args xdsserver.ExecArgs) (*xdsserver.ExecResult, error) {
	return &xdsserver.ExecResult{Status: "OK", CmdID: "cmd-" + args.ID}, nil
}
func (f *fakeBuildServer) Make(_ context.Context, args xdsserver.MakeArgs) (*xdsserver.ExecResult, error) {
	return &xdsserver.ExecResult{Status: "OK", CmdID: "make-" + args.ID}, nil
}

type fakeAgent struct {
	status   *util.Subject[xdsagent.Status]
	deployed []xdsagent.Deploy
}

func (a *fakeAgent) Connect(context.Context, int, string) (xdsagent.Status, error) {
	return a.Status(), nil
}
func (a *fakeAgent) Status() xdsagent.Status {
	s, _ := a.status.Value()
	return s
}
func (a *fakeAgent) SubscribeStatus() (<-chan xdsagent.Status, func()) {
	return a.status.Subscribe()
}
func (a *fakeAgent) Deploy(_ context.Context, d xdsagent.Deploy) error {
	a.deployed = append(a.deployed, d)
	return nil
}

type fakeSync struct{}

func (fakeSync) Connect(context.Context, int, string) (syncthing.Status, error) {
	return syncthing.Status{ID: "LOCAL-ID-0123456789", Tilde: "/home/dev", Connected: true}, nil
}
func (fakeSync) GetProjects(context.Context) ([]syncthing.FolderConfiguration, error) {
	return nil, nil
}
func (fakeSync) AddProject(_ context.Context, p syncthing.Project) (*syncthing.FolderConfiguration, error) {
	return &syncthing.FolderConfiguration{ID: p.ID, Path: p.Path}, nil
}
func (fakeSync) DeleteProject(_ context.Context, id string) (*syncthing.FolderConfiguration, error) {
	return &syncthing.FolderConfiguration{ID: id}, nil
}

type env struct {
	srv    *httptest.Server
	api    *API
	build  *fakeBuildServer
	agent  *fakeAgent
	svc    Services
	store  projects.SettingsStore
	cancel context.CancelFunc
}

func newEnv(t *testing.T) *env {
	store, err := projects.NewInMemorySettingsStore(nil)
	require.NoError(t, err)

	build := newFakeBuildServer()
	agent := &fakeAgent{status: util.NewBehaviorSubject(xdsagent.Status{Connected: true, Version: "0.3.0"})}
	alerts := alert.NewService(nil)
	cfg := projects.NewConfigService("http://localhost:8000/api/v1", build, agent, fakeSync{}, store, alerts, nil)
	require.NoError(t, cfg.Load())
	sdkSvc := sdks.NewService(build, alerts, nil)

	svc := Services{
		Config:  cfg,
		Sdks:    sdkSvc,
		Alerts:  alerts,
		Console: devel.NewConsole(build, cfg, sdkSvc, store, alerts, nil),
		Deploy:  devel.NewDeployPanel(agent, alerts),
		Server:  build,
		Agent:   agent,
		History: store,
	}
	a := New(Config{AppName: "XDS Dashboard", AppVersion: "1.0.0"}, svc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	e := &env{srv: httptest.NewServer(a.Handler()), api: a, build: build, agent: agent, svc: svc, store: store, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		e.srv.Close()
		alerts.Close()
		store.Close()
	})
	return e
}

func (e *env) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	var rd *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(data))
	} else {
		rd = strings.NewReader("")
	}
	req, err := http.NewRequest(method, e.srv.URL+"/api/v1"+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestVersionAndStatus(t *testing.T) {
	e := newEnv(t)
	var v VersionInfo
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/version", nil, &v))
	assert.Equal(t, "1.0.0", v.Version)
	assert.Equal(t, "v1", v.APIVersion)
	require.NotNil(t, v.Server)
	assert.Equal(t, "1.1.0", v.Server.Version)

	var st Status
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/status", nil, &st))
	assert.True(t, st.Server.WSConnected)
	assert.Equal(t, "0.3.0", st.Agent.Version)
}

func TestConfigPatch(t *testing.T) {
	e := newEnv(t)
	retry, url := 5, "http://localhost:8010"
	var cfg projects.Config
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPatch, "/config", ConfigPatch{AgentRetry: &retry, AgentURL: &url}, &cfg))
	assert.Equal(t, 5, cfg.XDSAgent.Retry)
	assert.Equal(t, 5, cfg.LocalSThg.Retry)
	assert.Equal(t, url, cfg.XDSAgent.URL)

	saved, err := e.store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, url, saved.XDSAgent.URL)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPatch, "/config", "nope", nil))
}

func TestProjectsLifecycle(t *testing.T) {
	e := newEnv(t)
	var prjs []projects.Project
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/projects/reload", nil, &prjs))
	assert.Empty(t, prjs)

	var added projects.Project
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/projects",
		projects.Project{Label: "app", PathClient: "~/src/app", Type: projects.CloudSync}, &added))
	assert.Equal(t, "prj-app", added.ID)
	assert.Equal(t, "/home/dev/src/app", added.PathClient)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/projects", nil, &prjs))
	require.Len(t, prjs, 1)

	var one projects.Project
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/projects/prj-app", nil, &one))
	assert.Equal(t, "app", one.Label)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/projects/nope", nil, nil))

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/projects",
		projects.Project{ID: "prj-app", PathClient: "/x", Type: projects.CloudSync}, nil))

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/projects/prj-app", nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/projects/prj-app", nil, nil))
}

func TestSdksAndAlerts(t *testing.T) {
	e := newEnv(t)
	var list []xdsserver.SDK
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/sdks/refresh", nil, &list))
	require.Len(t, list, 1)

	var cur xdsserver.SDK
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/sdks/current", map[string]string{"id": "sdk-1"}, &cur))
	assert.Equal(t, "sdk-1", cur.ID)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPut, "/sdks/current", map[string]string{"id": "x"}, nil))

	e.svc.Alerts.Error("first", 0)
	var alerts []alert.Alert
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/alerts", nil, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/alerts/0", nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/alerts/0", nil, nil))
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodDelete, "/alerts/abc", nil, nil))
}

func TestBuildAndHistory(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/build/build", BuildRequest{}, nil))

	_, err := e.svc.Config.AddProject(context.Background(), projects.Project{Label: "lib", PathClient: "/src/lib", Type: projects.PathMap})
	require.NoError(t, err)

	var res xdsserver.ExecResult
	req := BuildRequest{Request: devel.Request{ProjectID: "prj-lib", CmdArgs: "all"}}
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/build/build", req, &res))
	assert.Equal(t, "cmd-prj-lib", res.CmdID)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/build/make", BuildRequest{Request: req.Request, Args: "clean"}, &res))
	assert.Equal(t, "make-prj-lib", res.CmdID)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/build/unknown", req, nil))

	e.svc.Console.HandleOutput(xdsserver.CmdOutput{CmdID: "cmd-prj-lib", Stdout: "compiling"})
	e.svc.Console.HandleExit(xdsserver.CmdExit{CmdID: "cmd-prj-lib", Code: 0})

	var out struct {
		Output string `json:"output"`
		Info   string `json:"info"`
	}
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/build/output", nil, &out))
	assert.Contains(t, out.Output, "compiling\n")
	assert.True(t, strings.HasPrefix(out.Info, "Last command duration: "))

	var recs []projects.CommandRecord
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/commands?limit=5", nil, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, devel.BuildCmd, recs[0].Cmd)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/build/output", nil, nil))
	assert.Empty(t, e.svc.Console.Output())
}

func TestDeploy(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/deploy", map[string]string{"boardIP": "10.0.0.9", "file": "/tmp/a.wgt"}, nil))
	assert.Equal(t, []xdsagent.Deploy{{BoardIP: "10.0.0.9", File: "/tmp/a.wgt"}}, e.agent.deployed)
	var st struct {
		Deploying bool `json:"deploying"`
	}
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/deploy", nil, &st))
	assert.False(t, st.Deploying)
}

func TestEventsSocket(t *testing.T) {
	e := newEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	seen := map[string]bool{}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 5 {
		var ev Event
		require.NoError(t, ws.ReadJSON(&ev))
		seen[ev.Type] = true
	}
	assert.Equal(t, map[string]bool{
		EventConfig: true, EventAlerts: true, EventSdks: true, EventServerStatus: true, EventAgentStatus: true,
	}, seen)
	require.Eventually(t, func() bool { return e.api.hub.count() == 1 }, time.Second, 5*time.Millisecond)

	e.build.output.Next(xdsserver.CmdOutput{CmdID: "7", Stdout: "hello"})
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var raw struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, ws.ReadJSON(&raw))
		if raw.Type != EventExecOutput {
			continue
		}
		var out xdsserver.CmdOutput
		require.NoError(t, json.Unmarshal(raw.Data, &out))
		assert.Equal(t, "hello", out.Stdout)
		break
	}

	ws.Close()
	require.Eventually(t, func() bool { return e.api.hub.count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOriginValidator(t *testing.T) {
	a := New(Config{AllowedOrigins: []string{"https://xds.example.com"}}, Services{}, nil)
	assert.True(t, a.allowedOriginValidator("http://localhost:4200"))
	assert.True(t, a.allowedOriginValidator("http://localhost:9999"))
	assert.True(t, a.allowedOriginValidator("http://127.0.0.1:8000"))
	assert.True(t, a.allowedOriginValidator("https://xds.example.com"))
	assert.False(t, a.allowedOriginValidator("https://evil.example.com"))
}

func TestAgentInfoMatchesBrowserOS(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Config.RefreshAgentPackages(context.Background()))

	get := func(userAgent string) AgentInfo {
		req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/xdsagent/info", nil)
		require.NoError(t, err)
		req.Header.Set("User-Agent", userAgent)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var info AgentInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		return info
	}

	info := get("Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0")
	assert.Equal(t, "linux", info.OS)
	require.NotNil(t, info.Current)
	assert.Equal(t, "http://localhost:8000/agent.zip", info.Current.URL)
	assert.Len(t, info.Packages, 1)

	info = get("Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	assert.Equal(t, "windows", info.OS)
	assert.Nil(t, info.Current)
	assert.Len(t, info.Packages, 1)
}

func TestEventsSnapshotComesFirst(t *testing.T) {
	e := newEnv(t)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				e.api.hub.broadcast(Event{Type: EventExecOutput, Data: xdsserver.CmdOutput{CmdID: "1", Stdout: "noise"}})
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	types := []string{}
	for len(types) < 5 {
		var ev Event
		require.NoError(t, ws.ReadJSON(&ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventConfig, EventAlerts, EventSdks, EventServerStatus, EventAgentStatus}, types)
}
