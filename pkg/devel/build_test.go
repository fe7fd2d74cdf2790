package devel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xds-dev/dashboard/pkg/projects"
	"github.com/xds-dev/dashboard/pkg/xdsagent"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

type fakeServer struct {
	execs []xdsserver.ExecArgs
	makes []xdsserver.MakeArgs
	err   error
}

func (f *fakeServer) Exec(_ context.Context, args xdsserver.ExecArgs) (*xdsserver.ExecResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.execs = append(f.execs, args)
	return &xdsserver.ExecResult{Status: "OK", CmdID: "c1"}, nil
}

func (f *fakeServer) Make(_ context.Context, args xdsserver.MakeArgs) (*xdsserver.ExecResult, error) {
	f.makes = append(f.makes, args)
	return &xdsserver.ExecResult{Status: "OK", CmdID: "m1"}, nil
}

type oneProject string

func (p oneProject) Project(id string) (projects.Project, bool) {
	return projects.Project{ID: id}, id == string(p)
}

type sdk string

func (s sdk) CurrentID() string { return string(s) }

type history struct {
	mu   sync.Mutex
	recs []projects.CommandRecord
}

func (h *history) SaveCommand(rec projects.CommandRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

type notes struct {
	mu       sync.Mutex
	errors   []string
	warnings []string
}

func (n *notes) Error(msg string, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *notes) Warning(msg string, _ bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, msg)
}

func newConsole() (*Console, *fakeServer, *history, *notes) {
	srv := &fakeServer{}
	h := &history{}
	n := &notes{}
	c := NewConsole(srv, oneProject("prj"), sdk("sdk-1"), h, n, nil)
	return c, srv, h, n
}

func TestBuildCommands(t *testing.T) {
	c, srv, _, _ := newConsole()
	ctx := context.Background()
	req := Request{ProjectID: "prj", SubPath: "src", CmdArgs: "-j4  all", EnvVars: "A=1; B=2;"}

	_, err := c.PreBuild(ctx, req)
	require.NoError(t, err)
	_, err = c.Build(ctx, req)
	require.NoError(t, err)
	_, err = c.Populate(ctx, req)
	require.NoError(t, err)
	_, err = c.ExecCmd(ctx, Request{ProjectID: "prj", CmdArgs: "ls -l"})
	require.NoError(t, err)

	require.Len(t, srv.execs, 4)
	assert.Equal(t, xdsserver.ExecArgs{
		ID: "prj", SdkID: "sdk-1", Cmd: PreBuildCmd, Args: []string{}, Env: []string{"A=1", "B=2"}, RPath: "src",
	}, srv.execs[0])
	assert.Equal(t, BuildCmd, srv.execs[1].Cmd)
	assert.Equal(t, []string{"-j4", "all"}, srv.execs[1].Args)
	assert.Equal(t, DefaultPopulateCmd, srv.execs[2].Cmd)
	assert.Equal(t, "ls -l", srv.execs[3].Cmd)
	assert.Equal(t, []string{}, srv.execs[3].Env)

	_, err = c.Make(ctx, req, "")
	require.NoError(t, err)
	_, err = c.Make(ctx, req, "clean")
	require.NoError(t, err)
	require.Len(t, srv.makes, 2)
	assert.Equal(t, []string{"-j4", "all"}, srv.makes[0].Args)
	assert.Equal(t, []string{"clean"}, srv.makes[1].Args)

	assert.Equal(t, 6, strings.Count(c.Output(), "--- "))
}

func TestNoActiveProject(t *testing.T) {
	c, srv, _, n := newConsole()
	_, err := c.Build(context.Background(), Request{ProjectID: "other"})
	assert.ErrorIs(t, err, ErrNoProject)
	_, err = c.Make(context.Background(), Request{}, "all")
	assert.ErrorIs(t, err, ErrNoProject)
	assert.Equal(t, []string{"No active project", "No active project"}, n.warnings)
	assert.Empty(t, srv.execs)
	assert.Empty(t, c.Output())
}

func TestExecFailure(t *testing.T) {
	c, srv, _, n := newConsole()
	srv.err = errors.New("Invalid SDK id")
	_, err := c.Build(context.Background(), Request{ProjectID: "prj"})
	require.Error(t, err)
	assert.Equal(t, []string{"ERROR: Invalid SDK id"}, n.errors)
	assert.True(t, strings.HasPrefix(c.Info(), "Last command duration: "))
}

func TestConsoleFanIn(t *testing.T) {
	c, _, h, _ := newConsole()
	t0 := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	now := t0
	c.now = func() time.Time { return now }

	_, err := c.Build(context.Background(), Request{ProjectID: "prj", CmdArgs: "all"})
	require.NoError(t, err)
	assert.Equal(t, "--- "+t0.Format(time.UnixDate)+" ---\n", c.Output())

	outputs := make(chan xdsserver.CmdOutput, 4)
	exits := make(chan xdsserver.CmdExit, 4)
	outputs <- xdsserver.CmdOutput{CmdID: "c1", Stdout: "[ 50%] Building C object"}
	outputs <- xdsserver.CmdOutput{CmdID: "c1", Stderr: "warning: unused variable"}
	close(outputs)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), outputs, exits)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return strings.Contains(c.Output(), "warning: unused variable\n")
	}, time.Second, 5*time.Millisecond)

	now = t0.Add(2500 * time.Millisecond)
	exits <- xdsserver.CmdExit{CmdID: "c1", Code: 2}
	close(exits)
	<-done

	assert.Equal(t, "--- "+t0.Format(time.UnixDate)+" ---\n"+
		"[ 50%] Building C object\n"+
		"warning: unused variable\n"+
		"--- Command exited with code 2 ---\n\n", c.Output())
	assert.Equal(t, "Last command duration: 2.500 seconds", c.Info())
	require.Len(t, h.recs, 1)
	assert.Equal(t, projects.CommandRecord{
		ProjectID: "prj", SdkID: "sdk-1", Cmd: BuildCmd, Args: []string{"all"},
		CmdID: "c1", Started: t0, Duration: 2500 * time.Millisecond, ExitCode: 2,
	}, h.recs[0])

	c.Reset()
	assert.Empty(t, c.Output())
}

func TestUnknownExitOnlyPrintsBanner(t *testing.T) {
	c, _, h, _ := newConsole()
	c.HandleExit(xdsserver.CmdExit{CmdID: "nope", Code: 0})
	assert.Empty(t, c.Output())
	c.HandleExit(xdsserver.CmdExit{CmdID: "nope", Code: 1})
	assert.Equal(t, "--- Command exited with code 1 ---\n\n", c.Output())
	assert.Empty(t, h.recs)
	assert.Empty(t, c.Info())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.00 ms", FormatDuration(0))
	assert.Equal(t, "12.00 ms", FormatDuration(12400*time.Microsecond))
	assert.Equal(t, "999.00 ms", FormatDuration(999*time.Millisecond))
	assert.Equal(t, "1.000 seconds", FormatDuration(time.Second))
	assert.Equal(t, "61.235 seconds", FormatDuration(61235*time.Millisecond))
}

func TestSplitEnv(t *testing.T) {
	assert.Equal(t, []string{}, SplitEnv(""))
	assert.Equal(t, []string{"A=1", "B=x y"}, SplitEnv(" A=1 ;; B=x y "))
}

type fakeAgent struct {
	err error
	got []xdsagent.Deploy
}

func (a *fakeAgent) Deploy(_ context.Context, d xdsagent.Deploy) error {
	a.got = append(a.got, d)
	return a.err
}

func TestDeployPanel(t *testing.T) {
	agent := &fakeAgent{}
	n := &notes{}
	p := NewDeployPanel(agent, n)

	require.NoError(t, p.Deploy(context.Background(), "192.168.1.20", "/tmp/app.wgt"))
	assert.False(t, p.Deploying())
	assert.Equal(t, []xdsagent.Deploy{{BoardIP: "192.168.1.20", File: "/tmp/app.wgt"}}, agent.got)

	agent.err = errors.New("board unreachable")
	require.Error(t, p.Deploy(context.Background(), "192.168.1.20", "/tmp/app.wgt"))
	assert.Equal(t, []string{`<span>ERROR while deploying "/tmp/app.wgt"<br>board unreachable</span>`}, n.errors)
}
