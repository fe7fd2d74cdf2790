//Package devel holds the build console and the deploy panel
package devel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/projects"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

const (
	PreBuildCmd = "mkdir -p build && cd build && cmake .."
	BuildCmd    = "cd build && make"
	//DefaultPopulateCmd installs the build output into the project sysroot
	DefaultPopulateCmd = "cd build && make populate"
)

//ErrNoProject is returned when a command targets no known project
var ErrNoProject = errors.New("No active project")

//Server runs commands on the build server
type Server interface {
	Exec(ctx context.Context, args xdsserver.ExecArgs) (*xdsserver.ExecResult, error)
	Make(ctx context.Context, args xdsserver.MakeArgs) (*xdsserver.ExecResult, error)
}

//ProjectLookup resolves project ids
type ProjectLookup interface {
	Project(id string) (projects.Project, bool)
}

//SdkSelector gives the SDK picked by the user
type SdkSelector interface {
	CurrentID() string
}

//History records finished commands
type History interface {
	SaveCommand(rec projects.CommandRecord) error
}

//Notifier shows messages to the user
type Notifier interface {
	Error(msg string, dismissSeconds int)
	Warning(msg string, dismissible bool)
}

//Request is what the build panel form sends
type Request struct {
	ProjectID string `json:"projectID"`
	SubPath   string `json:"subpath"`
	CmdArgs   string `json:"cmdArgs"`
	EnvVars   string `json:"envVars"`
}

//Console is the build panel: it starts commands and accumulates their output
type Console struct {
	PopulateCmd string

	server   Server
	projects ProjectLookup
	sdks     SdkSelector
	history  History
	alerts   Notifier
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	output  strings.Builder
	info    string
	started map[string]projects.CommandRecord
}

func NewConsole(server Server, prjs ProjectLookup, sdks SdkSelector, history History, alerts Notifier, log *logrus.Entry) *Console {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Console{
		PopulateCmd: DefaultPopulateCmd,
		server:      server,
		projects:    prjs,
		sdks:        sdks,
		history:     history,
		alerts:      alerts,
		log:         log.WithField("component", "build"),
		now:         time.Now,
		started:     make(map[string]projects.CommandRecord),
	}
}

//Run appends the command events to the console until ctx is done or both streams are closed
func (c *Console) Run(ctx context.Context, outputs <-chan xdsserver.CmdOutput, exits <-chan xdsserver.CmdExit) {
	for outputs != nil || exits != nil {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-outputs:
			if !ok {
				outputs = nil
				continue
			}
			c.HandleOutput(o)
		case e, ok := <-exits:
			if !ok {
				exits = nil
				continue
			}
			c.HandleExit(e)
		}
	}
}

//HandleOutput appends one output event
func (c *Console) HandleOutput(o xdsserver.CmdOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.Stdout == "" && o.Stderr == "" {
		c.output.WriteString("\n")
		return
	}
	if o.Stdout != "" {
		c.output.WriteString(o.Stdout + "\n")
	}
	if o.Stderr != "" {
		c.output.WriteString(o.Stderr + "\n")
	}
}

//HandleExit closes a command: duration, exit banner and history
func (c *Console) HandleExit(e xdsserver.CmdExit) {
	c.mu.Lock()
	rec, known := c.started[e.CmdID]
	if known {
		delete(c.started, e.CmdID)
		rec.Duration = c.now().Sub(rec.Started)
		rec.ExitCode = e.Code
		rec.Error = e.Error
		c.info = "Last command duration: " + FormatDuration(rec.Duration)
	}
	if e.Code != 0 {
		fmt.Fprintf(&c.output, "--- Command exited with code %d ---\n\n", e.Code)
	}
	c.mu.Unlock()

	if known && c.history != nil {
		if err := c.history.SaveCommand(rec); err != nil {
			c.log.Warnf("cannot record command %s: %v", rec.CmdID, err)
		}
	}
}

//Output returns the console text
func (c *Console) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

//Info returns the status line of the last command
func (c *Console) Info() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

//Reset clears the console text
func (c *Console) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output.Reset()
}

//PreBuild configures the project build directory
func (c *Console) PreBuild(ctx context.Context, req Request) (*xdsserver.ExecResult, error) {
	return c.exec(ctx, req, PreBuildCmd, []string{})
}

//Build runs make in the build directory with the form arguments
func (c *Console) Build(ctx context.Context, req Request) (*xdsserver.ExecResult, error) {
	return c.exec(ctx, req, BuildCmd, strings.Fields(req.CmdArgs))
}

//Populate installs the build output
func (c *Console) Populate(ctx context.Context, req Request) (*xdsserver.ExecResult, error) {
	return c.exec(ctx, req, c.PopulateCmd, []string{})
}

//ExecCmd runs the form arguments as a shell command
func (c *Console) ExecCmd(ctx context.Context, req Request) (*xdsserver.ExecResult, error) {
	return c.exec(ctx, req, req.CmdArgs, []string{})
}

//Make runs make with args, the form arguments when args is empty
func (c *Console) Make(ctx context.Context, req Request, args string) (*xdsserver.ExecResult, error) {
	if args == "" {
		args = req.CmdArgs
	}
	argv := strings.Fields(args)
	return c.start(ctx, req, "make", argv, func(prjID, sdkID string, env []string) (*xdsserver.ExecResult, error) {
		return c.server.Make(ctx, xdsserver.MakeArgs{
			ID:    prjID,
			SdkID: sdkID,
			Args:  argv,
			Env:   env,
			RPath: req.SubPath,
		})
	})
}

func (c *Console) exec(ctx context.Context, req Request, cmd string, args []string) (*xdsserver.ExecResult, error) {
	return c.start(ctx, req, cmd, args, func(prjID, sdkID string, env []string) (*xdsserver.ExecResult, error) {
		return c.server.Exec(ctx, xdsserver.ExecArgs{
			ID:    prjID,
			SdkID: sdkID,
			Cmd:   cmd,
			Args:  args,
			Env:   env,
			RPath: req.SubPath,
		})
	})
}

type runner func(prjID, sdkID string, env []string) (*xdsserver.ExecResult, error)

func (c *Console) start(ctx context.Context, req Request, cmd string, args []string, run runner) (*xdsserver.ExecResult, error) {
	if _, ok := c.projects.Project(req.ProjectID); req.ProjectID == "" || !ok {
		if c.alerts != nil {
			c.alerts.Warning(ErrNoProject.Error(), true)
		}
		return nil, ErrNoProject
	}

	sdkID := ""
	if c.sdks != nil {
		sdkID = c.sdks.CurrentID()
	}
	t0 := c.now()

	c.mu.Lock()
	c.output.WriteString(outputHeader(t0))
	c.info = fmt.Sprintf("Start build of %s at %s", req.ProjectID, t0.Format(time.RFC3339))
	c.mu.Unlock()

	res, err := run(req.ProjectID, sdkID, SplitEnv(req.EnvVars))
	if err != nil {
		c.mu.Lock()
		c.info = "Last command duration: " + FormatDuration(c.now().Sub(t0))
		c.mu.Unlock()
		if c.alerts != nil {
			c.alerts.Error("ERROR: "+err.Error(), 0)
		}
		return nil, err
	}

	c.mu.Lock()
	c.started[res.CmdID] = projects.CommandRecord{
		ProjectID: req.ProjectID,
		SdkID:     sdkID,
		Cmd:       cmd,
		Args:      args,
		CmdID:     res.CmdID,
		Started:   t0,
	}
	c.mu.Unlock()
	return res, nil
}

//SplitEnv turns "A=1; B=2" into ["A=1", "B=2"], empty entries are dropped
func SplitEnv(env string) []string {
	out := []string{}
	for _, v := range strings.Split(env, ";") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

//FormatDuration prints milliseconds below one second and seconds above
func FormatDuration(d time.Duration) string {
	ms := math.Round(float64(d) / float64(time.Millisecond))
	if ms < 1000 {
		return fmt.Sprintf("%.2f ms", ms)
	}
	return fmt.Sprintf("%.3f seconds", ms/1000)
}

func outputHeader(t time.Time) string {
	return "--- " + t.Format(time.UnixDate) + " ---\n"
}
