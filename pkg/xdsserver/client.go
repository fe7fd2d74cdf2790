package xdsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/httpclient"
	"github.com/xds-dev/dashboard/pkg/sockio"
	"github.com/xds-dev/dashboard/pkg/util"
)

//Events emitted by the build server on its socket
const (
	EventMakeOutput = "make:output"
	EventMakeExit   = "make:exit"
	EventExecOutput = "exec:output"
	EventExecExit   = "exec:exit"
)

//Notifier receives the errors worth showing to the user
type Notifier interface {
	Error(msg string, dismissSeconds int)
}

//Client talks to the build server REST API and listens to its events
type Client struct {
	BaseURL string

	rest   *resty.Client
	socket *sockio.Client
	log    *logrus.Entry
	alerts Notifier

	CmdOutput *util.Subject[CmdOutput]
	CmdExit   *util.Subject[CmdExit]
	status    *util.Subject[Status]
}

//NewClient creates a client for the server API rooted at baseURL (eg. http://host:8000/api/v1)
func NewClient(baseURL string, alerts Notifier, log *logrus.Entry) (*Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "xds-server")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}

	c := &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		rest:      httpclient.NewREST(baseURL, "", ""),
		log:       log,
		alerts:    alerts,
		CmdOutput: util.NewSubject[CmdOutput](),
		CmdExit:   util.NewSubject[CmdExit](),
		status:    util.NewBehaviorSubject(Status{}),
	}

	sock, err := sockio.New(baseURL, log)
	if err != nil {
		log.Errorf("ERROR: cannot determine Websocket url: %v", err)
		return c, nil
	}
	c.socket = sock
	c.handleSocket()
	return c, nil
}

//Origin returns scheme://host of the server
func (c *Client) Origin() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

func (c *Client) setWSState(connected bool) {
	c.status.Next(Status{WSConnected: connected})
}

func (c *Client) handleSocket() {
	c.socket.On(sockio.EventConnectError, func(data json.RawMessage) {
		c.setWSState(false)
		c.log.Debugf("WS Connect_error %s", sockio.Text(data))
	})
	c.socket.On(sockio.EventConnect, func(json.RawMessage) {
		c.setWSState(true)
	})
	c.socket.On(sockio.EventDisconnect, func(data json.RawMessage) {
		c.setWSState(false)
		if c.alerts != nil {
			c.alerts.Error("WS disconnection: "+sockio.Text(data), 0)
		}
	})
	c.socket.On(sockio.EventError, func(data json.RawMessage) {
		c.log.Errorf("WS error: %s", sockio.Text(data))
	})

	onOutput := func(data json.RawMessage) {
		var out CmdOutput
		if err := json.Unmarshal(data, &out); err != nil {
			c.log.Warnf("invalid output event: %v", err)
			return
		}
		c.CmdOutput.Next(out)
	}
	onExit := func(data json.RawMessage) {
		var exit CmdExit
		if err := json.Unmarshal(data, &exit); err != nil {
			c.log.Warnf("invalid exit event: %v", err)
			return
		}
		c.CmdExit.Next(exit)
	}
	c.socket.On(EventMakeOutput, onOutput)
	c.socket.On(EventExecOutput, onOutput)
	c.socket.On(EventMakeExit, onExit)
	c.socket.On(EventExecExit, onExit)
}

//Run keeps the event socket open until ctx is done
func (c *Client) Run(ctx context.Context) error {
	if c.socket == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.socket.Run(ctx)
}

//Status returns the current socket status
func (c *Client) Status() Status {
	s, _ := c.status.Value()
	return s
}

//SubscribeStatus streams socket status changes
func (c *Client) SubscribeStatus() (<-chan Status, func()) {
	return c.status.Subscribe()
}

//SubscribeOutput streams the output of the commands run by the server
func (c *Client) SubscribeOutput() (<-chan CmdOutput, func()) {
	return c.CmdOutput.Subscribe()
}

//SubscribeExit streams the exit of the commands run by the server
func (c *Client) SubscribeExit() (<-chan CmdExit, func()) {
	return c.CmdExit.Subscribe()
}

//GetVersion returns the server version
func (c *Client) GetVersion(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.get(ctx, "/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

//GetSdks returns the SDKs installed on the server
func (c *Client) GetSdks(ctx context.Context) ([]SDK, error) {
	sdks := []SDK{}
	if err := c.get(ctx, "/sdks", &sdks); err != nil {
		return nil, err
	}
	return sdks, nil
}

//GetXdsAgentInfo returns the agent installers published by the server
func (c *Client) GetXdsAgentInfo(ctx context.Context) (*AgentInfo, error) {
	var nfo AgentInfo
	if err := c.get(ctx, "/xdsagent/info", &nfo); err != nil {
		return nil, err
	}
	return &nfo, nil
}

//GetProjects returns the project folders declared on the server
func (c *Client) GetProjects(ctx context.Context) ([]FolderConfig, error) {
	flds := []FolderConfig{}
	if err := c.get(ctx, "/folders", &flds); err != nil {
		return nil, err
	}
	return flds, nil
}

//AddProject declares a new project folder, the server allocates its id
func (c *Client) AddProject(ctx context.Context, cfg FolderConfig) (*FolderConfig, error) {
	var fld FolderConfig
	if err := c.post(ctx, "/folders", cfg, &fld); err != nil {
		return nil, err
	}
	return &fld, nil
}

//DeleteProject removes a project folder
func (c *Client) DeleteProject(ctx context.Context, id string) (*FolderConfig, error) {
	var fld FolderConfig
	resp, err := c.rest.R().SetContext(ctx).SetPathParam("id", id).Delete("/folders/{id}")
	if err := httpclient.DecodeJSON(resp, err, &fld); err != nil {
		return nil, err
	}
	return &fld, nil
}

//Exec runs a command in a project directory
func (c *Client) Exec(ctx context.Context, args ExecArgs) (*ExecResult, error) {
	if args.Args == nil {
		args.Args = []string{}
	}
	if args.Env == nil {
		args.Env = []string{}
	}
	var res ExecResult
	if err := c.post(ctx, "/exec", args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

//Make runs make in a project directory
func (c *Client) Make(ctx context.Context, args MakeArgs) (*ExecResult, error) {
	if args.Args == nil {
		args.Args = []string{}
	}
	if args.Env == nil {
		args.Env = []string{}
	}
	var res ExecResult
	if err := c.post(ctx, "/make", args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	resp, err := c.rest.R().SetContext(ctx).Get(path)
	return httpclient.DecodeJSON(resp, err, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	resp, err := c.rest.R().SetContext(ctx).SetBody(body).Post(path)
	return httpclient.DecodeJSON(resp, err, result)
}
