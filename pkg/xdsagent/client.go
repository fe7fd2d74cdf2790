package xdsagent

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/httpclient"
	"github.com/xds-dev/dashboard/pkg/sockio"
	"github.com/xds-dev/dashboard/pkg/util"
)

const (
	DefaultPort    = "8010"
	DefaultURL     = "http://localhost:" + DefaultPort
	DefaultAPIKey  = "1234abcezam"
	APIKeyHeader   = "X-API-Key"
	apiPath        = "/api/v1"
	foreverRetries = 3600
)

//Notifier receives the errors worth showing to the user
type Notifier interface {
	Error(msg string, dismissSeconds int)
}

//Client talks to the agent running on the developer machine
type Client struct {
	APIKey string

	log    *logrus.Entry
	alerts Notifier

	mu       sync.Mutex
	st       Status
	maxRetry int
	rest     *resty.Client
	stopWS   context.CancelFunc
	wsGen    int

	//life bounds the event sockets, it ends with Close
	life     context.Context
	shutdown context.CancelFunc

	status *util.Subject[Status]
}

//NewClient creates a client for the agent at DefaultURL, call Connect to point it elsewhere
func NewClient(alerts Notifier, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{
		APIKey:   DefaultAPIKey,
		log:      log.WithField("component", "xds-agent"),
		alerts:   alerts,
		maxRetry: foreverRetries,
		st:       Status{BaseURL: DefaultURL},
	}
	c.rest = httpclient.NewREST(DefaultURL+apiPath, APIKeyHeader, c.APIKey)
	c.status = util.NewBehaviorSubject(c.st)
	c.life, c.shutdown = context.WithCancel(context.Background())
	return c
}

//Connect points the client at url (kept when empty), opens the event socket and
//checks the agent answers. retry bounds the number of attempts, 0 means about one hour.
//ctx bounds the check only, the event socket lives until the next Connect or Close.
func (c *Client) Connect(ctx context.Context, retry int, url string) (Status, error) {
	c.mu.Lock()
	if url != "" {
		c.st.BaseURL = strings.TrimRight(url, "/")
	}
	c.st.Connected = false
	c.st.WSConnected = false
	c.st.ConnectionRetry = 0
	c.st.Version = ""
	c.maxRetry = retry
	if c.maxRetry <= 0 {
		c.maxRetry = foreverRetries
	}
	c.rest = httpclient.NewREST(c.st.BaseURL+apiPath, APIKeyHeader, c.APIKey)
	c.stopSocketLocked()
	c.mu.Unlock()

	c.startSocket()

	v, err := c.GetVersion(ctx)
	if err != nil {
		return c.Status(), err
	}
	c.mu.Lock()
	c.st.Version = v.Version
	st := c.st
	c.mu.Unlock()
	c.status.Next(st)
	return st, nil
}

//Close stops the event socket for good
func (c *Client) Close() {
	c.mu.Lock()
	c.stopSocketLocked()
	c.shutdown()
	changed := c.st.WSConnected
	c.st.WSConnected = false
	st := c.st
	c.mu.Unlock()
	if changed {
		c.status.Next(st)
	}
}

//stopSocketLocked cancels the running socket, its late events are ignored
func (c *Client) stopSocketLocked() {
	c.wsGen++
	if c.stopWS != nil {
		c.stopWS()
		c.stopWS = nil
	}
}

//Status returns a copy of the connection status
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

//SubscribeStatus streams status changes
func (c *Client) SubscribeStatus() (<-chan Status, func()) {
	return c.status.Subscribe()
}

//BaseURL of the agent
func (c *Client) BaseURL() string {
	return c.Status().BaseURL
}

func (c *Client) startSocket() {
	sock, err := sockio.New(c.BaseURL(), c.log)
	if err != nil {
		c.log.Errorf("ERROR: cannot determine Websocket url: %v", err)
		return
	}
	sock.Header = http.Header{APIKeyHeader: []string{c.APIKey}}

	c.mu.Lock()
	if c.life.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.stopSocketLocked()
	gen := c.wsGen
	wsCtx, cancel := context.WithCancel(c.life)
	c.stopWS = cancel
	c.mu.Unlock()

	sock.On(sockio.EventConnectError, func(data json.RawMessage) {
		c.setWSState(gen, false)
		c.log.Debugf("WS Connect_error %s", sockio.Text(data))
	})
	sock.On(sockio.EventConnect, func(json.RawMessage) {
		c.setWSState(gen, true)
	})
	sock.On(sockio.EventDisconnect, func(data json.RawMessage) {
		if c.setWSState(gen, false) && c.alerts != nil {
			c.alerts.Error("WS disconnection: "+sockio.Text(data), 0)
		}
	})
	sock.On(sockio.EventError, func(data json.RawMessage) {
		c.log.Errorf("WS error: %s", sockio.Text(data))
	})
	go sock.Run(wsCtx)
}

//setWSState records the state of socket gen, it reports false for a stopped socket
func (c *Client) setWSState(gen int, connected bool) bool {
	c.mu.Lock()
	if gen != c.wsGen {
		c.mu.Unlock()
		return false
	}
	c.st.WSConnected = connected
	st := c.st
	c.mu.Unlock()
	c.status.Next(st)
	return true
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	c.st.Connected = connected
	c.mu.Unlock()
}

//checkAlive waits for the agent to answer unless it is already known alive
func (c *Client) checkAlive(ctx context.Context) error {
	c.mu.Lock()
	if c.st.Connected {
		c.mu.Unlock()
		return nil
	}
	base := c.st.BaseURL
	max := c.maxRetry
	c.st.ConnectionRetry = 0
	c.mu.Unlock()

	p := httpclient.Probe{
		URL:      base + apiPath + "/version",
		Header:   http.Header{APIKeyHeader: []string{c.APIKey}},
		MaxRetry: max,
		Failure:  "XDS local Agent not responding (url=" + base + ")",
		Log:      c.log,
		OnAttempt: func(failures int) {
			c.mu.Lock()
			c.st.ConnectionRetry = failures
			c.mu.Unlock()
		},
	}
	if err := p.Wait(ctx); err != nil {
		return err
	}
	c.setConnected(true)
	return nil
}

func (c *Client) restClient() *resty.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rest
}

//call runs do once the agent is alive, a failure marks the agent disconnected
func (c *Client) call(ctx context.Context, do func(r *resty.Request) (*resty.Response, error), result interface{}) error {
	if err := c.checkAlive(ctx); err != nil {
		c.setConnected(false)
		return err
	}
	resp, err := do(c.restClient().R().SetContext(ctx))
	if err := httpclient.DecodeJSON(resp, err, result); err != nil {
		c.setConnected(false)
		return err
	}
	return nil
}

//GetVersion returns the agent version
func (c *Client) GetVersion(ctx context.Context) (*Version, error) {
	var v Version
	err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/version")
	}, &v)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

//Deploy pushes a package onto a board
func (c *Client) Deploy(ctx context.Context, dpy Deploy) error {
	return c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(dpy).Post("/deploy")
	}, nil)
}
