package syncthing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/httpclient"
	"github.com/xds-dev/dashboard/pkg/util"
)

const (
	DefaultURL     = "http://localhost:8384"
	DefaultAPIKey  = "1234abcezam"
	APIKeyHeader   = "X-API-Key"
	DefaultRetry   = 10
	foreverRetries = 3600
	builderPrefix  = "Builder_"
	idPrefixLen    = 15
)

//ErrNotFound is returned when deleting an unknown folder
var ErrNotFound = errors.New("Cannot delete project: not found")

//Client talks to the local syncthing daemon REST API
type Client struct {
	APIKey string

	log *logrus.Entry

	mu         sync.Mutex
	st         Status
	maxRetry   int
	curVersion int
	rest       *resty.Client

	status *util.Subject[Status]
}

//NewClient creates a client for the daemon at DefaultURL
func NewClient(log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{
		APIKey:     DefaultAPIKey,
		log:        log.WithField("component", "syncthing"),
		maxRetry:   DefaultRetry,
		curVersion: -1,
		st:         Status{BaseURL: DefaultURL},
	}
	c.rest = httpclient.NewREST(DefaultURL+"/rest", APIKeyHeader, c.APIKey)
	c.status = util.NewBehaviorSubject(c.st)
	return c
}

//Connect points the client at url (kept when empty) and reads the daemon status.
//retry bounds the number of attempts, 0 means about one hour.
func (c *Client) Connect(ctx context.Context, retry int, url string) (Status, error) {
	c.mu.Lock()
	if url != "" {
		c.st.BaseURL = strings.TrimRight(url, "/")
	}
	c.st.Connected = false
	c.st.ID = ""
	c.st.ConnectionRetry = 0
	c.curVersion = -1
	c.maxRetry = retry
	if c.maxRetry <= 0 {
		c.maxRetry = foreverRetries
	}
	c.rest = httpclient.NewREST(c.st.BaseURL+"/rest", APIKeyHeader, c.APIKey)
	c.mu.Unlock()

	return c.GetStatus(ctx)
}

//Status returns a copy of the last known status
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

//SubscribeStatus streams status changes
func (c *Client) SubscribeStatus() (<-chan Status, func()) {
	return c.status.Subscribe()
}

//GetStatus reads the daemon identity and home directory
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	raw := map[string]interface{}{}
	if err := c.get(ctx, "/system/status", &raw); err != nil {
		return c.Status(), err
	}
	c.mu.Lock()
	c.st.ID, _ = raw["myID"].(string)
	c.st.Tilde, _ = raw["tilde"].(string)
	c.st.RawStatus = raw
	st := c.st
	c.mu.Unlock()
	c.log.Debugf("ST local ID %s", st.ID)
	c.status.Next(st)
	return st, nil
}

//GetID returns the local device id
func (c *Client) GetID(ctx context.Context) (string, error) {
	if id := c.Status().ID; id != "" {
		return id, nil
	}
	st, err := c.GetStatus(ctx)
	return st.ID, err
}

//GetProjects returns the folders shared by the daemon
func (c *Client) GetProjects(ctx context.Context) ([]FolderConfiguration, error) {
	cfg, err := c.getConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Folders, nil
}

//AddProject shares prj.Path with the builder device prj.ServerSyncThingID and
//returns the folder as stored by the daemon
func (c *Client) AddProject(ctx context.Context, prj Project) (*FolderConfiguration, error) {
	if _, err := c.GetID(ctx); err != nil {
		return nil, err
	}
	cfg, err := c.getConfig(ctx)
	if err != nil {
		return nil, err
	}

	devID := prj.ServerSyncThingID
	found := false
	for _, d := range cfg.Devices {
		if d.DeviceID == devID {
			found = true
			break
		}
	}
	if !found {
		cfg.Devices = append(cfg.Devices, DeviceConfiguration{
			DeviceID:  devID,
			Name:      builderPrefix + prefix(devID, idPrefixLen),
			Addresses: []string{"dynamic"},
		})
	}

	fld := FolderConfiguration{
		ID:            prj.ID,
		Label:         prj.Label,
		Path:          prj.Path,
		Devices:       []FolderDeviceConfiguration{{DeviceID: devID}},
		AutoNormalize: true,
	}
	if idx := folderIndex(cfg.Folders, prj.ID); idx == -1 {
		cfg.Folders = append(cfg.Folders, fld)
	} else {
		fld.Extra = cfg.Folders[idx].Extra
		cfg.Folders[idx] = fld
	}

	if err := c.setConfig(ctx, cfg); err != nil {
		return nil, err
	}
	newCfg, err := c.getConfig(ctx)
	if err != nil {
		return nil, err
	}
	idx := folderIndex(newCfg.Folders, prj.ID)
	if idx == -1 {
		return nil, fmt.Errorf("folder %s not stored by syncthing", prj.ID)
	}
	return &newCfg.Folders[idx], nil
}

//DeleteProject stops sharing folder id and returns it
func (c *Client) DeleteProject(ctx context.Context, id string) (*FolderConfiguration, error) {
	cfg, err := c.getConfig(ctx)
	if err != nil {
		return nil, err
	}
	idx := folderIndex(cfg.Folders, id)
	if idx == -1 {
		return nil, ErrNotFound
	}
	del := cfg.Folders[idx]
	cfg.Folders = append(cfg.Folders[:idx], cfg.Folders[idx+1:]...)
	if err := c.setConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return &del, nil
}

func folderIndex(flds []FolderConfiguration, id string) int {
	for i, f := range flds {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func prefix(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (c *Client) getConfig(ctx context.Context) (*Configuration, error) {
	var cfg Configuration
	if err := c.get(ctx, "/system/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) setConfig(ctx context.Context, cfg *Configuration) error {
	return c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(cfg).Post("/system/config")
	}, nil)
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(path)
	}, result)
}

func (c *Client) restClient() *resty.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rest
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	c.st.Connected = connected
	c.mu.Unlock()
}

//call runs do once the daemon is alive and its configuration layout is supported.
//A failure marks the daemon disconnected.
func (c *Client) call(ctx context.Context, do func(r *resty.Request) (*resty.Response, error), result interface{}) error {
	err := c.checkAlive(ctx)
	if err == nil {
		err = c.checkAPIVersion(ctx)
	}
	if err == nil {
		resp, rerr := do(c.restClient().R().SetContext(ctx))
		err = httpclient.DecodeJSON(resp, rerr, result)
	}
	if err != nil {
		c.setConnected(false)
	}
	return err
}

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
		URL:      base + "/rest/system/version",
		Header:   http.Header{APIKeyHeader: []string{c.APIKey}},
		MaxRetry: max,
		Failure:  "Syncthing local daemon not responding (url=" + base + ")",
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

func (c *Client) checkAPIVersion(ctx context.Context) error {
	c.mu.Lock()
	ver := c.curVersion
	c.mu.Unlock()

	if ver == -1 {
		var cfg struct {
			Version int `json:"version"`
		}
		resp, err := c.restClient().R().SetContext(ctx).Get("/system/config")
		if err := httpclient.DecodeJSON(resp, err, &cfg); err != nil {
			return err
		}
		ver = cfg.Version
		if ver == 0 {
			ver = -1
		}
		c.mu.Lock()
		c.curVersion = ver
		c.mu.Unlock()
	}
	if ver < MinConfigVersion {
		return fmt.Errorf("Unsupported Syncthing version api (%d < %d) !", ver, MinConfigVersion)
	}
	return nil
}
