//Package dashboard wires the backend clients and the dashboard services together
package dashboard

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/alert"
	"github.com/xds-dev/dashboard/pkg/api"
	"github.com/xds-dev/dashboard/pkg/devel"
	"github.com/xds-dev/dashboard/pkg/projects"
	"github.com/xds-dev/dashboard/pkg/sdks"
	"github.com/xds-dev/dashboard/pkg/syncthing"
	"github.com/xds-dev/dashboard/pkg/xdsagent"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

//Options of a dashboard instance
type Options struct {
	//ServerURL is the build server API root, eg. http://localhost:8000/api/v1
	ServerURL string
	//DataDir holds the settings database, settings are kept in memory when empty
	DataDir string
	//AgentURL, SyncthingURL and Retry override the saved settings when set
	AgentURL        string
	SyncthingURL    string
	Retry           int
	AgentAPIKey     string
	SyncthingAPIKey string
	Log             *logrus.Entry
}

//Dashboard holds the services behind the API and the CLI
type Dashboard struct {
	Store     projects.SettingsStore
	Alerts    *alert.Service
	Server    *xdsserver.Client
	Agent     *xdsagent.Client
	Syncthing *syncthing.Client
	Config    *projects.ConfigService
	Sdks      *sdks.Service
	Console   *devel.Console
	Deploy    *devel.DeployPanel

	log     *logrus.Entry
	cancels []func()
}

//New builds the dashboard from opts and restores the saved settings
func New(opts Options) (*Dashboard, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	var (
		store projects.SettingsStore
		err   error
	)
	if opts.DataDir != "" {
		store, err = projects.NewDBSettingsStore(opts.DataDir, log)
	} else {
		store, err = projects.NewInMemorySettingsStore(log)
	}
	if err != nil {
		return nil, err
	}

	alerts := alert.NewService(log)
	server, err := xdsserver.NewClient(opts.ServerURL, alerts, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	agent := xdsagent.NewClient(alerts, log)
	if opts.AgentAPIKey != "" {
		agent.APIKey = opts.AgentAPIKey
	}
	st := syncthing.NewClient(log)
	if opts.SyncthingAPIKey != "" {
		st.APIKey = opts.SyncthingAPIKey
	}

	cfg := projects.NewConfigService(opts.ServerURL, server, agent, st, store, alerts, log)
	//falls back to the defaults when nothing usable is saved
	_ = cfg.Load()
	if err := applyOverrides(cfg, opts); err != nil {
		store.Close()
		return nil, err
	}

	sdkSvc := sdks.NewService(server, alerts, log)
	return &Dashboard{
		Store:     store,
		Alerts:    alerts,
		Server:    server,
		Agent:     agent,
		Syncthing: st,
		Config:    cfg,
		Sdks:      sdkSvc,
		Console:   devel.NewConsole(server, cfg, sdkSvc, store, alerts, log),
		Deploy:    devel.NewDeployPanel(agent, alerts),
		log:       log,
	}, nil
}

func applyOverrides(cfg *projects.ConfigService, opts Options) error {
	if opts.AgentURL != "" {
		if err := cfg.SetAgentURL(opts.AgentURL); err != nil {
			return err
		}
	}
	if opts.SyncthingURL != "" {
		if err := cfg.SetSyncToolURL(opts.SyncthingURL); err != nil {
			return err
		}
	}
	if opts.Retry > 0 {
		return cfg.SetAgentRetry(opts.Retry)
	}
	return nil
}

//Start opens the build server event socket and feeds the build console, until ctx is done
func (d *Dashboard) Start(ctx context.Context) {
	go func() {
		if err := d.Server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Warnf("build server events stopped: %v", err)
		}
	}()
	outputs, cancelOut := d.Server.SubscribeOutput()
	exits, cancelExit := d.Server.SubscribeExit()
	d.cancels = append(d.cancels, cancelOut, cancelExit)
	go d.Console.Run(ctx, outputs, exits)
}

//Load fetches the initial state: agent installers, SDKs and projects
func (d *Dashboard) Load(ctx context.Context) error {
	if err := d.Config.RefreshAgentPackages(ctx); err != nil {
		d.log.Warnf("cannot retrieve agent packages: %v", err)
	}
	sdkErr := d.Sdks.Refresh(ctx)
	prjErr := d.Config.LoadProjects(ctx)
	return errors.Join(sdkErr, prjErr)
}

//Services exposes the dashboard to the API
func (d *Dashboard) Services() api.Services {
	return api.Services{
		Config:  d.Config,
		Sdks:    d.Sdks,
		Alerts:  d.Alerts,
		Console: d.Console,
		Deploy:  d.Deploy,
		Server:  d.Server,
		Agent:   d.Agent,
		History: d.Store,
	}
}

//Log is the logger the dashboard components derive from
func (d *Dashboard) Log() *logrus.Entry {
	return d.log
}

//Close releases the sockets, timers and the settings store
func (d *Dashboard) Close() error {
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
	d.Agent.Close()
	d.Alerts.Close()
	return d.Store.Close()
}
