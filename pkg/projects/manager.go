package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/syncthing"
	"github.com/xds-dev/dashboard/pkg/util"
	"github.com/xds-dev/dashboard/pkg/xdsagent"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
	"golang.org/x/sync/errgroup"
)

const labelRootLen = 15

var (
	//ErrInvalidProject is returned for unknown project ids
	ErrInvalidProject = errors.New("Invalid project id")
	//ErrDuplicateProject is returned when adding a project id twice
	ErrDuplicateProject = errors.New("Project already exist")
	//ErrUnsupportedType is returned for project types the dashboard cannot set up
	ErrUnsupportedType = errors.New("Project type not supported yet")
)

//Server is the part of the build server API used to manage projects
type Server interface {
	Origin() string
	GetXdsAgentInfo(ctx context.Context) (*xdsserver.AgentInfo, error)
	GetProjects(ctx context.Context) ([]xdsserver.FolderConfig, error)
	AddProject(ctx context.Context, cfg xdsserver.FolderConfig) (*xdsserver.FolderConfig, error)
	DeleteProject(ctx context.Context, id string) (*xdsserver.FolderConfig, error)
}

//Agent is the local agent connection
type Agent interface {
	Connect(ctx context.Context, retry int, url string) (xdsagent.Status, error)
}

//Sync is the local syncthing daemon
type Sync interface {
	Connect(ctx context.Context, retry int, url string) (syncthing.Status, error)
	GetProjects(ctx context.Context) ([]syncthing.FolderConfiguration, error)
	AddProject(ctx context.Context, prj syncthing.Project) (*syncthing.FolderConfiguration, error)
	DeleteProject(ctx context.Context, id string) (*syncthing.FolderConfiguration, error)
}

//Notifier shows messages to the user
type Notifier interface {
	Error(msg string, dismissSeconds int)
	Warning(msg string, dismissible bool)
}

//ConfigService owns the dashboard configuration and the project list
type ConfigService struct {
	server Server
	agent  Agent
	st     Sync
	store  SettingsStore
	alerts Notifier
	log    *logrus.Entry

	defaultServerURL string
	hostOS           string

	mu   sync.Mutex
	conf Config

	subject *util.Subject[Config]
}

//NewConfigService creates the service, call Load before use
func NewConfigService(serverURL string, server Server, agent Agent, st Sync, store SettingsStore, alerts Notifier, log *logrus.Entry) *ConfigService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	conf := DefaultConfig(serverURL)
	return &ConfigService{
		server:           server,
		agent:            agent,
		st:               st,
		store:            store,
		alerts:           alerts,
		log:              log.WithField("component", "config"),
		defaultServerURL: serverURL,
		hostOS:           util.HostOSName(true),
		conf:             conf,
		subject:          util.NewBehaviorSubject(conf.Clone()),
	}
}

//Load restores the saved settings, or the defaults, and publishes them
func (s *ConfigService) Load() error {
	conf := DefaultConfig(s.defaultServerURL)
	var loadErr error
	if s.store != nil {
		saved, err := s.store.LoadSettings()
		switch {
		case err == nil:
			conf = *saved
			if conf.Projects == nil {
				conf.Projects = []Project{}
			}
			if conf.XDSAgentPackages == nil {
				conf.XDSAgentPackages = []AgentPackage{}
			}
		case errors.Is(err, ErrNoSettings):
		default:
			s.log.Warnf("cannot restore settings, using defaults: %v", err)
			loadErr = err
		}
	}
	s.mu.Lock()
	s.conf = conf
	s.mu.Unlock()
	s.publish()
	return loadErr
}

//Save publishes the configuration and persists it
func (s *ConfigService) Save() error {
	cfg := s.publish()
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveSettings(cfg); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func (s *ConfigService) publish() Config {
	s.mu.Lock()
	cfg := s.conf.Clone()
	s.mu.Unlock()
	s.subject.Next(cfg)
	return cfg.Clone()
}

//Config returns a copy of the current configuration
func (s *ConfigService) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf.Clone()
}

//Subscribe streams every published configuration
func (s *ConfigService) Subscribe() (<-chan Config, func()) {
	return s.subject.Subscribe()
}

//Projects returns a copy of the project list
func (s *ConfigService) Projects() []Project {
	return s.Config().Projects
}

//Project returns the project id
func (s *ConfigService) Project(id string) (Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.projectIdx(id); idx != -1 {
		return s.conf.Projects[idx].Clone(), true
	}
	return Project{}, false
}

func (s *ConfigService) projectIdx(id string) int {
	for i, p := range s.conf.Projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

//RefreshAgentPackages reads the agent installers published by the build server.
//Only the newest version per OS and arch is kept.
func (s *ConfigService) RefreshAgentPackages(ctx context.Context) error {
	nfo, err := s.server.GetXdsAgentInfo(ctx)
	if err != nil {
		return err
	}
	type key struct{ os, arch string }
	newest := map[key]xdsserver.AgentTarball{}
	order := []key{}
	for _, tb := range nfo.Tarballs {
		k := key{tb.OS, tb.Arch}
		cur, ok := newest[k]
		if !ok {
			order = append(order, k)
			newest[k] = tb
			continue
		}
		if newerVersion(tb.Version, cur.Version) {
			newest[k] = tb
		}
	}
	pkgs := []AgentPackage{}
	for _, k := range order {
		tb := newest[k]
		pkgs = append(pkgs, AgentPackage{OS: tb.OS, Arch: tb.Arch, Version: tb.Version, URL: downloadURL(s.server.Origin(), tb.FileURL)})
	}

	s.mu.Lock()
	s.conf.XDSAgentPackages = pkgs
	s.mu.Unlock()
	s.publish()
	return nil
}

//downloadURL makes a server relative file url absolute
func downloadURL(origin, fileURL string) string {
	if fileURL == "" || strings.Contains(fileURL, "://") {
		return fileURL
	}
	return strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(fileURL, "/")
}

//newerVersion compares semantic versions, unparsable ones never win
func newerVersion(candidate, current string) bool {
	c, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return true
	}
	return c.GreaterThan(cur)
}

//AgentPackageFor returns the installer matching os (lower case name)
func (s *ConfigService) AgentPackageFor(os string) (AgentPackage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.conf.XDSAgentPackages {
		if p.OS == os {
			return p, true
		}
	}
	return AgentPackage{}, false
}

//LoadProjects connects to the local agent and syncthing and rebuilds the
//project list from the build server and syncthing folders
func (s *ConfigService) LoadProjects(ctx context.Context) error {
	s.mu.Lock()
	agentCfg := s.conf.XDSAgent
	s.mu.Unlock()

	if _, err := s.agent.Connect(ctx, agentCfg.Retry, agentCfg.URL); err != nil {
		s.agentError(err)
		return err
	}
	return s.loadProjectsFromLocalST(ctx)
}

func (s *ConfigService) agentError(err error) {
	msg := err.Error()
	if !strings.Contains(msg, "XDS local Agent not responding") {
		s.alertError(msg)
		return
	}
	html := "<span><strong>" + msg + "<br></strong>"
	html += "You may need to download and execute XDS-Agent.<br>"
	if pkg, ok := s.AgentPackageFor(s.hostOS); ok {
		html += " Download XDS-Agent tarball for " + pkg.OS + " host OS "
		html += "<a class=\"fa fa-download\" href=\"" + pkg.URL + "\" target=\"_blank\"></a>"
	}
	html += "</span>"
	s.alertError(html)
}

func (s *ConfigService) loadProjectsFromLocalST(ctx context.Context) error {
	s.mu.Lock()
	stCfg := s.conf.LocalSThg
	s.mu.Unlock()

	sts, err := s.st.Connect(ctx, stCfg.Retry, stCfg.URL)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Syncthing local daemon not responding") {
			msg = "<span><strong>" + msg + "<br></strong>" +
				"Please check that local XDS-Agent is running.<br>" +
				"</span>"
		}
		s.alertError(msg)
		return err
	}

	s.mu.Lock()
	s.conf.LocalSThg.ID = sts.ID
	s.conf.LocalSThg.Tilde = sts.Tilde
	if s.conf.ProjectsRootDir == "" {
		s.conf.ProjectsRootDir = sts.Tilde
	}
	s.mu.Unlock()

	var (
		remote            []xdsserver.FolderConfig
		local             []syncthing.FolderConfiguration
		remoteErr, locErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		remote, remoteErr = s.server.GetProjects(gctx)
		return remoteErr
	})
	g.Go(func() error {
		local, locErr = s.st.GetProjects(gctx)
		return locErr
	})
	if err := g.Wait(); err != nil {
		if remoteErr != nil && (locErr == nil || errors.Is(locErr, context.Canceled)) {
			s.alertError("Could not load initial state of remote projects.")
		} else {
			s.alertError("Could not load initial state of local projects.")
		}
		return err
	}

	prjs := mergeProjects(remote, local)
	s.mu.Lock()
	s.conf.Projects = prjs
	s.mu.Unlock()
	s.publish()
	return nil
}

//mergeProjects keeps the server folders that are usable from this machine:
//path mapped ones, and synced ones also known by the local daemon
func mergeProjects(remote []xdsserver.FolderConfig, local []syncthing.FolderConfiguration) []Project {
	prjs := []Project{}
	for i := range remote {
		rPrj := remote[i]
		p := Project{
			ID:           rPrj.ID,
			Label:        rPrj.Label,
			PathClient:   rPrj.ClientPath,
			PathServer:   rPrj.DataPathMap.ServerPath,
			Type:         ProjectType(rPrj.Type),
			DefaultSdkID: rPrj.DefaultSdk,
			RemotePrjDef: &rPrj,
		}
		if p.Type == PathMap {
			prjs = append(prjs, p)
			continue
		}
		for j := range local {
			if local[j].ID == rPrj.ID {
				l := local[j]
				p.LocalPrjDef = &l
				prjs = append(prjs, p.Clone())
				break
			}
		}
	}
	return prjs
}

//SetSyncToolURL sets the syncthing url
func (s *ConfigService) SetSyncToolURL(url string) error {
	s.mu.Lock()
	s.conf.LocalSThg.URL = url
	s.mu.Unlock()
	return s.Save()
}

//SetAgentRetry sets the connection attempts of both the agent and syncthing
func (s *ConfigService) SetAgentRetry(r int) error {
	s.mu.Lock()
	s.conf.LocalSThg.Retry = r
	s.conf.XDSAgent.Retry = r
	s.mu.Unlock()
	return s.Save()
}

//SetAgentURL sets the agent url
func (s *ConfigService) SetAgentURL(url string) error {
	s.mu.Lock()
	s.conf.XDSAgent.URL = url
	s.mu.Unlock()
	return s.Save()
}

//SetProjectsRootDir sets the directory relative project paths are joined to
func (s *ConfigService) SetProjectsRootDir(p string) error {
	s.mu.Lock()
	s.conf.ProjectsRootDir = util.ExpandTilde(p, s.conf.LocalSThg.Tilde)
	s.mu.Unlock()
	return s.Save()
}

//LabelRootName is the short local syncthing id, empty when unknown
func (s *ConfigService) LabelRootName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.conf.LocalSThg.ID
	if len(id) > labelRootLen {
		return id[:labelRootLen]
	}
	return id
}

//AddProject registers prj on the build server, then on the local daemon for
//synced projects, and adds it to the list
func (s *ConfigService) AddProject(ctx context.Context, prj Project) (*Project, error) {
	s.mu.Lock()
	prj.PathClient = util.ResolveClientPath(prj.PathClient, s.conf.LocalSThg.Tilde, s.conf.ProjectsRootDir)
	if strings.TrimSpace(prj.Label) == "" {
		prj.Label = util.LastPathElement(prj.PathClient)
	}
	localID := s.conf.LocalSThg.ID
	dup := prj.ID != "" && s.projectIdx(prj.ID) != -1
	s.mu.Unlock()

	if dup {
		return nil, s.duplicate(prj.ID)
	}
	if !prj.Type.Supported() {
		err := fmt.Errorf("%w (type: %s)", ErrUnsupportedType, prj.Type)
		s.alertError(err.Error())
		return nil, err
	}

	xdsPrj := xdsserver.FolderConfig{
		ID:            prj.ID,
		Label:         prj.Label,
		ClientPath:    prj.PathClient,
		Type:          xdsserver.FolderType(prj.Type),
		DefaultSdk:    prj.DefaultSdkID,
		DataPathMap:   xdsserver.PathMapConfig{ServerPath: prj.PathServer},
		DataCloudSync: xdsserver.CloudSyncConfig{SyncThingID: localID},
	}
	remote, err := s.server.AddProject(ctx, xdsPrj)
	if err != nil {
		s.alertError("Configuration remote ERROR: " + err.Error())
		return nil, err
	}
	prj.RemotePrjDef = remote
	prj.ID = remote.ID
	prj.PathClient = remote.ClientPath
	if _, held := s.Project(prj.ID); held {
		return nil, s.duplicate(prj.ID)
	}

	if prj.Type == CloudSync {
		local, err := s.st.AddProject(ctx, syncthing.Project{
			ID:                remote.ID,
			Label:             xdsPrj.Label,
			Path:              xdsPrj.ClientPath,
			ServerSyncThingID: remote.DataCloudSync.BuilderSThgID,
		})
		if err != nil {
			s.alertError("Configuration local ERROR: " + err.Error())
			if _, rerr := s.server.DeleteProject(ctx, remote.ID); rerr != nil {
				s.log.Warnf("cannot roll back project %s on the server: %v", remote.ID, rerr)
			}
			return nil, err
		}
		prj.LocalPrjDef = local
	} else {
		prj.PathServer = remote.DataPathMap.ServerPath
	}

	s.mu.Lock()
	if s.projectIdx(prj.ID) != -1 {
		s.mu.Unlock()
		return nil, s.duplicate(prj.ID)
	}
	s.conf.Projects = append(s.conf.Projects, prj.Clone())
	s.mu.Unlock()
	s.publish()
	return &prj, nil
}

//duplicate warns that id is already held
func (s *ConfigService) duplicate(id string) error {
	err := fmt.Errorf("%w (id=%s)", ErrDuplicateProject, id)
	if s.alerts != nil {
		s.alerts.Warning(err.Error(), true)
	}
	return err
}

//DeleteProject removes project id from the build server, the local daemon and the list
func (s *ConfigService) DeleteProject(ctx context.Context, id string) (*Project, error) {
	prj, ok := s.Project(id)
	if !ok {
		return nil, fmt.Errorf("%w (id=%s)", ErrInvalidProject, id)
	}
	if _, err := s.server.DeleteProject(ctx, id); err != nil {
		s.alertError("Delete remote ERROR: " + err.Error())
		return nil, err
	}
	if prj.Type == CloudSync {
		if _, err := s.st.DeleteProject(ctx, id); err != nil {
			s.alertError("Delete local ERROR: " + err.Error())
			return nil, err
		}
	}

	s.mu.Lock()
	if idx := s.projectIdx(id); idx != -1 {
		s.conf.Projects = append(s.conf.Projects[:idx], s.conf.Projects[idx+1:]...)
	}
	s.mu.Unlock()
	s.publish()
	return &prj, nil
}

func (s *ConfigService) alertError(msg string) {
	if s.alerts != nil {
		s.alerts.Error(msg, 0)
	} else {
		s.log.Error(msg)
	}
}
