package projects

import (
	"encoding/json"
	"time"

	"github.com/xds-dev/dashboard/pkg/syncthing"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

//ProjectType is how project sources reach the build server
type ProjectType xdsserver.FolderType

const (
	PathMap   = ProjectType(xdsserver.TypePathMap)
	CloudSync = ProjectType(xdsserver.TypeCloudSync)
)

//UnmarshalJSON also accepts the legacy numeric codes
func (t *ProjectType) UnmarshalJSON(data []byte) error {
	return (*xdsserver.FolderType)(t).UnmarshalJSON(data)
}

//Supported reports whether the dashboard knows how to set up this type
func (t ProjectType) Supported() bool {
	return t == PathMap || t == CloudSync
}

//Project is a source folder shared with the build server
type Project struct {
	ID           string                         `json:"id" yaml:"id"`
	Label        string                         `json:"label" yaml:"label"`
	PathClient   string                         `json:"pathClient" yaml:"pathClient"`
	PathServer   string                         `json:"pathServer,omitempty" yaml:"pathServer,omitempty"`
	Type         ProjectType                    `json:"type" yaml:"type"`
	DefaultSdkID string                         `json:"defaultSdkID,omitempty" yaml:"defaultSdkID,omitempty"`
	RemotePrjDef *xdsserver.FolderConfig        `json:"remotePrjDef,omitempty" yaml:"-"`
	LocalPrjDef  *syncthing.FolderConfiguration `json:"localPrjDef,omitempty" yaml:"-"`
	IsExpanded   bool                           `json:"isExpanded,omitempty" yaml:"-"`
	Visible      bool                           `json:"visible,omitempty" yaml:"-"`
}

//Clone returns a deep copy of p
func (p Project) Clone() Project {
	if p.RemotePrjDef != nil {
		r := *p.RemotePrjDef
		p.RemotePrjDef = &r
	}
	if p.LocalPrjDef != nil {
		l := *p.LocalPrjDef
		l.Devices = append([]syncthing.FolderDeviceConfiguration(nil), l.Devices...)
		if l.Extra != nil {
			extra := make(map[string]json.RawMessage, len(l.Extra))
			for k, v := range l.Extra {
				extra[k] = v
			}
			l.Extra = extra
		}
		p.LocalPrjDef = &l
	}
	return p
}

//AgentConfig locates the local agent
type AgentConfig struct {
	URL   string `json:"URL" yaml:"url"`
	Retry int    `json:"retry" yaml:"retry"`
}

//LocalSTConfig locates the local syncthing daemon
type LocalSTConfig struct {
	ID    string `json:"ID" yaml:"id"`
	URL   string `json:"URL" yaml:"url"`
	Retry int    `json:"retry" yaml:"retry"`
	Tilde string `json:"tilde" yaml:"tilde"`
}

//AgentPackage is a downloadable agent installer
type AgentPackage struct {
	OS      string `json:"os" yaml:"os"`
	Arch    string `json:"arch" yaml:"arch"`
	Version string `json:"version" yaml:"version"`
	URL     string `json:"url" yaml:"url"`
}

//Config is the dashboard configuration
type Config struct {
	XDSServerURL     string         `json:"xdsServerURL" yaml:"xdsServerURL"`
	XDSAgent         AgentConfig    `json:"xdsAgent" yaml:"xdsAgent"`
	XDSAgentPackages []AgentPackage `json:"xdsAgentPackages" yaml:"xdsAgentPackages"`
	ProjectsRootDir  string         `json:"projectsRootDir" yaml:"projectsRootDir"`
	Projects         []Project      `json:"projects" yaml:"projects"`
	LocalSThg        LocalSTConfig  `json:"localSThg" yaml:"localSThg"`
}

//Clone returns a deep copy of c
func (c Config) Clone() Config {
	c.XDSAgentPackages = append([]AgentPackage{}, c.XDSAgentPackages...)
	prjs := make([]Project, 0, len(c.Projects))
	for _, p := range c.Projects {
		prjs = append(prjs, p.Clone())
	}
	c.Projects = prjs
	return c
}

//DefaultConfig is used when no settings were saved
func DefaultConfig(serverURL string) Config {
	return Config{
		XDSServerURL:     serverURL,
		XDSAgent:         AgentConfig{URL: "http://localhost:8000", Retry: 10},
		XDSAgentPackages: []AgentPackage{},
		Projects:         []Project{},
		LocalSThg:        LocalSTConfig{URL: syncthing.DefaultURL, Retry: syncthing.DefaultRetry},
	}
}

//CommandRecord is one build command kept in the history
type CommandRecord struct {
	ID        string        `json:"id" yaml:"id"`
	ProjectID string        `json:"projectID" yaml:"projectID"`
	SdkID     string        `json:"sdkID" yaml:"sdkID"`
	Cmd       string        `json:"cmd" yaml:"cmd"`
	Args      []string      `json:"args,omitempty" yaml:"args,omitempty"`
	CmdID     string        `json:"cmdID" yaml:"cmdID"`
	Started   time.Time     `json:"started" yaml:"started"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	ExitCode  int           `json:"exitCode" yaml:"exitCode"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}
