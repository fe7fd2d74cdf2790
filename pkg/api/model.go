package api

import (
	"context"

	"github.com/xds-dev/dashboard/pkg/alert"
	"github.com/xds-dev/dashboard/pkg/devel"
	"github.com/xds-dev/dashboard/pkg/projects"
	"github.com/xds-dev/dashboard/pkg/sdks"
	"github.com/xds-dev/dashboard/pkg/xdsagent"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

type Config struct {
	AppName, AppVersion string
	ApiPort             int
	Local               bool   //if set, to bind the api to localhost:port instead of :port
	WebAppDir           string //optional directory of the web application served on /
	AllowedOrigins      []string
}

//BuildServer is what the API needs from the build server client
type BuildServer interface {
	Status() xdsserver.Status
	SubscribeStatus() (<-chan xdsserver.Status, func())
	SubscribeOutput() (<-chan xdsserver.CmdOutput, func())
	SubscribeExit() (<-chan xdsserver.CmdExit, func())
	GetVersion(ctx context.Context) (*xdsserver.Version, error)
}

//AgentStatus is what the API needs from the local agent client
type AgentStatus interface {
	Status() xdsagent.Status
	SubscribeStatus() (<-chan xdsagent.Status, func())
}

//CommandHistory lists the recorded build commands
type CommandHistory interface {
	ListCommands(limit int) ([]projects.CommandRecord, error)
}

//Services are the dashboard components exposed by the API
type Services struct {
	Config  *projects.ConfigService
	Sdks    *sdks.Service
	Alerts  *alert.Service
	Console *devel.Console
	Deploy  *devel.DeployPanel
	Server  BuildServer
	Agent   AgentStatus
	History CommandHistory
}

//Event is a message pushed to the UI sockets
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

//UI socket event types
const (
	EventConfig       = "config"
	EventAlerts       = "alerts"
	EventExecOutput   = "exec:output"
	EventExecExit     = "exec:exit"
	EventServerStatus = "server-status"
	EventAgentStatus  = "agent-status"
	EventSdks         = "sdks"
)

//ConfigPatch lists the settings a PATCH /config may change
type ConfigPatch struct {
	SyncToolURL     *string `json:"syncToolURL,omitempty"`
	AgentURL        *string `json:"agentURL,omitempty"`
	AgentRetry      *int    `json:"agentRetry,omitempty"`
	ProjectsRootDir *string `json:"projectsRootDir,omitempty"`
}

//BuildRequest is the body of the build endpoints
type BuildRequest struct {
	devel.Request
	//Args of make, the form arguments are used when empty
	Args string `json:"args,omitempty"`
}

//Status of the backends
type Status struct {
	Server xdsserver.Status `json:"server"`
	Agent  xdsagent.Status  `json:"agent"`
}

//VersionInfo is returned by /version
type VersionInfo struct {
	AppName    string             `json:"appName"`
	Version    string             `json:"version"`
	APIVersion string             `json:"apiVersion"`
	Server     *xdsserver.Version `json:"server,omitempty"`
}

//AgentInfo is returned by /xdsagent/info, Current is the installer for OS
type AgentInfo struct {
	OS       string                  `json:"os"`
	Current  *projects.AgentPackage  `json:"current,omitempty"`
	Packages []projects.AgentPackage `json:"packages"`
}
