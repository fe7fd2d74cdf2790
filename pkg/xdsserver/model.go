package xdsserver

import (
	"encoding/json"
	"strings"
)

//FolderType is the kind of project folder handled by the build server
type FolderType string

const (
	TypePathMap   FolderType = "PathMap"
	TypeCloudSync FolderType = "CloudSync"
	TypeCifsSmb   FolderType = "CIFS"
)

//UnmarshalJSON also accepts the legacy numeric encoding (1: PathMap, 2: CloudSync, 3: CIFS)
func (t *FolderType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		s = strings.TrimSpace(string(data))
	}
	switch s {
	case "1":
		*t = TypePathMap
	case "2":
		*t = TypeCloudSync
	case "3":
		*t = TypeCifsSmb
	default:
		*t = FolderType(s)
	}
	return nil
}

//Folder status values reported by the build server
const (
	StatusErrorConfig = "ErrorConfig"
	StatusDisable     = "Disable"
	StatusEnable      = "Enable"
	StatusPause       = "Pause"
	StatusSyncing     = "Syncing"
)

//FolderConfig is a project folder as known by the build server
type FolderConfig struct {
	ID            string          `json:"id"`
	Label         string          `json:"label"`
	ClientPath    string          `json:"path"`
	Type          FolderType      `json:"type"`
	Status        string          `json:"status,omitempty"`
	IsInSync      bool            `json:"isInSync"`
	DefaultSdk    string          `json:"defaultSdk"`
	ClientData    string          `json:"clientData,omitempty"`
	DataPathMap   PathMapConfig   `json:"dataPathMap"`
	DataCloudSync CloudSyncConfig `json:"dataCloudSync"`
}

//PathMapConfig holds the path mapping specific data
type PathMapConfig struct {
	ServerPath   string `json:"serverPath"`
	CheckFile    string `json:"checkFile,omitempty"`
	CheckContent string `json:"checkContent,omitempty"`
}

//CloudSyncConfig holds the syncthing specific data
type CloudSyncConfig struct {
	SyncThingID   string `json:"syncThingID"`
	BuilderSThgID string `json:"builderSThgID,omitempty"`
}

//SDK is a cross tool chain installed on the build server
type SDK struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Profile string `json:"profile"`
	Version string `json:"version"`
	Arch    string `json:"arch"`
	Path    string `json:"path"`
}

//AgentTarball describes one downloadable agent installer
type AgentTarball struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	Version    string `json:"version"`
	RawVersion string `json:"raw-version"`
	FileURL    string `json:"fileUrl"`
}

//AgentInfo lists the agent installers published by the server
type AgentInfo struct {
	Tarballs []AgentTarball `json:"tarballs"`
}

//Version of the build server
type Version struct {
	ID            string `json:"id"`
	Version       string `json:"version"`
	APIVersion    string `json:"apiVersion"`
	VersionGitTag string `json:"gitTag"`
}

//ExecArgs are the parameters of /exec
type ExecArgs struct {
	ID         string   `json:"id"`
	SdkID      string   `json:"sdkID"`
	CmdID      string   `json:"cmdID,omitempty"`
	Cmd        string   `json:"cmd"`
	Args       []string `json:"args"`
	Env        []string `json:"env"`
	RPath      string   `json:"rpath"`
	TTY        bool     `json:"tty,omitempty"`
	CmdTimeout int      `json:"timeout,omitempty"`
}

//MakeArgs are the parameters of /make
type MakeArgs struct {
	ID         string   `json:"id"`
	SdkID      string   `json:"sdkID"`
	Args       []string `json:"args"`
	Env        []string `json:"env"`
	RPath      string   `json:"rpath"`
	CmdTimeout int      `json:"timeout,omitempty"`
}

//ExecResult is returned when a command was accepted
type ExecResult struct {
	Status string `json:"status"`
	CmdID  string `json:"cmdID"`
}

//UnmarshalJSON accepts numeric command ids as well
func (r *ExecResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status string          `json:"status"`
		CmdID  json.RawMessage `json:"cmdID"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Status = raw.Status
	r.CmdID = rawID(raw.CmdID)
	return nil
}

//CmdOutput is sent while a command writes on stdout or stderr
type CmdOutput struct {
	CmdID     string `json:"cmdID"`
	Timestamp string `json:"timestamp"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
}

//CmdExit is sent when a command exited
type CmdExit struct {
	CmdID     string `json:"cmdID"`
	Timestamp string `json:"timestamp"`
	Code      int    `json:"code"`
	Error     string `json:"error"`
}

//UnmarshalJSON accepts numeric command ids and structured errors
func (e *CmdExit) UnmarshalJSON(data []byte) error {
	var raw struct {
		CmdID     json.RawMessage `json:"cmdID"`
		Timestamp string          `json:"timestamp"`
		Code      int             `json:"code"`
		Error     json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.CmdID = rawID(raw.CmdID)
	e.Timestamp = raw.Timestamp
	e.Code = raw.Code
	e.Error = ""
	if len(raw.Error) > 0 && string(raw.Error) != "null" {
		var s string
		if json.Unmarshal(raw.Error, &s) == nil {
			e.Error = s
		} else {
			e.Error = string(raw.Error)
		}
	}
	return nil
}

//Status of the event socket
type Status struct {
	WSConnected bool `json:"WS_connected"`
}

func rawID(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	if len(data) == 0 || string(data) == "null" {
		return ""
	}
	return string(data)
}

//UnmarshalJSON accepts numeric command ids
func (o *CmdOutput) UnmarshalJSON(data []byte) error {
	var raw struct {
		CmdID     json.RawMessage `json:"cmdID"`
		Timestamp string          `json:"timestamp"`
		Stdout    string          `json:"stdout"`
		Stderr    string          `json:"stderr"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = CmdOutput{
		CmdID:     rawID(raw.CmdID),
		Timestamp: raw.Timestamp,
		Stdout:    raw.Stdout,
		Stderr:    raw.Stderr,
	}
	return nil
}
