package xdsagent

//Version of the local agent
type Version struct {
	Version       string `json:"version"`
	APIVersion    string `json:"apiVersion"`
	VersionGitTag string `json:"gitTag"`
}

//Deploy asks the agent to push a package onto a target board
type Deploy struct {
	BoardIP string `json:"boardIP"`
	File    string `json:"file"`
}

//Status of the agent connection
type Status struct {
	BaseURL         string `json:"baseURL"`
	Connected       bool   `json:"connected"`
	WSConnected     bool   `json:"WS_connected"`
	ConnectionRetry int    `json:"connectionRetry"`
	Version         string `json:"version"`
}
