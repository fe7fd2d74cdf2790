package devel

import (
	"context"
	"sync"

	"github.com/xds-dev/dashboard/pkg/xdsagent"
)

//Deployer pushes packages to a board
type Deployer interface {
	Deploy(ctx context.Context, dpy xdsagent.Deploy) error
}

//DeployPanel sends a package to a board through the local agent
type DeployPanel struct {
	agent  Deployer
	alerts Notifier

	mu        sync.Mutex
	deploying bool
}

func NewDeployPanel(agent Deployer, alerts Notifier) *DeployPanel {
	return &DeployPanel{agent: agent, alerts: alerts}
}

//Deploy pushes file to the board at boardIP
func (d *DeployPanel) Deploy(ctx context.Context, boardIP, file string) error {
	d.setDeploying(true)
	defer d.setDeploying(false)

	err := d.agent.Deploy(ctx, xdsagent.Deploy{BoardIP: boardIP, File: file})
	if err != nil && d.alerts != nil {
		d.alerts.Error(`<span>ERROR while deploying "`+file+`"<br>`+err.Error()+`</span>`, 0)
	}
	return err
}

//Deploying reports whether a deployment is running
func (d *DeployPanel) Deploying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deploying
}

func (d *DeployPanel) setDeploying(v bool) {
	d.mu.Lock()
	d.deploying = v
	d.mu.Unlock()
}
