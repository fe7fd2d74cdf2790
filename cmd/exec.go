/*
Copyright © 2022 Adedayo Adetoye (aka Dayo)
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:

1. Redistributions of source code must retain the above copyright notice,
   this list of conditions and the following disclaimer.

2. Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

3. Neither the name of the copyright holder nor the names of its contributors
   may be used to endorse or promote products derived from this software
   without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
POSSIBILITY OF SUCH DAMAGE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xds-dev/dashboard/pkg/dashboard"
	"github.com/xds-dev/dashboard/pkg/devel"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

var (
	execProject string
	execSdk     string
	execSubPath string
	execEnv     string
	socketWait  = 10 * time.Second
)

var execCmd = &cobra.Command{
	Use:   "exec -- COMMAND [ARGS...]",
	Short: "Run a shell command in a project on the XDS server",
	Example: `  xds-dashboard exec --project 2fe4c4d0 -- "mkdir -p build && cd build && cmake .."
  xds-dashboard exec --project 2fe4c4d0 --sdk poky-agl_aarch64_4.0.1 --env "V=1" -- make -C build`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemote(cmd, strings.Join(args, " "), func(ctx context.Context, c *devel.Console, req devel.Request) (*xdsserver.ExecResult, error) {
			return c.ExecCmd(ctx, req)
		})
	},
}

var makeCmd = &cobra.Command{
	Use:   "make [TARGETS...]",
	Short: "Run make in a project on the XDS server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemote(cmd, strings.Join(args, " "), func(ctx context.Context, c *devel.Console, req devel.Request) (*xdsserver.ExecResult, error) {
			return c.Make(ctx, req, "")
		})
	},
}

type starter func(ctx context.Context, c *devel.Console, req devel.Request) (*xdsserver.ExecResult, error)

func runRemote(cmd *cobra.Command, cmdArgs string, start starter) error {
	d, err := newDashboard()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	outputs, cancelOut := d.Server.SubscribeOutput()
	defer cancelOut()
	exits, cancelExit := d.Server.SubscribeExit()
	defer cancelExit()
	d.Start(ctx)

	if err := prepare(ctx, d); err != nil {
		return err
	}

	res, err := start(ctx, d.Console, devel.Request{
		ProjectID: execProject,
		SubPath:   execSubPath,
		CmdArgs:   cmdArgs,
		EnvVars:   execEnv,
	})
	if err != nil {
		return err
	}
	logger.Debugf("command %s started", res.CmdID)

	code, err := streamCommand(ctx, res.CmdID, outputs, exits, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("command exited with code %d", code)
	}
	return nil
}

//prepare loads the projects and SDKs and waits for the server event socket
func prepare(ctx context.Context, d *dashboard.Dashboard) error {
	status, cancelStatus := d.Server.SubscribeStatus()
	defer cancelStatus()

	if err := d.Config.LoadProjects(ctx); err != nil {
		return err
	}
	if err := d.Sdks.Refresh(ctx); err != nil {
		return err
	}
	if execSdk != "" {
		if err := d.Sdks.SetCurrent(execSdk); err != nil {
			return err
		}
	}

	timeout := time.After(socketWait)
	for {
		select {
		case s, ok := <-status:
			if !ok {
				return errors.New("XDS server status closed")
			}
			if s.WSConnected {
				return nil
			}
		case <-timeout:
			return fmt.Errorf("no event socket to the XDS server after %v", socketWait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

//streamCommand copies the events of command cmdID to stdout and stderr until it exits
func streamCommand(ctx context.Context, cmdID string, outputs <-chan xdsserver.CmdOutput, exits <-chan xdsserver.CmdExit, stdout, stderr io.Writer) (int, error) {
	errColor := color.New(color.FgRed).SprintFunc()
	bannerColor := color.New(color.FgYellow, color.Bold).SprintFunc()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case o, ok := <-outputs:
			if !ok {
				return 0, errors.New("output stream closed")
			}
			if o.CmdID != cmdID {
				continue
			}
			if o.Stdout != "" {
				fmt.Fprintln(stdout, o.Stdout)
			}
			if o.Stderr != "" {
				fmt.Fprintln(stderr, errColor(o.Stderr))
			}
		case e, ok := <-exits:
			if !ok {
				return 0, errors.New("exit stream closed")
			}
			if e.CmdID != cmdID {
				continue
			}
			if e.Error != "" {
				fmt.Fprintln(stderr, errColor(e.Error))
			}
			if e.Code != 0 {
				fmt.Fprintln(stderr, bannerColor(fmt.Sprintf("--- Command exited with code %d ---", e.Code)))
			}
			return e.Code, nil
		}
	}
}

func init() {
	rootCmd.AddCommand(execCmd, makeCmd)
	for _, c := range []*cobra.Command{execCmd, makeCmd} {
		f := c.Flags()
		f.StringVar(&execProject, "project", "", "Project id")
		f.StringVar(&execSdk, "sdk", "", "SDK id, the server default when not set")
		f.StringVar(&execSubPath, "subpath", "", "Sub directory of the project to run the command in")
		f.StringVar(&execEnv, "env", "", "Environment variables, eg. \"A=1; B=2\"")
		c.MarkFlagRequired("project")
	}
}
