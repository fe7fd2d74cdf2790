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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xds-dev/dashboard/pkg/projects"
	"gopkg.in/yaml.v3"
)

var (
	prjLabel      string
	prjPath       string
	prjServerPath string
	prjType       string
	prjSdk        string
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"prj"},
	Short:   "List, add and delete the projects shared with the XDS server",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the projects known by the server and the local syncthing",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDashboard()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		if err := d.Config.LoadProjects(ctx); err != nil {
			return err
		}
		return printYAML(d.Config.Projects())
	},
}

var projectsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Declare a new project",
	Example: `  xds-dashboard projects add --label hello --path ~/src/hello
  xds-dashboard projects add --label hello --path hello --type PathMap --server-path /build/hello`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDashboard()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		if err := d.Config.LoadProjects(ctx); err != nil {
			return err
		}
		prj, err := d.Config.AddProject(ctx, projects.Project{
			Label:        prjLabel,
			PathClient:   prjPath,
			PathServer:   prjServerPath,
			Type:         projects.ProjectType(prjType),
			DefaultSdkID: prjSdk,
		})
		if err != nil {
			return err
		}
		return printYAML(prj)
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a project from the server and the local syncthing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDashboard()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		if err := d.Config.LoadProjects(ctx); err != nil {
			return err
		}
		prj, err := d.Config.DeleteProject(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Project %s (%s) deleted\n", prj.ID, prj.Label)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd, projectsAddCmd, projectsDeleteCmd)

	f := projectsAddCmd.Flags()
	f.StringVar(&prjLabel, "label", "", "Project label")
	f.StringVar(&prjPath, "path", "", "Local path of the sources, relative paths are joined to the projects root directory")
	f.StringVar(&prjServerPath, "server-path", "", "Path of the sources on the server (PathMap projects)")
	f.StringVar(&prjType, "type", string(projects.CloudSync), "Project type: CloudSync or PathMap")
	f.StringVar(&prjSdk, "sdk", "", "Default SDK id of the project")
	projectsAddCmd.MarkFlagRequired("path")
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}
