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
	"strconv"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the saved dashboard settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDashboard()
		if err != nil {
			return err
		}
		defer d.Close()
		cfg := d.Config.Config()
		cfg.Projects = nil
		return printYAML(cfg)
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set KEY VALUE",
	Short:     "Change one setting",
	Long:      `Change one setting: syncToolURL, agentURL, agentRetry or projectsRootDir`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"syncToolURL", "agentURL", "agentRetry", "projectsRootDir"},
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDashboard()
		if err != nil {
			return err
		}
		defer d.Close()

		key, value := args[0], args[1]
		switch key {
		case "syncToolURL":
			return d.Config.SetSyncToolURL(value)
		case "agentURL":
			return d.Config.SetAgentURL(value)
		case "agentRetry":
			retry, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid agentRetry %q: %w", value, err)
			}
			return d.Config.SetAgentRetry(retry)
		case "projectsRootDir":
			return d.Config.SetProjectsRootDir(value)
		}
		return fmt.Errorf("unknown setting %q", key)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
