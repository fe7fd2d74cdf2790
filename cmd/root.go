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
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	common "github.com/xds-dev/dashboard/pkg"
	"github.com/xds-dev/dashboard/pkg/dashboard"
)

var (
	cfgFile    string
	appVersion string
	logger     = logrus.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xds-dashboard",
	Short: "Manage XDS projects, SDKs and remote builds",
	Long: `xds-dashboard drives an XDS build server together with the local XDS agent
and syncthing daemon: it declares projects, runs remote builds, deploys to
boards and serves the API used by the web dashboard.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(viper.GetString("log"))
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(version string) {
	appVersion = version
	rootCmd.Version = version
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.xds-dashboard.yaml)")
	pf.String("log", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	pf.String("server-url", "http://localhost:8000/api/v1", "XDS server API url")
	pf.String("data-dir", "", "Directory of the settings database (default is $HOME/.xds-dashboard)")
	pf.Bool("in-memory", false, "Do not persist settings")
	pf.String("agent-url", "", "XDS agent url, overrides the saved settings")
	pf.String("syncthing-url", "", "Local syncthing url, overrides the saved settings")
	pf.Int("retry", 0, "Connection retries to the local agent, overrides the saved settings")
	pf.String("agent-api-key", "", "API key of the XDS agent")
	pf.String("syncthing-api-key", "", "API key of the local syncthing")
	viper.BindPFlags(pf)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".xds-dashboard")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("XDS_DASHBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

func dataDir() (string, error) {
	if viper.GetBool("in-memory") {
		return "", nil
	}
	if dir := viper.GetString("data-dir"); dir != "" {
		return homedir.Expand(dir)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".xds-dashboard"), nil
}

func newDashboard() (*dashboard.Dashboard, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	return dashboard.New(dashboard.Options{
		ServerURL:       viper.GetString("server-url"),
		DataDir:         dir,
		AgentURL:        viper.GetString("agent-url"),
		SyncthingURL:    viper.GetString("syncthing-url"),
		Retry:           viper.GetInt("retry"),
		AgentAPIKey:     viper.GetString("agent-api-key"),
		SyncthingAPIKey: viper.GetString("syncthing-api-key"),
		Log:             logrus.NewEntry(logger).WithField("app", common.AppName),
	})
}
