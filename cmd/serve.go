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
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	common "github.com/xds-dev/dashboard/pkg"
	"github.com/xds-dev/dashboard/pkg/api"
)

var (
	port           int
	bindLocal      bool
	webAppDir      string
	allowedOrigins []string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the XDS dashboard as an API service",
	Long:  `Run the XDS dashboard as an API service, optionally serving the web application`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf(`Running %s as an API service on port %d

Version: %s
`, common.AppName, port, appVersion)

		d, err := newDashboard()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		d.Start(ctx)
		go func() {
			if err := d.Load(ctx); err != nil {
				logger.Warnf("initial load: %v", err)
			}
		}()

		//serve API
		config := api.Config{
			AppName:        common.AppName,
			AppVersion:     appVersion,
			ApiPort:        port,
			Local:          bindLocal,
			WebAppDir:      webAppDir,
			AllowedOrigins: allowedOrigins,
		}
		err = api.ServeAPI(ctx, config, d.Services(), d.Log())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", 18273, "Port on which to serve the API service")
	serveCmd.Flags().BoolVar(&bindLocal, "bind-localhost", false, "Bind the API service to localhost")
	serveCmd.Flags().StringVar(&webAppDir, "webapp", "", "Directory of the web application to serve on /")
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "allow-origin", nil, "Extra origins allowed to call the API")
}
