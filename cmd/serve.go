/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/valpere/peredoc/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job API over HTTP",
	Long: `Start the HTTP service:

  POST /v1/jobs                          submit a document
  GET  /v1/jobs/:id                      job status and stage metrics
  GET  /v1/jobs/:id/output               final translation
  GET  /v1/jobs/:id/pages/:stage         one page of stage output (?cursor=)
  GET  /v1/jobs/:id/pages/:stage/stream  every page as server-sent events
  GET  /health`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gin.SetMode(cfg.Server.Mode)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		override, _ := cmd.Flags().GetString("provider")
		p, err := buildPipeline(ctx, db, override)
		if err != nil {
			return err
		}
		defer p.Close()

		srv := server.New(p, db, logrus.NewEntry(logrus.StandardLogger()))
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("provider", "", "Use provider[:model] for every stage")
	v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
