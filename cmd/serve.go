package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the media server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	ctx, cancel := signalContext()
	defer cancel()

	// repeated storage rollback failures terminate the process so corrupt
	// state never persists
	srv, err := server.New(ctx, func() {
		os.Exit(2)
	})
	if err != nil {
		return err
	}
	log.Info(ctx, "Starting Cadenza")
	return srv.Run(ctx)
}
