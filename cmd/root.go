// Package cmd holds the CLI entry points.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/log"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cadenza",
	Short: "Cadenza is a UPnP AV / DLNA media server",
	Long: `Cadenza scans media on the local filesystem, builds a browsable
content directory and serves it to UPnP renderers on the LAN.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return conf.Load(cfgFile)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI. Startup failures exit non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("Startup failed", err)
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM for a clean shutdown (exit 0).
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
