package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set via ldflags during build
var Version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "myplayer",
	Short:        "Personal music library player with on-demand downloads",
	Long:         `myplayer plays a CSV-defined music catalog and fetches missing songs in the background.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default <data dir>/settings.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(missingCmd, addCmd, fetchCmd, syncCmd, playCmd, sourceCmd, statusCmd)
}

// withApp builds the application, runs fn and tears everything down.
// Interrupts cancel the context passed to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(configPath, logLevel)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}
