// Package cmd implements the command-line interface for recipeharvest.
// It provides the root command and subcommands for running imports and
// inspecting configuration and state.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/recipeharvest/cmd/run"
	cmdsources "github.com/jonesrussell/recipeharvest/cmd/sources"
	"github.com/jonesrussell/recipeharvest/cmd/status"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// rootCmd represents the root command for the recipeharvest CLI.
	rootCmd = &cobra.Command{
		Use:   "recipeharvest",
		Short: "Discover and import recipes into Mealie",
		Long: `recipeharvest discovers recipe URLs from configured sites via feeds,
sitemaps and listing pages, and imports them into a Mealie instance,
tracking every URL so repeated runs never re-import what is already done.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command. The context is cancelled on the first
// interrupt or termination signal so an in-flight run can exit between
// URLs; a second signal kills the process.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("recipeharvest version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(run.Command(&cfgFile))
	rootCmd.AddCommand(cmdsources.Command(&cfgFile))
	rootCmd.AddCommand(status.Command(&cfgFile))
}
