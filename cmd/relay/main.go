// Command relay runs the workflow automation daemon: it listens for app
// notifications, geofence transitions and new photos, rewrites the matching
// content through a local model, and delivers it to the configured channel.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "0.3.0"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Notification-to-message automation daemon",
		Long:  "relay watches app notifications, location transitions and photo folders,\nrewrites matching content with a local language model, and delivers the\nresult to Gmail or Telegram.",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./relay.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkflowsCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relay %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}
