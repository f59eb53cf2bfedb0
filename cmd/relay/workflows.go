package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"relay/internal/config"
	"relay/internal/workflow"
)

func newWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Manage stored workflows",
	}
	cmd.AddCommand(newWorkflowsListCmd())
	cmd.AddCommand(newWorkflowsAddCmd())
	cmd.AddCommand(newWorkflowsRemoveCmd())
	return cmd
}

func openLocalStore() (*workflow.LocalStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return workflow.NewLocalStore(cfg.Workflows.Dir, nil)
}

func newWorkflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLocalStore()
			if err != nil {
				return err
			}
			workflows := store.List()
			if len(workflows) == 0 {
				fmt.Println(gray("no workflows"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, bold("ID\tSOURCE\tDESTINATION\tACTIVE\tINSTRUCTIONS"))
			for _, wf := range workflows {
				state := green("yes")
				if !wf.Active {
					state = gray("no")
				}
				fmt.Fprintf(w, "%s\t%s\t%s (%s)\t%s\t%s\n",
					cyan(wf.ID[:8]), wf.Source, wf.Destination, wf.DestinationAccount, state, truncate(wf.Instructions, 40))
			}
			return w.Flush()
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func newWorkflowsAddCmd() *cobra.Command {
	var (
		source        string
		sourceAccount string
		dest          string
		destAccount   string
		instructions  string
		lat, lng      float64
		radius        float64
		personName    string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLocalStore()
			if err != nil {
				return err
			}

			src, err := workflow.ParseSource(source)
			if err != nil {
				return err
			}
			dst, err := workflow.ParseDestination(dest)
			if err != nil {
				return err
			}

			wf := workflow.Workflow{
				Source:             src,
				SourceAccount:      sourceAccount,
				Destination:        dst,
				DestinationAccount: destAccount,
				Instructions:       instructions,
				PhotoPersonName:    personName,
				Active:             true,
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				wf.SetGeofence(workflow.Geofence{Latitude: lat, Longitude: lng, RadiusMeters: radius})
			}
			if err := store.Save(&wf); err != nil {
				return err
			}
			fmt.Println(green("created workflow " + wf.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source app: Gmail, Telegram, Maps or Photos")
	cmd.Flags().StringVar(&sourceAccount, "source-account", workflow.AccountAny, "account filter on the source side")
	cmd.Flags().StringVar(&dest, "dest", "", "destination app: Gmail or Telegram")
	cmd.Flags().StringVar(&destAccount, "dest-account", "", "email address or chat id to deliver to")
	cmd.Flags().StringVar(&instructions, "instructions", "", "rewrite instructions for the model")
	cmd.Flags().Float64Var(&lat, "lat", 0, "geofence center latitude (Maps source)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "geofence center longitude (Maps source)")
	cmd.Flags().Float64Var(&radius, "radius", 100, "geofence radius in meters")
	cmd.Flags().StringVar(&personName, "person", "", "person name for photo matching workflows")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")
	_ = cmd.MarkFlagRequired("dest-account")
	return cmd
}

func newWorkflowsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLocalStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println(yellow("removed workflow " + args[0]))
			return nil
		},
	}
}
