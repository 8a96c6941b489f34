package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mzyy94/ledmscan/internal/ledm"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the scanner state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := a.scanner()
			if err != nil {
				return err
			}
			state, err := sc.Status(cmd.Context())
			if err != nil {
				return describeErr(err)
			}
			ready := "busy"
			if state.Ready() {
				ready = "ready"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s (%s)\n", sc.BaseURL(), state, ready)
			return nil
		},
	}
}

func newJobsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List scan jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := a.scanner()
			if err != nil {
				return err
			}
			jobs, err := sc.Jobs(cmd.Context())
			if err != nil {
				return describeErr(err)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no scan jobs")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tURL")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", j.ID, j.State, j.URL)
			}
			return tw.Flush()
		},
	}
}

func newDiscoverCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find scanners on the local network",
		Long: `Browses mDNS for eSCL scanners (_uscan._tcp) and prints the base URL of
each device's embedded web server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := ledm.Discover(cmd.Context(), ledm.DiscoveryOptions{Timeout: timeout})
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no scanners found")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "URL\tNAME\tMODEL")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.BaseURL, d.Name, d.Model)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to browse")
	return cmd
}
