package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/clinic-notify/pkg/statusclient"
)

func newStatusCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the listener status of a running notifyd",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newStatusClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			health, err := client.GetHealth(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, health)
			}

			if health.Healthy {
				fmt.Fprintln(out, "✅ Healthy")
			} else {
				fmt.Fprintln(out, "❌ Unhealthy")
			}
			if health.Message != "" {
				fmt.Fprintf(out, "   %s\n", health.Message)
			}

			fmt.Fprintf(out, "\nListeners (%d):\n", len(health.Listeners))
			for _, l := range health.Listeners {
				enabled := "enabled"
				if !l.Enabled {
					enabled = "disabled"
				}
				fmt.Fprintf(out, "  %-24s %-9s %s\n", l.Topic, enabled, l.State)
			}

			if len(health.Inbox) > 0 {
				fmt.Fprintln(out, "\nInbox:")
				for _, s := range health.Inbox {
					fmt.Fprintf(out, "  %-24s retained=%d end=%d\n", s.Topic, s.Retained, s.EndOffset)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw JSON response")
	return cmd
}

func newInboxCommand() *cobra.Command {
	var (
		doctorID int64
		offset   int64
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Read recent notifications recorded by a running notifyd",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveDoctorID(doctorID)
			if err != nil {
				return err
			}

			client, err := newStatusClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := client.ReadNotifications(ctx, id, offset, limit)
			if err != nil {
				return fmt.Errorf("failed to read inbox: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().Int64Var(&doctorID, "doctor-id", 0, "Doctor id (default: from --token)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "First offset to read")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum notifications to return")

	return cmd
}

func newStatusClient() (*statusclient.Client, error) {
	return statusclient.NewClient(statusclient.Config{
		ServerURL: serverURL,
		Token:     token,
		Timeout:   timeout,
	})
}

func printJSON(out io.Writer, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(body))
	return nil
}
