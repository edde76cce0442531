package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/clinic-notify/internal/auth"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notifyclient"
)

func newListenCommand() *cobra.Command {
	var (
		doctorID int64
		count    int
		pretty   bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream notifications for a doctor",
		Long: `Subscribe to a doctor's notification topic and print every notification
as it arrives. The doctor id comes from --doctor-id or from the --token claims.
Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveDoctorID(doctorID)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runListen(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), id, count, pretty)
		},
	}

	cmd.Flags().Int64Var(&doctorID, "doctor-id", 0, "Doctor id to listen for (default: from --token)")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many notifications (0 = until interrupted)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty print JSON")

	return cmd
}

// resolveDoctorID prefers an explicit id and falls back to the token's claims.
func resolveDoctorID(explicit int64) (notification.DoctorID, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if token == "" {
		return 0, fmt.Errorf("--doctor-id or --token is required")
	}

	id, err := auth.New("").DoctorID(token)
	if err != nil {
		return 0, fmt.Errorf("failed to read doctor id from token: %w", err)
	}
	return id, nil
}

func runListen(ctx context.Context, out, errOut io.Writer, doctorID notification.DoctorID, count int, pretty bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handlers run on the registration's event loop, so printing is serialized
	received := 0
	reg, err := notifyclient.Register(notifyclient.Config{
		Endpoint: endpoint,
		Token:    token,
		Logger:   logger,
	}, notifyclient.Options{
		DoctorID: &doctorID,
		OnMessage: func(n notification.Notification) {
			if ctx.Err() != nil {
				return
			}
			received++
			printNotification(out, received, n, pretty)
			if count > 0 && received >= count {
				cancel()
			}
		},
		OnStateChange: func(s notifyclient.State) {
			fmt.Fprintf(errOut, "· %s\n", s)
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(errOut, "🌊 Listening on %s via %s\n", notification.Topic(doctorID), endpoint)
	fmt.Fprintln(errOut, "Press Ctrl+C to stop")

	<-ctx.Done()
	reg.Close()

	fmt.Fprintf(errOut, "✅ Stopped. Received %d notifications.\n", received)
	return nil
}

func printNotification(out io.Writer, seq int, n notification.Notification, pretty bool) {
	switch v := n.(type) {
	case notification.AppointmentNotification:
		var body []byte
		if pretty {
			body, _ = json.MarshalIndent(v, "", "  ")
		} else {
			body, _ = json.Marshal(v)
		}
		fmt.Fprintf(out, "[%d] appointment %s\n", seq, body)
	case notification.RawNotification:
		fmt.Fprintf(out, "[%d] raw %q\n", seq, v.Text)
	}
}
