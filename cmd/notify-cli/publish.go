package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/clinic-notify/internal/connection"
	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

func newPublishCommand() *cobra.Command {
	var (
		doctorID    int64
		data        string
		file        string
		sample      bool
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a notification to a doctor's topic",
		Long: `Publish a payload to /topic/doctor/{id}. The payload comes from --data,
--file (use - for stdin) or --sample, which builds an appointment for now.
Intended for development brokers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveDoctorID(doctorID)
			if err != nil {
				return err
			}

			body, err := publishPayload(cmd.InOrStdin(), id, data, file, sample)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := publish(ctx, id, contentType, body); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Published %d bytes to %s\n", len(body), notification.Topic(id))
			return nil
		},
	}

	cmd.Flags().Int64Var(&doctorID, "doctor-id", 0, "Doctor id to publish to (default: from --token)")
	cmd.Flags().StringVar(&data, "data", "", "Payload to publish")
	cmd.Flags().StringVar(&file, "file", "", "Read the payload from a file (- for stdin)")
	cmd.Flags().BoolVar(&sample, "sample", false, "Publish a sample appointment")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "Frame content type")
	cmd.MarkFlagsMutuallyExclusive("data", "file", "sample")

	return cmd
}

// publishPayload resolves the payload source. With no source flag the
// payload is read from stdin.
func publishPayload(stdin io.Reader, doctorID notification.DoctorID, data, file string, sample bool) ([]byte, error) {
	switch {
	case sample:
		return sampleAppointment(doctorID, time.Now())
	case data != "":
		return []byte(data), nil
	case file != "" && file != "-":
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return body, nil
	default:
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("empty payload: use --data, --file or --sample")
		}
		return body, nil
	}
}

func sampleAppointment(doctorID notification.DoctorID, at time.Time) ([]byte, error) {
	return json.Marshal(notification.AppointmentNotification{
		Patient:         notification.Reference{ID: 1},
		Doctor:          notification.Reference{ID: doctorID},
		AppointmentDate: at.Format("2006-01-02T15:04:05"),
		ClinicRoom:      "101",
		AppointmentType: "KHAM_TONG_QUAT",
	})
}

func publish(ctx context.Context, doctorID notification.DoctorID, contentType string, body []byte) error {
	manager := connection.NewManager(connection.Config{Token: token}, logger)

	session, err := manager.Dial(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	defer session.Close()

	if err := session.Send(notification.Topic(doctorID), contentType, body); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}
