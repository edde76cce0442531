package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/clinic-notify/pkg/notification"
)

// decodeResult is printed by the decode command.
type decodeResult struct {
	Kind        string                                `json:"kind"`
	Topic       string                                `json:"topic,omitempty"`
	Appointment *notification.AppointmentNotification `json:"appointment,omitempty"`
	LocalTime   string                                `json:"localTime,omitempty"`
	Raw         string                                `json:"raw,omitempty"`
	Error       string                                `json:"error,omitempty"`
}

func newDecodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [payload]",
		Short: "Run the notification decoder on a payload",
		Long: `Decode a frame body the way listeners do and print the result as JSON.
The payload is taken from the argument, or from stdin when omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 1 {
				payload = []byte(args[0])
			} else {
				body, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
				payload = []byte(strings.TrimRight(string(body), "\r\n"))
			}

			out, err := json.MarshalIndent(decodePayload(payload), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	return cmd
}

func decodePayload(payload []byte) decodeResult {
	n, err := notification.Decode(payload)

	var result decodeResult
	if err != nil {
		result.Error = err.Error()
	}

	switch v := n.(type) {
	case notification.AppointmentNotification:
		result.Kind = "appointment"
		result.Appointment = &v
		result.Topic = notification.Topic(v.Doctor.ID)
		if t, err := v.AppointmentTime(time.Local); err == nil {
			result.LocalTime = t.Format(time.RFC3339)
		}
	case notification.RawNotification:
		result.Kind = "raw"
		result.Raw = v.Text
	}
	return result
}
