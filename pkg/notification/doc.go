// Package notification defines the appointment notifications pushed to doctors
// over the live notification channel.
//
// This package contains the data model and the delivery contract shared by the
// pipeline components:
//   - DoctorID and Topic: identify the per-doctor broker destination
//   - AppointmentNotification: the decoded appointment snapshot
//   - RawNotification: the literal payload text kept when decoding fails
//   - Handler: the single-argument callback invoked once per inbound frame
//
// Decoding never fails from the caller's point of view: Decode always returns a
// Notification and reports a parse problem separately so it can be logged.
//
// Example usage:
//
//	n, err := notification.Decode(frameBody)
//	if err != nil {
//		logger.Warn("undecodable notification", zap.Error(err))
//	}
//	switch v := n.(type) {
//	case notification.AppointmentNotification:
//		fmt.Println(v.Doctor.ID, v.AppointmentType)
//	case notification.RawNotification:
//		fmt.Println(v.Text)
//	}
package notification
