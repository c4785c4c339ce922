package push

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type FirebaseService struct {
	client *messaging.Client
	ctx    context.Context
}

// NewFirebaseService initializes the FCM client used for call and alert
// notifications.
func NewFirebaseService(credentialsPath string) (*FirebaseService, error) {
	ctx := context.Background()

	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}

	return &FirebaseService{
		client: client,
		ctx:    ctx,
	}, nil
}

// SendIncomingCallNotification wakes the recipient's device ahead of a
// scheduled call so the app can pick up the audio channel.
func (s *FirebaseService) SendIncomingCallNotification(deviceToken, attemptID, preferredName string) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	ttl := time.Duration(0)

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: "ElderVoice is calling",
			Body:  fmt.Sprintf("Hello %s, time for our chat!", preferredName),
		},
		Data: map[string]string{
			"type":       "incoming_call",
			"attempt_id": attemptID,
			"action":     "START_VOICE_CALL",
			"priority":   "high",
			"timestamp":  fmt.Sprintf("%d", time.Now().Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "eldervoice_calls",
				DefaultSound: true,
				ClickAction:  "OPEN_CALL_ACTIVITY",
			},
		},
	}

	if _, err := s.client.Send(s.ctx, message); err != nil {
		return fmt.Errorf("error sending call push: %w", err)
	}
	return nil
}

// SendMissedCallAlert notifies a caregiver that a scheduled call never
// connected.
func (s *FirebaseService) SendMissedCallAlert(deviceToken, recipientName string) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: "Missed check-in call",
			Body:  fmt.Sprintf("%s did not answer their scheduled ElderVoice call. Please check in on them.", recipientName),
		},
		Data: map[string]string{
			"type":           "missed_call_alert",
			"recipient_name": recipientName,
			"priority":       "high",
			"timestamp":      fmt.Sprintf("%d", time.Now().Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "alert",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "eldervoice_alerts",
				DefaultSound: true,
				Color:        "#FF0000",
			},
		},
	}

	if _, err := s.client.Send(s.ctx, message); err != nil {
		return fmt.Errorf("error sending missed call alert: %w", err)
	}
	return nil
}

// IsInvalidTokenError reports whether the Firebase error means the device
// token is dead and should be cleared.
func IsInvalidTokenError(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsSenderIDMismatch(err)
}
