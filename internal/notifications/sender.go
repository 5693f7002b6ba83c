// Package notifications sends proximity alert pushes via Firebase Cloud
// Messaging. Each user subscribes their devices to the topic user_<id>;
// delivery is best effort and callers log failures instead of propagating
// them.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/nearping/proximity-api/internal/location"
)

// FCMSender sends push notifications via Firebase Cloud Messaging.
// Nil-safe: when not configured, all methods are no-ops.
type FCMSender struct {
	client       *messaging.Client
	radiusMeters float64
	logger       *slog.Logger
}

// NewFCMSender initializes the Firebase app once from a service account
// credentials file and returns a sender bound to its messaging client.
// Returns (nil, nil) if credentialsFile is empty (notifications disabled).
func NewFCMSender(ctx context.Context, credentialsFile string, radiusMeters float64, logger *slog.Logger) (*FCMSender, error) {
	if credentialsFile == "" {
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize FCM client: %w", err)
	}

	return &FCMSender{
		client:       client,
		radiusMeters: radiusMeters,
		logger:       logger,
	}, nil
}

// SendProximityAlert pushes one alert to the user's topic.
func (s *FCMSender) SendProximityAlert(ctx context.Context, userID string, nearby []location.NearbyUser) error {
	if s == nil {
		return nil // no-op when not configured
	}

	msg, err := buildAlertMessage(userID, nearby, s.radiusMeters)
	if err != nil {
		return err
	}

	id, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("FCM send to %s: %w", msg.Topic, err)
	}
	s.logger.Debug("FCM message accepted", "message_id", id, "topic", msg.Topic)
	return nil
}

// buildAlertMessage assembles the FCM payload. The nearby list rides along
// as JSON in the data section so clients can render it without a refetch.
func buildAlertMessage(userID string, nearby []location.NearbyUser, radiusMeters float64) (*messaging.Message, error) {
	users, err := json.Marshal(nearby)
	if err != nil {
		return nil, fmt.Errorf("marshal nearby users: %w", err)
	}

	return &messaging.Message{
		Notification: &messaging.Notification{
			Title: "Nearby User Detected",
			Body:  fmt.Sprintf("%d user(s) within %.0fm", len(nearby), radiusMeters),
		},
		Data: map[string]string{
			"type":  "proximity_alert",
			"users": string(users),
		},
		Topic: "user_" + userID,
	}, nil
}
