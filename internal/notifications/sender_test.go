package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearping/proximity-api/internal/location"
)

func TestBuildAlertMessage(t *testing.T) {
	nearby := []location.NearbyUser{
		{UserID: "bob", DistanceMeters: 42.5, LastUpdated: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{UserID: "carol", DistanceMeters: 80.1, LastUpdated: time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)},
	}

	msg, err := buildAlertMessage("alice", nearby, 100)
	require.NoError(t, err)

	assert.Equal(t, "user_alice", msg.Topic)
	assert.Equal(t, "Nearby User Detected", msg.Notification.Title)
	assert.Equal(t, "2 user(s) within 100m", msg.Notification.Body)
	assert.Equal(t, "proximity_alert", msg.Data["type"])

	var decoded []location.NearbyUser
	require.NoError(t, json.Unmarshal([]byte(msg.Data["users"]), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "bob", decoded[0].UserID)
	assert.Equal(t, 42.5, decoded[0].DistanceMeters)
}

func TestNilSenderIsNoOp(t *testing.T) {
	var s *FCMSender
	assert.NoError(t, s.SendProximityAlert(t.Context(), "alice", nil))
}
