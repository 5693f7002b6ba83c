package location

import (
	"math"
	"regexp"
)

// User identifiers are restricted to a safe charset and length so arbitrary
// client input cannot abuse storage keys or notification topics.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,128}$`)

// ValidateUserID checks the identifier format precondition.
func ValidateUserID(userID string) error {
	if !userIDPattern.MatchString(userID) {
		return &ValidationError{Field: "userId", Reason: "must be 3-128 characters of A-Za-z0-9_-"}
	}
	return nil
}

// ValidateCoordinates rejects non-finite latitude/longitude values.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return &ValidationError{Field: "lat/lng", Reason: "latitude and longitude must be finite numbers"}
	}
	return nil
}
