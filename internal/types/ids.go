package types

import (
	"time"

	"github.com/google/uuid"
)

// NewRuleID generates a UUIDv7 rule identifier for rules imported without one.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// NewNotificationID generates a UUIDv7 identifier for a dispatch outcome.
// Time-ordered IDs keep the notifications table append-friendly.
func NewNotificationID() NotificationID {
	return NotificationID(uuid.Must(uuid.NewV7()).String())
}

// ParseRuleID validates and converts a string to RuleID.
// Operator-chosen slugs are accepted; only empty or whitespace ids are rejected.
// UUID-shaped ids must parse as UUIDs.
func ParseRuleID(s string) (RuleID, error) {
	if s == "" {
		return "", ErrMissingRuleID
	}
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' {
			return "", ErrInvalidRuleID
		}
	}
	if len(s) == 36 && s[8] == '-' && s[13] == '-' {
		if _, err := uuid.Parse(s); err != nil {
			return "", ErrInvalidRuleID
		}
	}
	return RuleID(s), nil
}

// NotificationIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func NotificationIDTime(id NotificationID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
