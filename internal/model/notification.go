package model

import "time"

// NotificationChannel selects how a recipient is reached.
type NotificationChannel string

const (
	ChannelNone  NotificationChannel = "none"
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
)

// NotificationSettings is the per-recipient notification configuration.
// LastSentAt is written only after a successful send.
type NotificationSettings struct {
	UserID           string              `json:"user_id"`
	Channel          NotificationChannel `json:"channel"`
	Email            string              `json:"email,omitempty"`
	DailyPushEnabled bool                `json:"daily_push_enabled"`
	PausePushEnabled bool                `json:"pause_push_enabled"`
	QuietPushEnabled bool                `json:"quiet_push_enabled"`
	LastSentAt       *time.Time          `json:"last_sent_at,omitempty"`
}

// DefaultUserID is the single recipient configured by default.
const DefaultUserID = "default"
