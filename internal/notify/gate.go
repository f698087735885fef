// Package notify decides when a poll cycle should reach a person and
// delivers the message.
package notify

import (
	"time"

	"github.com/sells-group/watchman/internal/model"
)

// DefaultQuietThreshold is the quiet-log size that must be exceeded before a
// quiet-log notification is considered.
const DefaultQuietThreshold = 3

// RateLimitWindow is the sliding window after a successful send during which
// further rate-limited notifications are held back.
const RateLimitWindow = 24 * time.Hour

func recentlySent(s model.NotificationSettings, now time.Time) bool {
	return s.LastSentAt != nil && now.Sub(*s.LastSentAt) < RateLimitWindow
}

// ShouldNotify reports whether a move from previous to current warrants an
// escalation notification. Only upward moves qualify; a nil previous state
// counts as Contained. Pause bypasses the rate limit when the recipient
// enabled pause pushes.
func ShouldNotify(current model.DailyStateKind, previous *model.DailyStateKind, s model.NotificationSettings, now time.Time) bool {
	if s.Channel == model.ChannelNone {
		return false
	}

	prev := model.StateContained
	if previous != nil {
		prev = *previous
	}
	if current.Rank() <= prev.Rank() {
		return false
	}

	if current == model.StatePause && s.PausePushEnabled {
		return true
	}
	if recentlySent(s, now) {
		return false
	}
	if !s.DailyPushEnabled && current != model.StatePause {
		return false
	}
	return true
}

// ShouldNotifyQuietLog reports whether the quiet log has grown past
// threshold and the recipient wants to hear about it.
func ShouldNotifyQuietLog(quietCount int, s model.NotificationSettings, threshold int, now time.Time) bool {
	switch {
	case s.Channel == model.ChannelNone:
		return false
	case !s.QuietPushEnabled:
		return false
	case quietCount <= threshold:
		return false
	case recentlySent(s, now):
		return false
	}
	return true
}
