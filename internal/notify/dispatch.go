package notify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/model"
)

// Kinds of notification recorded on a poll run.
const (
	KindEscalation = "escalation"
	KindQuietLog   = "quiet_log"
)

// LastSentRecorder persists the rate-limit timestamp.
type LastSentRecorder interface {
	UpdateLastSent(ctx context.Context, userID string, at time.Time) error
}

// Gate runs the evaluate-send-record step for one recipient.
type Gate struct {
	senders        map[model.NotificationChannel]Sender
	store          LastSentRecorder
	quietThreshold int
	now            func() time.Time
}

// NewGate creates a gate. Channels without a sender fall back to LogSender.
func NewGate(senders map[model.NotificationChannel]Sender, store LastSentRecorder, quietThreshold int) *Gate {
	if quietThreshold <= 0 {
		quietThreshold = DefaultQuietThreshold
	}
	return &Gate{senders: senders, store: store, quietThreshold: quietThreshold, now: time.Now}
}

// DispatchInput is everything the gate needs for one cycle.
type DispatchInput struct {
	Settings model.NotificationSettings
	Current  model.DailyState
	Previous *model.DailyStateKind
	Top      *model.Detection
}

// Outcome reports what the gate did.
type Outcome struct {
	Kind    string // KindEscalation, KindQuietLog or empty when nothing qualified
	Sent    bool
	Subject string
}

// Dispatch sends at most one notification. An escalation is considered
// first; a successful send moves the rate-limit timestamp so the quiet-log
// check that follows sees it and stays silent. The timestamp is written only
// after a successful send.
func (g *Gate) Dispatch(ctx context.Context, in DispatchInput) (Outcome, error) {
	now := g.now().UTC()
	s := in.Settings

	if ShouldNotify(in.Current.State, in.Previous, s, now) {
		out, err := g.send(ctx, s, KindEscalation, BuildContent(in.Current, in.Top), now)
		if err != nil || out.Sent {
			return out, err
		}
	}

	if ShouldNotifyQuietLog(in.Current.QuietLogCount, s, g.quietThreshold, now) {
		return g.send(ctx, s, KindQuietLog, BuildQuietLogContent(in.Current.QuietLogCount, in.Current.Date), now)
	}
	return Outcome{}, nil
}

func (g *Gate) send(ctx context.Context, s model.NotificationSettings, kind string, c Content, now time.Time) (Outcome, error) {
	out := Outcome{Kind: kind, Subject: c.Subject}
	sender, ok := g.senders[s.Channel]
	if !ok || sender == nil {
		sender = LogSender{}
	}

	if err := sender.Send(ctx, s, c); err != nil {
		if eris.Is(err, ErrNotDelivered) {
			return out, nil
		}
		return out, eris.Wrapf(err, "notify: send %s", kind)
	}

	out.Sent = true
	if err := g.store.UpdateLastSent(ctx, s.UserID, now); err != nil {
		return out, eris.Wrap(err, "notify: update last sent")
	}
	zap.L().Info("notify: notification sent",
		zap.String("kind", kind),
		zap.String("user_id", s.UserID),
		zap.String("subject", c.Subject),
	)
	return out, nil
}
