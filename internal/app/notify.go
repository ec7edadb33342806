package app

import (
	"context"
	"fmt"

	"wavebot/internal/notifier"
	"wavebot/internal/transport"
)

// capSink bridges the tracker's fire hook into the notifier queue. Users are
// notified in their DM chat, which for Telegram bots shares the user's id.
type capSink struct {
	notif *notifier.Service
	cap   int
}

func (s *capSink) NotifyCapReached(_ context.Context, userID int64) error {
	return s.notif.Notify(transport.Notification{
		Kind:   transport.NotifyCapReached,
		Target: transport.ChatTarget{ChatID: userID},
		Text: fmt.Sprintf("🚨 <b>WAVEPLATES FULL (%d/%d)</b>\nGo farm before you overcap!",
			s.cap, s.cap),
		Options: &transport.SendOptions{ParseMode: "HTML"},
	})
}
