package channels

import (
	"context"
	"log/slog"
)

// StartOutcomeLogger starts a goroutine that logs every event on the hub.
// It is the reference consumer; real front-ends read the channels directly.
func StartOutcomeLogger(ctx context.Context, events *EventChannels, logger *slog.Logger) {
	logger = logger.With("component", "event_logger")
	go func() {
		for {
			select {
			case event, ok := <-events.Outcome:
				if !ok {
					return
				}
				level := slog.LevelInfo
				if event.Kind != "success" {
					level = slog.LevelWarn
				}
				logger.Log(ctx, level, "Fetch completed",
					slog.String("target_id", event.TargetID),
					slog.String("kind", event.Kind),
					slog.String("trigger", event.Trigger),
					slog.Int("port", event.Port),
					slog.Int("attempts", event.Attempts),
					slog.String("reason", event.Reason),
					slog.String("request_id", event.RequestID),
				)
			case event, ok := <-events.PollingState:
				if !ok {
					return
				}
				logger.InfoContext(ctx, "Polling state changed",
					slog.String("target_id", event.TargetID),
					slog.Bool("enabled", event.Enabled),
				)
			case event, ok := <-events.CredentialInvalidated:
				if !ok {
					return
				}
				logger.WarnContext(ctx, "Cached credential invalidated",
					slog.String("target_id", event.TargetID),
					slog.String("reason", event.Reason),
				)
			case event, ok := <-events.TargetStatus:
				if !ok {
					return
				}
				logger.WarnContext(ctx, "Target status changed",
					slog.String("target_id", event.TargetID),
					slog.String("event_type", event.EventType),
					slog.Int("failures", event.Failures),
				)
			case <-ctx.Done():
				return
			case <-events.Done():
				return
			}
		}
	}()
}
