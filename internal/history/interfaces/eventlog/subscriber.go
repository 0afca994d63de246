package eventlog

import (
	"context"

	"energy-history/internal/history/application/eventbus"
	"energy-history/internal/history/application/events"
	"energy-history/internal/logger"
)

// Register subscribes log handlers for the history events on bus.
func Register(bus eventbus.EventBus, log *logger.Logger) {
	if bus == nil {
		return
	}
	log = logger.OrNop(log)

	bus.Subscribe(eventbus.EventTypeOf[events.DeltaRecorded](), func(ctx context.Context, event any) error {
		_ = ctx
		e, ok := event.(events.DeltaRecorded)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		log.Infow("delta recorded",
			"event_id", e.EventID,
			"user_id", e.UserID,
			"period_type", e.Key.Type,
			"period_key", e.Key.String(),
			"delta_kwh", e.DeltaKWh,
			"origin", e.Origin,
			"baseline_found", e.BaselineFound,
		)
		return nil
	})

	bus.Subscribe(eventbus.EventTypeOf[events.RealtimePeakChanged](), func(ctx context.Context, event any) error {
		_ = ctx
		e, ok := event.(events.RealtimePeakChanged)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		log.Debugw("realtime peak changed",
			"user_id", e.UserID,
			"date", e.Peak.DateKey,
			"peak_kwh", e.Peak.Value,
			"at", e.Peak.AtHourLabel,
		)
		return nil
	})
}
