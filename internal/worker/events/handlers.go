package eventsworker

import (
	"context"
	"fmt"

	"github.com/wolfman30/adrd-care-assistant/internal/events"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// AuditHandlers log every booking outcome as a structured audit line.
func AuditHandlers(logger *logging.Logger) map[string]Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return map[string]Handler{
		events.TypeBookingFinalized: func(_ context.Context, env events.Envelope) error {
			var evt events.BookingFinalizedV1
			if err := env.Decode(&evt); err != nil {
				return fmt.Errorf("eventsworker: decode %s: %w", env.Type, err)
			}
			logger.Info("booking finalized",
				"event_id", env.ID,
				"conversation_id", evt.ConversationID,
				"appointment_id", evt.AppointmentID,
				"adapter", evt.Adapter,
				"doctor_id", evt.DoctorID,
				"date", evt.PreferredDate,
				"time", evt.PreferredTime,
				"remaining", evt.Remaining,
			)
			return nil
		},
		events.TypeBookingConflict: func(_ context.Context, env events.Envelope) error {
			var evt events.BookingConflictV1
			if err := env.Decode(&evt); err != nil {
				return fmt.Errorf("eventsworker: decode %s: %w", env.Type, err)
			}
			logger.Info("booking conflict",
				"event_id", env.ID,
				"conversation_id", evt.ConversationID,
				"doctor_id", evt.DoctorID,
				"date", evt.PreferredDate,
				"time", evt.PreferredTime,
				"alternatives", evt.Alternatives,
			)
			return nil
		},
	}
}
