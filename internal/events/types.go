package events

import "time"

const (
	TypeBookingFinalized = "booking.finalized.v1"
	TypeBookingConflict  = "booking.conflict.v1"
)

// BookingFinalizedV1 is emitted once per confirmed appointment.
type BookingFinalizedV1 struct {
	ConversationID string    `json:"conversation_id"`
	AppointmentID  string    `json:"appointment_id,omitempty"`
	Adapter        string    `json:"adapter"`
	PatientName    string    `json:"patient_name"`
	DoctorID       string    `json:"doctor_id"`
	PreferredDate  string    `json:"preferred_date"`
	PreferredTime  string    `json:"preferred_time"`
	RequestType    string    `json:"request_type"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
	// Remaining is the number of bookings still queued in the conversation.
	Remaining int `json:"remaining"`
}

func (BookingFinalizedV1) EventType() string { return TypeBookingFinalized }

// BookingConflictV1 is emitted when a requested time was already taken.
type BookingConflictV1 struct {
	ConversationID string    `json:"conversation_id"`
	DoctorID       string    `json:"doctor_id"`
	PreferredDate  string    `json:"preferred_date"`
	PreferredTime  string    `json:"preferred_time"`
	Alternatives   int       `json:"alternatives"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (BookingConflictV1) EventType() string { return TypeBookingConflict }
