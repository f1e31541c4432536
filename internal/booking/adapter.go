// Package booking provides the availability/booking collaborator that a
// complete appointment is handed to: an HTTP client for the doctor
// appointment API and an in-memory adapter for local development.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/internal/privacy"
)

var (
	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("booking: requested time is not available")
	// ErrUnavailable indicates the booking service could not be reached.
	ErrUnavailable = errors.New("booking: service unavailable")
	// ErrRejected is matched by *RejectedError.
	ErrRejected = errors.New("booking: request rejected")
)

// Alternative is a date with open times offered after a conflict.
type Alternative struct {
	Date  string   `json:"date"`
	Times []string `json:"times"`
}

// ConflictError is returned when the requested slot is taken. Alternatives
// may be empty when the service could not suggest any.
type ConflictError struct {
	DoctorID     string
	Date         string
	Time         string
	Alternatives []Alternative
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking: %s on %s at %s is not available", e.DoctorID, e.Date, e.Time)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RejectedError is returned when the booking service refuses the request for
// a reason other than a taken slot, e.g. an unknown doctor or a past date.
// Detail is the service's own explanation; Field is the slot field it points
// at, empty when the date and time should be asked again.
type RejectedError struct {
	Status int
	Detail string
	Field  appointment.Field
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("booking: rejected with status %d: %s", e.Status, e.Detail)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// NewRejectedError classifies detail against the slot fields.
func NewRejectedError(status int, detail string) *RejectedError {
	detail = strings.TrimSpace(detail)
	return &RejectedError{Status: status, Detail: detail, Field: rejectedField(detail)}
}

func rejectedField(detail string) appointment.Field {
	d := strings.ToLower(detail)
	switch {
	case strings.Contains(d, "doctor"):
		return appointment.FieldDoctorID
	case strings.Contains(d, "patient"), strings.Contains(d, "name"):
		return appointment.FieldPatientName
	case strings.Contains(d, "request type"), strings.Contains(d, "request_type"), strings.Contains(d, "visit type"):
		return appointment.FieldRequestType
	}
	return ""
}

// Confirmation is returned for a booked appointment.
type Confirmation struct {
	AppointmentID string                  `json:"appointment_id"`
	Slot          appointment.BookingSlot `json:"slot"`
	ConfirmedAt   time.Time               `json:"confirmed_at"`
}

// BookingAdapter is implemented by every booking backend.
type BookingAdapter interface {
	// Name returns the adapter identifier (e.g. "api", "memory").
	Name() string

	// CheckAvailability lists open times (HH:MM AM/PM when parseable) for a
	// doctor on an MM/DD/YYYY date.
	CheckAvailability(ctx context.Context, doctorID, date string) ([]string, error)

	// CreateBooking books a complete slot. A taken slot yields *ConflictError;
	// transport failures wrap ErrUnavailable.
	CreateBooking(ctx context.Context, slot appointment.BookingSlot) (*Confirmation, error)
}

// FormatSummary renders a one-line summary of a slot for logs. The patient
// name is masked.
func FormatSummary(slot appointment.BookingSlot) string {
	parts := []string{
		"patient=" + orDash(privacy.MaskName(slot.PatientName)),
		"doctor=" + orDash(slot.DoctorID),
		"date=" + orDash(slot.PreferredDate),
		"time=" + orDash(slot.PreferredTime),
		"type=" + orDash(string(slot.RequestType)),
	}
	return strings.Join(parts, " ")
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

// canonicalTimes normalizes the times returned by a backend so they compare
// equal to slot values. Unparseable entries are kept verbatim.
func canonicalTimes(times []string) []string {
	out := make([]string, 0, len(times))
	for _, t := range times {
		if c, err := appointment.NormalizeTime(t); err == nil {
			out = append(out, c)
			continue
		}
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsTime(times []string, want string) bool {
	for _, t := range times {
		if t == want {
			return true
		}
	}
	return false
}
