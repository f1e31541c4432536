// Package appointment holds the booking record that is filled across
// conversation turns: field normalization, merge semantics and the FIFO queue
// of bookings requested within one conversation.
package appointment

// Field names a required booking slot. The string value is the wire key used
// by the extraction service.
type Field string

const (
	FieldPatientName   Field = "patient_name"
	FieldDoctorID      Field = "doctor_id"
	FieldPreferredDate Field = "preferred_date"
	FieldPreferredTime Field = "preferred_time"
	FieldRequestType   Field = "request_type"
)

// RequiredFields is the fixed order used both to compute missing fields and to
// pick the next question.
var RequiredFields = []Field{
	FieldPatientName,
	FieldDoctorID,
	FieldPreferredDate,
	FieldPreferredTime,
	FieldRequestType,
}

// IsKnownField reports whether f is one of the booking slot fields.
func IsKnownField(f Field) bool {
	for _, known := range RequiredFields {
		if known == f {
			return true
		}
	}
	return false
}

// RequestType is the kind of visit being booked.
type RequestType string

const (
	RequestConsultation RequestType = "consultation"
	RequestFollowUp     RequestType = "follow_up"
	RequestNewPatient   RequestType = "new_patient"
)

// Valid reports whether t is one of the supported request types.
func (t RequestType) Valid() bool {
	switch t {
	case RequestConsultation, RequestFollowUp, RequestNewPatient:
		return true
	default:
		return false
	}
}

// BookingSlot is one in-progress or completed appointment request. Missing
// fields are always derived, never stored.
type BookingSlot struct {
	PatientName   string      `json:"patient_name,omitempty"`
	DoctorID      string      `json:"doctor_id,omitempty"`
	PreferredDate string      `json:"preferred_date,omitempty"`
	PreferredTime string      `json:"preferred_time,omitempty"`
	RequestType   RequestType `json:"request_type,omitempty"`
}

// Value returns the stored value for f.
func (s BookingSlot) Value(f Field) string {
	switch f {
	case FieldPatientName:
		return s.PatientName
	case FieldDoctorID:
		return s.DoctorID
	case FieldPreferredDate:
		return s.PreferredDate
	case FieldPreferredTime:
		return s.PreferredTime
	case FieldRequestType:
		return string(s.RequestType)
	default:
		return ""
	}
}

func (s *BookingSlot) set(f Field, value string) {
	switch f {
	case FieldPatientName:
		s.PatientName = value
	case FieldDoctorID:
		s.DoctorID = value
	case FieldPreferredDate:
		s.PreferredDate = value
	case FieldPreferredTime:
		s.PreferredTime = value
	case FieldRequestType:
		s.RequestType = RequestType(value)
	}
}

// MissingFields returns the required fields whose value is absent or invalid,
// in RequiredFields order.
func (s BookingSlot) MissingFields() []Field {
	var missing []Field
	for _, f := range RequiredFields {
		if !s.valid(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// NextMissing returns the first missing field, or false when the slot is complete.
func (s BookingSlot) NextMissing() (Field, bool) {
	missing := s.MissingFields()
	if len(missing) == 0 {
		return "", false
	}
	return missing[0], true
}

// Complete reports whether every required field holds a valid value.
func (s BookingSlot) Complete() bool {
	return len(s.MissingFields()) == 0
}

// valid re-checks canonical shape so a stored value that was corrupted (for
// example by a hand-edited session record) still counts as missing.
func (s BookingSlot) valid(f Field) bool {
	v := s.Value(f)
	if v == "" {
		return false
	}
	switch f {
	case FieldPreferredDate:
		return isCanonicalDate(v)
	case FieldPreferredTime:
		return isCanonicalTime(v)
	case FieldRequestType:
		return s.RequestType.Valid()
	default:
		return !isPlaceholder(v)
	}
}
