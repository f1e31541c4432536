package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/internal/booking"
)

// ClarificationMessage is returned when the intent could not be determined.
const ClarificationMessage = "I'm sorry, I didn't quite understand that. I can help you book a doctor's appointment or answer questions about Alzheimer's disease and related dementias. What would you like to do?"

const maxAlternatives = 3

// turnResult is what a processed turn produced; Compose renders it.
type turnResult struct {
	decision  RoutingDecision
	opened    int
	confirmed *booking.Confirmation
	conflict  *Conflict
	rejected  *booking.RejectedError
	answer    string
}

// Compose builds the single outbound message for a turn.
func Compose(session *Session, res turnResult) string {
	if res.decision.Action == ActionClarify {
		return ClarificationMessage
	}
	switch res.decision.Domain {
	case DomainMedical:
		return composeMedical(session, res.answer)
	case DomainAppointment:
		return composeAppointment(session, res)
	default:
		if strings.TrimSpace(res.answer) != "" {
			return res.answer
		}
		return ClarificationMessage
	}
}

func composeMedical(session *Session, answer string) string {
	if strings.TrimSpace(answer) == "" {
		answer = medicalFallbackMessage
	}
	if active := session.ActiveBooking(); active != nil {
		who := ""
		if active.PatientName != "" {
			who = " for " + active.PatientName
		}
		return answer + "\n\nWhenever you're ready, we can continue booking the appointment" + who + "."
	}
	return answer
}

func composeAppointment(session *Session, res turnResult) string {
	active := session.ActiveBooking()

	if res.confirmed != nil {
		msg := confirmationSentence(res.confirmed.Slot)
		if active == nil {
			return msg + " Is there anything else I can help you with?"
		}
		remaining := session.Queue.Size()
		return fmt.Sprintf("%s Now let's set up the next appointment (%d remaining). %s", msg, remaining, nextQuestion(*active))
	}

	if res.conflict != nil && active != nil {
		return conflictMessage(*res.conflict)
	}

	if res.rejected != nil && active != nil {
		return rejectionMessage(res.rejected.Detail) + " " + nextQuestion(*active)
	}

	if active == nil {
		return "How can I help you with your appointment?"
	}

	question := nextQuestion(*active)
	if res.opened > 1 {
		return fmt.Sprintf("Sure, I can help you book %d appointments. Let's start with the first one. %s", res.opened, question)
	}
	return question
}

// nextQuestion asks for the first missing field, using what is already known.
func nextQuestion(slot appointment.BookingSlot) string {
	field, ok := slot.NextMissing()
	if !ok {
		return "I have everything I need for this appointment."
	}

	doctor := ""
	if slot.DoctorID != "" {
		doctor = " with " + doctorLabel(slot.DoctorID)
	}

	switch field {
	case appointment.FieldPatientName:
		if doctor != "" {
			return fmt.Sprintf("I can help you book an appointment%s. Who is the appointment for? Please tell me the patient's full name.", doctor)
		}
		return "I can help you book an appointment. Who is the appointment for? Please tell me the patient's full name."
	case appointment.FieldDoctorID:
		return fmt.Sprintf("Thanks. Which doctor would %s like to see? Please share the doctor's ID (for example, dr_001).", subject(slot))
	case appointment.FieldPreferredDate:
		return fmt.Sprintf("What date would %s like the appointment%s?", subject(slot), doctor)
	case appointment.FieldPreferredTime:
		if day := displayDate(slot.PreferredDate); day != "" {
			return fmt.Sprintf("What time works best on %s?", day)
		}
		return "What time works best for the appointment?"
	case appointment.FieldRequestType:
		return fmt.Sprintf("Is this appointment%s a consultation, a follow-up visit, or a new patient visit?", forPatient(slot))
	}
	return "Could you share a few more details about the appointment?"
}

func confirmationSentence(slot appointment.BookingSlot) string {
	return fmt.Sprintf("Your appointment is confirmed: %s will see %s on %s at %s for %s.",
		slot.PatientName,
		doctorLabel(slot.DoctorID),
		displayDate(slot.PreferredDate),
		displayTime(slot.PreferredTime),
		requestTypePhrase(slot.RequestType),
	)
}

func rejectionMessage(detail string) string {
	detail = strings.TrimRight(strings.TrimSpace(detail), ".")
	if detail == "" {
		return "I'm sorry, I couldn't book the appointment with those details."
	}
	return fmt.Sprintf("I'm sorry, the appointment could not be booked: %s.", detail)
}

func conflictMessage(c Conflict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I'm sorry, %s is not available on %s at %s.", doctorLabel(c.DoctorID), displayDate(c.Date), displayTime(c.Time))

	options := make([]string, 0, maxAlternatives)
	for _, alt := range c.Alternatives {
		for _, t := range alt.Times {
			if len(options) == maxAlternatives {
				break
			}
			if alt.Date == c.Date {
				options = append(options, displayTime(t))
			} else {
				options = append(options, fmt.Sprintf("%s on %s", displayTime(t), displayDate(alt.Date)))
			}
		}
	}

	if len(options) == 0 {
		b.WriteString(" I couldn't find other open times in the next few days. Would you like to try a different time or date?")
		return b.String()
	}
	fmt.Fprintf(&b, " Available options: %s. What time would you like instead?", joinOr(options))
	return b.String()
}

func subject(slot appointment.BookingSlot) string {
	if slot.PatientName != "" {
		return slot.PatientName
	}
	return "the patient"
}

func forPatient(slot appointment.BookingSlot) string {
	if slot.PatientName != "" {
		return " for " + slot.PatientName
	}
	return ""
}

func doctorLabel(id string) string {
	if id == "" {
		return "the doctor"
	}
	return "doctor " + id
}

func requestTypePhrase(t appointment.RequestType) string {
	switch t {
	case appointment.RequestConsultation:
		return "a consultation"
	case appointment.RequestFollowUp:
		return "a follow-up visit"
	case appointment.RequestNewPatient:
		return "a new patient visit"
	}
	return "a visit"
}

func displayDate(date string) string {
	d, err := time.Parse(appointment.DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Monday, January 2, 2006")
}

func displayTime(tm string) string {
	t, err := time.Parse(appointment.TimeLayout, tm)
	if err != nil {
		return tm
	}
	return t.Format("3:04 PM")
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
}
