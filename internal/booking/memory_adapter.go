package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// DefaultOpenTimes is the daily schedule the memory adapter offers.
var DefaultOpenTimes = []string{"09:00 AM", "10:00 AM", "11:00 AM", "01:00 PM", "02:00 PM", "03:00 PM", "04:00 PM"}

// MemoryAdapter keeps bookings in process. It rejects double bookings of the
// same doctor, date and time.
type MemoryAdapter struct {
	mu        sync.Mutex
	schedule  []string
	booked    map[string]Confirmation
	lookahead int
	logger    *logging.Logger
	now       func() time.Time
}

var _ BookingAdapter = (*MemoryAdapter)(nil)

// NewMemoryAdapter returns an adapter with DefaultOpenTimes on every date.
func NewMemoryAdapter(logger *logging.Logger) *MemoryAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryAdapter{
		schedule:  append([]string(nil), DefaultOpenTimes...),
		booked:    make(map[string]Confirmation),
		lookahead: defaultLookaheadDays,
		logger:    logger,
		now:       time.Now,
	}
}

// WithSchedule replaces the daily open times.
func (m *MemoryAdapter) WithSchedule(times []string) *MemoryAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = canonicalTimes(times)
	return m
}

func (m *MemoryAdapter) Name() string { return "memory" }

func slotKey(doctorID, date, tm string) string {
	return doctorID + "|" + date + "|" + tm
}

func (m *MemoryAdapter) CheckAvailability(ctx context.Context, doctorID, date string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(doctorID, date), nil
}

func (m *MemoryAdapter) openLocked(doctorID, date string) []string {
	open := make([]string, 0, len(m.schedule))
	for _, t := range m.schedule {
		if _, taken := m.booked[slotKey(doctorID, date, t)]; !taken {
			open = append(open, t)
		}
	}
	return open
}

func (m *MemoryAdapter) CreateBooking(ctx context.Context, slot appointment.BookingSlot) (*Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !slot.Complete() {
		return nil, fmt.Errorf("booking: slot is incomplete (missing %v)", slot.MissingFields())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(slot.DoctorID, slot.PreferredDate, slot.PreferredTime)
	if _, taken := m.booked[key]; taken || !containsTime(m.schedule, slot.PreferredTime) {
		cerr := &ConflictError{DoctorID: slot.DoctorID, Date: slot.PreferredDate, Time: slot.PreferredTime}
		if open := m.openLocked(slot.DoctorID, slot.PreferredDate); len(open) > 0 {
			cerr.Alternatives = []Alternative{{Date: slot.PreferredDate, Times: open}}
		} else if day, err := time.Parse(appointment.DateLayout, slot.PreferredDate); err == nil {
			for i := 1; i <= m.lookahead; i++ {
				date := day.AddDate(0, 0, i).Format(appointment.DateLayout)
				if open := m.openLocked(slot.DoctorID, date); len(open) > 0 {
					cerr.Alternatives = append(cerr.Alternatives, Alternative{Date: date, Times: open})
				}
			}
		}
		return nil, cerr
	}

	conf := Confirmation{
		AppointmentID: uuid.NewString(),
		Slot:          slot,
		ConfirmedAt:   m.now().UTC(),
	}
	m.booked[key] = conf
	m.logger.Info("booking: appointment recorded in memory", "summary", FormatSummary(slot), "appointment_id", conf.AppointmentID)
	return &conf, nil
}

// Bookings returns every recorded confirmation.
func (m *MemoryAdapter) Bookings() []Confirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Confirmation, 0, len(m.booked))
	for _, c := range m.booked {
		out = append(out, c)
	}
	return out
}
