package booking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

const (
	defaultBaseURL       = "https://adrd-doctor-appointment-api.vercel.app/api/v1"
	defaultTimeout       = 10 * time.Second
	defaultLookaheadDays = 5
	maxBodyBytes         = 1 << 20
)

// Client talks to the doctor appointment API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	lookaheadDays int
	logger        *logging.Logger
}

var _ BookingAdapter = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLookaheadDays sets how many days after a fully booked date are scanned
// for alternatives.
func WithLookaheadDays(days int) Option {
	return func(c *Client) {
		if days >= 0 {
			c.lookaheadDays = days
		}
	}
}

// NewClient creates a new appointment API client.
func NewClient(logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		lookaheadDays: defaultLookaheadDays,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "api".
func (c *Client) Name() string { return "api" }

type availabilityResponse struct {
	DoctorID       string   `json:"doctor_id"`
	Date           string   `json:"date"`
	AvailableTimes []string `json:"available_times"`
}

type bookRequest struct {
	PatientName   string `json:"patient_name"`
	DoctorID      string `json:"doctor_id"`
	PreferredDate string `json:"preferred_date"`
	PreferredTime string `json:"preferred_time"`
	RequestType   string `json:"request_type"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
	Detail        string `json:"detail"`
}

// CheckAvailability calls GET /doctor/availability.
func (c *Client) CheckAvailability(ctx context.Context, doctorID, date string) ([]string, error) {
	q := url.Values{}
	q.Set("doctor_id", doctorID)
	q.Set("date", date)
	endpoint := c.baseURL + "/doctor/availability?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("booking: build availability request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: availability: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: availability returned %d: %s", ErrUnavailable, resp.StatusCode, truncate(body))
	}

	var out availabilityResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("booking: decode availability: %w", err)
	}
	return canonicalTimes(out.AvailableTimes), nil
}

// CreateBooking checks the requested date first, then calls
// POST /appointments/book. A 409 or a time missing from the availability list
// is reported as *ConflictError with alternatives.
func (c *Client) CreateBooking(ctx context.Context, slot appointment.BookingSlot) (*Confirmation, error) {
	if !slot.Complete() {
		return nil, fmt.Errorf("booking: slot is incomplete (missing %v)", slot.MissingFields())
	}

	times, err := c.CheckAvailability(ctx, slot.DoctorID, slot.PreferredDate)
	switch {
	case err != nil:
		// The booking endpoint has the final say; availability is advisory.
		c.logger.Warn("booking: availability check failed, attempting booking anyway",
			"doctor_id", slot.DoctorID,
			"date", slot.PreferredDate,
			"error", err,
		)
	case len(times) > 0 && !containsTime(times, slot.PreferredTime):
		return nil, c.conflict(ctx, slot, times)
	}

	payload, err := json.Marshal(bookRequest{
		PatientName:   slot.PatientName,
		DoctorID:      slot.DoctorID,
		PreferredDate: slot.PreferredDate,
		PreferredTime: slot.PreferredTime,
		RequestType:   string(slot.RequestType),
	})
	if err != nil {
		return nil, fmt.Errorf("booking: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/appointments/book", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("booking: build booking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: book: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out bookResponse
		if err := json.Unmarshal(body, &out); err != nil {
			c.logger.Warn("booking: could not decode confirmation body", "error", err)
		}
		c.logger.Info("booking: appointment booked",
			"doctor_id", slot.DoctorID,
			"appointment_id", out.AppointmentID,
		)
		return &Confirmation{
			AppointmentID: out.AppointmentID,
			Slot:          slot,
			ConfirmedAt:   time.Now().UTC(),
		}, nil
	case resp.StatusCode == http.StatusConflict:
		c.logger.Warn("booking: requested time slot conflict, fetching alternatives",
			"doctor_id", slot.DoctorID,
			"date", slot.PreferredDate,
			"time", slot.PreferredTime,
		)
		alt, altErr := c.CheckAvailability(ctx, slot.DoctorID, slot.PreferredDate)
		if altErr != nil {
			alt = nil
		}
		return nil, c.conflict(ctx, slot, alt)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: book returned %d", ErrUnavailable, resp.StatusCode)
	default:
		var out bookResponse
		_ = json.Unmarshal(body, &out)
		c.logger.Warn("booking: request rejected",
			"status", resp.StatusCode,
			"doctor_id", slot.DoctorID,
			"detail", out.Detail,
		)
		return nil, NewRejectedError(resp.StatusCode, out.Detail)
	}
}

// conflict builds a ConflictError. Open times on the requested date (minus
// the taken one) come first; otherwise the next days are scanned.
func (c *Client) conflict(ctx context.Context, slot appointment.BookingSlot, sameDay []string) *ConflictError {
	cerr := &ConflictError{
		DoctorID: slot.DoctorID,
		Date:     slot.PreferredDate,
		Time:     slot.PreferredTime,
	}
	var open []string
	for _, t := range sameDay {
		if t != slot.PreferredTime {
			open = append(open, t)
		}
	}
	if len(open) > 0 {
		cerr.Alternatives = []Alternative{{Date: slot.PreferredDate, Times: open}}
		return cerr
	}
	cerr.Alternatives = c.nextAvailable(ctx, slot.DoctorID, slot.PreferredDate)
	return cerr
}

// nextAvailable checks the days after start and collects the ones with open
// times.
func (c *Client) nextAvailable(ctx context.Context, doctorID, start string) []Alternative {
	day, err := time.Parse(appointment.DateLayout, start)
	if err != nil {
		return nil
	}
	var (
		out  []Alternative
		errs []error
	)
	for i := 1; i <= c.lookaheadDays; i++ {
		date := day.AddDate(0, 0, i).Format(appointment.DateLayout)
		times, err := c.CheckAvailability(ctx, doctorID, date)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(times) > 0 {
			out = append(out, Alternative{Date: date, Times: times})
		}
	}
	if len(errs) > 0 {
		c.logger.Warn("booking: errors while checking availability", "error", errors.Join(errs...))
	}
	return out
}

func truncate(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
