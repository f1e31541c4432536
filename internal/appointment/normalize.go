package appointment

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// DateLayout is the canonical MM/DD/YYYY form stored in a slot.
	DateLayout = "01/02/2006"
	// TimeLayout is the canonical HH:MM AM/PM form stored in a slot.
	TimeLayout = "03:04 PM"
)

var (
	ErrInvalidDate = errors.New("appointment: invalid date")
	ErrInvalidTime = errors.New("appointment: invalid time")
	ErrInvalidEnum = errors.New("appointment: invalid request type")
	ErrInvalidName = errors.New("appointment: invalid name")
	// ErrPlaceholder marks values the extraction service invented instead of
	// reporting the field as missing ("Unknown", "N/A", ...).
	ErrPlaceholder   = errors.New("appointment: placeholder value")
	ErrUnknownField  = errors.New("appointment: unknown field")
	errEmptyRawValue = errors.New("appointment: empty value")
)

// NormalizationError reports which field failed and why. It never reaches the
// user; the field is simply asked for again.
type NormalizationError struct {
	Field Field
	Raw   string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("appointment: normalize %s %q: %v", e.Field, e.Raw, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

var (
	ordinalRE      = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)
	inDaysRE       = regexp.MustCompile(`^in (\d{1,2}) days?$`)
	weekdayRE      = regexp.MustCompile(`^(this |next |coming )?(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)(day|nesday|sday|urday|rsday)?$`)
	clockRE        = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm|a|p)?$`)
	canonicalTime  = regexp.MustCompile(`^(0[1-9]|1[0-2]):[0-5]\d (AM|PM)$`)
	numericDoctor  = regexp.MustCompile(`^(?:dr|doctor)[\s._-]*0*(\d{1,4})$`)
	whitespaceRE   = regexp.MustCompile(`\s+`)
	titleCaser     = cases.Title(language.English)
	absoluteLayout = []string{
		"1/2/2006",
		"1-2-2006",
		"2006-1-2",
		"1/2/06",
		"January 2 2006",
		"Jan 2 2006",
		"2 January 2006",
		"2 Jan 2006",
		"Monday January 2 2006",
		"Mon Jan 2 2006",
	}
	yearlessLayout = []string{
		"January 2",
		"Jan 2",
		"2 January",
		"2 Jan",
		"1/2",
	}
	weekdays = map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "tues": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
		"fri": time.Friday, "sat": time.Saturday,
	}
	requestTypeSynonyms = map[string]RequestType{
		"consultation":          RequestConsultation,
		"consult":               RequestConsultation,
		"initial consultation":  RequestConsultation,
		"follow up":             RequestFollowUp,
		"followup":              RequestFollowUp,
		"follow up visit":       RequestFollowUp,
		"follow up appointment": RequestFollowUp,
		"check up":              RequestFollowUp,
		"checkup":               RequestFollowUp,
		"new patient":           RequestNewPatient,
		"new patient visit":     RequestNewPatient,
		"new":                   RequestNewPatient,
		"first visit":           RequestNewPatient,
		"first time":            RequestNewPatient,
	}
	placeholders = map[string]struct{}{
		"unknown": {}, "n/a": {}, "na": {}, "none": {}, "null": {}, "nil": {},
		"tbd": {}, "tba": {}, "not provided": {}, "not specified": {}, "unspecified": {},
		"patient": {}, "the patient": {}, "?": {}, "-": {}, "string": {}, "name": {},
		"your name": {}, "patient name": {}, "doctor": {}, "any": {},
	}
)

// Normalizer canonicalizes raw extracted values. Relative dates resolve
// against Reference, the time the turn is processed.
type Normalizer struct {
	Reference time.Time
}

// NewNormalizer returns a normalizer anchored at ref.
func NewNormalizer(ref time.Time) Normalizer {
	return Normalizer{Reference: ref}
}

// Normalize returns the canonical value for field or a *NormalizationError.
func (n Normalizer) Normalize(field Field, raw string) (string, error) {
	value, err := n.normalize(field, raw)
	if err != nil {
		return "", &NormalizationError{Field: field, Raw: raw, Err: err}
	}
	return value, nil
}

func (n Normalizer) normalize(field Field, raw string) (string, error) {
	trimmed := strings.TrimSpace(whitespaceRE.ReplaceAllString(raw, " "))
	if trimmed == "" {
		return "", errEmptyRawValue
	}
	if isPlaceholder(trimmed) {
		return "", ErrPlaceholder
	}
	switch field {
	case FieldPreferredDate:
		return n.NormalizeDate(trimmed)
	case FieldPreferredTime:
		return NormalizeTime(trimmed)
	case FieldRequestType:
		t, err := NormalizeRequestType(trimmed)
		return string(t), err
	case FieldDoctorID:
		return NormalizeDoctorID(trimmed), nil
	case FieldPatientName:
		return NormalizePatientName(trimmed)
	default:
		return "", ErrUnknownField
	}
}

// NormalizeDate accepts absolute, relative and canonical dates and returns
// MM/DD/YYYY.
func (n Normalizer) NormalizeDate(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "on ")
	s = strings.NewReplacer(",", " ", ".", " ", "sept ", "sep ").Replace(s)
	s = ordinalRE.ReplaceAllString(s, "$1")
	s = strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))

	today := startOfDay(n.reference())
	if d, ok := relativeDate(s, today); ok {
		return d.Format(DateLayout), nil
	}
	for _, layout := range absoluteLayout {
		if t, err := time.ParseInLocation(layout, s, today.Location()); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	for _, layout := range yearlessLayout {
		t, err := time.ParseInLocation(layout, s, today.Location())
		if err != nil {
			continue
		}
		d := time.Date(today.Year(), t.Month(), t.Day(), 0, 0, 0, 0, today.Location())
		if d.Month() != t.Month() {
			// Feb 29 outside a leap year rolls over; not a real date this year.
			return "", ErrInvalidDate
		}
		if d.Before(today) {
			d = d.AddDate(1, 0, 0)
		}
		return d.Format(DateLayout), nil
	}
	return "", ErrInvalidDate
}

func relativeDate(s string, today time.Time) (time.Time, bool) {
	switch s {
	case "today":
		return today, true
	case "tomorrow", "tmrw", "tmr":
		return today.AddDate(0, 0, 1), true
	case "day after tomorrow", "the day after tomorrow":
		return today.AddDate(0, 0, 2), true
	case "next week", "a week from today", "in a week":
		return today.AddDate(0, 0, 7), true
	}
	if m := inDaysRE.FindStringSubmatch(s); m != nil {
		days, _ := strconv.Atoi(m[1])
		return today.AddDate(0, 0, days), true
	}
	if m := weekdayRE.FindStringSubmatch(s); m != nil {
		target, ok := weekdays[m[2]]
		if !ok {
			return time.Time{}, false
		}
		delta := (int(target) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta), true
	}
	return time.Time{}, false
}

// NormalizeTime accepts 12- and 24-hour clock forms and returns HH:MM AM/PM.
func NormalizeTime(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"at ", "around ", "about ", "by "} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", "a.m", "am", "p.m", "pm", " ", "", "o'clock", "").Replace(s)
	switch s {
	case "noon", "midday", "12noon":
		return "12:00 PM", nil
	case "midnight":
		return "12:00 AM", nil
	}

	m := clockRE.FindStringSubmatch(s)
	if m == nil {
		return "", ErrInvalidTime
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return "", ErrInvalidTime
	}

	meridiem := m[3]
	switch {
	case meridiem != "":
		if hour < 1 || hour > 12 {
			return "", ErrInvalidTime
		}
		if strings.HasPrefix(meridiem, "p") {
			meridiem = "PM"
		} else {
			meridiem = "AM"
		}
	case m[2] != "":
		// 24-hour clock; a bare hour without minutes or meridiem is ambiguous.
		if hour > 23 {
			return "", ErrInvalidTime
		}
		meridiem = "AM"
		if hour >= 12 {
			meridiem = "PM"
		}
		hour %= 12
		if hour == 0 {
			hour = 12
		}
	default:
		return "", ErrInvalidTime
	}
	return fmt.Sprintf("%02d:%02d %s", hour, minute, meridiem), nil
}

// NormalizeRequestType maps case-insensitive synonyms onto the enum.
func NormalizeRequestType(raw string) (RequestType, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	s = strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
	for _, prefix := range []string{"a ", "an ", "the "} {
		s = strings.TrimPrefix(s, prefix)
	}
	if t, ok := requestTypeSynonyms[s]; ok {
		return t, nil
	}
	return "", ErrInvalidEnum
}

// NormalizeDoctorID lowercases the identifier and folds numeric references
// ("Dr. 3", "DR-003", "doctor 3") onto the dr_NNN form.
func NormalizeDoctorID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if m := numericDoctor.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("dr_%03d", n)
	}
	s = strings.ReplaceAll(s, ".", " ")
	return strings.Join(strings.Fields(s), "_")
}

// NormalizePatientName collapses whitespace and title-cases each word.
func NormalizePatientName(raw string) (string, error) {
	hasLetter := false
	for _, r := range raw {
		if unicode.IsDigit(r) {
			return "", ErrInvalidName
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	if !hasLetter {
		return "", ErrInvalidName
	}
	return titleCaser.String(strings.ToLower(strings.Join(strings.Fields(raw), " "))), nil
}

func (n Normalizer) reference() time.Time {
	if n.Reference.IsZero() {
		return time.Now()
	}
	return n.Reference
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func isPlaceholder(v string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

func isCanonicalDate(v string) bool {
	t, err := time.Parse(DateLayout, v)
	return err == nil && t.Format(DateLayout) == v
}

func isCanonicalTime(v string) bool {
	return canonicalTime.MatchString(v)
}
