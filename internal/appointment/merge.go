package appointment

import "errors"

// Fields is a partial extraction keyed by slot field.
type Fields map[Field]string

// MergeResult is the outcome of merging one extraction into a slot.
type MergeResult struct {
	Slot    BookingSlot
	Changed bool
	// Unresolved lists fields present in the extraction that failed to
	// normalize this turn. It is not persisted.
	Unresolved []Field
	Errors     []error
}

// Missing recomputes the missing fields of the merged slot.
func (r MergeResult) Missing() []Field {
	return r.Slot.MissingFields()
}

// Merge applies fields to slot with last-write-wins per field. A field that
// fails normalization leaves the existing value untouched. Fields are visited
// in RequiredFields order so the result does not depend on map iteration.
func Merge(slot BookingSlot, fields Fields, n Normalizer) MergeResult {
	result := MergeResult{Slot: slot}
	for _, f := range RequiredFields {
		raw, ok := fields[f]
		if !ok {
			continue
		}
		value, err := n.Normalize(f, raw)
		if err != nil {
			if errors.Is(err, errEmptyRawValue) {
				// An empty value is the extraction saying "not mentioned".
				continue
			}
			result.Unresolved = append(result.Unresolved, f)
			result.Errors = append(result.Errors, err)
			continue
		}
		if result.Slot.Value(f) == value {
			continue
		}
		result.Slot.set(f, value)
		result.Changed = true
	}
	return result
}
