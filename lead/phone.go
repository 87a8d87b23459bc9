package lead

import (
	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for phone numbers entered without a country prefix.
const DefaultRegion = "RU"

// NormalizePhone validates a free-text phone number and reformats it into
// canonical international form. Numbers that fail structural validation for
// their region are rejected with a ValidationError. The function is
// idempotent: an already-canonical number is returned unchanged.
func NormalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return "", &ValidationError{Field: "phone", Reason: err.Error()}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", &ValidationError{Field: "phone", Reason: "not a valid number"}
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL), nil
}
