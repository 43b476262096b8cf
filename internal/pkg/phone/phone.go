package phone

import (
	"fmt"

	"github.com/nyaruka/phonenumbers"

	"github.com/campusgate/verify-api/internal/domain"
)

// Normalize parses a phone number and returns its E.164 form.
// All binding checks compare normalized numbers, so "+1 (555) 000-1234" and
// "+15550001234" claim the same seat.
func Normalize(raw string) (string, error) {
	parsed, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return "", fmt.Errorf("invalid phone number: %w", domain.ErrBadRequest)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number: %w", domain.ErrBadRequest)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
