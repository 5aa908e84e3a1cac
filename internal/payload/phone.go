package payload

import (
	"errors"
	"fmt"
	"strings"

	"selcom-gateway/internal/config"
)

const (
	CountryCode = "255"

	nationalNumberLength = 9
)

var ErrInvalidPhone = errors.New("invalid phone number")

// PhoneRule turns a buyer-submitted number into the msisdn the provider expects.
type PhoneRule func(raw string) (string, error)

// LastNine keeps the last nine digits of the submitted value and prefixes the country code.
// "0712345678", "+255 712 345 678" and "712345678" all become "255712345678".
func LastNine(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	if len(digits) < nationalNumberLength {
		return "", fmt.Errorf("%w: %q has fewer than %d digits", ErrInvalidPhone, raw, nationalNumberLength)
	}
	return CountryCode + digits[len(digits)-nationalNumberLength:], nil
}

// DropFirst removes whitespace and the leading character (the trunk 0) and prefixes
// the country code. "0712345678" becomes "255712345678".
func DropFirst(raw string) (string, error) {
	compact := strings.Join(strings.Fields(raw), "")
	if len(compact) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return CountryCode + compact[1:], nil
}

func PhoneRuleFor(name string) (PhoneRule, error) {
	switch name {
	case config.PhoneRuleLastNine, "":
		return LastNine, nil
	case config.PhoneRuleDropFirst:
		return DropFirst, nil
	default:
		return nil, fmt.Errorf("unknown phone rule %q", name)
	}
}
