package utils

import (
	"fmt"
	"regexp"
)

// ValidateFiscalYear checks a fiscal year is in the supported range.
func ValidateFiscalYear(year int) error {
	if year < 2000 || year > 2100 {
		return fmt.Errorf("fiscal year out of range: %d", year)
	}
	return nil
}

// ValidateAmountString checks a decimal amount string has at most two
// fractional digits.
func ValidateAmountString(amount string) error {
	amountRegex := regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)
	if !amountRegex.MatchString(amount) {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	return nil
}

// SanitizeString removes control characters from user-supplied text
func SanitizeString(s string) string {
	sanitized := regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, "")
	return sanitized
}
