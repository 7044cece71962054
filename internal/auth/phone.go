// Package auth implements the passwordless authentication flow: phone
// normalization, the OTP send/verify state machine, and signed session
// tokens.
package auth

import (
	"strings"

	"zecu/internal/types"
)

// Phone numbers are accepted in a loose E.164 form: an optional leading "+",
// digits, and cosmetic separators (spaces, dashes, dots, parentheses) which
// are stripped before validation.
const (
	minPhoneDigits = 10
	maxPhoneDigits = 20
)

// arMobileAreaCodes are the Argentine area-code prefixes treated as mobile
// destinations. When the subscriber number after +54 starts with one of
// these, WhatsApp requires the mobile "9" marker between the country code
// and the area code.
var arMobileAreaCodes = []string{
	"11",  // Buenos Aires (AMBA)
	"221", // La Plata
	"223", // Mar del Plata
	"261", // Mendoza
	"264", // San Juan
	"291", // Bahía Blanca
	"341", // Rosario
	"342", // Santa Fe
	"351", // Córdoba
	"381", // Tucumán
	"387", // Salta
}

// NormalizePhone canonicalizes a raw phone number into "+<digits>" form.
//
// Argentine numbers get special handling: a mobile "9" marker is inserted
// after the +54 country code when the area code matches a known mobile
// prefix. The function is idempotent -- normalizing an already-normalized
// number (including an existing +549 prefix) changes nothing.
func NormalizePhone(raw string) (string, error) {
	cleaned := stripPhoneSeparators(raw)
	if cleaned == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidPhone, "phone number is required", nil)
	}

	digits := strings.TrimPrefix(cleaned, "+")
	if digits == "" || !isAllDigits(digits) {
		return "", types.NewAppError(types.ErrCodeValidationInvalidPhone, "phone number must contain only digits", nil)
	}
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", types.NewAppError(types.ErrCodeValidationInvalidPhone, "phone number length is invalid", nil)
	}

	return "+" + insertARMobileMarker(digits), nil
}

// insertARMobileMarker applies the Argentina mobile rule to a digit string
// (no leading "+"). Numbers already carrying the 549 prefix pass through,
// which is what makes NormalizePhone idempotent.
func insertARMobileMarker(digits string) string {
	if !strings.HasPrefix(digits, "54") {
		return digits
	}
	rest := digits[2:]
	if strings.HasPrefix(rest, "9") {
		return digits
	}
	for _, area := range arMobileAreaCodes {
		if strings.HasPrefix(rest, area) {
			return "549" + rest
		}
	}
	return digits
}

// DerivePayerPhone reconstructs an international phone number from the payer
// fields of a legacy payment (one created outside the authenticated checkout
// flow, where no user metadata was attached). The provider reports a country
// numeric ID plus area code and local number; missing country information
// defaults to Argentina, matching where the product operates.
//
// Returns an error when the payer fields cannot yield a plausible number.
func DerivePayerPhone(countryCode, areaCode, number string) (string, error) {
	cc := stripPhoneSeparators(countryCode)
	area := stripPhoneSeparators(areaCode)
	local := stripPhoneSeparators(number)

	cc = strings.TrimPrefix(cc, "+")
	if cc == "" {
		cc = "54"
	}
	if local == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidPhone, "payer phone number is missing", nil)
	}

	// Some providers fold the area code into the number; don't double it.
	combined := local
	if area != "" && !strings.HasPrefix(local, area) {
		combined = area + local
	}

	return NormalizePhone("+" + cc + combined)
}

// stripPhoneSeparators removes cosmetic characters commonly found in
// user-entered numbers, preserving a single leading "+".
func stripPhoneSeparators(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separators dropped
		default:
			// Any other character invalidates the number; keep it so the
			// digit check in NormalizePhone rejects the input.
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isAllDigits reports whether s consists solely of ASCII digits.
func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
