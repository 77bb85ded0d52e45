package mpesa

import "strings"

// NormalizePhone validates and formats a Kenyan mobile number into the
// international form the gateway requires (2547XXXXXXXX / 2541XXXXXXXX).
// Accepted inputs: "254712345678", "0712345678", "712345678", with any
// spacing, dashes or a leading "+" stripped. Returns "" when the number
// cannot be normalized.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()

	switch {
	case len(phone) == 12 && strings.HasPrefix(phone, "254"):
		return phone
	case len(phone) == 10 && strings.HasPrefix(phone, "0"):
		return "254" + phone[1:]
	case len(phone) == 9:
		return "254" + phone
	default:
		return ""
	}
}
