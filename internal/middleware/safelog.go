package middleware

import "strings"

// MaskSessionID masks a session id for logs (never print the full id in prod).
func MaskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
