package logger

import "strings"

// RedactEmail masks the local part of an address, keeping two characters
// when it is long enough: "john.doe@example.com" becomes "jo***@example.com",
// "ab@example.com" becomes "***@example.com".
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "***@***"
	}
	local, domain := email[:at], strings.ToLower(email[at+1:])
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
