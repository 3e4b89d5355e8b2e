package mailer

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// ValidEmail checks address syntax only. It rejects double dots, a missing
// TLD and characters outside RFC 5322 atoms.
func ValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	if strings.Count(email, "@") != 1 {
		return false
	}

	local, domain, _ := strings.Cut(email, "@")
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if strings.Contains(local, "..") || strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return false
	}

	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	if strings.Contains(domain, "..") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	// TLD required, at least two characters
	dot := strings.LastIndex(domain, ".")
	if dot < 0 || len(domain)-dot-1 < 2 {
		return false
	}

	return emailRegex.MatchString(email)
}
