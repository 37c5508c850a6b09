package authority

import (
	"errors"
	"strings"
)

const maxNameLen = 40

// NormalizeName canonicalizes a participant name: surrounding whitespace and
// a leading @ are stripped, the rest is lowercased. Names are unique per
// partition in this normalized form. Returns ErrNameRequired when nothing
// usable remains.
func NormalizeName(name string) (string, error) {
	n := strings.TrimSpace(name)
	n = strings.TrimPrefix(n, "@")
	n = strings.ToLower(strings.TrimSpace(n))
	if n == "" {
		return "", ErrNameRequired
	}
	if len(n) > maxNameLen {
		n = n[:maxNameLen]
	}
	if strings.ContainsAny(n, " \t\n") {
		return "", ErrNameRequired
	}
	return n, nil
}

// IsReclaimRequired reports whether err is the reclaim-required branch of
// StartRun. It is a legitimate outcome, not a failure.
func IsReclaimRequired(err error) bool {
	return errors.Is(err, ErrReclaimRequired)
}
