package provider

import (
	"errors"
	"regexp"
)

// secretShapes match bearer tokens and provider key shapes that must never
// appear in error messages or logs.
var secretShapes = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`x-api-key:\s*\S+`),
	regexp.MustCompile(`pgw_[A-Za-z0-9]{8,}`),
}

// Redact replaces any substring matching a known secret shape.
func Redact(s string) string {
	for _, re := range secretShapes {
		s = re.ReplaceAllString(s, "[redacted]")
	}
	return s
}

// RedactError returns an error whose message has secrets redacted. The
// original error chain is dropped deliberately so wrapped upstream errors
// cannot resurface the secret.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	redacted := Redact(err.Error())
	if redacted == err.Error() {
		return err
	}
	return errors.New(redacted)
}
