package llm

import (
	"errors"
	"strings"
)

// ErrFatalAPI marks generation failures that retrying cannot fix
// (authentication, billing, quota). The synthesizer checks this before
// scheduling a retry.
var ErrFatalAPI = errors.New("fatal API error")

// fatalPatterns are substrings of provider error messages that indicate
// a permanent failure.
var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError reports whether the error message matches a known
// permanent provider failure.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// wrapFatalError wraps err with ErrFatalAPI when it is permanent,
// otherwise returns it untouched.
func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return errors.Join(ErrFatalAPI, err)
	}
	return err
}

// IsFatal reports whether err is a permanent provider failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalAPI) || isFatalAPIError(err)
}
