// Package accounts provides the URL-shape validation used for
// Sentry/relayer base URLs (config.ValidateSentryURL): a minimal
// scheme://path pair.
package accounts

import (
	"errors"
	"fmt"
	"strings"
)

// URL represents the scheme and path of a resource this validator needs to
// reach or read: a keystore file, a Sentry base URL, a relayer base URL.
//
// Holding Scheme and Path apart, rather than a raw string, lets callers
// discriminate "file" keystores from "http(s)" services without
// re-parsing.
type URL struct {
	Scheme string
	Path   string
}

// String reassembles the URL.
func (u URL) String() string {
	if u.Scheme == "" {
		return u.Path
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Path)
}

// ParseURL parses a scheme://path string. Both scheme and path are
// required: a bare path ("equa.org", "") is rejected, since every caller
// needs to know how to reach the resource (file vs http(s)).
func ParseURL(s string) (URL, error) {
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return URL{}, errors.New("accounts: invalid URL, expected scheme://path")
	}
	return URL{Scheme: parts[0], Path: parts[1]}, nil
}

// IsHTTP reports whether the URL's scheme is http or https.
func (u URL) IsHTTP() bool {
	return u.Scheme == "http" || u.Scheme == "https"
}
