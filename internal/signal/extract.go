package signal

import (
	"net/http"
	"strings"
)

// FromRequest extracts the header-only signals available at the edge and
// in the redirect handler. The non-standard "Referrer" spelling is honoured
// when "Referer" is missing.
func FromRequest(r *http.Request) Bundle {
	if r == nil {
		return New("")
	}

	var opts []Option
	if ref, ok := headerValue(r.Header, "Referer"); ok {
		opts = append(opts, WithReferrer(ref))
	} else if ref, ok := headerValue(r.Header, "Referrer"); ok {
		opts = append(opts, WithReferrer(ref))
	}

	return New(r.Header.Get("User-Agent"), opts...)
}

// headerValue reports whether the header was sent at all, separating an
// absent header from an empty one.
func headerValue(h http.Header, key string) (string, bool) {
	values := h.Values(key)
	if len(values) == 0 {
		return "", false
	}
	return strings.TrimSpace(values[0]), true
}
