package policy

import (
	"errors"
	"strings"
)

// Redirect reasons, recorded with every redirect decision.
const (
	ReasonTrustedReferrer   = "Trusted-Referrer"
	ReasonUntrustedReferrer = "Untrusted-Referrer"
	ReasonNoReferrer        = "No-Referrer"
	ReasonUnconfigured      = "Redirect-Unconfigured"
)

var (
	ErrNoTrustedDomain = errors.New("redirect: trusted_domain is empty")
	ErrNoTrustedURL    = errors.New("redirect: trusted_url is empty")
	ErrNoFallbackURL   = errors.New("redirect: fallback_url is empty")
)

// RedirectConfig drives the referrer-gated redirect. Traffic whose referrer
// contains TrustedDomain goes to TrustedURL, everything else to
// FallbackURL.
type RedirectConfig struct {
	TrustedDomain string `yaml:"trusted_domain"`
	TrustedURL    string `yaml:"trusted_url"`
	FallbackURL   string `yaml:"fallback_url"`
}

// Enabled reports whether any redirect setting was configured.
func (c RedirectConfig) Enabled() bool {
	return c.TrustedDomain != "" || c.TrustedURL != "" || c.FallbackURL != ""
}

// Validate requires all three settings once any of them is set.
func (c RedirectConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var errs []error
	if strings.TrimSpace(c.TrustedDomain) == "" {
		errs = append(errs, ErrNoTrustedDomain)
	}
	if strings.TrimSpace(c.TrustedURL) == "" {
		errs = append(errs, ErrNoTrustedURL)
	}
	if strings.TrimSpace(c.FallbackURL) == "" {
		errs = append(errs, ErrNoFallbackURL)
	}
	return errors.Join(errs...)
}

// Route picks the destination for a referrer. Matching is a
// case-insensitive substring test over the whole referrer, not an exact
// host comparison. A missing trusted domain or URL sends everyone to the
// fallback; with no fallback the request is blocked.
func (c RedirectConfig) Route(referrer string, present bool) Action {
	fallback := strings.TrimSpace(c.FallbackURL)
	if fallback == "" {
		return Block(ReasonUnconfigured)
	}

	domain := strings.ToLower(strings.TrimSpace(c.TrustedDomain))
	trusted := strings.TrimSpace(c.TrustedURL)
	ref := strings.ToLower(referrer)

	switch {
	case !present || ref == "":
		return RedirectTo(fallback, ReasonNoReferrer)
	case domain != "" && trusted != "" && strings.Contains(ref, domain):
		return RedirectTo(trusted, ReasonTrustedReferrer)
	default:
		return RedirectTo(fallback, ReasonUntrustedReferrer)
	}
}
