// Package event defines the decision record emitted to sinks.
package event

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/trafficgate/internal/classify"
	"github.com/shortontech/trafficgate/internal/gate"
	"github.com/shortontech/trafficgate/internal/signal"
)

// Decision is one gate decision. Raw referrers and query strings are never
// recorded; only the referrer hostname is kept.
type Decision struct {
	EventID string `json:"event_id"`
	TS      string `json:"ts"` // ISO8601
	Context string `json:"context"`

	Verdict string `json:"verdict,omitempty"`
	App     string `json:"app,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`

	Action   string `json:"action"`
	Reason   string `json:"reason,omitempty"`
	Location string `json:"location,omitempty"`

	UA               string `json:"ua,omitempty"`
	UAPlatform       string `json:"ua_platform,omitempty"`
	UABrowser        string `json:"ua_browser,omitempty"`
	ReferrerHostname string `json:"referrer_hostname,omitempty"`
	Path             string `json:"path,omitempty"`

	PolicyHash string `json:"policy_hash,omitempty"`
}

// NewDecision builds the record for d. r may be nil for decisions that did
// not come from an HTTP request.
func NewDecision(r *http.Request, b signal.Bundle, d gate.Decision) Decision {
	ua := b.UserAgent()
	info := ParseUA(ua)

	e := Decision{
		EventID:    uuid.NewString(),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		Context:    d.Context.String(),
		Action:     string(d.Action.Kind),
		Reason:     d.Action.Reason,
		Location:   d.Action.URL,
		UA:         ua,
		UAPlatform: info.Platform,
		UABrowser:  info.Browser,
		PolicyHash: d.PolicyHash,
	}

	if d.Context != classify.RedirectContext {
		e.Verdict = d.Result.Verdict.Kind.String()
		e.App = d.Result.Verdict.App
		e.RuleID = d.Result.RuleID
	}

	if ref, ok := b.Referrer(); ok {
		e.ReferrerHostname = referrerHostname(ref)
	}
	if r != nil && r.URL != nil {
		e.Path = r.URL.Path
	}
	return e
}

func referrerHostname(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u == nil {
		return ""
	}
	return u.Hostname()
}
