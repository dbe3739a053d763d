package classify

import (
	"github.com/shortontech/trafficgate/internal/rules"
	"github.com/shortontech/trafficgate/internal/signal"
)

// Context identifies which execution context a classification runs in.
// Only the client context can measure screens, so only it evaluates the
// mismatch rules.
type Context int

const (
	EdgeContext Context = iota
	ClientContext
	RedirectContext
)

func (c Context) String() string {
	switch c {
	case EdgeContext:
		return "edge"
	case ClientContext:
		return "client"
	case RedirectContext:
		return "redirect"
	}
	return "unknown"
}

// Classifier evaluates rule sets in a fixed precedence order. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	sets *rules.Compiled
}

// New returns a Classifier over compiled rule sets.
func New(sets *rules.Compiled) *Classifier {
	if sets == nil {
		sets = &rules.Compiled{}
	}
	return &Classifier{sets: sets}
}

// Classify returns the first verdict in precedence order:
// known app, emulator, mismatch (client only), desktop OS without a mobile
// token, mobile token, and finally Indeterminate.
func (c *Classifier) Classify(ctx Context, b signal.Bundle) Result {
	if r, ok := c.sets.KnownApp.Match(b); ok {
		return Result{Verdict: Verdict{Kind: KnownApp, App: r.Label}, RuleID: r.ID}
	}
	if r, ok := c.sets.Emulator.Match(b); ok {
		return Result{Verdict: Verdict{Kind: Emulated}, RuleID: r.ID}
	}
	if ctx == ClientContext {
		if r, ok := c.sets.Mismatch.Match(b); ok {
			return Result{Verdict: Verdict{Kind: Emulated}, RuleID: r.ID}
		}
	}

	mobile, isMobile := c.sets.DeviceClass.Match(b)
	if !isMobile {
		if r, ok := c.sets.DesktopOS.Match(b); ok {
			return Result{Verdict: Verdict{Kind: DesktopBrowser}, RuleID: r.ID}
		}
		return Result{Verdict: Verdict{Kind: Indeterminate}}
	}
	return Result{Verdict: Verdict{Kind: Genuine}, RuleID: mobile.ID}
}
