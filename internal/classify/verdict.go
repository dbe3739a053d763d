// Package classify composes the rule sets into a single verdict.
package classify

import "fmt"

// Kind is the closed set of verdict tags.
type Kind int

const (
	Indeterminate Kind = iota
	Genuine
	Emulated
	DesktopBrowser
	KnownApp
)

var kindNames = map[Kind]string{
	Indeterminate:  "indeterminate",
	Genuine:        "genuine",
	Emulated:       "emulated",
	DesktopBrowser: "desktop",
	KnownApp:       "known_app",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a policy-file name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return Indeterminate, false
}

// Kinds lists every verdict kind in declaration order.
func Kinds() []Kind {
	return []Kind{Indeterminate, Genuine, Emulated, DesktopBrowser, KnownApp}
}

// Verdict is the outcome of one classification. App is set only for
// KnownApp verdicts.
type Verdict struct {
	Kind Kind
	App  string
}

func (v Verdict) String() string {
	if v.Kind == KnownApp {
		return v.Kind.String() + ":" + v.App
	}
	return v.Kind.String()
}

// Result pairs a verdict with the ID of the rule that produced it. RuleID is
// empty for Indeterminate.
type Result struct {
	Verdict Verdict
	RuleID  string
}
