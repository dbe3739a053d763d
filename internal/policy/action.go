// Package policy maps classification verdicts to actions.
//
// The mapping is a data table loaded from YAML so operators can switch
// strategies without touching the rule sets or the classifier.
package policy

// ActionKind is the closed set of effects an adapter can produce.
type ActionKind string

const (
	ActionAllow    ActionKind = "allow"
	ActionBlock    ActionKind = "block"
	ActionSuppress ActionKind = "suppress"
	ActionRedirect ActionKind = "redirect"
)

// Action is a decided effect. Reason is a short diagnostic label safe to
// expose in headers and logs; URL is set only for redirects.
type Action struct {
	Kind   ActionKind `json:"action"`
	Reason string     `json:"reason,omitempty"`
	URL    string     `json:"url,omitempty"`
}

func Allow(reason string) Action { return Action{Kind: ActionAllow, Reason: reason} }

func Block(reason string) Action { return Action{Kind: ActionBlock, Reason: reason} }

func Suppress(reason string) Action { return Action{Kind: ActionSuppress, Reason: reason} }

func RedirectTo(url, reason string) Action {
	return Action{Kind: ActionRedirect, URL: url, Reason: reason}
}

// Allowed reports whether the action lets the request through untouched.
func (a Action) Allowed() bool { return a.Kind == ActionAllow }
