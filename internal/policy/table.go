package policy

import (
	"fmt"
	"sort"

	"github.com/shortontech/trafficgate/internal/classify"
)

// Entry is one row of the decision table, keyed by verdict kind name.
// Empty fields inherit from the selected strategy.
type Entry struct {
	Edge   string `yaml:"edge"`
	Client string `yaml:"client"`
	Reason string `yaml:"reason"`
}

// Strategy names accepted in the policy file.
const (
	StrategyDefault = "default"
	StrategyStrict  = "strict"
	StrategyLenient = "lenient"
)

// Default block reasons. These double as X-Blocked-Reason values.
const (
	ReasonEmulator      = "Emulator-Detected"
	ReasonDesktop       = "Desktop-Detected"
	ReasonIndeterminate = "Indeterminate-Traffic"
	ReasonGenuine       = "Genuine-Mobile"
	ReasonKnownApp      = "Known-App"
)

// StrategyTable returns the built-in table for a named strategy. The
// default strategy blocks unrecognised traffic at the edge but lets it
// through on the page, strict blocks it everywhere and lenient allows it
// everywhere.
func StrategyTable(name string) (map[string]Entry, error) {
	t := map[string]Entry{
		classify.Genuine.String():        {Edge: "allow", Client: "allow", Reason: ReasonGenuine},
		classify.KnownApp.String():       {Edge: "allow", Client: "allow", Reason: ReasonKnownApp},
		classify.Emulated.String():       {Edge: "block", Client: "suppress", Reason: ReasonEmulator},
		classify.DesktopBrowser.String(): {Edge: "block", Client: "suppress", Reason: ReasonDesktop},
	}
	indeterminate := classify.Indeterminate.String()

	switch name {
	case "", StrategyDefault:
		t[indeterminate] = Entry{Edge: "block", Client: "allow", Reason: ReasonIndeterminate}
	case StrategyStrict:
		t[indeterminate] = Entry{Edge: "block", Client: "suppress", Reason: ReasonIndeterminate}
	case StrategyLenient:
		t[indeterminate] = Entry{Edge: "allow", Client: "allow", Reason: ReasonIndeterminate}
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return t, nil
}

// Table is the compiled decision table.
type Table struct {
	edge   map[classify.Kind]Action
	client map[classify.Kind]Action
}

// CompileTable merges overrides over the named strategy and resolves every
// action string. Unknown verdict names or action strings are errors.
func CompileTable(strategy string, overrides map[string]Entry) (*Table, error) {
	base, err := StrategyTable(strategy)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if _, ok := classify.ParseKind(name); !ok {
			return nil, fmt.Errorf("policy: unknown verdict %q", name)
		}
		o := overrides[name]
		e := base[name]
		if o.Edge != "" {
			e.Edge = o.Edge
		}
		if o.Client != "" {
			e.Client = o.Client
		}
		if o.Reason != "" {
			e.Reason = o.Reason
		}
		base[name] = e
	}

	t := &Table{
		edge:   make(map[classify.Kind]Action, len(base)),
		client: make(map[classify.Kind]Action, len(base)),
	}
	for _, kind := range classify.Kinds() {
		e := base[kind.String()]
		edge, err := parseEdgeAction(e.Edge, e.Reason)
		if err != nil {
			return nil, fmt.Errorf("policy %s.edge: %w", kind, err)
		}
		client, err := parseClientAction(e.Client, e.Reason)
		if err != nil {
			return nil, fmt.Errorf("policy %s.client: %w", kind, err)
		}
		t.edge[kind] = edge
		t.client[kind] = client
	}
	return t, nil
}

// Decide returns the action for a verdict in the edge or client context.
// Anything the table does not cover fails closed.
func (t *Table) Decide(ctx classify.Context, v classify.Verdict) Action {
	if t == nil {
		return failClosed(ctx)
	}
	var (
		a  Action
		ok bool
	)
	switch ctx {
	case classify.EdgeContext:
		a, ok = t.edge[v.Kind]
	case classify.ClientContext:
		a, ok = t.client[v.Kind]
	}
	if !ok {
		return failClosed(ctx)
	}
	return a
}

func failClosed(ctx classify.Context) Action {
	if ctx == classify.ClientContext {
		return Suppress(ReasonIndeterminate)
	}
	return Block(ReasonIndeterminate)
}

func parseEdgeAction(s, reason string) (Action, error) {
	switch ActionKind(s) {
	case ActionAllow:
		return Allow(reason), nil
	case ActionBlock:
		return Block(reason), nil
	}
	return Action{}, fmt.Errorf("edge action must be allow or block, got %q", s)
}

// parseClientAction accepts "block" as a synonym for suppress, since the
// page cannot be refused once it is loading.
func parseClientAction(s, reason string) (Action, error) {
	switch ActionKind(s) {
	case ActionAllow:
		return Allow(reason), nil
	case ActionSuppress, ActionBlock:
		return Suppress(reason), nil
	}
	return Action{}, fmt.Errorf("client action must be allow or suppress, got %q", s)
}
