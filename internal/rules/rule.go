// Package rules defines the predicate groups the classifier is built from.
//
// A Rule is a pure function over a signal.Bundle. Rules hold no mutable
// state, so every Set can be evaluated concurrently and in any order.
package rules

import "github.com/shortontech/trafficgate/internal/signal"

// Rule is a named predicate. Label carries the rule's payload where one is
// needed, e.g. the app name of a known-app rule.
type Rule struct {
	ID    string
	Label string
	Match func(signal.Bundle) bool
}

// Set is an ordered group of rules with OR semantics.
type Set struct {
	Name  string
	Rules []Rule
}

// Match returns the first rule in the set that matches b.
func (s Set) Match(b signal.Bundle) (Rule, bool) {
	for _, r := range s.Rules {
		if r.Match != nil && r.Match(b) {
			return r, true
		}
	}
	return Rule{}, false
}

// Triggered reports whether any rule in the set matches b.
func (s Set) Triggered(b signal.Bundle) bool {
	_, ok := s.Match(b)
	return ok
}

// Len returns the number of rules in the set.
func (s Set) Len() int { return len(s.Rules) }
