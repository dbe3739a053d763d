// Package gate wires signals, classification and policy into decisions,
// and owns the hot-swappable policy snapshot every adapter reads from.
package gate

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/shortontech/trafficgate/internal/classify"
	"github.com/shortontech/trafficgate/internal/policy"
	"github.com/shortontech/trafficgate/internal/rules"
	"github.com/shortontech/trafficgate/internal/signal"
)

// Snapshot is one validated, compiled policy file.
type Snapshot struct {
	File       *policy.File
	Hash       string
	classifier *classify.Classifier
	table      *policy.Table
}

// Compile validates f and builds its classifier and decision table.
func Compile(f *policy.File, hash string) (*Snapshot, error) {
	if f == nil {
		f = policy.DefaultFile()
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	sets, err := rules.Compile(f.Rules)
	if err != nil {
		return nil, err
	}
	table, err := policy.CompileTable(f.Strategy, f.Table)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		File:       f,
		Hash:       hash,
		classifier: classify.New(sets),
		table:      table,
	}, nil
}

// Decision is the full outcome of one pass through the engine.
type Decision struct {
	Context    classify.Context
	Result     classify.Result
	Action     policy.Action
	PolicyHash string
}

// Engine evaluates requests against the current snapshot. It is safe for
// concurrent use; Swap replaces the snapshot atomically and in-flight
// evaluations finish on the snapshot they started with.
type Engine struct {
	current atomic.Pointer[Snapshot]
	path    string

	// OnSwap, when set, is called after every successful swap.
	OnSwap func(*Snapshot)
}

// NewEngine compiles f and returns an engine serving it.
func NewEngine(f *policy.File, hash string) (*Engine, error) {
	snap, err := Compile(f, hash)
	if err != nil {
		return nil, err
	}
	e := &Engine{}
	e.current.Store(snap)
	return e, nil
}

// LoadEngine reads the policy file at path and returns an engine serving
// it. The path is remembered for Reload.
func LoadEngine(path string) (*Engine, error) {
	f, hash, err := policy.LoadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(f, hash)
	if err != nil {
		return nil, err
	}
	e.path = path
	return e, nil
}

// Snapshot returns the snapshot currently in effect.
func (e *Engine) Snapshot() *Snapshot { return e.current.Load() }

// Path returns the policy file the engine was loaded from, if any.
func (e *Engine) Path() string { return e.path }

// Swap installs a new snapshot.
func (e *Engine) Swap(s *Snapshot) {
	if s == nil {
		return
	}
	e.current.Store(s)
	if e.OnSwap != nil {
		e.OnSwap(s)
	}
}

// Reload re-reads the policy file. On any error the current snapshot stays
// in effect.
func (e *Engine) Reload() error {
	f, hash, err := policy.LoadFile(e.path)
	if err != nil {
		return err
	}
	snap, err := Compile(f, hash)
	if err != nil {
		return err
	}
	e.Swap(snap)
	return nil
}

// Evaluate classifies b in the edge or client context and decides an
// action. Indeterminate verdicts are logged for rule tuning.
func (e *Engine) Evaluate(ctx classify.Context, b signal.Bundle) Decision {
	snap := e.Snapshot()
	res := snap.classifier.Classify(ctx, b)
	action := snap.table.Decide(ctx, res.Verdict)

	if res.Verdict.Kind == classify.Indeterminate {
		log.Printf("gate: debug indeterminate verdict context=%s ua=%q action=%s", ctx, b.UserAgent(), action.Kind)
	}

	return Decision{
		Context:    ctx,
		Result:     res,
		Action:     action,
		PolicyHash: snap.Hash,
	}
}

// Route decides the redirect-context destination from the referrer alone.
func (e *Engine) Route(b signal.Bundle) Decision {
	snap := e.Snapshot()
	ref, ok := b.Referrer()
	return Decision{
		Context:    classify.RedirectContext,
		Action:     snap.File.Redirect.Route(ref, ok),
		PolicyHash: snap.Hash,
	}
}
