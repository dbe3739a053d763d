package client

import (
	"fmt"
	"log"

	"github.com/shortontech/trafficgate/internal/classify"
	"github.com/shortontech/trafficgate/internal/gate"
	"github.com/shortontech/trafficgate/internal/policy"
	"github.com/shortontech/trafficgate/internal/signal"
)

// Evaluator decides an action for a bundle. *gate.Engine satisfies it.
type Evaluator interface {
	Evaluate(ctx classify.Context, b signal.Bundle) gate.Decision
}

// Suppression step names, in execution order.
const (
	StepClearStorage  = "clear-storage"
	StepClearDocument = "clear-document"
	StepStopLoading   = "stop-loading"
	StepCancelPending = "cancel-pending"
)

// StepResult records the outcome of one suppression step.
type StepResult struct {
	Step string
	Kind StorageKind
	Err  error
}

// Outcome is the result of one check.
type Outcome struct {
	Decision gate.Decision
	Steps    []StepResult
}

// Suppressed reports whether the check ran the suppression sequence.
func (o Outcome) Suppressed() bool { return o.Decision.Action.Kind == policy.ActionSuppress }

// Guard performs one client-context check per call to Check.
type Guard struct {
	eval Evaluator
	env  Environment
	fx   Effects
}

// NewGuard returns a guard reading signals from env and applying
// suppression through fx.
func NewGuard(eval Evaluator, env Environment, fx Effects) *Guard {
	return &Guard{eval: eval, env: env, fx: fx}
}

// Check extracts signals, decides in the client context and, on Suppress,
// runs the full suppression sequence. Allow leaves the page untouched.
func (g *Guard) Check() Outcome {
	d := g.eval.Evaluate(classify.ClientContext, Extract(g.env))
	out := Outcome{Decision: d}
	if d.Action.Kind == policy.ActionSuppress {
		out.Steps = Suppress(g.fx)
	}
	return out
}

// Suppress clears persisted state, blanks the document, halts loading and
// cancels queued callbacks, in that order. Every step runs even when an
// earlier one fails or panics.
func Suppress(fx Effects) []StepResult {
	if fx == nil {
		return nil
	}
	results := make([]StepResult, 0, len(StorageKinds())+3)
	for _, kind := range StorageKinds() {
		results = append(results, StepResult{
			Step: StepClearStorage,
			Kind: kind,
			Err:  safely(func() error { return fx.ClearStorage(kind) }),
		})
	}
	results = append(results,
		StepResult{Step: StepClearDocument, Err: safely(fx.ClearDocument)},
		StepResult{Step: StepStopLoading, Err: safely(fx.StopLoading)},
		StepResult{Step: StepCancelPending, Err: safely(fx.CancelPending)},
	)

	for _, r := range results {
		if r.Err != nil {
			log.Printf("gate: suppression step %s %s failed: %v", r.Step, r.Kind, r.Err)
		}
	}
	return results
}

func safely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
