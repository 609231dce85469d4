// Package rule implements the entry-signal rule engine: a tree of boolean
// predicates evaluated against a security's accumulated graph, with a
// cooperative suspend/resume protocol instead of blocking data waits.
package rule

import (
	"context"

	"linewatch/internal/dispatch"
	"linewatch/internal/model"
	"linewatch/internal/obs"
	"linewatch/internal/putup"
)

// Env is the evaluation environment handed to every rule.
type Env struct {
	Ctx      context.Context
	Arena    *putup.Arena
	Security putup.Handle
	Graph    *model.Graph
	Queue    *dispatch.Queue
	Calendar *model.Calendar
	Metrics  *obs.Metrics
}

// Rule is one boolean predicate over the environment.
type Rule interface {
	Name() string
	Evaluate(env *Env) Verdict
}

// Leaf adapts a predicate function to Rule.
type Leaf struct {
	name string
	fn   func(env *Env) Verdict
}

// NewLeaf creates a named leaf rule.
func NewLeaf(name string, fn func(env *Env) Verdict) *Leaf {
	return &Leaf{name: name, fn: fn}
}

func (l *Leaf) Name() string { return l.name }

func (l *Leaf) Evaluate(env *Env) Verdict {
	return l.fn(env)
}

// Composite is a primary predicate plus an ordered list of sub-rules. The
// primary gates everything: when it is not a pass, sub-rules are skipped
// entirely. Sub-rules evaluate in declaration order and short-circuit on
// the first non-pass.
type Composite struct {
	name    string
	primary Rule
	subs    []Rule
}

// NewComposite builds a composite rule.
func NewComposite(name string, primary Rule, subs ...Rule) *Composite {
	return &Composite{name: name, primary: primary, subs: subs}
}

func (c *Composite) Name() string { return c.name }

func (c *Composite) Evaluate(env *Env) Verdict {
	v := c.primary.Evaluate(env)
	if v.Outcome != OutcomePass {
		return v
	}
	for _, sub := range c.subs {
		v = sub.Evaluate(env)
		if v.Outcome != OutcomePass {
			return v
		}
	}
	return Pass()
}
