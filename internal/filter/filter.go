// Package filter specifies the evaluation contract between the ingest
// pipeline and an operator-supplied rule set. The rule language itself is
// an external collaborator; this package only fixes the interface a rule
// set must satisfy and the small built-in evaluator used when none is
// configured.
package filter

import "github.com/netflowd/netflowd/internal/flowrecord"

// Verdict is the result of evaluating one flow record against a rule set.
type Verdict uint8

const (
	// Discard drops the flow; it is never written to the log.
	Discard Verdict = iota
	// Accept keeps the flow; the writer persists it subject to the store
	// mask.
	Accept
)

// RuleSet is any total function over a fully-populated canonical flow
// record. Evaluate must not mutate rs itself — the same rule set is
// reused, unchanged, for every flow.
type RuleSet interface {
	// Evaluate returns the verdict for rec and, on Accept, a tag value
	// the caller should assign to rec.Tag; the tag is only meaningful
	// when the verdict is Accept.
	Evaluate(rec *flowrecord.Record) (Verdict, uint32)
}

// Evaluate runs rec through rs and, on Accept, assigns the returned tag to
// rec.Tag and sets the FieldTag bit so the writer's store-mask step knows
// a tag is available to persist. It is the single call site every ingest
// caller should use rather than invoking RuleSet.Evaluate directly, so
// the tag-assignment side effect always happens the same way.
func Evaluate(rs RuleSet, rec *flowrecord.Record) Verdict {
	verdict, tag := rs.Evaluate(rec)
	if verdict == Accept {
		rec.Tag = tag
		rec.Fields |= flowrecord.FieldTag
	}
	return verdict
}

// AcceptAll is the trivial RuleSet used when the daemon is run without an
// external rule-language implementation: every flow is accepted with tag
// 0.
type AcceptAll struct{}

// Evaluate implements RuleSet.
func (AcceptAll) Evaluate(rec *flowrecord.Record) (Verdict, uint32) {
	return Accept, 0
}
