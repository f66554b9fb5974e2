// Package rule implements the classification language used to slice
// comparison results into output sets:
//
//	output      := disjunction [ ":" file ]
//	disjunction := conjunction { "," conjunction }
//	conjunction := expression { "@" expression }
//	expression  := FIELD "=" STATE
package rule

import (
	"fmt"
	"strings"

	"github.com/Ning0612/dsync/internal/domain"
)

// Expression tests one field for one state.
type Expression struct {
	Field domain.Field
	State domain.State
}

func (e Expression) String() string {
	return e.Field.String() + "=" + e.State.String()
}

// Description renders the expression for the summary report.
func (e Expression) Description() string {
	if e.Field == domain.FieldExist {
		switch e.State {
		case domain.StateOnlySrc:
			return "exist only in source directory"
		case domain.StateOnlyDest:
			return "exist only in destination directory"
		case domain.StateCommon:
			return "exist in both directories"
		default:
			return "exist only in one directory"
		}
	}
	if e.State == domain.StateDiffer {
		return "have different " + e.Field.Description() + "s"
	}
	return "have the same " + e.Field.Description()
}

// Match evaluates the expression against one side's record states. A
// destination record whose existence was never set is only in the
// destination.
func (e Expression) Match(states [domain.NumFields]domain.State) bool {
	switch states[domain.FieldExist] {
	case domain.StateOnlySrc:
		return e.Field == domain.FieldExist &&
			(e.State == domain.StateOnlySrc || e.State == domain.StateDiffer)
	case domain.StateInit, domain.StateOnlyDest:
		return e.Field == domain.FieldExist &&
			(e.State == domain.StateOnlyDest || e.State == domain.StateDiffer)
	}

	if e.Field == domain.FieldExist {
		return e.State == domain.StateCommon
	}
	// fields left INIT were never compared and match nothing
	st := states[e.Field]
	return st != domain.StateInit && st == e.State
}

// Conjunction matches when all of its expressions match. It counts the
// source and destination entries it matched.
type Conjunction struct {
	Expressions []Expression
	SrcMatched  int64
	DstMatched  int64
}

// Match reports whether every expression matches.
func (c *Conjunction) Match(states [domain.NumFields]domain.State) bool {
	for _, e := range c.Expressions {
		if !e.Match(states) {
			return false
		}
	}
	return true
}

func (c *Conjunction) String() string {
	parts := make([]string, len(c.Expressions))
	for i, e := range c.Expressions {
		parts[i] = e.String()
	}
	return strings.Join(parts, "@")
}

// Description joins the expression descriptions with "and".
func (c *Conjunction) Description() string {
	parts := make([]string, len(c.Expressions))
	for i, e := range c.Expressions {
		parts[i] = e.Description()
	}
	return strings.Join(parts, " and ")
}

// Disjunction matches when any conjunction matches; the first matching
// conjunction takes the count.
type Disjunction struct {
	Conjunctions []*Conjunction
}

// Match evaluates conjunctions in order and counts the first hit on the
// given side.
func (d *Disjunction) Match(states [domain.NumFields]domain.State, isSrc bool) bool {
	for _, c := range d.Conjunctions {
		if c.Match(states) {
			if isSrc {
				c.SrcMatched++
			} else {
				c.DstMatched++
			}
			return true
		}
	}
	return false
}

func (d *Disjunction) String() string {
	parts := make([]string, len(d.Conjunctions))
	for i, c := range d.Conjunctions {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

// Output is one classification bucket, optionally dumped to a file.
type Output struct {
	Disjunction *Disjunction
	FileName    string

	SrcTotal int64
	DstTotal int64
}

func (o *Output) String() string {
	if o.FileName == "" {
		return o.Disjunction.String()
	}
	return o.Disjunction.String() + ":" + o.FileName
}

const summaryPrefix = "Files which "

// Summary renders the report line, counts included.
func (o *Output) Summary() string {
	var b strings.Builder
	b.WriteString(summaryPrefix)
	indent := strings.Repeat(" ", len(summaryPrefix))
	for i, c := range o.Disjunction.Conjunctions {
		if i > 0 {
			b.WriteString(", or\n")
			b.WriteString(indent)
		}
		fmt.Fprintf(&b, "%s: [%d/%d]", c.Description(), c.SrcMatched, c.DstMatched)
	}
	if len(o.Disjunction.Conjunctions) > 1 {
		fmt.Fprintf(&b, ", total number: %d/%d", o.SrcTotal, o.DstTotal)
	}
	if o.FileName != "" {
		fmt.Fprintf(&b, ", dumped to %q", o.FileName)
	}
	return b.String()
}

// RuleSet is the ordered list of outputs for one run plus the fields they
// require to be compared.
type RuleSet struct {
	Outputs []*Output
	Need    domain.FieldSet
}

// DefaultOutputs are installed when no output is requested.
var DefaultOutputs = []string{
	"EXIST=ONLY_SRC",
	"EXIST=ONLY_DEST",
	"EXIST=COMMON",
	"EXIST=COMMON@TYPE=DIFFER",
	"EXIST=COMMON@TYPE=COMMON",
	"EXIST=COMMON@CONTENT=DIFFER",
	"EXIST=COMMON@CONTENT=COMMON",
}

// NewRuleSet parses specs in order, or DefaultOutputs when specs is empty.
func NewRuleSet(specs []string) (*RuleSet, error) {
	if len(specs) == 0 {
		specs = DefaultOutputs
	}
	rs := &RuleSet{}
	for _, s := range specs {
		if err := rs.Add(s); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Clone returns a copy with the same outputs and zeroed counters. Counting
// mutates the set, so every rank classifies into its own clone.
func (rs *RuleSet) Clone() *RuleSet {
	out := &RuleSet{Need: rs.Need, Outputs: make([]*Output, len(rs.Outputs))}
	for i, o := range rs.Outputs {
		d := &Disjunction{Conjunctions: make([]*Conjunction, len(o.Disjunction.Conjunctions))}
		for j, c := range o.Disjunction.Conjunctions {
			d.Conjunctions[j] = &Conjunction{Expressions: append([]Expression(nil), c.Expressions...)}
		}
		out.Outputs[i] = &Output{Disjunction: d, FileName: o.FileName}
	}
	return out
}

// Add parses one output spec and appends it.
func (rs *RuleSet) Add(spec string) error {
	out, need, err := ParseOutput(spec)
	if err != nil {
		return err
	}
	rs.Outputs = append(rs.Outputs, out)
	for _, f := range domain.Fields() {
		if need.Has(f) {
			rs.Need.Add(f)
		}
	}
	return nil
}
