package rule

import (
	"fmt"
	"strings"

	"github.com/Ning0612/dsync/internal/domain"
)

const (
	pathDelimiter        = ":"
	disjunctionDelimiter = ","
	conjunctionDelimiter = "@"
	expressionDelimiter  = "="
)

// SyntaxError reports a malformed output spec.
type SyntaxError struct {
	Input  string
	Token  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s %q in %q", e.Reason, e.Token, e.Input)
}

func (e *SyntaxError) Unwrap() error {
	return domain.ErrInvalidRule
}

// ParseOutput parses "disjunction[:file]" and returns the output together
// with the dependency-closed fields it needs compared.
func ParseOutput(spec string) (*Output, domain.FieldSet, error) {
	var need domain.FieldSet

	expr, file, _ := strings.Cut(spec, pathDelimiter)
	if expr == "" {
		return nil, need, &SyntaxError{Input: spec, Token: expr, Reason: "empty disjunction"}
	}

	d, err := parseDisjunction(spec, expr, &need)
	if err != nil {
		return nil, need, err
	}
	return &Output{Disjunction: d, FileName: file}, need, nil
}

func parseDisjunction(input, s string, need *domain.FieldSet) (*Disjunction, error) {
	d := &Disjunction{}
	for _, part := range strings.Split(s, disjunctionDelimiter) {
		if part == "" {
			continue
		}
		c, err := parseConjunction(input, part, need)
		if err != nil {
			return nil, err
		}
		d.Conjunctions = append(d.Conjunctions, c)
	}
	if len(d.Conjunctions) == 0 {
		return nil, &SyntaxError{Input: input, Token: s, Reason: "no conjunction"}
	}
	return d, nil
}

func parseConjunction(input, s string, need *domain.FieldSet) (*Conjunction, error) {
	c := &Conjunction{}
	for _, part := range strings.Split(s, conjunctionDelimiter) {
		if part == "" {
			continue
		}
		e, err := parseExpression(input, part)
		if err != nil {
			return nil, err
		}
		c.Expressions = append(c.Expressions, e)
		need.Add(e.Field)
	}
	if len(c.Expressions) == 0 {
		return nil, &SyntaxError{Input: input, Token: s, Reason: "no expression"}
	}
	return c, nil
}

func parseExpression(input, s string) (Expression, error) {
	fieldTok, stateTok, found := strings.Cut(s, expressionDelimiter)
	if fieldTok == "" || !found || stateTok == "" {
		return Expression{}, &SyntaxError{Input: input, Token: s, Reason: "expression must be FIELD=STATE"}
	}

	field, ok := domain.ParseField(fieldTok)
	if !ok {
		return Expression{}, &SyntaxError{Input: input, Token: fieldTok, Reason: "unknown field"}
	}
	state, ok := domain.ParseState(stateTok)
	if !ok || state == domain.StateInit {
		return Expression{}, &SyntaxError{Input: input, Token: stateTok, Reason: "unknown state"}
	}
	if (state == domain.StateOnlySrc || state == domain.StateOnlyDest) && field != domain.FieldExist {
		return Expression{}, &SyntaxError{Input: input, Token: s, Reason: "ONLY_SRC and ONLY_DEST are only valid for EXIST"}
	}
	return Expression{Field: field, State: state}, nil
}
