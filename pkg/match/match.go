// Package match compares observed hex payloads against expectations.
package match

import (
	"strings"

	"github.com/roffe/curf"
)

type Policy int

const (
	Exact Policy = iota
	Contains
	StartsWith
	NotStartsWith
)

var policyNames = map[Policy]string{
	Exact:         "EXACT",
	Contains:      "CONTAIN",
	StartsWith:    "START",
	NotStartsWith: "NOTSTART",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParsePolicy accepts EXACT, CONTAIN, START and NOTSTART, it is case sensitive
func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if s == name {
			return p, nil
		}
	}
	return 0, &curf.ConfigurationError{Field: "match policy", Value: s, Reason: "must be one of EXACT, CONTAIN, START, NOTSTART"}
}

// Match applies the policy to two normalized hex strings
func (p Policy) Match(observed, expected string) bool {
	switch p {
	case Exact:
		return observed == expected
	case Contains:
		return strings.Contains(observed, expected)
	case StartsWith:
		return strings.HasPrefix(observed, expected)
	case NotStartsWith:
		return !strings.HasPrefix(observed, expected)
	default:
		return false
	}
}

const (
	Any            = "ANY"
	NoReception    = "NoReception"
	NoReceptionAlt = "NO_RECEPTION"
)

type Kind int

const (
	// Value expects a payload satisfying the policy
	Value Kind = iota
	// Anything expects any payload at all
	Anything
	// Absence expects nothing to be received within the window
	Absence
)

// Expectation is a parsed expected value
type Expectation struct {
	Kind  Kind
	Value string
}

// ParseExpectation recognizes the sentinels and normalizes hex values
func ParseExpectation(s string) Expectation {
	switch strings.TrimSpace(s) {
	case Any:
		return Expectation{Kind: Anything}
	case NoReception, NoReceptionAlt:
		return Expectation{Kind: Absence}
	}
	return Expectation{Kind: Value, Value: curf.NormalizeHex(s)}
}

func (e Expectation) String() string {
	switch e.Kind {
	case Anything:
		return Any
	case Absence:
		return NoReception
	default:
		return e.Value
	}
}

// Accepts reports whether an observed payload satisfies e under policy p. An Absence
// expectation never accepts a payload.
func (e Expectation) Accepts(observed string, p Policy) bool {
	switch e.Kind {
	case Anything:
		return true
	case Absence:
		return false
	default:
		return p.Match(observed, e.Value)
	}
}
