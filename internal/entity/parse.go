// Package entity decodes composite platform identifiers and derives
// archive-safe names from them.
//
// A reference has the form TYPE(ID), for example HOST(abc-123) or
// builtin:alerting.profile (vu9U3hXa3q0AAAA). The type is everything before
// the first opening parenthesis with surrounding whitespace removed. The id
// runs up to the parenthesis that balances the first one, so ids that embed
// parentheses survive intact. When the parentheses do not balance the id
// ends at the first ')' after the opening one. Anything after the closing
// parenthesis is ignored.
package entity

import (
	"fmt"
	"strings"

	"cfgkeeper/internal/types"
)

// ParseError reports an identifier that does not follow the TYPE(ID) form
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed entity identifier %q: %s", e.Raw, e.Reason)
}

// Is makes errors.Is(err, types.ErrMalformedIdentifier) match
func (e *ParseError) Is(target error) bool {
	return target == types.ErrMalformedIdentifier
}

// Parse decodes raw into an entity reference
func Parse(raw string) (types.EntityReference, error) {
	open := strings.IndexByte(raw, '(')
	if open < 0 {
		return types.EntityReference{}, &ParseError{Raw: raw, Reason: "missing '('"}
	}

	typ := strings.TrimSpace(raw[:open])
	if typ == "" {
		return types.EntityReference{}, &ParseError{Raw: raw, Reason: "empty type"}
	}

	closing := matchingParen(raw, open)
	if closing < 0 {
		closing = strings.IndexByte(raw[open:], ')')
		if closing >= 0 {
			closing += open
		}
	}
	if closing < 0 {
		return types.EntityReference{}, &ParseError{Raw: raw, Reason: "missing ')'"}
	}

	id := strings.TrimSpace(raw[open+1 : closing])
	if id == "" {
		return types.EntityReference{}, &ParseError{Raw: raw, Reason: "empty id"}
	}

	return types.EntityReference{Type: typ, ID: id}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constant identifiers.
func MustParse(raw string) types.EntityReference {
	ref, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

// matchingParen returns the index of the ')' closing the '(' at open, or -1
func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
