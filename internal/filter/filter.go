// Package filter decides which giveaway feed items are announced.
//
// Rules are written as "[title:|content:][re:]value". Without a scope prefix a
// rule looks at the title and the description together. Values are matched
// case-insensitively, as substrings or, with "re:", as regular expressions.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind tells whether a rule admits or rejects items.
type Kind int

// Rule kinds.
const (
	Include Kind = iota
	Exclude
)

// Scope selects the item text a rule is matched against.
type Scope string

// Rule scopes.
const (
	ScopeAll     Scope = ""
	ScopeTitle   Scope = "title"
	ScopeContent Scope = "content"
)

// Item is the text of a feed item.
type Item struct {
	Title       string
	Description string
}

// Rule is one parsed include or exclude rule.
type Rule struct {
	Kind  Kind
	Scope Scope
	Value string

	re *regexp.Regexp
}

// Rules is an ordered rule set. The zero value admits everything.
type Rules []Rule

// ParseRule parses a single rule of the given kind.
func ParseRule(kind Kind, raw string) (Rule, error) {
	r := Rule{Kind: kind}
	v := strings.TrimSpace(raw)
	for _, s := range []Scope{ScopeTitle, ScopeContent} {
		if rest, ok := strings.CutPrefix(v, string(s)+":"); ok {
			r.Scope, v = s, rest
			break
		}
	}
	if rest, ok := strings.CutPrefix(v, "re:"); ok {
		re, err := regexp.Compile("(?i)" + rest)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: invalid regex: %w", raw, err)
		}
		r.re, v = re, rest
	} else {
		v = strings.ToLower(v)
	}
	if v == "" {
		return Rule{}, fmt.Errorf("rule %q: empty value", raw)
	}
	r.Value = v
	return r, nil
}

// Parse builds a rule set from include and exclude rule lists.
func Parse(include, exclude []string) (Rules, error) {
	rules := make(Rules, 0, len(include)+len(exclude))
	for _, group := range []struct {
		kind Kind
		raw  []string
	}{{Include, include}, {Exclude, exclude}} {
		for _, raw := range group.raw {
			r, err := ParseRule(group.kind, raw)
			if err != nil {
				return nil, err
			}
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// Match reports whether item passes the rules.
// At least one include rule must match when any exist, and no exclude rule may match.
func (rs Rules) Match(item Item) bool {
	hasIncludes := false
	included := false
	for _, r := range rs {
		switch r.Kind {
		case Include:
			hasIncludes = true
			if !included && r.matches(item) {
				included = true
			}
		case Exclude:
			if r.matches(item) {
				return false
			}
		}
	}
	return !hasIncludes || included
}

func (r Rule) matches(item Item) bool {
	text := r.text(item)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), r.Value)
}

func (r Rule) text(item Item) string {
	switch r.Scope {
	case ScopeTitle:
		return item.Title
	case ScopeContent:
		return item.Description
	default:
		return item.Title + " " + item.Description
	}
}
