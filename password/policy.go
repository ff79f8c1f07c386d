package password

import (
	"strings"
	"unicode/utf8"
)

// Symbols is the canonical set of characters that count towards the symbol class.
const Symbols = "@$!%*?&#"

// MaxScore is the score a password reaches when every rule holds.
const MaxScore = 5

// Policy holds the complexity rule parameters.
type Policy struct {
	MinLength       int
	RequiredClasses int
}

// DefaultPolicy is twelve characters with all four character classes.
var DefaultPolicy = Policy{MinLength: 12, RequiredClasses: 4}

// Classes reports which character classes appear in p.
type Classes struct {
	Lower  bool
	Upper  bool
	Digit  bool
	Symbol bool
}

// Count returns how many classes are present.
func (c Classes) Count() int {
	n := 0
	for _, ok := range [...]bool{c.Lower, c.Upper, c.Digit, c.Symbol} {
		if ok {
			n++
		}
	}
	return n
}

// Classify scans p once and records the ASCII classes it contains.
func Classify(p string) Classes {
	var c Classes
	for i := 0; i < len(p); i++ {
		b := p[i]
		switch {
		case b >= 'a' && b <= 'z':
			c.Lower = true
		case b >= 'A' && b <= 'Z':
			c.Upper = true
		case b >= '0' && b <= '9':
			c.Digit = true
		case strings.IndexByte(Symbols, b) >= 0:
			c.Symbol = true
		}
	}
	return c
}

// Score awards one point each for length >= 12, a lowercase letter, an uppercase
// letter, a digit and a symbol from Symbols.
func Score(p string) int {
	return ScoreWith(p, DefaultPolicy)
}

// ScoreWith is Score with a custom minimum length.
func ScoreWith(p string, policy Policy) int {
	score := Classify(p).Count()
	if utf8.RuneCountInString(p) >= policy.MinLength {
		score++
	}
	return score
}

// MeetsPolicy reports whether p satisfies the length rule and has at least
// policy.RequiredClasses character classes.
func MeetsPolicy(p string, policy Policy) bool {
	if utf8.RuneCountInString(p) < policy.MinLength {
		return false
	}
	return Classify(p).Count() >= policy.RequiredClasses
}
