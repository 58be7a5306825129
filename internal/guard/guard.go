// Package guard redacts credentials from text leaving the engine. Rules run
// in order over the whole buffer, so a secret split across two segments of a
// scene is still seen as one match.
package guard

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// keep is the maximum number of leading characters left visible.
const keep = 4

// Rule is a named pattern. When the pattern has a capture group only the
// first group is redacted, leaving the surrounding key name intact.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// MinEntropy skips low-entropy candidates such as "changeme"; 0 disables.
	MinEntropy float64
}

// Compile builds a Rule from a user-supplied expression.
func Compile(name, expr string) (Rule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("guard: rule %q: %w", name, err)
	}
	return Rule{Name: name, Pattern: re}, nil
}

// Guard applies an ordered rule set.
type Guard struct {
	rules []Rule
}

// New returns a guard over rules in the given order.
func New(rules ...Rule) *Guard {
	return &Guard{rules: append([]Rule(nil), rules...)}
}

// Default returns the built-in rules followed by extra.
func Default(extra ...Rule) *Guard {
	return New(append(builtinRules(), extra...)...)
}

// Rules returns the rule names in application order.
func (g *Guard) Rules() []string {
	out := make([]string, len(g.rules))
	for i, r := range g.rules {
		out[i] = r.Name
	}
	return out
}

// Redact replaces every match with [REDACTED:<rule>:<prefix>…].
func (g *Guard) Redact(text string) string {
	if g == nil {
		return text
	}
	for _, r := range g.rules {
		text = r.apply(text)
	}
	return text
}

// RedactError renders err for a response payload.
func (g *Guard) RedactError(err error) string {
	if err == nil {
		return ""
	}
	return g.Redact(err.Error())
}

// RedactParts redacts the concatenation of parts, so a secret split across
// adjacent parts is still matched, and returns the parts with the markers in
// place. A marker lands in the part where its secret starts; the remainder
// of the secret is dropped from the parts that follow.
func (g *Guard) RedactParts(parts []string) []string {
	out := append([]string(nil), parts...)
	if g == nil || len(parts) == 0 {
		return out
	}
	cuts := make([]int, len(parts)+1)
	for i, p := range parts {
		cuts[i+1] = cuts[i] + len(p)
	}
	text := strings.Join(parts, "")
	for _, r := range g.rules {
		text, cuts = r.applyCuts(text, cuts)
	}
	for i := range out {
		out[i] = text[cuts[i]:cuts[i+1]]
	}
	return out
}

func (r Rule) apply(text string) string {
	text, _ = r.applyCuts(text, nil)
	return text
}

// applyCuts replaces every match in text and maps the part boundaries in
// cuts onto the rewritten text.
func (r Rule) applyCuts(text string, cuts []int) (string, []int) {
	spans := r.spans(text)
	if len(spans) == 0 {
		return text, cuts
	}
	var b strings.Builder
	b.Grow(len(text))
	moved := make([]int, len(cuts))
	last, k := 0, 0
	for _, sp := range spans {
		start, end := sp[0], sp[1]
		for ; k < len(cuts) && cuts[k] <= start; k++ {
			moved[k] = b.Len() + cuts[k] - last
		}
		b.WriteString(text[last:start])
		b.WriteString(marker(r.Name, text[start:end]))
		for ; k < len(cuts) && cuts[k] <= end; k++ {
			moved[k] = b.Len()
		}
		last = end
	}
	for ; k < len(cuts); k++ {
		moved[k] = b.Len() + cuts[k] - last
	}
	b.WriteString(text[last:])
	return b.String(), moved
}

// spans returns the non-overlapping secret ranges matched by r.
func (r Rule) spans(text string) [][2]int {
	var out [][2]int
	last := 0
	for _, loc := range r.Pattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if len(loc) >= 4 && loc[2] >= 0 {
			start, end = loc[2], loc[3]
		}
		if start < last || start == end {
			continue
		}
		if r.MinEntropy > 0 && entropy(text[start:end]) < r.MinEntropy {
			continue
		}
		out = append(out, [2]int{start, end})
		last = end
	}
	return out
}

func marker(rule, secret string) string {
	// Short secrets reveal at most half of their characters.
	prefix := secret[:min(keep, len(secret)/2)]
	return "[REDACTED:" + rule + ":" + prefix + "…]"
}

// entropy is the Shannon entropy of s in bits per character.
func entropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	n := 0
	for _, c := range s {
		freq[c]++
		n++
	}
	var h float64
	for _, count := range freq {
		p := float64(count) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}
