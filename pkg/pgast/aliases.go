package pgast

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxAliasHint = 32

// AliasGenerator hands out aliases unique within one compilation.
// It is not safe for concurrent use; each compile owns one.
type AliasGenerator struct {
	counters map[string]int
	lower    cases.Caser
}

// NewAliasGenerator returns an empty generator.
func NewAliasGenerator() *AliasGenerator {
	return &AliasGenerator{
		counters: make(map[string]int),
		lower:    cases.Lower(language.Und),
	}
}

// Get returns a fresh alias derived from hint, e.g. "user_3".
func (g *AliasGenerator) Get(hint string) string {
	hint = g.normalize(hint)
	g.counters[hint]++
	return hint + "_" + strconv.Itoa(g.counters[hint])
}

func (g *AliasGenerator) normalize(hint string) string {
	if i := strings.LastIndex(hint, "::"); i >= 0 {
		hint = hint[i+2:]
	}
	hint = g.lower.String(hint)
	var b strings.Builder
	for _, r := range hint {
		switch {
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxAliasHint {
			break
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "v"
	}
	return out
}
