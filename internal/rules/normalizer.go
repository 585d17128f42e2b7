// Package rules turns a raw voice transcript into a search query: leading
// filler phrases are stripped, then user-provided substitutions from a rules
// file are applied until the text is stable.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// fillerPrefixes are spoken lead-ins that carry no search intent. Only one is
// stripped, from the front, so a title that legitimately starts with one of
// these words deeper in the query survives.
var fillerPrefixes = []string{
	"search for",
	"search",
	"look up",
	"look for",
	"show me",
	"show",
	"find me",
	"find",
	"play",
	"watch",
	"movies like",
	"something like",
}

var trailingPunct = regexp.MustCompile(`[.!?,;:]+$`)

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one rules-file line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Normalizer implements the QueryRules port.
type Normalizer struct {
	subs      []compiledRule
	loopLimit int
}

// NewNormalizer loads user substitutions from a rules file. A missing file is
// fine; a malformed one is not.
func NewNormalizer(path string, loopLimit int) (*Normalizer, error) {
	return NewNormalizerWithParsers(path, loopLimit, defaultRuleParsers())
}

// NewNormalizerWithParsers allows parser extension without normalizer changes.
func NewNormalizerWithParsers(path string, loopLimit int, parsers []RuleParser) (*Normalizer, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	if strings.TrimSpace(path) == "" {
		return &Normalizer{loopLimit: loopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Normalizer{loopLimit: loopLimit}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	subs, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}

	return &Normalizer{subs: subs, loopLimit: loopLimit}, nil
}

// Apply normalizes a transcript into a search query.
func (n *Normalizer) Apply(text string) (string, error) {
	query := collapseSpaces(text)
	query = trailingPunct.ReplaceAllString(query, "")
	query = stripFillerPrefix(query)

	if len(n.subs) == 0 {
		return query, nil
	}

	for i := 0; i < n.loopLimit; i++ {
		changed := false
		for _, rule := range n.subs {
			next, ruleChanged := rule.Apply(query)
			if ruleChanged {
				query = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return strings.TrimSpace(query), nil
}

func stripFillerPrefix(query string) string {
	lowered := strings.ToLower(query)
	for _, prefix := range fillerPrefixes {
		if !strings.HasPrefix(lowered, prefix) {
			continue
		}
		rest := query[len(prefix):]
		// Must end on a word boundary: "playtime" is not "play time".
		if rest != "" && rest[0] != ' ' {
			continue
		}
		stripped := strings.TrimSpace(rest)
		if stripped == "" {
			return query
		}
		return stripped
	}
	return query
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	lines := strings.Split(contents, "\n")
	subs := make([]compiledRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			subs = append(subs, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return subs, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{regexRuleParser{}, literalRuleParser{}}
}
