// Package policy scrubs sensitive data from transcripts and notes before they
// are written to the training-data archive.
package policy

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

const defaultReplacement = "[REDACTED]"

type Policy struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Version    int    `yaml:"version"`
	Redactions struct {
		Patterns    []string `yaml:"patterns"`
		Replacement string   `yaml:"replacement"`
	} `yaml:"redactions"`
	MaxTextLength int `yaml:"max_text_length_chars"`

	compiled []*regexp.Regexp
}

type Result struct {
	RedactionsApplied []string
	Truncated         bool
}

// Default redacts email addresses, phone numbers and card-like digit runs.
func Default() Policy {
	p := Policy{ID: "default", Name: "Archive default", Version: 1}
	p.Redactions.Patterns = []string{
		`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
		`\b(?:\d[ -]?){13,16}\b`,
		`(?:\+?\d{1,3}[ .-]?)?(?:\(\d{3}\)|\b\d{3})[ .-]?\d{3}[ .-]?\d{4}\b`,
	}
	p.Redactions.Replacement = defaultReplacement
	if err := p.Compile(); err != nil {
		panic(err)
	}
	return p
}

func Load(path string) (Policy, error) {
	var p Policy
	if path == "" {
		return p, errors.New("missing policy path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if err := p.Compile(); err != nil {
		return p, err
	}
	return p, nil
}

func (p *Policy) Compile() error {
	p.compiled = p.compiled[:0]
	for _, pattern := range p.Redactions.Patterns {
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("policy %s: bad redaction pattern %q: %w", p.ID, pattern, err)
		}
		p.compiled = append(p.compiled, re)
	}
	return nil
}

// Apply returns text with every redaction pattern replaced and, when
// MaxTextLength is set, cut to that many runes.
func (p Policy) Apply(text string) (string, Result) {
	var res Result
	replacement := p.Redactions.Replacement
	if replacement == "" {
		replacement = defaultReplacement
	}
	for _, re := range p.compiled {
		if re.MatchString(text) {
			res.RedactionsApplied = append(res.RedactionsApplied, re.String())
			text = re.ReplaceAllString(text, replacement)
		}
	}
	if p.MaxTextLength > 0 {
		if runes := []rune(text); len(runes) > p.MaxTextLength {
			text = string(runes[:p.MaxTextLength])
			res.Truncated = true
		}
	}
	return text, res
}
