// Package rules evaluates candidate command strings against allow/deny
// pattern groups before the bridge forwards them for unattended execution.
//
// Deny always overrides allow, regardless of rule ordering in the source
// document. A command matching neither side falls back to requiring an
// interactive confirmation.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Verdict is the outcome of evaluating one command.
type Verdict int

const (
	// RequireConfirmation is the safe default: no pattern matched.
	RequireConfirmation Verdict = iota
	// Allow means every chained part matched an allow pattern.
	Allow
	// Deny means a deny pattern matched somewhere in the full text.
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "confirm"
	}
}

// entry is one item in the rule document: either a bare pattern string or
// a labelled group of patterns.
type entry struct {
	Group    string
	Patterns []string
}

func (e *entry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		e.Patterns = []string{s}
		return nil
	}
	var g struct {
		Group    string   `yaml:"group"`
		Patterns []string `yaml:"patterns"`
	}
	if err := node.Decode(&g); err != nil {
		return err
	}
	e.Group = g.Group
	e.Patterns = g.Patterns
	return nil
}

type document struct {
	Allow []entry `yaml:"allow"`
	Deny  []entry `yaml:"deny"`
}

type allowPattern struct {
	glob    glob.Glob
	literal string // pattern with any trailing " *" trimmed
}

// Set is an immutable, compiled rule set. Evaluation is a pure function
// of the command text; sets are swapped atomically on reload.
type Set struct {
	allow []allowPattern
	deny  []string
}

// Empty reports whether the set has no allow patterns loaded.
func (s *Set) Empty() bool {
	return s == nil || len(s.allow) == 0
}

func flatten(entries []entry) []string {
	var out []string
	for _, e := range entries {
		for _, p := range e.Patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Parse compiles a rule document. Patterns that fail to compile as globs
// are kept as literal prefixes rather than dropped, so a typo narrows a
// rule instead of silently widening the allow set.
func Parse(data []byte) (*Set, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule document: %w", err)
	}

	s := &Set{deny: flatten(doc.Deny)}
	for _, p := range flatten(doc.Allow) {
		ap := allowPattern{literal: strings.TrimRight(p, " *")}
		if g, err := glob.Compile(p); err == nil {
			ap.glob = g
		}
		s.allow = append(s.allow, ap)
	}
	return s, nil
}

// LoadFile reads and compiles a rule document from disk.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// chainSplit separates shell command chains on ;, && and ||.
var chainSplit = regexp.MustCompile(`\s*(?:;|&&|\|\|)\s*`)

// Evaluate checks a command string against the set.
//
// Deny patterns are scanned first across the entire literal text, so a
// chained command containing a destructive sub-command is denied even when
// an earlier part is individually safe. Allow requires every chained part
// to match; anything else falls back to RequireConfirmation.
func (s *Set) Evaluate(command string) Verdict {
	full := strings.ToLower(strings.TrimSpace(command))
	if full == "" {
		return RequireConfirmation
	}

	for _, kw := range s.deny {
		if strings.Contains(full, kw) {
			return Deny
		}
	}

	if s.Empty() {
		return RequireConfirmation
	}

	// The rendered prompt echoes the command ("Run command: ls $ ls");
	// strip everything up to the shell marker.
	cmd := full
	if i := strings.Index(full, "$ "); i >= 0 {
		cmd = strings.TrimSpace(full[i+2:])
	}

	var parts []string
	for _, p := range chainSplit.Split(cmd, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return RequireConfirmation
	}

	for _, part := range parts {
		if !s.allowed(part) {
			return RequireConfirmation
		}
	}
	return Allow
}

func (s *Set) allowed(part string) bool {
	for _, ap := range s.allow {
		if ap.glob != nil && ap.glob.Match(part) {
			return true
		}
		if part == ap.literal {
			return true
		}
	}
	return false
}
