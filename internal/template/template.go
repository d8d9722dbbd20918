// Package template expands scheduler command templates of the form
// "sbatch --mem=${memory} ${script}" by substituting named placeholders.
//
// Expansion is pure and deterministic: the same template and variables
// always produce the same command string, and nothing here touches the
// operating system. Placeholder resolution failures and values that would
// break shell tokenization are reported as errors instead of being
// concatenated into a command that later gets executed.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"batchbridge/internal/apperrors"
)

// placeholderPattern matches ${name} where name is an identifier.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// safeValuePattern matches values that can be substituted without quoting.
var safeValuePattern = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// Command is a parsed command template. Parse once at configuration time;
// Expand per invocation.
type Command struct {
	name string // config key, for error messages (e.g. "submit")
	raw  string
	refs []string // placeholder names in first-occurrence order
}

// Parse validates the template's placeholder syntax and records the
// referenced names. A "${" without a matching well-formed placeholder is a
// configuration error.
func Parse(name, raw string) (*Command, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.Configuration(name, "command template is empty")
	}

	stripped := placeholderPattern.ReplaceAllString(raw, "")
	if i := strings.Index(stripped, "${"); i >= 0 {
		return nil, apperrors.Configuration(name, fmt.Sprintf("malformed placeholder near %q", snippet(stripped[i:])))
	}

	var refs []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(raw, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}

	return &Command{name: name, raw: raw, refs: refs}, nil
}

// Name returns the config key this template was parsed under.
func (c *Command) Name() string { return c.name }

// Placeholders returns the distinct placeholder names referenced by the
// template, in first-occurrence order.
func (c *Command) Placeholders() []string {
	out := make([]string, len(c.refs))
	copy(out, c.refs)
	return out
}

// References reports whether the template references the given placeholder.
func (c *Command) References(name string) bool {
	for _, r := range c.refs {
		if r == name {
			return true
		}
	}
	return false
}

// CheckResolvable verifies every referenced placeholder is accepted by
// allowed. Called at construction time so that an unresolvable placeholder
// is a configuration error, never a runtime one.
func (c *Command) CheckResolvable(allowed func(string) bool) error {
	for _, r := range c.refs {
		if !allowed(r) {
			return apperrors.Configuration(c.name, fmt.Sprintf("placeholder ${%s} cannot be resolved", r))
		}
	}
	return nil
}

// Expand substitutes every placeholder with its value from vars.
// A missing binding yields an unresolved-placeholder error naming the key;
// a value containing characters that cannot be made shell-safe yields an
// unsafe-value error. Values with shell metacharacters are single-quoted.
func (c *Command) Expand(vars map[string]string) (string, error) {
	var expandErr error
	out := placeholderPattern.ReplaceAllStringFunc(c.raw, func(m string) string {
		if expandErr != nil {
			return m
		}
		name := m[2 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			expandErr = apperrors.UnresolvedPlaceholder(name)
			return m
		}
		q, err := quote(name, v)
		if err != nil {
			expandErr = err
			return m
		}
		return q
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// quote makes a value safe to splice into a shell command line, or rejects
// it. Newlines, carriage returns, and NUL cannot be neutralized inside a
// single-quoted string portably, so those are refused outright.
func quote(name, v string) (string, error) {
	if strings.ContainsAny(v, "\n\r\x00") {
		return "", apperrors.UnsafeValue(name, "contains newline or control characters")
	}
	if v == "" {
		return "''", nil
	}
	if safeValuePattern.MatchString(v) {
		return v, nil
	}
	// Single-quote, with embedded single quotes spliced as '\''.
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'", nil
}

func snippet(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
