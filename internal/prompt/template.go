/*
PURPOSE:
  Resolves {{fieldname}} placeholders in a user prompt template
  against one item's fields.

REQUIREMENTS:
  User-specified:
  - A template without placeholders is used verbatim for every item.
  - Every referenced field must exist and have non-blank content,
    otherwise the item is skipped (no generation call).

  Implementation-discovered:
  - Substitution must be single-pass: a field value that itself
    contains {{name}} text is never re-expanded.

ARCHITECTURE INTEGRATION:
  - Called by: internal/batch
  - Uses: internal/model (Item)

ERROR HANDLING:
  - Resolution failure wraps ErrNoFieldContent so callers can map it
    to a skip rather than an error.

IMPLEMENTATION RULES:
  - Placeholder names are word characters only: \{\{(\w+)\}\}.
  - Field values are trimmed before substitution.

USAGE:
  resolved, err := prompt.Resolve(tmpl, item)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/batch/processor.go

MAINTENANCE:
  - None expected; the placeholder syntax is fixed.
*/

package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"deckfill/internal/model"
)

// ErrNoFieldContent signals that a referenced field is missing or blank.
// Callers treat this as "skip the item", not as a failure.
var ErrNoFieldContent = errors.New("no valid field content")

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Placeholders returns the distinct field names referenced by the
// template, in order of first appearance.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// Resolve substitutes each {{name}} token with the item's trimmed field
// content. Zero placeholders returns the template unchanged. Any missing
// or blank referenced field aborts resolution with ErrNoFieldContent.
func Resolve(tmpl string, item model.Item) (string, error) {
	names := Placeholders(tmpl)
	if len(names) == 0 {
		return tmpl, nil
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		if !item.Has(name) {
			return "", fmt.Errorf("field %q not on item: %w", name, ErrNoFieldContent)
		}
		content := strings.TrimSpace(item.Value(name))
		if content == "" {
			return "", fmt.Errorf("field %q is empty: %w", name, ErrNoFieldContent)
		}
		values[name] = content
	}

	// Single pass over the original template; substituted values are
	// never re-scanned for placeholder tokens.
	resolved := placeholderRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := placeholderRe.FindStringSubmatch(tok)[1]
		return values[name]
	})
	return resolved, nil
}
