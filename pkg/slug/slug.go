// Package slug derives branch names and pull-request titles from
// natural-language change instructions.
// All functions are pure; Branch is deterministic for a fixed timestamp.
package slug

import (
	"fmt"
	"strings"
	"time"
)

const (
	// maxSlugLen bounds the kebab-case portion of a branch name.
	maxSlugLen = 15
	// minWordLen filters out short filler words after the verb.
	minWordLen = 6
	// defaultVerb is used when the instructions contain no recognized action verb.
	defaultVerb = "update"
	// trailingWords is how many descriptive words may follow the verb.
	trailingWords = 2
)

// actionVerbs is the allow-list of leading verbs recognized in instructions.
var actionVerbs = map[string]bool{
	"add":       true,
	"create":    true,
	"update":    true,
	"fix":       true,
	"remove":    true,
	"delete":    true,
	"refactor":  true,
	"implement": true,
	"improve":   true,
	"optimize":  true,
	"upgrade":   true,
	"change":    true,
	"rename":    true,
	"move":      true,
}

// Branch returns a branch name of the form feature/{slug}-{unixts}.
// The slug starts with the first recognized action verb (or "update") and
// carries the most descriptive words that follow it, truncated at a word
// boundary. Two calls within the same second for identical instructions
// collide; callers that need sub-second uniqueness must add their own salt.
func Branch(instructions string, now time.Time) string {
	return fmt.Sprintf("feature/%s-%d", semantic(instructions), now.Unix())
}

// Title returns a human-readable pull-request title for the instructions,
// e.g. "Add validation".
func Title(instructions string) string {
	words := strings.Split(semantic(instructions), "-")
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ")
}

// semantic extracts the verb-plus-keywords kebab slug shared by Branch and Title.
func semantic(instructions string) string {
	words := tokenize(instructions)

	verb := defaultVerb
	rest := words
	for i, w := range words {
		if actionVerbs[w] {
			verb = w
			rest = words[i+1:]
			break
		}
	}

	parts := []string{verb}
	for _, w := range rest {
		if len(parts) > trailingWords {
			break
		}
		if len(w) >= minWordLen && w != verb {
			parts = append(parts, w)
		}
	}

	return truncate(strings.Join(parts, "-"))
}

// truncate caps the slug at maxSlugLen, cutting back to the last complete
// word rather than leaving a partial one.
func truncate(slug string) string {
	if len(slug) <= maxSlugLen {
		return slug
	}
	slug = slug[:maxSlugLen+1]
	if idx := strings.LastIndex(slug, "-"); idx > 0 {
		slug = slug[:idx]
	}
	return slug
}

// tokenize lowercases the text and splits it into ASCII-alphanumeric words,
// which keeps the resulting slug valid in a git ref name.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
}
