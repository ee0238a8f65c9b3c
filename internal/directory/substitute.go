package directory

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Substitute replaces every whole-word occurrence of a known destination
// name in text with its id.
//
// The text is scanned once from left to right. At each position the
// longest matching name wins, and a match must not have a letter, digit or
// underscore immediately before or after it. Inserted ids are never
// rescanned. pinned maps names chosen by the operator to the id they chose;
// pinned entries take precedence over the directory.
func (d *Directory) Substitute(text string, pinned map[string]string) string {
	d.mu.RLock()
	names := d.longest
	byName := d.byName
	d.mu.RUnlock()

	if len(pinned) > 0 {
		merged := make(map[string]string, len(byName)+len(pinned))
		for n, id := range byName {
			merged[n] = id
		}
		for n, id := range pinned {
			if n != "" {
				merged[n] = id
			}
		}
		byName = merged
		names = longestFirst(merged)
	}

	if len(names) == 0 || text == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	prev := rune(-1)
	for i := 0; i < len(text); {
		if !isWordRune(prev) {
			if name, ok := matchAt(text, i, names); ok {
				b.WriteString(byName[name])
				i += len(name)
				prev, _ = utf8.DecodeLastRuneInString(name)
				continue
			}
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		b.WriteString(text[i : i+size])
		prev = r
		i += size
	}
	return b.String()
}

// matchAt returns the longest name that starts at text[i] and ends on a
// word boundary.
func matchAt(text string, i int, names []string) (string, bool) {
	rest := text[i:]
	for _, name := range names {
		if !strings.HasPrefix(rest, name) {
			continue
		}
		if next, _ := utf8.DecodeRuneInString(rest[len(name):]); len(rest) > len(name) && isWordRune(next) {
			continue
		}
		return name, true
	}
	return "", false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// longestFirst returns the map's names ordered by descending length, ties
// broken lexically so the order is deterministic.
func longestFirst(byName map[string]string) []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}
