// Package tags handles comma-separated caption tag strings.
package tags

import (
	"strings"
)

// Parse splits a comma-separated tag string, trimming whitespace and dropping empty tags
func Parse(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// key normalizes a tag for comparison: case-folded, inner whitespace collapsed
func key(tag string) string {
	return strings.ToLower(strings.Join(strings.Fields(tag), " "))
}

// Contains reports whether the caption already holds tag as a whole tag,
// not merely as a substring of another tag
func Contains(caption, tag string) bool {
	k := key(tag)
	for _, existing := range Parse(caption) {
		if key(existing) == k {
			return true
		}
	}
	return false
}

// Merge appends every tag in add that the caption does not already hold.
// An unchanged caption is returned as is. Otherwise the existing text, trimmed of surrounding
// whitespace and trailing commas, is followed by the new tags. The bool reports whether anything changed.
func Merge(caption string, add []string) (string, bool) {
	seen := make(map[string]bool)
	for _, existing := range Parse(caption) {
		seen[key(existing)] = true
	}

	var missing []string
	for _, tag := range add {
		k := key(tag)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		missing = append(missing, strings.TrimSpace(tag))
	}
	if len(missing) == 0 {
		return caption, false
	}

	base := strings.TrimRight(strings.TrimSpace(caption), ",")
	base = strings.TrimSpace(base)
	if base == "" {
		return strings.Join(missing, ", "), true
	}
	return base + ", " + strings.Join(missing, ", "), true
}

// Append joins generated caption text with the raw global tag string
func Append(caption, globalTags string) string {
	globalTags = strings.TrimSpace(globalTags)
	if globalTags == "" {
		return caption
	}
	return caption + ", " + globalTags
}
