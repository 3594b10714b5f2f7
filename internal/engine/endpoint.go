package engine

import "strings"

// MatchEndpoint reports whether an observed request path matches an endpoint
// pattern. A pattern without a wildcard must equal the path exactly.
// Otherwise both are split into slash components (empty ones dropped): the
// component counts must match, and each pattern component is either a
// literal or "*", which matches exactly one whole component. A "*" never
// spans components and never matches part of one.
func MatchEndpoint(path, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return path == pattern
	}

	pathParts := splitPath(path)
	patternParts := splitPath(pattern)
	if len(pathParts) != len(patternParts) {
		return false
	}
	for i, part := range patternParts {
		if part == "*" {
			continue
		}
		if part != pathParts[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
