package queue

import (
	gitignore "github.com/sabhiram/go-gitignore"
)

// FilterIgnoredPaths drops any of paths that the target repository's
// .gitignore (already read into gitignoreContent, one pattern per line)
// would exclude, so affected-paths metadata and the derived group-id never
// point the worker's sparse checkout at files the repo itself ignores.
func FilterIgnoredPaths(paths []string, gitignoreContent string) []string {
	if gitignoreContent == "" {
		return paths
	}
	lines := splitLines(gitignoreContent)
	matcher := gitignore.CompileIgnoreLines(lines...)

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !matcher.MatchesPath(p) {
			out = append(out, p)
		}
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
