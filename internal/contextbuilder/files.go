package contextbuilder

import (
	"path"
	"sort"
	"strings"

	"github.com/waigani/diffparser"
)

var lockFiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	"cargo.lock":        true,
	"gemfile.lock":      true,
	"poetry.lock":       true,
	"composer.lock":     true,
	"pipfile.lock":      true,
}

var vendoredDirs = []string{"vendor/", "node_modules/", "third_party/", "dist/", "build/", ".next/", "coverage/"}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".webp": true,
	".pdf": true, ".zip": true, ".gz": true, ".woff": true, ".woff2": true, ".ttf": true,
	".eot": true, ".mp4": true, ".mp3": true, ".wasm": true,
}

var extensionScores = map[string]int{
	".tsx":    10,
	".jsx":    10,
	".vue":    10,
	".svelte": 10,
	".html":   9,
	".erb":    8,
	".hbs":    8,
	".css":    6,
	".scss":   6,
	".ts":     5,
	".js":     5,
	".py":     3,
	".rb":     3,
	".go":     3,
	".java":   3,
	".kt":     3,
	".swift":  3,
}

var uiNameHints = []string{"component", "page", "view", "screen", "form", "modal", "dialog", "layout", "route", "template"}

type scoredFile struct {
	path  string
	score int
}

// SelectFiles picks the changed files most likely to matter for UI-level
// test planning. Deleted, lock, vendored and binary files are skipped.
func SelectFiles(diff string, limit int) []string {
	if strings.TrimSpace(diff) == "" || limit <= 0 {
		return nil
	}

	parsed, err := diffparser.Parse(diff)
	if err != nil || parsed == nil {
		return nil
	}

	var candidates []scoredFile
	seen := map[string]bool{}
	for _, f := range parsed.Files {
		if f == nil || f.Mode == diffparser.DELETED {
			continue
		}
		name := f.NewName
		if name == "" || seen[name] || skipPath(name) {
			continue
		}
		seen[name] = true
		candidates = append(candidates, scoredFile{path: name, score: scorePath(name)})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.path
	}
	return out
}

func skipPath(p string) bool {
	lower := strings.ToLower(p)
	if lockFiles[path.Base(lower)] || binaryExtensions[path.Ext(lower)] {
		return true
	}
	if strings.HasSuffix(lower, ".min.js") || strings.HasSuffix(lower, ".min.css") || strings.HasSuffix(lower, ".map") {
		return true
	}
	for _, dir := range vendoredDirs {
		if strings.HasPrefix(lower, dir) || strings.Contains(lower, "/"+dir) {
			return true
		}
	}
	return false
}

func scorePath(p string) int {
	lower := strings.ToLower(p)
	score := 1 + extensionScores[path.Ext(lower)]
	for _, hint := range uiNameHints {
		if strings.Contains(lower, hint) {
			score += 3
			break
		}
	}
	if strings.Contains(lower, "_test.") || strings.Contains(lower, ".test.") || strings.Contains(lower, ".spec.") {
		score -= 4
	}
	return score
}
