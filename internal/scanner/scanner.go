// Package scanner finds vulnerability patterns in repository files and
// reconciles each scan against previously recorded findings.
package scanner

import (
	"bufio"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// snippetLimit caps how much of a matched line is stored with a finding.
const snippetLimit = 100

// Finding is one pattern match on one line.
type Finding struct {
	FilePath    string
	LineNumber  int
	PatternID   string
	Severity    string
	Description string
	Match       string
}

// Scan walks all files under root and evaluates every pattern against every
// line. Hidden paths and binary/asset extensions are skipped; a single line
// may match multiple patterns.
func Scan(root string) []Finding {
	var findings []Finding

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if skippedExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		findings = append(findings, scanFile(path, rel)...)
		return nil
	})
	if err != nil {
		slog.Warn("scan walk aborted", "root", root, "error", err)
	}
	return findings
}

// scanFile evaluates all patterns against each line of one file. Unreadable
// files are skipped.
func scanFile(path, relPath string) []Finding {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("skipping unreadable file", "path", relPath, "error", err)
		return nil
	}
	defer f.Close()

	var findings []Finding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for _, p := range patterns {
			if p.Regex.MatchString(line) {
				findings = append(findings, Finding{
					FilePath:    relPath,
					LineNumber:  lineNo,
					PatternID:   p.ID,
					Severity:    p.Severity,
					Description: p.Description,
					Match:       snippet(line),
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		// A line beyond the buffer limit stops the scan of this file early.
		slog.Warn("file scan truncated", "path", relPath, "line", lineNo, "error", err)
	}
	return findings
}

func snippet(line string) string {
	s := strings.TrimSpace(line)
	if len(s) > snippetLimit {
		return s[:snippetLimit]
	}
	return s
}
