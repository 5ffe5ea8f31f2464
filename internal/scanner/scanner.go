// Package scanner finds statement files under a directory tree and derives
// institution and account hints from the directory layout.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/document"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// Scanner walks directory tree and finds statement files
type Scanner struct {
	rootDir string
}

// New creates a scanner for root, which may be a directory or a single file.
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Metadata *parser.Metadata
}

// LoadError records a file that could not be read or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string { return e.Path + ": " + e.Err.Error() }

// Scan walks the tree and returns every file with a supported suffix, in
// lexical path order. Hidden files and directories are skipped.
func (s *Scanner) Scan() ([]ScanResult, error) {
	rootDir := s.expandHome(s.rootDir)

	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if !info.IsDir() {
		meta, err := parser.NewMetadata(rootDir, time.Now())
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if !parser.IsSupportedSuffix(filepath.Ext(rootDir)) {
			return nil, fmt.Errorf("scan failed: %s is not a supported statement type (%s)",
				rootDir, strings.Join(parser.SupportedSuffixes(), ", "))
		}
		return []ScanResult{{Path: rootDir, Metadata: meta}}, nil
	}

	var results []ScanResult
	err = filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != rootDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !parser.IsSupportedSuffix(filepath.Ext(path)) {
			return nil
		}

		meta, err := s.extractMetadata(path, rootDir)
		if err != nil {
			return err
		}
		results = append(results, ScanResult{Path: path, Metadata: meta})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// Load reads and decodes every scanned file. Files that fail are returned
// separately so one corrupt download does not hide the rest.
func Load(results []ScanResult) ([]*parser.Document, []LoadError) {
	var (
		docs     []*parser.Document
		failures []LoadError
	)
	for _, r := range results {
		doc, err := document.Open(r.Path, r.Metadata)
		if err != nil {
			failures = append(failures, LoadError{Path: r.Path, Err: err})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, failures
}

// extractMetadata parses directory structure to extract institution/account info
// Path structure: {root}/{institution}/{account}/{period?}/file.ext
func (s *Scanner) extractMetadata(filePath, rootDir string) (*parser.Metadata, error) {
	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		relPath = filePath
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	meta, err := parser.NewMetadata(filePath, time.Now())
	if err != nil {
		return nil, err
	}
	if len(parts) >= 2 {
		meta.SetInstitution(s.normalizeInstitutionName(parts[0]))
	}
	if len(parts) >= 3 {
		meta.SetAccountNumber(parts[1])
	}
	if len(parts) >= 4 && s.looksLikePeriod(parts[2]) {
		meta.SetPeriod(parts[2])
	}
	return meta, nil
}

// normalizeInstitutionName converts directory name to readable name
// "american_express" -> "American Express"
func (s *Scanner) normalizeInstitutionName(dirName string) string {
	words := strings.Fields(strings.ReplaceAll(dirName, "_", " "))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// looksLikePeriod checks if string looks like a date period (YYYY-MM)
func (s *Scanner) looksLikePeriod(str string) bool {
	return len(str) >= 7 && str[4] == '-'
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
