package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanner_Scan(t *testing.T) {
	// tmpDir/
	//   american_express/2011/2025-10/statement.qfx
	//   capital_one/checking/statement.csv
	//   chase/statement.ofx
	//   invalid/notes.json
	//   .cache/statement.csv
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "american_express", "2011", "2025-10", "statement.qfx"), "test")
	writeFile(t, filepath.Join(tmpDir, "capital_one", "checking", "statement.csv"), "test")
	writeFile(t, filepath.Join(tmpDir, "chase", "statement.ofx"), "test")
	writeFile(t, filepath.Join(tmpDir, "invalid", "notes.json"), "test")
	writeFile(t, filepath.Join(tmpDir, ".cache", "statement.csv"), "test")

	results, err := New(tmpDir).Scan()
	require.NoError(t, err)
	require.Len(t, results, 3, "should find 3 statement files")

	// Lexical path order.
	amex, capOne, chase := results[0], results[1], results[2]

	assert.Equal(t, "American Express", amex.Metadata.Institution())
	assert.Equal(t, "2011", amex.Metadata.AccountNumber())
	assert.Equal(t, "2025-10", amex.Metadata.Period())
	assert.Contains(t, amex.Path, "statement.qfx")

	assert.Equal(t, "Capital One", capOne.Metadata.Institution())
	assert.Equal(t, "checking", capOne.Metadata.AccountNumber())
	assert.Empty(t, capOne.Metadata.Period())

	assert.Equal(t, "Chase", chase.Metadata.Institution())
	assert.Empty(t, chase.Metadata.AccountNumber())

	for _, r := range results {
		assert.Equal(t, r.Path, r.Metadata.FilePath())
		assert.False(t, r.Metadata.DetectedAt().IsZero())
	}
}

func TestScanner_Scan_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.pdf")
	writeFile(t, path, "test")

	results, err := New(path).Scan()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, path, results[0].Path)
	assert.Empty(t, results[0].Metadata.Institution())

	other := filepath.Join(t.TempDir(), "notes.json")
	writeFile(t, other, "{}")
	_, err = New(other).Scan()
	assert.ErrorContains(t, err, "not a supported statement type")
}

func TestScanner_Scan_NonExistentDirectory(t *testing.T) {
	results, err := New("/nonexistent/directory/path").Scan()
	assert.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "scan failed")
}

func TestScanner_Scan_EmptyDirectory(t *testing.T) {
	results, err := New(t.TempDir()).Scan()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "pnc", "1234", "good.csv"), "1234,2024/01/01,2024/01/31,10.00,10.00\n")
	writeFile(t, filepath.Join(tmpDir, "pnc", "1234", "empty.csv"), "")

	results, err := New(tmpDir).Scan()
	require.NoError(t, err)
	require.Len(t, results, 2)

	docs, failures := Load(results)
	require.Len(t, docs, 1)
	require.Len(t, failures, 1)

	assert.Equal(t, "good.csv", docs[0].Name)
	assert.Equal(t, "1234", docs[0].Meta.AccountNumber())
	assert.Equal(t, "Pnc", docs[0].Meta.Institution())
	assert.NotEmpty(t, docs[0].Rows)

	assert.Contains(t, failures[0].Path, "empty.csv")
	assert.Contains(t, failures[0].Error(), "empty.csv")
}

func TestExtractMetadata(t *testing.T) {
	scanner := New("/base")

	tests := []struct {
		name        string
		filePath    string
		institution string
		account     string
		period      string
	}{
		{"full path with period", "/base/american_express/2011/2025-10/statement.qfx", "American Express", "2011", "2025-10"},
		{"path without period", "/base/capital_one/checking/statement.csv", "Capital One", "checking", ""},
		{"minimal path (institution only)", "/base/chase/statement.ofx", "Chase", "", ""},
		{"file at root", "/base/statement.qfx", "", "", ""},
		{"multiple underscores in institution", "/base/bank_of_america/savings/2025-11/statement.ofx", "Bank Of America", "savings", "2025-11"},
		{"non-period directory name", "/base/chase/checking/statements/file.csv", "Chase", "checking", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := scanner.extractMetadata(tt.filePath, "/base")
			require.NoError(t, err)
			assert.Equal(t, tt.filePath, meta.FilePath())
			assert.Equal(t, tt.institution, meta.Institution())
			assert.Equal(t, tt.account, meta.AccountNumber())
			assert.Equal(t, tt.period, meta.Period())
			assert.False(t, meta.DetectedAt().IsZero(), "DetectedAt should be set")
		})
	}
}

func TestNormalizeInstitutionName(t *testing.T) {
	scanner := New("")

	tests := []struct {
		input    string
		expected string
	}{
		{"american_express", "American Express"},
		{"capital_one", "Capital One"},
		{"chase", "Chase"},
		{"bank_of_america", "Bank Of America"},
		{"", ""},
		{"a_b_c", "A B C"},
		{"UPPERCASE", "UPPERCASE"},
		{"MixedCase", "MixedCase"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, scanner.normalizeInstitutionName(tt.input))
		})
	}
}
