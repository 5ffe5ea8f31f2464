package parser

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Document is a source statement as supplied by the document source: the raw
// bytes plus whatever structured views were decoded from them.
//
// Only the views that make sense for the suffix are populated: Rows for
// delimited text and spreadsheets, Pages for PDFs, Text for everything.
type Document struct {
	Name   string // base file name
	Suffix string // lowercase, with leading dot
	Data   []byte

	Text   string
	Rows   [][]string
	Sheets map[string][][]string
	Pages  []string

	Meta *Metadata // optional directory-derived hints
}

// NewDocument creates a document from raw content. The suffix is derived from
// the file name. Decoded views are filled in by the document package.
func NewDocument(name string, data []byte) (*Document, error) {
	if name == "" {
		return nil, fmt.Errorf("document name cannot be empty")
	}
	suffix := strings.ToLower(filepath.Ext(name))
	if suffix == "" {
		return nil, fmt.Errorf("document %s has no file suffix", name)
	}
	return &Document{
		Name:   filepath.Base(name),
		Suffix: suffix,
		Data:   data,
	}, nil
}

// Reader returns a fresh reader over the raw content.
func (d *Document) Reader() io.Reader {
	return bytes.NewReader(d.Data)
}

// Header returns up to n leading bytes of the raw content.
func (d *Document) Header(n int) []byte {
	if len(d.Data) < n {
		return d.Data
	}
	return d.Data[:n]
}

// SearchText returns the text that match signatures are evaluated against.
// Falls back to the joined rows when no text view was decoded.
func (d *Document) SearchText() string {
	if d.Text != "" {
		return d.Text
	}
	if len(d.Rows) > 0 {
		lines := make([]string, len(d.Rows))
		for i, row := range d.Rows {
			lines[i] = strings.Join(row, " ")
		}
		return strings.Join(lines, "\n")
	}
	return string(d.Data)
}

// Lines splits the text view into lines, dropping blank ones.
func (d *Document) Lines() []string {
	var out []string
	for _, line := range strings.Split(d.SearchText(), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimRight(line, "\r"))
		}
	}
	return out
}

// String identifies the document in logs and errors.
func (d *Document) String() string {
	if d.Meta != nil && d.Meta.FilePath() != "" {
		return d.Meta.FilePath()
	}
	return d.Name
}
