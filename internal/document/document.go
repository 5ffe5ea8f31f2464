// Package document decodes raw statement files into the structured views
// plugins read: text, rows, sheets and pages.
package document

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// maxSpreadsheetRows caps how many rows are read from an .xls sheet.
const maxSpreadsheetRows = 5000

// Open reads and decodes the file at path. meta may be nil.
func Open(path string, meta *parser.Metadata) (*parser.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if meta == nil {
		meta, err = parser.NewMetadata(path, time.Now())
		if err != nil {
			return nil, err
		}
	}
	return Load(path, data, meta)
}

// Load builds a decoded document from in-memory content.
func Load(name string, data []byte, meta *parser.Metadata) (*parser.Document, error) {
	doc, err := parser.NewDocument(name, data)
	if err != nil {
		return nil, err
	}
	doc.Meta = meta
	if err := Decode(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Decode fills in the structured views for the document's suffix.
// Unsupported suffixes are an error.
func Decode(doc *parser.Document) error {
	if !parser.IsSupportedSuffix(doc.Suffix) {
		return fmt.Errorf("unsupported document type %q for %s", doc.Suffix, doc.Name)
	}
	if len(doc.Data) == 0 {
		return fmt.Errorf("document %s is empty", doc.Name)
	}

	var err error
	switch doc.Suffix {
	case ".csv":
		err = decodeCSV(doc)
	case ".xls":
		err = decodeXLS(doc)
	case ".xlsx":
		err = decodeXLSX(doc)
	case ".pdf":
		err = decodePDF(doc)
	default: // .ofx .qfx .txt
		doc.Text = decodeText(doc.Data)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", doc.Name, err)
	}
	return nil
}

// decodeText returns data as UTF-8, treating invalid UTF-8 as Windows-1252,
// which is what most bank exports without a BOM use.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

func decodeCSV(doc *parser.Document) error {
	doc.Text = decodeText(doc.Data)
	r := csv.NewReader(strings.NewReader(doc.Text))
	r.FieldsPerRecord = -1 // summary and transaction rows differ in width
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("invalid CSV: %w", err)
	}
	doc.Rows = rows
	return nil
}

func decodeXLS(doc *parser.Document) error {
	workbook, err := xls.OpenReader(bytes.NewReader(doc.Data), "cp1252")
	if err != nil {
		return fmt.Errorf("error opening workbook: %w", err)
	}
	rows := workbook.ReadAllCells(maxSpreadsheetRows)
	if len(rows) == 0 {
		return fmt.Errorf("no data found in sheet")
	}
	doc.Rows = rows
	doc.Sheets = map[string][][]string{}
	if sheet := workbook.GetSheet(0); sheet != nil {
		doc.Sheets[sheet.Name] = rows
	}
	doc.Text = joinRows(rows)
	return nil
}

func decodeXLSX(doc *parser.Document) error {
	f, err := excelize.OpenReader(bytes.NewReader(doc.Data))
	if err != nil {
		return fmt.Errorf("error opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("workbook has no sheets")
	}
	doc.Sheets = make(map[string][][]string, len(sheets))
	var text []string
	for i, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return fmt.Errorf("error reading sheet %q: %w", name, err)
		}
		doc.Sheets[name] = rows
		if i == 0 {
			doc.Rows = rows
		}
		text = append(text, joinRows(rows))
	}
	doc.Text = strings.Join(text, "\n")
	return nil
}

func joinRows(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, " "))
	}
	return strings.Join(lines, "\n")
}
