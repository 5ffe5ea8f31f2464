package document

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/encoding/unicode"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// decodePDF validates the file with pdfcpu and extracts each page's text
// row by row, top to bottom, through the page fonts' encodings. Pages the
// text reader cannot decode fall back to scanning the raw content stream.
func decodePDF(doc *parser.Document) error {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadContext(bytes.NewReader(doc.Data), conf)
	if err != nil {
		return fmt.Errorf("error reading PDF: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return fmt.Errorf("invalid PDF: %w", err)
	}

	// A nil reader sends every page through the fallback.
	reader, _ := pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))

	pages := make([]string, 0, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if text, ok := pageRows(reader, pageNr); ok {
			pages = append(pages, text)
			continue
		}
		text, err := pageContent(ctx, pageNr)
		if err != nil {
			return err
		}
		pages = append(pages, text)
	}
	doc.Pages = pages
	doc.Text = strings.Join(pages, "\n")
	return nil
}

func pageRows(r *pdf.Reader, pageNr int) (string, bool) {
	if r == nil || pageNr > r.NumPage() {
		return "", false
	}
	p := r.Page(pageNr)
	if p.V.IsNull() {
		return "", false
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		return "", false
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		words := make([]string, 0, len(row.Content))
		for _, t := range row.Content {
			if s := strings.TrimSpace(t.S); s != "" {
				words = append(words, s)
			}
		}
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
		}
	}
	return strings.Join(lines, "\n"), true
}

func pageContent(ctx *model.Context, pageNr int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return "", fmt.Errorf("error extracting page %d: %w", pageNr, err)
	}
	if r == nil {
		return "", nil
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("error reading page %d: %w", pageNr, err)
	}
	return ContentText(content), nil
}

// ContentText extracts shown text from a decoded PDF content stream. Both
// literal and hex strings are read; strings inside dictionary operands, such
// as marked-content properties, are not shown text and are skipped.
func ContentText(content []byte) string {
	var (
		lines   []string
		current strings.Builder
	)
	newline := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			lines = append(lines, s)
		}
		current.Reset()
	}

	// Inside a TJ array, a kerning adjustment of this many thousandths of an
	// em or more is rendered as a word gap.
	const gapThreshold = 200

	var inArray, gap bool
	show := func(str string) {
		if current.Len() > 0 && (!inArray || gap) {
			current.WriteByte(' ')
		}
		current.WriteString(str)
		gap = false
	}

	s := content
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '(':
			str, next := readLiteral(s, i)
			show(str)
			i = next
		case c == '<' && i+1 < len(s) && s[i+1] == '<':
			i = skipDict(s, i)
		case c == '<':
			str, next := readHex(s, i)
			show(str)
			i = next
		case c == '[':
			inArray, gap = true, true
		case c == ']':
			inArray = false
		case inArray && (c == '-' || c == '.' || (c >= '0' && c <= '9')):
			j := i + 1
			for j < len(s) && (s[j] == '.' || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			if v, err := strconv.ParseFloat(string(s[i:j]), 64); err == nil && -v >= gapThreshold {
				gap = true
			}
			i = j - 1
		case c == '%':
			for i < len(s) && s[i] != '\n' && s[i] != '\r' {
				i++
			}
		case isOperatorStart(c):
			j := i
			for j < len(s) && isOperatorChar(s[j]) {
				j++
			}
			switch string(s[i:j]) {
			case "Td", "TD", "T*", "Tm", "ET", "'", "\"":
				newline()
			}
			i = j - 1
		}
	}
	newline()
	return strings.Join(lines, "\n")
}

func isOperatorStart(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '\'' || c == '"'
}

func isOperatorChar(c byte) bool {
	return isOperatorStart(c) || c == '*'
}

// skipDict returns the index of the final '>' of the dictionary opening at
// s[start:start+2] == "<<". Nested dictionaries and strings are skipped whole.
func skipDict(s []byte, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch {
		case s[i] == '(':
			_, i = readLiteral(s, i)
		case s[i] == '<' && i+1 < len(s) && s[i+1] == '<':
			depth++
			i++
		case s[i] == '<':
			if end := bytes.IndexByte(s[i:], '>'); end >= 0 {
				i += end
			}
		case s[i] == '>' && i+1 < len(s) && s[i+1] == '>':
			depth--
			i++
			if depth == 0 {
				return i
			}
		}
	}
	return len(s) - 1
}

// readHex decodes a PDF hex string starting at s[start] == '<'. It returns
// the decoded text and the index of the closing '>'.
func readHex(s []byte, start int) (string, int) {
	end := bytes.IndexByte(s[start:], '>')
	if end < 0 {
		return "", len(s) - 1
	}
	end += start

	digits := make([]byte, 0, end-start)
	for _, c := range s[start+1 : end] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
			digits = append(digits, c)
		}
	}
	// An odd final digit is followed by an implied zero.
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, hex.DecodedLen(len(digits)))
	if _, err := hex.Decode(raw, digits); err != nil {
		return "", end
	}
	return pdfString(raw), end
}

// readLiteral decodes a PDF literal string starting at s[start] == '('.
// It returns the decoded text and the index of the closing parenthesis.
func readLiteral(s []byte, start int) (string, int) {
	var b bytes.Buffer
	depth := 0
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v, n := 0, 0
					for n < 3 && i < len(s) && s[i] >= '0' && s[i] <= '7' {
						v = v*8 + int(s[i]-'0')
						i++
						n++
					}
					i--
					b.WriteByte(byte(v))
				} else {
					b.WriteByte(e)
				}
			}
		case c == '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return pdfString(b.Bytes()), i
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return pdfString(b.Bytes()), len(s) - 1
}

// pdfString decodes string bytes: UTF-16BE when they carry a byte order
// mark, otherwise UTF-8 or Windows-1252.
func pdfString(raw []byte) string {
	if bytes.HasPrefix(raw, []byte{0xfe, 0xff}) {
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err == nil {
			return string(out)
		}
	}
	return decodeText(raw)
}
