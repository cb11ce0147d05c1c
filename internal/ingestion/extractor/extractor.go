package extractor

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/PuerkitoBio/goquery"

	"github.com/yungbote/botforge-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
	KindCSV  Kind = "csv"
	KindJSON Kind = "json"
	KindHTML Kind = "html"
	KindText Kind = "text"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeCSV  = "text/csv"
	MimeJSON = "application/json"
	MimeHTML = "text/html"
)

// Extractor turns stored file bytes into plain text, dispatching on MIME type.
type Extractor struct {
	log *logger.Logger
	// MaxBytes bounds the input size accepted for extraction. Zero means no limit.
	MaxBytes int64
}

func New(log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{log: log.With("component", "Extractor")}
}

// Extract returns the text content of data. Every failure is a content error: the
// same bytes will fail the same way on a later attempt.
func (e *Extractor) Extract(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	if len(data) == 0 {
		return "", ingesterr.Contentf("file %q is empty", name)
	}
	if e.MaxBytes > 0 && int64(len(data)) > e.MaxBytes {
		return "", ingesterr.Contentf("file %q exceeds %d bytes", name, e.MaxBytes)
	}

	kind := ClassifyKind(name, mimeType, data)
	e.log.Debug("extracting file", "name", name, "mime", mimeType, "kind", kind, "bytes", len(data))

	var (
		text string
		err  error
	)
	switch kind {
	case KindPDF:
		text, err = extractPDF(data)
	case KindDOCX:
		text, err = extractDOCX(data)
	case KindCSV:
		text, err = extractCSV(data)
	case KindJSON:
		text, err = extractJSON(data)
	case KindHTML:
		text, err = extractHTML(data)
	default:
		text = sanitizeUTF8(string(data))
	}
	if err != nil {
		return "", ingesterr.Content(err)
	}
	return text, nil
}

// ClassifyKind picks an extraction strategy from the declared MIME type, falling back
// to the file extension and then to magic bytes.
func ClassifyKind(name, mimeType string, head []byte) Kind {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	ext := strings.ToLower(filepath.Ext(name))

	switch {
	case m == MimePDF || ext == ".pdf":
		return KindPDF
	case m == MimeDOCX || strings.Contains(m, "wordprocessingml") || ext == ".docx":
		return KindDOCX
	case m == MimeCSV || m == "application/csv" || ext == ".csv":
		return KindCSV
	case m == MimeJSON || strings.HasSuffix(m, "+json") || ext == ".json":
		return KindJSON
	case m == MimeHTML || ext == ".html" || ext == ".htm":
		return KindHTML
	case isPDFHeader(head):
		return KindPDF
	}
	return KindText
}

func isPDFHeader(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZipHeader(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func extractPDF(data []byte) (string, error) {
	if !isPDFHeader(data) {
		return "", errors.New("PDF parsing failed: missing %PDF header")
	}
	body, _, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("PDF parsing failed: %w", err)
	}
	return body, nil
}

func extractDOCX(data []byte) (string, error) {
	if !isZipHeader(data) {
		return "", errors.New("DOCX parsing failed: not an OOXML archive")
	}
	body, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("DOCX parsing failed: %w", err)
	}
	return body, nil
}

// extractCSV renders each data row as its values joined by a space, using the first
// row as the header.
func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("CSV parsing failed: %w", err)
	}
	var rows []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("CSV parsing failed: %w", err)
		}
		vals := make([]string, 0, len(header))
		for i := range header {
			if i < len(rec) {
				vals = append(vals, rec[i])
			} else {
				vals = append(vals, "")
			}
		}
		rows = append(rows, strings.Join(vals, " "))
	}
	return strings.Join(rows, "\n"), nil
}

func extractJSON(data []byte) (string, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(data), "", "  "); err != nil {
		return "", fmt.Errorf("JSON parsing failed: %w", err)
	}
	return out.String(), nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("HTML parsing failed: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseWhitespace(doc.Find("body").Text()), nil
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, " ")
}
