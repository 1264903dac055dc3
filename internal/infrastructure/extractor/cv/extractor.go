package cv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

// Extractor turns an uploaded CV into plain text. PDF and UTF-8 text files are supported.
type Extractor struct {
	maxRunes int
}

func NewExtractor(maxRunes int) *Extractor {
	if maxRunes <= 0 {
		maxRunes = 20000
	}
	return &Extractor{maxRunes: maxRunes}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract cv", errors.New("empty file"))
	}

	var text string
	switch ext := strings.ToLower(filepath.Ext(filename)); {
	case ext == ".pdf" || bytes.HasPrefix(data, []byte("%PDF-")):
		extracted, err := extractPDF(data)
		if err != nil {
			return "", domain.WrapError(domain.ErrInvalidInput, "extract cv", err)
		}
		text = extracted
	case ext == ".txt" || ext == ".md" || ext == "":
		if !utf8.Valid(data) {
			return "", domain.WrapError(domain.ErrInvalidInput, "extract cv", fmt.Errorf("%s is not valid UTF-8 text", filename))
		}
		text = string(data)
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "extract cv", fmt.Errorf("unsupported file type %q", ext))
	}

	return truncate(normalizeWhitespace(text), e.maxRunes), nil
}

func extractPDF(data []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(raw), nil
}

// normalizeWhitespace collapses runs of spaces and keeps single blank lines between paragraphs.
func normalizeWhitespace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncate(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
