// Package local extracts text from formats that need no external service.
package local

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
	"github.com/kirillkom/doc-curator/internal/infrastructure/chunking"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// unit is one logical part of a document (whole text, sheet, page) before chunking.
type unit struct {
	text      string
	sheetName string
}

type reader func(data []byte) ([]unit, error)

type Handler struct {
	splitter *chunking.Splitter
	readers  map[string]reader
}

func NewHandler(policy domain.ChunkPolicy) *Handler {
	h := &Handler{splitter: chunking.NewSplitter(policy)}
	h.readers = map[string]reader{
		"txt":      readPlainText,
		"text":     readPlainText,
		"md":       readPlainText,
		"markdown": readPlainText,
		"csv":      readPlainText,
		"html":     readHTML,
		"htm":      readHTML,
		"xlsx":     readWorkbook,
		"xlsm":     readWorkbook,
		"pdf":      readPDF,
	}
	return h
}

func (h *Handler) Supports(fileType string) bool {
	_, ok := h.readers[strings.ToLower(fileType)]
	return ok
}

func (h *Handler) Fragments(ctx context.Context, req ports.ExtractionRequest) ([]domain.Fragment, error) {
	read, ok := h.readers[strings.ToLower(req.FileType)]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "local extract", fmt.Errorf("file type %q", req.FileType))
	}
	units, err := read(req.Data)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Fragment, 0, len(units))
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, chunk := range h.splitter.Split(u.text) {
			out = append(out, domain.Fragment{
				Content:   chunk,
				Source:    req.Filename,
				SheetName: u.sheetName,
				FileType:  req.FileType,
				Length:    utf8.RuneCountInString(chunk),
			})
		}
	}
	return out, nil
}

// decodeText accepts UTF-8 and falls back to GB18030, the usual encoding of
// legacy Chinese office exports.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(decoded) {
		return "", domain.WrapError(domain.ErrExtractionFailed, "decode text", fmt.Errorf("unrecognized text encoding"))
	}
	return string(decoded), nil
}

func readPlainText(data []byte) ([]unit, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return []unit{{text: text}}, nil
}
