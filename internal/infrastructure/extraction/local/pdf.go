package local

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// readPDF yields one unit per page with extractable text.
func readPDF(data []byte) (units []unit, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			units = nil
			err = domain.WrapError(domain.ErrExtractionFailed, "read pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtractionFailed, "open pdf", err)
	}

	units = make([]unit, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, domain.WrapError(domain.ErrExtractionFailed, fmt.Sprintf("read pdf page %d", i), err)
		}
		if text = strings.TrimSpace(text); text != "" {
			units = append(units, unit{text: text})
		}
	}
	return units, nil
}
