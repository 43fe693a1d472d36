// Package extraction turns decrypted document bytes into one ordered,
// length-capped text body. Simple formats are read in-process; office
// formats are delegated to the external extraction service.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

// FragmentSeparator joins fragments in the assembled body.
const FragmentSeparator = "\n\n"

var DefaultRemoteTypes = []string{
	"doc", "docx", "ppt", "pptx", "xls", "wps", "et", "dps", "rtf", "odt", "ods", "odp",
}

type LocalHandler interface {
	Supports(fileType string) bool
	Fragments(ctx context.Context, req ports.ExtractionRequest) ([]domain.Fragment, error)
}

type RemoteService interface {
	Fragments(ctx context.Context, req ports.ExtractionRequest) ([]domain.Fragment, error)
}

type Extractor struct {
	local       LocalHandler
	remote      RemoteService
	remoteTypes map[string]struct{}
	logger      *slog.Logger
}

func NewExtractor(local LocalHandler, remote RemoteService, remoteTypes []string, logger *slog.Logger) *Extractor {
	if len(remoteTypes) == 0 {
		remoteTypes = DefaultRemoteTypes
	}
	types := make(map[string]struct{}, len(remoteTypes))
	for _, t := range remoteTypes {
		if t = normalizeType(t); t != "" {
			types[t] = struct{}{}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		local:       local,
		remote:      remote,
		remoteTypes: types,
		logger:      logger,
	}
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractionRequest) (domain.ExtractedText, error) {
	fileType := normalizeType(req.FileType)
	if fileType == "" {
		fileType = normalizeType(filepath.Ext(req.Filename))
	}
	req.FileType = fileType

	var (
		fragments []domain.Fragment
		err       error
		via       string
	)
	switch {
	case e.local != nil && e.local.Supports(fileType):
		via = "local"
		fragments, err = e.local.Fragments(ctx, req)
	case e.remote != nil && e.supportsRemote(fileType):
		via = "remote"
		fragments, err = e.remote.Fragments(ctx, req)
	default:
		return domain.ExtractedText{}, domain.WrapError(domain.ErrUnsupportedFormat, "extract",
			fmt.Errorf("no handler for file type %q", fileType))
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrUnsupportedFormat) || domain.IsKind(err, domain.ErrExtractionFailed) {
			return domain.ExtractedText{}, err
		}
		return domain.ExtractedText{}, domain.WrapError(domain.ErrExtractionFailed, "extract "+via, err)
	}

	text := Assemble(fragments, req.MaxChars)
	if text.Body == "" {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrExtractionFailed, "extract "+via, errors.New("no text fragments"))
	}
	e.logger.Debug("text_extracted",
		"filename", req.Filename,
		"file_type", fileType,
		"via", via,
		"fragments", text.FragmentCount,
		"total_length", text.TotalLength,
		"truncated", text.Truncated,
	)
	return text, nil
}

func (e *Extractor) supportsRemote(fileType string) bool {
	_, ok := e.remoteTypes[fileType]
	return ok
}

// Assemble joins non-empty fragments in order. maxChars bounds the characters
// taken from fragments; separators are not counted. The fragment crossing the
// cap is cut at the cap and nothing follows it.
func Assemble(fragments []domain.Fragment, maxChars int) domain.ExtractedText {
	var (
		b         strings.Builder
		out       domain.ExtractedText
		remaining = maxChars
		written   = 0
	)
	for _, f := range fragments {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		n := utf8.RuneCountInString(content)
		out.FragmentCount++
		out.TotalLength += n

		if out.Truncated {
			continue
		}
		if maxChars > 0 && remaining <= 0 {
			out.Truncated = true
			continue
		}
		if maxChars > 0 && n > remaining {
			content = string([]rune(content)[:remaining])
			n = remaining
			out.Truncated = true
		}
		if written > 0 {
			b.WriteString(FragmentSeparator)
		}
		b.WriteString(content)
		written++
		remaining -= n
	}
	out.Body = b.String()
	return out
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))
}
