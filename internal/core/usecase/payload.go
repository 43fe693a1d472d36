package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const maxArchiveEntryBytes = 256 << 20

// payloadFor returns the bytes, name and type handed to the extractor. Archived
// documents are unpacked to their first regular entry.
func payloadFor(doc *domain.Document, plain []byte) (name, fileType string, data []byte, err error) {
	name = doc.Filename
	fileType = doc.ResolvedFileType()
	if !doc.IsArchive && fileType != "zip" {
		return name, fileType, plain, nil
	}

	entryName, entry, err := firstArchiveEntry(plain)
	if err != nil {
		return "", "", nil, domain.WrapError(domain.ErrUnsupportedFormat, "unpack archive", err)
	}
	if fileType == "zip" {
		name = entryName
		fileType = strings.ToLower(strings.TrimPrefix(path.Ext(entryName), "."))
	}
	return name, fileType, entry, nil
}

func firstArchiveEntry(data []byte) (string, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntryBytes))
		_ = rc.Close()
		if err != nil {
			return "", nil, fmt.Errorf("read zip entry %s: %w", f.Name, err)
		}
		return f.Name, content, nil
	}
	return "", nil, errors.New("archive has no file entries")
}

// PreviewFetcher produces a short leading excerpt of a published document by
// running download, decryption and extraction without touching the ledger.
type PreviewFetcher struct {
	source    ports.SourceStorage
	decrypter ports.Decrypter
	extractor ports.ContentExtractor
}

func NewPreviewFetcher(source ports.SourceStorage, decrypter ports.Decrypter, extractor ports.ContentExtractor) *PreviewFetcher {
	return &PreviewFetcher{
		source:    source,
		decrypter: decrypter,
		extractor: extractor,
	}
}

func (f *PreviewFetcher) Preview(ctx context.Context, doc *domain.Document, chars int) (string, error) {
	raw, err := f.source.Get(ctx, doc.StorageLocator)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", doc.ID, err)
	}
	plain, err := f.decrypter.Decrypt(raw, doc.DecryptionCode)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", doc.ID, err)
	}
	name, fileType, data, err := payloadFor(doc, plain)
	if err != nil {
		return "", err
	}
	text, err := f.extractor.Extract(ctx, ports.ExtractionRequest{
		Filename: name,
		FileType: fileType,
		Data:     data,
		MaxChars: chars,
	})
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", doc.ID, err)
	}
	if strings.TrimSpace(text.Body) == "" {
		return "", domain.WrapError(domain.ErrExtractionFailed, "preview", errors.New("empty preview"))
	}
	return text.Body, nil
}
