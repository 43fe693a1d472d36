package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTemporary          = errors.New("temporary failure")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("object not found")
	ErrDecryptionFailed   = errors.New("decryption failed")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrAnalysisFailed     = errors.New("analysis failed")
	ErrValidationFailed   = errors.New("validation failed")
	ErrPublishFailed      = errors.New("publish failed")
	ErrDeleteFailed       = errors.New("knowledge base delete failed")
	ErrStageConflict      = errors.New("stage conflict")
	ErrInvalidTransition  = errors.New("invalid stage transition")
	ErrRoutingNotFound    = errors.New("category routing not found")
	ErrReconciliationBusy = errors.New("reconciliation already running")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsFatal reports errors that no amount of retrying can fix.
func IsFatal(err error) bool {
	return IsKind(err, ErrDecryptionFailed) || IsKind(err, ErrUnsupportedFormat)
}

// ErrorKind returns the short taxonomy name recorded on the ledger.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case IsKind(err, ErrNotFound):
		return "not_found"
	case IsKind(err, ErrDecryptionFailed):
		return "decryption_failed"
	case IsKind(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case IsKind(err, ErrExtractionFailed):
		return "extraction_failed"
	case IsKind(err, ErrPublishFailed):
		return "publish_failed"
	case IsKind(err, ErrAnalysisFailed):
		return "analysis_failed"
	case IsKind(err, ErrValidationFailed):
		return "validation_failed"
	case IsKind(err, ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}
