package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyzr/assetingest/common/blobstore"
)

// Stage names the pipeline step a run stopped at
type Stage string

const (
	StageValidate       Stage = "validate"
	StageStoreOriginal  Stage = "store_original"
	StageDerive         Stage = "derive"
	StageStoreRendition Stage = "store_rendition"
	StageCatalog        Stage = "catalog"
)

// Kind is the retry class of a failure
type Kind string

const (
	// KindInvalidInput is not retried; the caller must resubmit differently
	KindInvalidInput Kind = "invalid_input"
	// KindTransientStorage is safe to retry as a whole run
	KindTransientStorage Kind = "transient_storage_failure"
	// KindProcessing means the bytes could not be decoded or encoded
	KindProcessing Kind = "processing_failure"
	// KindCatalog means the metadata store was unavailable
	KindCatalog Kind = "catalog_failure"
)

// Stable reason codes returned to callers
const (
	CodeUnsupportedType    = "unsupported_type"
	CodeTooLarge           = "too_large"
	CodeEmptyPayload       = "empty_payload"
	CodeIOError            = "io_error"
	CodeQuotaExceeded      = "quota_exceeded"
	CodeTimeout            = "timeout"
	CodeUnsupportedInput   = "unsupported_or_corrupt_input"
	CodeEncodeError        = "encode_error"
	CodeCatalogUnavailable = "catalog_unavailable"
)

// IngestError is the only error shape the pipeline reports for a failed run.
// Message is safe to show callers; Err carries the internal cause for logs.
type IngestError struct {
	Stage   Stage
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Code, e.Message)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting the same request may succeed
func (e *IngestError) Retryable() bool {
	return e.Kind == KindTransientStorage || e.Kind == KindCatalog
}

// AsIngestError extracts an *IngestError from err
func AsIngestError(err error) (*IngestError, bool) {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

func invalidInput(code, message string) *IngestError {
	return &IngestError{Stage: StageValidate, Kind: KindInvalidInput, Code: code, Message: message}
}

func processingFailure(code, message string, err error) *IngestError {
	return &IngestError{Stage: StageDerive, Kind: KindProcessing, Code: code, Message: message, Err: err}
}

// storageFailure classifies a blob store error
func storageFailure(stage Stage, err error) *IngestError {
	ie := &IngestError{Stage: stage, Kind: KindTransientStorage, Err: err}
	switch {
	case errors.Is(err, blobstore.ErrQuotaExceeded):
		ie.Code = CodeQuotaExceeded
		ie.Message = "storage quota exceeded"
	case errors.Is(err, context.DeadlineExceeded):
		ie.Code = CodeTimeout
		ie.Message = "storage did not respond in time"
	default:
		ie.Code = CodeIOError
		ie.Message = "storage write failed"
	}
	return ie
}

func catalogFailure(err error) *IngestError {
	return &IngestError{
		Stage:   StageCatalog,
		Kind:    KindCatalog,
		Code:    CodeCatalogUnavailable,
		Message: "asset catalog unavailable",
		Err:     err,
	}
}
