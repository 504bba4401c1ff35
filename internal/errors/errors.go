package errors

import (
	"errors"
	"fmt"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

// ErrorKind separates per-file upload failures into the three classes
// callers react to differently: content errors are final, quota errors
// imply a counter rollback happened, infrastructure errors may warrant
// a retry or an administrator alert.
type ErrorKind int

const (
	KindContent ErrorKind = iota
	KindQuota
	KindInfrastructure
)

func (k ErrorKind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindQuota:
		return "quota"
	case KindInfrastructure:
		return "infrastructure"
	}
	return "unknown"
}

// UploadError is one per-file validation or promotion failure. Code is a
// stable machine-readable identifier.
type UploadError struct {
	Code    string
	Kind    ErrorKind
	Message string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Content errors.
var (
	ErrZeroBytes    = &UploadError{Code: "zero_size", Kind: KindContent, Message: "file is empty"}
	ErrUnsafeFile   = &UploadError{Code: "bad_attachment", Kind: KindContent, Message: "file failed the image security check"}
	ErrBadExtension = &UploadError{Code: "bad_extension", Kind: KindContent, Message: "file extension is not allowed"}
)

// Quota errors.
var (
	ErrDirectoryFull = &UploadError{Code: "directory_full", Kind: KindQuota, Message: "upload directory is out of space"}
	ErrFileTooLarge  = &UploadError{Code: "file_too_large", Kind: KindQuota, Message: "file exceeds the per-file size limit"}
	ErrPostTooLarge  = &UploadError{Code: "post_too_large", Kind: KindQuota, Message: "post exceeds the cumulative attachment size limit"}
	ErrTooManyFiles  = &UploadError{Code: "too_many_files", Kind: KindQuota, Message: "post exceeds the attachment count limit"}
)

// Infrastructure errors.
var (
	ErrNoDirectory   = &UploadError{Code: "no_directory", Kind: KindInfrastructure, Message: "no upload directory could be created"}
	ErrCannotMove    = &UploadError{Code: "cannot_move", Kind: KindInfrastructure, Message: "staged file could not be moved into place"}
	ErrPersistFailed = &UploadError{Code: "persist_failed", Kind: KindInfrastructure, Message: "attachment row could not be persisted"}
)

// IsKind reports whether err is, or wraps, an UploadError of the given
// kind.
func IsKind(err error, kind ErrorKind) bool {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind == kind
	}
	return false
}
