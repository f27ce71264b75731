// Package protoerr defines the wire-visible status taxonomy and the
// boundary functions that map engine and permission errors onto it.
package protoerr

import (
	"errors"

	"github.com/rustbase/rustbase/pkg/cache"
	"github.com/rustbase/rustbase/pkg/dustdata"
)

// StatusCode is the transport-visible outcome of one request.
type StatusCode string

const (
	Ok            StatusCode = "Ok"
	Inserted      StatusCode = "Inserted"
	Updated       StatusCode = "Updated"
	SyntaxError   StatusCode = "SyntaxError"
	InvalidQuery  StatusCode = "InvalidQuery"
	InvalidBody   StatusCode = "InvalidBody"
	BadBson       StatusCode = "BadBson"
	BadAuth       StatusCode = "BadAuth"
	NotAuthorized StatusCode = "NotAuthorized"
	NotFound      StatusCode = "NotFound"
	AlreadyExists StatusCode = "AlreadyExists"
	Reserved      StatusCode = "Reserved"
	InternalError StatusCode = "InternalError"
)

// Error pairs a status code with a human-readable diagnostic message, and
// is what every layer above the storage/engine boundary returns.
type Error struct {
	Status  StatusCode
	Message string
}

func (e *Error) Error() string { return string(e.Status) + ": " + e.Message }

// New builds an *Error with the given status and message.
func New(status StatusCode, message string) *Error {
	return &Error{Status: status, Message: message}
}

// NotAuthorizedErr is returned verbatim for every permission denial: it
// never reveals whether the target of the operation exists.
func NotAuthorizedErr() *Error {
	return New(NotAuthorized, "not authorized")
}

// ReservedErr signals an attempt to touch the reserved _default database.
func ReservedErr() *Error {
	return New(Reserved, "the _default database is reserved")
}

// FromDustdata maps a dustdata sentinel error to the wire taxonomy.
// KeyNotExists always maps to NotFound, never AlreadyExists.
func FromDustdata(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dustdata.ErrKeyExists):
		return New(AlreadyExists, err.Error())
	case errors.Is(err, dustdata.ErrKeyNotExists):
		return New(NotFound, err.Error())
	default:
		return New(InternalError, err.Error())
	}
}

// FromCache maps a cache sentinel error to the wire taxonomy. Cache misses
// during a best-effort insert are not surfaced as errors by callers; this
// exists for the rare case a caller does want to report one.
func FromCache(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrKeyExists):
		return New(AlreadyExists, err.Error())
	case errors.Is(err, cache.ErrNotFound):
		return New(NotFound, err.Error())
	case errors.Is(err, cache.ErrCacheFull):
		return New(InternalError, err.Error())
	default:
		return New(InternalError, err.Error())
	}
}
