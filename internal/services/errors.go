package services

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind buckets a failure for the scheduler's retry decision. Kind and
// the retryable flag travel together so call sites never have to inspect
// provider-specific error shapes twice.
type ErrorKind string

const (
	ErrorKindUser              ErrorKind = "user"
	ErrorKindExternalRetryable ErrorKind = "external_retryable"
	ErrorKindExternalPermanent ErrorKind = "external_permanent"
	ErrorKindSystem            ErrorKind = "system"
	ErrorKindTemporary         ErrorKind = "temporary"
)

func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindExternalRetryable, ErrorKindTemporary:
		return true
	default:
		return false
	}
}

// StageError wraps a provider or composition failure with the pipeline stage
// it occurred in and its classification. The pipeline produces these; only
// the queue scheduler consults Retryable.
type StageError struct {
	Stage     Stage
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Err.Error())
	}
	return string(e.Stage)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage Stage, kind ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Retryable: kind.Retryable(), Err: err}
}

// IsRetryableError reports whether err (or any wrapped error) carries a
// retryable classification. Unclassified errors are treated as system
// failures and not retried.
func IsRetryableError(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

type httpStatusCoder interface{ HTTPStatusCode() int }

// ClassifyProviderError inspects a provider failure's shape at the catch
// site: HTTP-status-bearing errors from the script API, gRPC status codes
// from the GCP clients, network errors from either.
func ClassifyProviderError(err error) ErrorKind {
	if err == nil {
		return ErrorKindSystem
	}
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		return ClassifyHTTPStatus(sc.HTTPStatusCode())
	}
	return ClassifyGRPCError(err)
}

// ClassifyHTTPStatus maps an HTTP response code from a provider API into an
// error kind. 429 and 5xx are throttling/server trouble and worth retrying;
// other 4xx are permanent for this request.
func ClassifyHTTPStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == 429:
		return ErrorKindExternalRetryable
	case statusCode >= 500:
		return ErrorKindExternalRetryable
	case statusCode == 401 || statusCode == 403:
		return ErrorKindExternalPermanent
	case statusCode >= 400:
		return ErrorKindExternalPermanent
	default:
		return ErrorKindSystem
	}
}

// ClassifyGRPCError maps a gRPC provider failure (GCP clients) into an error
// kind, with timeouts and transport trouble marked temporary.
func ClassifyGRPCError(err error) ErrorKind {
	if err == nil {
		return ErrorKindSystem
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTemporary
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return ErrorKindExternalRetryable
	case codes.DeadlineExceeded:
		return ErrorKindTemporary
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound:
		return ErrorKindExternalPermanent
	default:
		return ErrorKindSystem
	}
}
