package uploader

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind is a closed classification of upload failures. Retry policy
// dispatches on the kind, not on message text; substring matching survives
// only as a fallback for errors that reach us untagged from the transport.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindPermission
	KindQuota
	KindInvalidSource
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	case KindQuota:
		return "quota"
	case KindInvalidSource:
		return "invalid_source"
	default:
		return "unknown"
	}
}

// Retryable reports whether retrying an error of this kind can help.
// Unknown errors are retryable by default: one extra attempt is cheap
// relative to abandoning a recoverable upload.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindPermission, KindQuota, KindInvalidSource:
		return false
	}
	return true
}

// UploadError tags a transport error with its kind
type UploadError struct {
	Kind ErrorKind
	Err  error
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// NewUploadError wraps err with a kind tag
func NewUploadError(kind ErrorKind, err error) *UploadError {
	return &UploadError{Kind: kind, Err: err}
}

// Classify returns the kind of an error. Tagged errors report their own
// kind; everything else falls back to transport-level signals and, last,
// message substrings.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission", "unauthorized", "forbidden", "authorization"):
		return KindPermission
	case containsAny(msg, "quota", "storage limit", "too large"):
		return KindQuota
	case containsAny(msg, "network", "timeout", "timed out", "connection", "unreachable", "refused"):
		return KindNetwork
	}
	return KindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
