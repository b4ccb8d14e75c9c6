package loom

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dan-solli/loom/pkg/extract"
	"github.com/dan-solli/loom/pkg/llm"
)

// ErrInvalidInput is returned, without any backend call, when a precondition
// fails: blank prompt, temperature outside [0, 2], nil schema or a bad config.
var ErrInvalidInput = errors.New("invalid input")

// Error type constants for classification
const (
	ErrTypeInvalidInput = "invalid_input"
	ErrTypeTimeout      = "timeout"
	ErrTypeCanceled     = "canceled"
	ErrTypeNetwork      = "network"
	ErrTypeStatus       = "status"
	ErrTypeParse        = "parse"
	ErrTypeValidation   = "validation"
	ErrTypeUnknown      = "unknown"
)

// ClassifyError maps an error returned by this package to a small, stable set
// of labels for metrics, traces and logs. It returns "" for nil.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrInvalidInput) {
		return ErrTypeInvalidInput
	}

	var failure *extract.Failure
	if errors.As(err, &failure) {
		switch failure.Reason {
		case extract.ReasonParse:
			return ErrTypeParse
		case extract.ReasonValidation:
			return ErrTypeValidation
		}
	}

	var te *llm.TransportError
	if errors.As(err, &te) {
		switch {
		case te.Timeout():
			return ErrTypeTimeout
		case errors.Is(te, context.Canceled):
			return ErrTypeCanceled
		case te.StatusCode != 0, errors.Is(te, llm.ErrNoChoices):
			return ErrTypeStatus
		default:
			return ErrTypeNetwork
		}
	}

	// Errors that bypassed the typed paths, matched the way they print.
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrTypeCanceled
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrTypeTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"):
		return ErrTypeNetwork
	}
	return ErrTypeUnknown
}

// retryable reports whether GenerateStructuredWithRetry should try again.
func retryable(err error) bool {
	var failure *extract.Failure
	if !errors.As(err, &failure) {
		return false
	}
	switch failure.Reason {
	case extract.ReasonParse, extract.ReasonValidation:
		return true
	case extract.ReasonTransport:
		var te *llm.TransportError
		return errors.As(err, &te) && te.Retryable()
	default:
		return false
	}
}
