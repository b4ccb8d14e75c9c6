package extract

import (
	"errors"
	"fmt"

	"github.com/dan-solli/loom/pkg/llm"
)

// Failure reason codes. They are stable and safe to use as metric labels.
const (
	ReasonTransport  = "transport_error"
	ReasonParse      = "parse_error"
	ReasonValidation = "validation_error"
)

// Sentinels matched with errors.Is against a *Failure.
var (
	ErrTransport  = errors.New("transport failed")
	ErrParse      = errors.New("output is not valid JSON")
	ErrValidation = errors.New("output does not match schema")
)

// Failure is returned by Extract whenever no validated object could be produced.
// The cause is one of *llm.TransportError, *ParseError or *schema.ValidationError.
type Failure struct {
	// Reason is one of ReasonTransport, ReasonParse, ReasonValidation
	Reason string

	// Raw is the model output as received; empty for transport failures
	Raw string

	Err error

	// Response is the backend reply the output came from, with its usage and
	// finish reason ("length" usually means truncated JSON). Nil for
	// transport failures.
	Response *llm.Response

	// Trace holds the timed stages that ran before the failure
	Trace *Trace
}

// Error implements the error interface
func (f *Failure) Error() string {
	return fmt.Sprintf("structured extraction failed (%s): %v", f.Reason, f.Err)
}

// Unwrap exposes both the cause and the reason sentinel.
func (f *Failure) Unwrap() []error {
	errs := []error{f.Err}
	if sentinel := reasonSentinel(f.Reason); sentinel != nil {
		errs = append(errs, sentinel)
	}
	return errs
}

func reasonSentinel(reason string) error {
	switch reason {
	case ReasonTransport:
		return ErrTransport
	case ReasonParse:
		return ErrParse
	case ReasonValidation:
		return ErrValidation
	default:
		return nil
	}
}

// ParseError reports model output that is not a single well-formed JSON value.
type ParseError struct {
	// Offset is the byte offset in the parsed text where decoding stopped
	Offset int64

	Err error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JSON at offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Err
}
