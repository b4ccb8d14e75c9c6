package extract

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	errEmptyOutput   = errors.New("empty output")
	errTrailingData  = errors.New("unexpected data after top-level value")
	fencedBodyRegexp = regexp.MustCompile("(?is)^```(?:json)?[ \t]*\r?\n?(.*?)\\s*```$")
)

// ParseStrict decodes text as exactly one JSON value. Whitespace around the
// value is allowed; anything else (prose, a second value) is a *ParseError.
// Numbers are kept as json.Number so integers survive without float rounding.
func ParseStrict(text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Offset: 0, Err: errEmptyOutput}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		offset := dec.InputOffset()
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			offset = syntaxErr.Offset
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			offset = int64(len(text))
		}
		return nil, &ParseError{Offset: offset, Err: err}
	}

	offset := dec.InputOffset()
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Offset: offset, Err: errTrailingData}
	}
	return v, nil
}

// stripCodeFence removes a markdown code fence that wraps the whole body,
// e.g. "```json\n{...}\n```". Text with anything outside the fence, or with
// more than one fence, is returned unchanged.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	matches := fencedBodyRegexp.FindStringSubmatch(trimmed)
	if len(matches) != 2 {
		return s
	}
	inner := matches[1]
	if strings.Contains(inner, "```") {
		return s
	}
	return strings.TrimSpace(inner)
}
