// Package directplay serves untranscoded media over HTTP byte ranges and
// scores how reliably each client issues them. Misbehaving clients get
// steered to the HLS transport on their next session.
package directplay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange means the header is syntactically malformed. Per
	// RFC 7233 the server ignores it and serves the full file.
	ErrInvalidRange = errors.New("invalid range header")

	// ErrRangeNotSatisfiable means the header parsed but lies outside
	// the file. Answered with 416.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// ByteRange is an inclusive byte interval within a file.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange renders the Content-Range header value for the given file.
func (r ByteRange) ContentRange(fileSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, fileSize)
}

// ParseRange parses a Range header against a file of the given size. It
// supports the three RFC 7233 forms: start-end, start-, and -suffixLength.
// A missing header returns (nil, nil), which is distinct from both error
// cases. End is clamped to the file size; a start at or past the end of the
// file, or past the end of the range, is unsatisfiable. Multipart ranges
// are not supported and parse as invalid.
func ParseRange(header string, fileSize int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if strings.Contains(spec, ",") {
		return nil, ErrInvalidRange
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	if startStr == "" {
		// Suffix form: the last N bytes.
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, ErrInvalidRange
		}
		if suffix <= 0 || fileSize == 0 {
			return nil, ErrRangeNotSatisfiable
		}
		start := fileSize - suffix
		if start < 0 {
			start = 0
		}
		return &ByteRange{Start: start, End: fileSize - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, ErrInvalidRange
	}
	if start >= fileSize {
		return nil, ErrRangeNotSatisfiable
	}

	end := fileSize - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return nil, ErrInvalidRange
		}
		if end > fileSize-1 {
			end = fileSize - 1
		}
	}
	if start > end {
		return nil, ErrRangeNotSatisfiable
	}
	return &ByteRange{Start: start, End: end}, nil
}
