package swiftsim

import (
	"errors"
	"strconv"
	"strings"
)

var (
	errUnsatisfiableRange = errors.New("range not satisfiable")
	errMalformedRange     = errors.New("malformed range")
)

// parseRange resolves a single "bytes=" range against size. Malformed or
// multi-range headers return errMalformedRange and are served whole.
func parseRange(header string, size int64) (offset, length int64, partial bool, err error) {
	if header == "" {
		return 0, size, false, nil
	}
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, size, false, errMalformedRange
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, size, false, errMalformedRange
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return 0, size, false, errMalformedRange
		}
		if n == 0 {
			return 0, 0, false, errUnsatisfiableRange
		}
		if n > size {
			n = size
		}
		return size - n, n, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, size, false, errMalformedRange
	}
	if start >= size {
		return 0, 0, false, errUnsatisfiableRange
	}
	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return 0, size, false, errMalformedRange
		}
		if e < end {
			end = e
		}
	}
	return start, end - start + 1, true, nil
}
