package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) Header(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange reads the first range of a Range header against a file of size
// bytes. ok is false when the header is absent.
func ParseRange(header string, size int64) (r Range, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Range{}, false, nil
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Range{}, false, ErrInvalidRange
	}
	spec, _, _ = strings.Cut(spec, ",")
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return Range{}, false, ErrInvalidRange
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, false, ErrInvalidRange
		}
		if size == 0 {
			return Range{}, false, ErrUnsatisfiable
		}
		return Range{Start: max(0, size-n), End: size - 1}, true, nil
	}

	r.Start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || r.Start < 0 {
		return Range{}, false, ErrInvalidRange
	}
	r.End = size - 1
	if last != "" {
		r.End, err = strconv.ParseInt(last, 10, 64)
		if err != nil || r.End < r.Start {
			return Range{}, false, ErrInvalidRange
		}
	}
	if r.Start >= size {
		return Range{}, false, ErrUnsatisfiable
	}
	r.End = min(r.End, size-1)
	return r, true, nil
}
