package psrdada

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Header metadata travels over the header region as ASCII text, one
// whitespace-separated KEY VALUE pair per line. That is convention, not
// something the ring buffer enforces, so parsing can fail on anything
// another process put there. The grammar accepted here follows the DADA
// specification plus what fielded writers actually emit: `#` starts a
// comment, blank lines are skipped, and trailing NUL padding (headers are
// written into fixed-size zero-filled slots) is ignored.

// ParseHeader decodes header bytes into a key/value map. It returns
// ErrMalformedHeader for non-UTF-8 input or for a line with a key but no
// value.
func ParseHeader(data []byte) (map[string]string, error) {
	// Headers come out of a fixed-size slot, so strip the zero padding.
	if i := bytes.IndexByte(data, 0); i >= 0 {
		for _, b := range data[i:] {
			if b != 0 {
				return nil, fmt.Errorf("%w: NUL byte inside header", ErrMalformedHeader)
			}
		}
		data = data[:i]
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrMalformedHeader)
	}

	header := make(map[string]string)
	for lineno, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		switch len(fields) {
		case 0:
			continue // blank or comment-only line
		case 2:
			header[fields[0]] = fields[1]
		default:
			return nil, fmt.Errorf("%w: line %d: want KEY VALUE, got %q", ErrMalformedHeader, lineno+1, line)
		}
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: no key/value pairs", ErrMalformedHeader)
	}
	return header, nil
}

// SerializeHeader encodes a key/value map as header bytes, one "KEY VALUE"
// line per entry. Keys are emitted in sorted order so output is
// deterministic; consumers treat pair order as irrelevant.
//
// Keys and values must not contain whitespace, newlines, '#', or NUL —
// mirroring the underlying convention, this is not validated, and violating
// it produces a header that will not parse back.
func SerializeHeader(header map[string]string) []byte {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte(' ')
		sb.WriteString(header[k])
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
