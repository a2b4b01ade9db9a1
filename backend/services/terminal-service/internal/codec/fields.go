package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

type fieldKind int

const (
	alpha fieldKind = iota
	numeric
	// rest consumes whatever remains; it must be the last field of a layout.
	rest
)

type field struct {
	name  string
	width int
	kind  fieldKind
}

func txt(name string, width int) field { return field{name: name, width: width, kind: alpha} }
func num(name string, width int) field { return field{name: name, width: width, kind: numeric} }
func tail(name string) field           { return field{name: name, kind: rest} }

// layout is an ordered list of fixed-width fields. Text travels as ISO-8859-1.
type layout []field

func (l layout) size() int {
	total := 0
	for _, f := range l {
		total += f.width
	}
	return total
}

var latin1 = charmap.ISO8859_1

func encodeText(s string) []byte {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	out, err := encoding.ReplaceUnsupported(latin1.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

func decodeText(b []byte) string {
	out, err := latin1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func (l layout) encode(values map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(l.size())
	for _, f := range l {
		v := values[f.name]
		switch f.kind {
		case numeric:
			v = strings.TrimSpace(v)
			if v == "" {
				v = "0"
			}
			if _, err := strconv.ParseUint(v, 10, 64); err != nil {
				return nil, fmt.Errorf("field %s: %q is not numeric", f.name, v)
			}
			if len(v) > f.width {
				return nil, fmt.Errorf("field %s: %q exceeds %d digits", f.name, v, f.width)
			}
			buf.WriteString(strings.Repeat("0", f.width-len(v)))
			buf.WriteString(v)
		case alpha:
			t := encodeText(v)
			if len(t) > f.width {
				t = t[:f.width]
			}
			buf.Write(t)
			buf.Write(bytes.Repeat([]byte{' '}, f.width-len(t)))
		case rest:
			buf.Write(encodeText(v))
		}
	}
	return buf.Bytes(), nil
}

func (l layout) decode(b []byte) (map[string]string, error) {
	out := make(map[string]string, len(l))
	pos := 0
	for _, f := range l {
		if f.kind == rest {
			out[f.name] = strings.TrimSpace(decodeText(b[pos:]))
			pos = len(b)
			break
		}
		if pos+f.width > len(b) {
			return nil, fmt.Errorf("%w: field %s truncated at %d of %d bytes", ErrMalformedFrame, f.name, len(b), pos+f.width)
		}
		raw := b[pos : pos+f.width]
		pos += f.width
		if f.kind == numeric {
			v := strings.TrimSpace(string(raw))
			if t := strings.TrimLeft(v, "0"); t != "" || v == "" {
				v = t
			} else {
				v = "0"
			}
			out[f.name] = v
			continue
		}
		out[f.name] = strings.TrimSpace(decodeText(raw))
	}
	return out, nil
}

// atoi parses a decoded numeric field; blanks and garbage read as zero.
func atoi(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// optionalLevel reads a 0..100 percentage, nil when absent or out of range.
func optionalLevel(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 100 {
		return nil
	}
	return &v
}
